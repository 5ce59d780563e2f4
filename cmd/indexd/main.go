// Command indexd is a thin demonstration host for the index core: it is not
// a production LSP server, carries no persistence, and uses the system
// "swift" toolchain's "package describe" as its PackageLoader subprocess.
package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/semindex/indexcore/internal/resolve"
	"github.com/spf13/cobra"
)

func main() {
	logger := log.New(os.Stderr, "indexd: ", log.LstdFlags)

	rootCmd := &cobra.Command{
		Use:   "indexd",
		Short: "Demonstration host for the semantic index core",
	}
	rootCmd.PersistentFlags().String("toolchain", "", "path to the toolchain's bin directory (default: directory containing \"swift\" on PATH)")
	rootCmd.PersistentFlags().StringSlice("loader-command", nil, "package loader argv, e.g. swift,package,describe,--type,json (default: \"<toolchain>/swift\" package describe --type json)")

	rootCmd.AddCommand(newServeCmd(logger), newIndexCmd(logger))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func toolchainLookupFromFlag(cmd *cobra.Command) func(root string) (string, error) {
	flagValue, _ := cmd.Flags().GetString("toolchain")
	return func(root string) (string, error) {
		if flagValue != "" {
			return flagValue, nil
		}
		path, err := exec.LookPath("swift")
		if err != nil {
			return "", fmt.Errorf("locate swift toolchain on PATH: %w", err)
		}
		return filepath.Dir(path), nil
	}
}

func loaderFromFlag(cmd *cobra.Command, toolchain string) resolve.PackageLoader {
	command, _ := cmd.Flags().GetStringSlice("loader-command")
	if len(command) == 0 {
		command = []string{filepath.Join(toolchain, "swift"), "package", "describe", "--type", "json"}
	}
	return &resolve.SubprocessLoader{Command: command}
}
