package semindex

import (
	"bytes"
	"os"
	"path/filepath"
)

// ManifestFilename is the basename of the package manifest file the
// resolver looks for while walking upward from a starting path, and the
// basename compared against during manifest-addressing queries.
const ManifestFilename = "Package.swift"

// packageDescriptionSentinel is the substring a manifest file's contents
// must contain to be recognized as an actual package manifest, as opposed
// to an unrelated file that merely happens to be named ManifestFilename.
const packageDescriptionSentinel = "PackageDescription"

// FindPackageRoot walks upward from start until it finds a directory
// containing a manifest file whose contents mention the package-description
// sentinel, or reaches the filesystem root. It returns the discovered
// directory and true, or ("", false, nil) if no manifest was found. I/O
// errors other than "file does not exist" are returned as err.
func FindPackageRoot(start string) (dir string, found bool, err error) {
	dir = start
	if resolved, resolveErr := filepath.EvalSymlinks(dir); resolveErr == nil {
		dir = resolved
	}
	for {
		manifest := filepath.Join(dir, ManifestFilename)
		data, readErr := os.ReadFile(manifest)
		if readErr == nil {
			if bytes.Contains(data, []byte(packageDescriptionSentinel)) {
				return dir, true, nil
			}
		} else if !os.IsNotExist(readErr) {
			return "", false, readErr
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false, nil
		}
		dir = parent
	}
}
