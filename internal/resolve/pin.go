package resolve

import "golang.org/x/mod/semver"

// checkPinnedVersions compares requested pinned dependency versions against
// what the loader actually resolved. A mismatch is a fault (logged, not
// returned as an error): this is supplemental to the distilled spec,
// present in the reference implementation's dependency-pinning behavior.
// Resolution relies on LoadedPackage carrying a resolved version per target
// name when pins are in play; targets silent on version are skipped.
func checkPinnedVersions(pins map[string]string, loaded *LoadedPackage, logf func(string, ...interface{})) error {
	if len(pins) == 0 {
		return nil
	}
	resolvedByName := make(map[string]string, len(loaded.Targets))
	for _, t := range loaded.Targets {
		if v := resolvedVersion(t); v != "" {
			resolvedByName[t.Name] = v
		}
	}
	for name, want := range pins {
		got, ok := resolvedByName[name]
		if !ok {
			continue // loader didn't report a version for this dependency; nothing to compare
		}
		if !semver.IsValid(canonicalize(want)) || !semver.IsValid(canonicalize(got)) {
			continue // non-semver versions: string comparison isn't meaningful here
		}
		if semver.Compare(canonicalize(got), canonicalize(want)) < 0 {
			logf("fault: dependency %q resolved to %s, older than pinned %s", name, got, want)
		}
	}
	return nil
}

// resolvedVersion returns the version a loader reported for t, if any.
func resolvedVersion(t LoadedTarget) string {
	return t.Version
}

func canonicalize(v string) string {
	if len(v) > 0 && v[0] != 'v' {
		return "v" + v
	}
	return v
}
