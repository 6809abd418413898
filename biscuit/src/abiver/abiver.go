// Package abiver checks that an init image's embedded ABI version string is
// compatible with the kernel it is about to run under. The boot parameters
// the loader hands the kernel include this one string, and a major-version
// mismatch between a prebuilt init image and a newer kernel is exactly the
// kind of boot-time configuration error this check exists to catch before
// any task is ever created.
package abiver

import "fmt"

import "golang.org/x/mod/semver"

// Version is the kernel's own ABI version. It changes whenever a syscall
// opcode, packet layout, or notification frame shape changes in a way that
// breaks a previously built init image.
const Version = "v1.0.0"

// Check reports whether imageVersion (as embedded in the init image) is
// ABI-compatible with the running kernel: same major version, per
// semver.Major's "v1" vs "v2" comparison.
func Check(imageVersion string) error {
	if !semver.IsValid(imageVersion) {
		return fmt.Errorf("abiver: init image version %q is not valid semver", imageVersion)
	}
	if semver.Major(imageVersion) != semver.Major(Version) {
		return fmt.Errorf("abiver: init image ABI %s incompatible with kernel ABI %s", imageVersion, Version)
	}
	return nil
}
