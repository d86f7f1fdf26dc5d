// Package version holds the build version, overridable at link time with
// -ldflags "-X billboardvis/pkg/version.Version=...".
package version

// Version is the current release.
var Version = "v0.1.0"
