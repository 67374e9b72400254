// Package version carries the build version of the binary.
package version

// Value is stamped by release builds via
// -ldflags "-X challenge-runner/internal/version.Value=v0.2.0".
var Value = "v0.1.0-dev"
