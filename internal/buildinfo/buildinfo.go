// Package buildinfo reports adbkit's own version, for the CLI's "version"
// command.
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// Version is overridden at build time with -ldflags
// "-X github.com/pg9182/adbkit/internal/buildinfo.Version=...". It falls
// back to the module version embedded by `go build` (e.g. when installed
// with `go install pkg@version`).
var Version = "dev"

// String returns a one-line "adbkit VERSION" identifier suitable for a
// --version flag or a startup log line.
func String() string {
	v := Version
	if v == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			v = bi.Main.Version
		}
	}
	return fmt.Sprintf("adbkit %s", v)
}
