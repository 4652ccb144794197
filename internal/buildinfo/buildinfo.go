// Package buildinfo carries the build stamp set through -ldflags.
package buildinfo

import (
	"fmt"

	"taskos/kernel/abi"
)

// Set with -ldflags "-X taskos/internal/buildinfo.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
)

// Short is the version, else the commit, else "dev".
func Short() string {
	switch {
	case Version != "" && Version != "dev":
		return Version
	case Commit != "" && Commit != "unknown":
		return Commit
	}
	return "dev"
}

// Banner is the boot line: build stamp and the syscall ABI served.
func Banner() string {
	return fmt.Sprintf("taskos %s (abi %s)", Short(), abi.ABIVersion)
}
