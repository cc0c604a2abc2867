// Package common holds process-wide helpers shared by the binaries: logger
// construction and build metadata.
package common

var (
	// PackageName is used as the metrics namespace prefix.
	PackageName = "vault_session_broker"

	// Version is set at build time via -ldflags.
	Version = "dev"
)
