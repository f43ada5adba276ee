// ABOUTME: Build identity for jam binaries
// ABOUTME: Reported in logs, the TUI header and rendezvous health checks
package version

const (
	Version      = "0.3.0"
	Product      = "Resonate Jam"
	Manufacturer = "Resonate"
)
