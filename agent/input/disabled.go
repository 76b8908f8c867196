//go:build !directinput

package input

// Enabled reports whether the server was built with direct input support.
// Build with -tags directinput to enable it.
const Enabled = false
