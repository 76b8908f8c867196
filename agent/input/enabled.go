//go:build directinput

package input

// Enabled reports whether the server was built with direct input support.
const Enabled = true
