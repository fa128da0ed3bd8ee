// Package audit writes an append-only JSON Lines record of every control
// action: who did what to which port, with which arguments, and how it
// ended. The file is rotated by size.
package audit
