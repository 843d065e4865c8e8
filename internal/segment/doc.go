// Package segment turns the continuous capture stream into bounded chunks.
// It owns the capture buffer, drives the duration state machine (minimum
// duration, opportunistic silence window, forced maximum), and applies the
// language-dependent overlap between consecutive chunks.
package segment
