// Package boundary implements split-point detection on PCM amplitude windows.
// It applies a strict rule priority (long silent run, short silent run,
// minimum amplitude, zero crossing, target fallback) and never fails to
// return a position.
package boundary
