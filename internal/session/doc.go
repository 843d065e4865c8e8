// Package session is the aggregate root of the transcription core. It owns
// the canonical chunk table, wires the segmenter to the pipeline, runs the
// cancellation state machine, and emits the ordered event stream consumers
// drain.
package session
