// Package audio provides the chunk model and capture buffer for the
// transcription pipeline. It implements mutex-guarded PCM accumulation with
// eager trimming of consumed samples, the chunk lifecycle states, and
// WAV encoding/decoding for transcription uploads and file input.
package audio
