// Package pipeline runs chunks through the transcription and formatting
// stages with a fixed-size worker pool. It owns the error-kind taxonomy,
// the retry policy table, deferred batch retries, and transcript assembly
// with overlap seam deduplication.
package pipeline
