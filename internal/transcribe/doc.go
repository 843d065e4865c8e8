// Package transcribe implements the HTTP client for the speech-to-text API.
// Chunks are uploaded as multipart WAV; failures are classified into the
// pipeline error taxonomy at the response boundary and never retried here.
package transcribe
