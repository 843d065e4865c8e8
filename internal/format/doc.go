// Package format implements the text formatting stage: raw transcription
// text is polished by a chat-completion model using a configurable prompt
// and style guide. Failures are classified into the pipeline error taxonomy.
package format
