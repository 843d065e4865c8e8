// Package server exposes the monitoring HTTP endpoints: health, session
// status, assembled transcripts, sanitized configuration, and Prometheus
// metrics.
package server
