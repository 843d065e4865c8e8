package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a stage failure for the retry policy. Classification
// happens once, at the external call boundary; downstream logic switches on
// the kind and never inspects error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindNetworkTimeout
	KindRateLimited
	KindNetworkError
	KindAuth
)

// String returns a human-readable kind name
func (k Kind) String() string {
	switch k {
	case KindNetworkTimeout:
		return "network_timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindNetworkError:
		return "network_error"
	case KindAuth:
		return "auth_error"
	default:
		return "unknown"
	}
}

// StageError is a classified failure from an external processing stage.
type StageError struct {
	Stage string // "transcribe" or "format"
	Kind  Kind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError wraps err with its stage and classification
func NewStageError(stage string, kind Kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors map to KindUnknown, except context deadline expiry which is a
// network timeout by definition.
func KindOf(err error) Kind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkTimeout
	}
	return KindUnknown
}

// ClassifyStatus maps an HTTP response status to an error kind
func ClassifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindNetworkTimeout
	case status >= 500:
		return KindNetworkError
	default:
		return KindUnknown
	}
}

// ClassifyTransport maps a transport-level error (request never produced a
// response) to an error kind
func ClassifyTransport(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindNetworkTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindNetworkTimeout
		}
		return KindNetworkError
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return KindNetworkError
	}
	return KindUnknown
}
