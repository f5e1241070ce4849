package ledger

import (
	"errors"
	"fmt"
)

// TransportError means the call did not produce a usable JSON-RPC response:
// network failure, timeout, non-2xx status, or an undecodable body.
type TransportError struct {
	Method     string
	StatusCode int // 0 when no HTTP response was received
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("ledger %s: HTTP %d: %v", e.Method, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a JSON-RPC error object returned by the ledger service.
type UpstreamError struct {
	Method  string
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ledger %s: rpc error %d: %s", e.Method, e.Code, e.Message)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
