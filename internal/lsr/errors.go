package lsr

import "fmt"

// TransportError wraps a network-level failure (connection refused,
// timeout). Only the authentication path retries these.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a non-200 HTTP status or a non-200 application
// status code inside the RPC envelope.
type ProtocolError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: status code %d: %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: status code %d", e.Op, e.StatusCode)
}
