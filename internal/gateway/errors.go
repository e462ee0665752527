package gateway

import (
	"fmt"

	"github.com/pkg/errors"
)

// RemoteError is a domain rejection: the gateway answered with a non-success
// status. Message is meant to be shown to the user verbatim.
type RemoteError struct {
	Op      string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Op + ": rejected by gateway"
	}
	return e.Op + ": " + e.Message
}

// TransportError covers failed requests, non-2xx answers and malformed bodies.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: gateway status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsRecoverable reports whether err came from the gateway and the action can
// simply be retried later.
func IsRecoverable(err error) bool {
	var remote *RemoteError
	var transport *TransportError
	return errors.As(err, &remote) || errors.As(err, &transport)
}

// UserMessage extracts a human-readable message for err.
func UserMessage(err error) string {
	var remote *RemoteError
	if errors.As(err, &remote) && remote.Message != "" {
		return remote.Message
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return "Could not reach the server. Please try again."
	}
	return err.Error()
}
