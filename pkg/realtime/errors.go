package realtime

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by outbound operations after [Client.Close].
var ErrClosed = errors.New("realtime: client closed")

// ConnectionError reports that the connection to the realtime service could
// not be established or was lost. It is fatal to the session; the client
// never retries.
type ConnectionError struct {
	// Op is the failing operation: "dial", "read", or "write".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("realtime: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DecodeError describes an inbound frame that could not be decoded. It is
// delivered as an [EventDecodeError] event and never terminates the stream.
type DecodeError struct {
	// Frame is the offending payload, truncated to a loggable size.
	Frame string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("realtime: decode frame: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ServerError is the payload of an inbound "error" event.
type ServerError struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != "" {
		return fmt.Sprintf("realtime: server error %s: %s", e.Code, msg)
	}
	return "realtime: server error: " + msg
}

// IsConnectionError reports whether err is or wraps a [*ConnectionError].
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
