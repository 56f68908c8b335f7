package upstream

import (
	"errors"
	"fmt"

	"mcpconsole-go/internal/logs"
)

var (
	// ErrUnsupportedTransport is returned by transports that cannot serve a transport kind
	ErrUnsupportedTransport = errors.New("unsupported transport")

	// ErrNotConnected is returned when an operation needs a live session
	ErrNotConnected = errors.New("server not connected")
)

// ConnectionError is a ConnectionFailure: the transport rejected a connect or
// disconnect request for a server.
type ConnectionError struct {
	ServerID   string
	ServerName string
	Op         string // "connect" or "disconnect"
	Category   string // failure category, see logs.CategorizeError
	Err        error
}

func newConnectionError(id, name, op string, err error) *ConnectionError {
	category, _ := logs.CategorizeError(err.Error())
	return &ConnectionError{
		ServerID:   id,
		ServerName: name,
		Op:         op,
		Category:   category,
		Err:        err,
	}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.ServerName, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionFailure reports whether err is (or wraps) a ConnectionError
func IsConnectionFailure(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
