package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerOffline means the health probe before a send failed
	ErrPeerOffline = errors.New("peer is offline")

	// ErrInvalidPriority is returned by ParsePriority
	ErrInvalidPriority = errors.New("invalid priority")
)

// APIError is a non-200 answer from the remote agent
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
