package peer

import (
	"log/slog"
	"time"

	"github.com/elee1766/p2prelay/src/journal"
)

// Config holds configuration for the peer client
type Config struct {
	BaseURL       string        // Base URL of the remote agent
	LocalID       string        // Sent as "from" on every message
	RemoteID      string        // Name of the remote agent, for the exchange log
	Timeout       time.Duration // Timeout for message delivery
	HealthTimeout time.Duration // Timeout for the liveness probe
	Journal       *journal.Journal
	Logger        *slog.Logger
}
