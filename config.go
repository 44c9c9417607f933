package meterd

import (
	"log/slog"
	"time"

	"github.com/gasmeter/meterd/store"
)

// Config holds the server's tunables.
type Config struct {
	// MaxConns is the maximum number of connections served at once.
	// Connections beyond the limit wait up to QueueTimeout for a free
	// handler slot and are then answered with "Server Busy".
	// Required: must be > 0.
	MaxConns int32

	// QueueTimeout is how long the accept loop waits for a free handler
	// slot. While it waits no other connection is accepted, so keep it
	// short. Zero, the default, rejects immediately when every slot is
	// taken.
	QueueTimeout time.Duration

	// ReadTimeout bounds the wait for a client's request.
	// Zero means no limit.
	ReadTimeout time.Duration

	// WriteTimeout bounds the write of the reply.
	// Zero means no limit.
	WriteTimeout time.Duration

	// NewCircuitBreaker creates the circuit breaker guarding one state
	// field. Called once per field when the server is created.
	// If nil, no circuit breaker is used.
	NewCircuitBreaker func(field store.Field) CircuitBreaker

	// Logger receives connection and store diagnostics.
	// If nil, logs are discarded.
	Logger *slog.Logger
}

// DefaultConfig returns the configuration used by meterd when nothing is
// overridden.
func DefaultConfig() Config {
	return Config{
		MaxConns:     64,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
