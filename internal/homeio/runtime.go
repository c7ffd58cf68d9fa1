package homeio

import (
	"context"
	"time"
)

// DefaultSendTimeout bounds SendTo calls that carry no explicit timeout.
const DefaultSendTimeout = 10 * time.Second

// SendOptions tunes a single SendTo call.
type SendOptions struct {
	// Timeout overrides DefaultSendTimeout when > 0.
	Timeout time.Duration
}

// Runtime bundles the host capabilities handed to the core and, via
// facades, to plugins.
type Runtime interface {
	// Namespace returns the own adapter instance id, e.g. "msghub.0".
	Namespace() string
	Objects() Objects
	States() States
	Files() Files
	Subscriptions() Subscriptions
	// SendTo sends a command to another adapter instance and waits for
	// its response. Empty instance or command and self-addressing fail
	// with typed errors; a missing response within the deadline fails
	// with *TimeoutError.
	SendTo(ctx context.Context, instance, command string, payload any, opts *SendOptions) (any, error)
}
