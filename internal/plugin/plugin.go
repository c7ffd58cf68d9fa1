// Package plugin implements the host registries and the capability
// facades handed to plugins. Every call across the plugin boundary is
// fault-isolated: a panicking or failing plugin is logged and never
// affects other plugins or the caller that triggered the dispatch.
package plugin

import (
	"context"

	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/store"
)

// Handler is a registered plugin. OnNotifications receives lifecycle
// events; messages always arrive as a slice so the contract survives
// future batching.
type Handler interface {
	OnNotifications(ctx context.Context, api *API, event store.Event, msgs []*message.Message) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, api *API, event store.Event, msgs []*message.Message) error

// OnNotifications calls f.
func (f HandlerFunc) OnNotifications(ctx context.Context, api *API, event store.Event, msgs []*message.Message) error {
	return f(ctx, api, event, msgs)
}

// Starter is an optional Handler upgrade: plugins that need setup
// implement it and are started when registered on a running host.
type Starter interface {
	Start(ctx context.Context, api *API) error
}

// Stopper is an optional Handler upgrade for teardown. Stop is
// best-effort; errors are logged, never propagated.
type Stopper interface {
	Stop(ctx context.Context, api *API) error
}
