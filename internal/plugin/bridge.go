package plugin

import (
	"context"
	"fmt"
)

// Bridge pairs one ingest handler with one notify handler under a
// common id. Registration is transactional: if the notify side fails
// to register, the already-registered ingest side is rolled back.
type Bridge struct {
	ingest *Host
	notify *Host
}

// NewBridge creates a Bridge over the two hosts.
func NewBridge(ingest, notify *Host) *Bridge {
	return &Bridge{ingest: ingest, notify: notify}
}

// Register registers the pair under pluginID on both hosts.
func (b *Bridge) Register(ctx context.Context, pluginID string, ingest, notify Handler) error {
	if err := b.ingest.Register(ctx, pluginID, ingest); err != nil {
		return fmt.Errorf("bridge %s: ingest side: %w", pluginID, err)
	}
	if err := b.notify.Register(ctx, pluginID, notify); err != nil {
		b.ingest.Unregister(ctx, pluginID)
		return fmt.Errorf("bridge %s: notify side: %w", pluginID, err)
	}
	return nil
}

// Unregister removes the pair from both hosts. Idempotent.
func (b *Bridge) Unregister(ctx context.Context, pluginID string) {
	b.notify.Unregister(ctx, pluginID)
	b.ingest.Unregister(ctx, pluginID)
}
