package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/msghub/msghub/internal/homeio"
	"github.com/msghub/msghub/internal/id"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/metrics"
	"github.com/msghub/msghub/internal/stats"
	"github.com/msghub/msghub/internal/store"
)

// Deps carries everything a host needs to build plugin APIs.
type Deps struct {
	Store     *store.Store
	Factory   *message.Factory
	Collect   func(stats.CollectOptions) stats.Snapshot
	Runtime   homeio.Runtime
	Namespace id.Namespace
	I18n      *I18n
	Logger    *slog.Logger
}

// role selects the capability set a host grants its plugins.
type role int

const (
	roleIngest role = iota
	roleNotify
	roleEngage
)

func (r role) String() string {
	switch r {
	case roleIngest:
		return "ingest"
	case roleNotify:
		return "notify"
	case roleEngage:
		return "engage"
	}
	return "unknown"
}

// registration binds one plugin to its API instance.
type registration struct {
	handler Handler
	api     *API
}

// Host is a plugin registry for one role. Notify hosts additionally
// fan out lifecycle events.
type Host struct {
	role    role
	deps    Deps
	allowed map[store.Event]bool
	log     *slog.Logger

	mu      sync.Mutex
	plugins map[string]*registration
	running bool
}

// NewIngestHost creates the registry for plugins that feed messages
// in: writable store facade plus the factory, no event dispatch.
func NewIngestHost(deps Deps) *Host {
	return newHost(roleIngest, deps, nil)
}

// NewNotifyHost creates the registry for notifier plugins: read-only
// store facade and the full lifecycle event set.
func NewNotifyHost(deps Deps) *Host {
	return newHost(roleNotify, deps, store.Events)
}

// NewEngageHost creates the registry for engagement plugins: read-only
// store facade plus the action facade, no event dispatch.
func NewEngageHost(deps Deps) *Host {
	return newHost(roleEngage, deps, nil)
}

func newHost(r role, deps Deps, events []store.Event) *Host {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	allowed := make(map[store.Event]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &Host{
		role:    r,
		deps:    deps,
		allowed: allowed,
		log:     log.With("component", "host", "role", r.String()),
		plugins: make(map[string]*registration),
	}
}

// buildAPI assembles the role-specific capability surface for one
// plugin.
func (h *Host) buildAPI(pluginID string) *API {
	api := &API{
		Log:   NewLog(h.log).WithPrefix("[" + pluginID + "]"),
		IO:    h.deps.Runtime,
		IDs:   h.deps.Namespace,
		I18n:  h.deps.I18n,
		Store: &StoreFacade{store: h.deps.Store, writable: h.role == roleIngest},
	}
	if h.deps.Collect != nil {
		api.Stats = &StatsFacade{collect: h.deps.Collect}
	}
	switch h.role {
	case roleIngest:
		api.Factory = &FactoryFacade{factory: h.deps.Factory}
	case roleEngage:
		api.Action = &ActionFacade{store: h.deps.Store}
	}
	return api
}

// Register adds or replaces the plugin under id. A previous plugin
// with the same id is stopped best-effort. On a running host the new
// plugin is started immediately; a failing start leaves it
// unregistered and is returned.
func (h *Host) Register(ctx context.Context, pluginID string, handler Handler) error {
	reg := &registration{handler: handler, api: h.buildAPI(pluginID)}

	h.mu.Lock()
	prev := h.plugins[pluginID]
	running := h.running
	h.plugins[pluginID] = reg
	h.mu.Unlock()

	if prev != nil {
		h.stopPlugin(ctx, pluginID, prev)
	}
	if running {
		if err := h.startPlugin(ctx, pluginID, reg); err != nil {
			h.mu.Lock()
			if h.plugins[pluginID] == reg {
				delete(h.plugins, pluginID)
			}
			h.mu.Unlock()
			return fmt.Errorf("plugin %s: start: %w", pluginID, err)
		}
	}
	h.log.Info("plugin registered", "plugin", pluginID)
	return nil
}

// Unregister removes the plugin under id, stopping it best-effort.
// Unknown ids are a no-op.
func (h *Host) Unregister(ctx context.Context, pluginID string) {
	h.mu.Lock()
	reg := h.plugins[pluginID]
	delete(h.plugins, pluginID)
	h.mu.Unlock()
	if reg == nil {
		return
	}
	h.stopPlugin(ctx, pluginID, reg)
	h.log.Info("plugin unregistered", "plugin", pluginID)
}

// Plugins returns the registered plugin ids, sorted.
func (h *Host) Plugins() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.plugins))
	for pluginID := range h.plugins {
		ids = append(ids, pluginID)
	}
	sort.Strings(ids)
	return ids
}

// Start marks the host running and starts all registered Starter
// plugins. Individual start failures are logged, not propagated.
func (h *Host) Start(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	regs := h.snapshotLocked()
	h.mu.Unlock()

	for pluginID, reg := range regs {
		if err := h.startPlugin(ctx, pluginID, reg); err != nil {
			h.log.Error("plugin start failed", "plugin", pluginID, "error", err)
		}
	}
	h.log.Info("host started", "plugins", len(regs))
}

// Stop stops all Stopper plugins best-effort and marks the host
// stopped.
func (h *Host) Stop(ctx context.Context) {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	regs := h.snapshotLocked()
	h.mu.Unlock()

	for pluginID, reg := range regs {
		h.stopPlugin(ctx, pluginID, reg)
	}
	h.log.Info("host stopped")
}

func (h *Host) snapshotLocked() map[string]*registration {
	out := make(map[string]*registration, len(h.plugins))
	for pluginID, reg := range h.plugins {
		out[pluginID] = reg
	}
	return out
}

// Dispatch fans event out to every registered plugin. Unknown events
// for this host's role are an error; plugin failures are isolated.
func (h *Host) Dispatch(ctx context.Context, event store.Event, msgs []*message.Message) error {
	if !h.allowed[event] {
		return fmt.Errorf("host %s: event %q not dispatchable", h.role, event)
	}
	h.mu.Lock()
	regs := h.snapshotLocked()
	h.mu.Unlock()

	for pluginID, reg := range regs {
		h.safeCall(pluginID, event, func() error {
			return reg.handler.OnNotifications(ctx, reg.api, event, msgs)
		})
	}
	return nil
}

func (h *Host) startPlugin(ctx context.Context, pluginID string, reg *registration) error {
	s, ok := reg.handler.(Starter)
	if !ok {
		return nil
	}
	var err error
	h.safeCall(pluginID, "start", func() error {
		err = s.Start(ctx, reg.api)
		return err
	})
	return err
}

func (h *Host) stopPlugin(ctx context.Context, pluginID string, reg *registration) {
	s, ok := reg.handler.(Stopper)
	if !ok {
		return
	}
	h.safeCall(pluginID, "stop", func() error {
		return s.Stop(ctx, reg.api)
	})
}

// safeCall is the fault isolation boundary: panics and errors inside a
// plugin are caught, counted and logged, never propagated.
func (h *Host) safeCall(pluginID string, what any, call func() error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PluginFaultsTotal.WithLabelValues(h.role.String(), pluginID).Inc()
			h.log.Error("plugin panicked", "plugin", pluginID, "during", fmt.Sprint(what), "panic", r)
		}
	}()
	if err := call(); err != nil {
		metrics.PluginFaultsTotal.WithLabelValues(h.role.String(), pluginID).Inc()
		h.log.Error("plugin call failed", "plugin", pluginID, "during", fmt.Sprint(what), "error", err)
	}
}
