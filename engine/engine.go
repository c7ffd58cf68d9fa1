// Package engine provides the embeddable message-hub engine: it wires
// storage, the document store, the archive, the message store, stats
// and the plugin hosts, and serves the admin surface. Host controllers
// embed it; the standalone binary runs it over an in-process runtime.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/msghub/msghub/internal/admin"
	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/config"
	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/homeio"
	"github.com/msghub/msghub/internal/id"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/opqueue"
	"github.com/msghub/msghub/internal/plugin"
	"github.com/msghub/msghub/internal/quiet"
	"github.com/msghub/msghub/internal/stats"
	"github.com/msghub/msghub/internal/storage"
	"github.com/msghub/msghub/internal/store"
)

// Option tweaks engine construction.
type Option func(*options)

type options struct {
	runtime homeio.Runtime
	clock   clock.Clock
	logger  *slog.Logger
}

// WithRuntime injects the host runtime. Defaults to an in-process
// Local runtime rooted in the data directory.
func WithRuntime(rt homeio.Runtime) Option {
	return func(o *options) { o.runtime = rt }
}

// WithClock injects the time source, for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger injects the root logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Engine is a fully wired message hub.
type Engine struct {
	cfg     *config.Config
	log     *slog.Logger
	clock   clock.Clock
	runtime homeio.Runtime

	queue      *opqueue.Queue
	docs       *docstore.Store
	rollupDocs *docstore.Store
	archive    *archive.Archive
	factory    *message.Factory
	store      *store.Store
	stats      *stats.Stats

	ingest *plugin.Host
	notify *plugin.Host
	engage *plugin.Host
	bridge *plugin.Bridge

	broadcast *admin.Broadcaster
	server    *http.Server
}

// New wires an Engine from cfg. Call Serve to run it.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = slog.Default()
	}
	clk := o.clock
	if clk == nil {
		clk = clock.System{}
	}
	runtime := o.runtime
	if runtime == nil {
		runtime = homeio.NewLocal(cfg.Namespace, cfg.DataDir)
	}

	backend, strategy, probeErr, err := selectBackend(cfg, runtime, log)
	if err != nil {
		return nil, err
	}

	queue := opqueue.New()
	codec := msgcodec.Default

	docs := docstore.New(docstore.Options{
		Backend:       backend,
		Path:          cfg.MessagesPath(),
		Codec:         codec,
		WriteInterval: time.Duration(cfg.Storage.WriteIntervalMs) * time.Millisecond,
		Queue:         queue,
		Logger:        log,
	})
	rollupDocs := docstore.New(docstore.Options{
		Backend:       backend,
		Path:          cfg.RollupPath(),
		Codec:         codec,
		WriteInterval: time.Duration(cfg.Storage.WriteIntervalMs) * time.Millisecond,
		Queue:         queue,
		Logger:        log,
	})
	arch := archive.New(archive.Options{
		Backend:              backend,
		Strategy:             strategy,
		ProbeError:           probeErr,
		Codec:                codec,
		Clock:                clk,
		Queue:                queue,
		Logger:               log,
		FlushInterval:        time.Duration(cfg.Archive.FlushIntervalMs) * time.Millisecond,
		MaxBatchSize:         cfg.Archive.MaxBatchSize,
		KeepPreviousWeeks:    cfg.Archive.KeepPreviousWeeks,
		MaxPathSegmentLength: cfg.Archive.MaxPathSegmentLength,
		ThrowOnError:         cfg.Archive.ThrowOnError,
	})

	factory := message.NewFactory(clk, log)
	st := store.New(store.Options{
		Factory: factory,
		Docs:    docs,
		Archive: arch,
		Clock:   clk,
		Quiet: quiet.Hours{
			Enabled:  cfg.QuietHours.Enabled,
			StartMin: cfg.QuietHours.StartMin,
			EndMin:   cfg.QuietHours.EndMin,
			MaxLevel: message.Level(cfg.QuietHours.MaxLevel),
			Spread:   time.Duration(cfg.QuietHours.SpreadMs) * time.Millisecond,
		},
		Logger: log,
	})
	sts := stats.New(stats.Options{
		Docs:     rollupDocs,
		Clock:    clk,
		KeepDays: cfg.Stats.RollupKeepDays,
		Logger:   log,
	})
	st.SetClosedRecorder(sts)

	collect := func(opts stats.CollectOptions) stats.Snapshot {
		return sts.Collect(st.Messages(), docs.Status(), arch, opts)
	}

	deps := plugin.Deps{
		Store:     st,
		Factory:   factory,
		Collect:   collect,
		Runtime:   runtime,
		Namespace: id.Namespace(cfg.Namespace),
		Logger:    log,
	}
	ingest := plugin.NewIngestHost(deps)
	notify := plugin.NewNotifyHost(deps)
	engage := plugin.NewEngageHost(deps)

	broadcast := admin.NewBroadcaster()
	st.SetDispatcher(func(event store.Event, msgs []*message.Message) {
		if err := notify.Dispatch(context.Background(), event, msgs); err != nil {
			log.Error("notify dispatch failed", "event", event, "error", err)
		}
		refs := make([]string, len(msgs))
		for i, m := range msgs {
			refs[i] = m.Ref
		}
		broadcast.Publish(admin.Notice{Event: event, Refs: refs, TS: clk.Now().UnixMilli()})
	})

	e := &Engine{
		cfg:        cfg,
		log:        log.With("component", "engine"),
		clock:      clk,
		runtime:    runtime,
		queue:      queue,
		docs:       docs,
		rollupDocs: rollupDocs,
		archive:    arch,
		factory:    factory,
		store:      st,
		stats:      sts,
		ingest:     ingest,
		notify:     notify,
		engage:     engage,
		bridge:     plugin.NewBridge(ingest, notify),
		broadcast:  broadcast,
	}

	if err := docs.Init(); err != nil {
		return nil, err
	}
	if err := rollupDocs.Init(); err != nil {
		return nil, err
	}
	if err := arch.Init(); err != nil {
		return nil, err
	}
	st.Load()
	sts.Load()

	if cfg.Admin.Addr != "" {
		e.server = &http.Server{
			Handler: admin.NewHandler(admin.Deps{
				Store:     st,
				Collect:   collect,
				Docs:      docs,
				Archive:   arch,
				Broadcast: broadcast,
				Clock:     clk,
				Logger:    log,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return e, nil
}

// selectBackend resolves the storage mode: native is probed, host uses
// the runtime's file namespace. Auto falls back from native to host.
func selectBackend(cfg *config.Config, runtime homeio.Runtime, log *slog.Logger) (storage.Backend, archive.Strategy, error, error) {
	hostBackend := func() storage.Backend {
		return storage.NewHostFS(runtime.Files(), cfg.Namespace, "")
	}

	switch cfg.Storage.Mode {
	case "native":
		b := storage.NewNative(cfg.DataDir)
		if err := storage.Probe(b); err != nil {
			return nil, "", nil, fmt.Errorf("native storage probe: %w", err)
		}
		return b, archive.StrategyNative, nil, nil
	case "host":
		return hostBackend(), archive.StrategyHost, nil, nil
	default: // auto
		b := storage.NewNative(cfg.DataDir)
		if err := storage.Probe(b); err != nil {
			log.Warn("native storage probe failed, falling back to host files", "error", err)
			return hostBackend(), archive.StrategyHost, err, nil
		}
		return b, archive.StrategyNative, nil, nil
	}
}

// Store returns the message store.
func (e *Engine) Store() *store.Store { return e.store }

// Stats returns the stats subsystem.
func (e *Engine) Stats() *stats.Stats { return e.stats }

// Ingest returns the ingest plugin host.
func (e *Engine) Ingest() *plugin.Host { return e.ingest }

// Notify returns the notifier plugin host.
func (e *Engine) Notify() *plugin.Host { return e.notify }

// Engage returns the engagement plugin host.
func (e *Engine) Engage() *plugin.Host { return e.engage }

// Bridge returns the ingest+notify pairing helper.
func (e *Engine) Bridge() *plugin.Bridge { return e.bridge }

// Runtime returns the host runtime handed to plugins.
func (e *Engine) Runtime() homeio.Runtime { return e.runtime }

// Collect builds a stats snapshot from the live list.
func (e *Engine) Collect(opts stats.CollectOptions) stats.Snapshot {
	return e.stats.Collect(e.store.Messages(), e.docs.Status(), e.archive, opts)
}

// Serve starts the plugin hosts and the admin endpoint, then blocks
// until ctx is cancelled and the shutdown drain has finished.
func (e *Engine) Serve(ctx context.Context) error {
	e.ingest.Start(ctx)
	e.notify.Start(ctx)
	e.engage.Start(ctx)

	var ln net.Listener
	if e.server != nil {
		var err error
		ln, err = net.Listen("tcp", e.cfg.Admin.Addr)
		if err != nil {
			return fmt.Errorf("listen admin: %w", err)
		}
		e.log.Info("admin endpoint listening", "addr", e.cfg.Admin.Addr)
	}

	errCh := make(chan error, 1)
	if ln != nil {
		go func() { errCh <- e.server.Serve(ln) }()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			e.shutdown(context.Background())
			return fmt.Errorf("admin serve: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.shutdown(shutdownCtx)
}

// shutdown stops hosts and the scheduler, drains persistence and
// closes the write queue.
func (e *Engine) shutdown(ctx context.Context) error {
	e.log.Info("engine shutting down")

	e.ingest.Stop(ctx)
	e.engage.Stop(ctx)
	e.notify.Stop(ctx)
	e.store.Stop()

	if e.server != nil {
		_ = e.server.Shutdown(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.docs.FlushPending().Wait(gctx) })
	g.Go(func() error { return e.rollupDocs.FlushPending().Wait(gctx) })
	g.Go(func() error { return e.archive.FlushAll().Wait(gctx) })
	err := g.Wait()

	e.queue.Close()
	st := e.docs.Status()
	e.log.Info("engine stopped",
		"messages", e.store.Len(),
		"lastPersistedAt", st.LastPersistedAt,
		"flushError", err,
	)
	return err
}
