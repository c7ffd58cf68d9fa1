package plugin_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/archive"
	"github.com/msghub/msghub/internal/clock"
	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/opqueue"
	"github.com/msghub/msghub/internal/plugin"
	"github.com/msghub/msghub/internal/storage"
	"github.com/msghub/msghub/internal/store"
)

var testNow = time.Date(2025, 6, 18, 12, 0, 0, 0, time.UTC)

func newDeps(t *testing.T) plugin.Deps {
	t.Helper()
	clk := clock.NewManual(testNow)
	backend := storage.NewNative(t.TempDir())
	queue := opqueue.New()
	t.Cleanup(queue.Close)

	docs := docstore.New(docstore.Options{
		Backend: backend,
		Path:    "messages.json",
		Codec:   msgcodec.Default,
		Queue:   queue,
	})
	arch := archive.New(archive.Options{
		Backend:  backend,
		Strategy: archive.StrategyNative,
		Codec:    msgcodec.Default,
		Clock:    clk,
		Queue:    queue,
	})
	factory := message.NewFactory(clk, nil)
	st := store.New(store.Options{
		Factory: factory,
		Docs:    docs,
		Archive: arch,
		Clock:   clk,
	})
	t.Cleanup(st.Stop)

	return plugin.Deps{
		Store:     st,
		Factory:   factory,
		Namespace: "msghub.0",
	}
}

func noopHandler() plugin.Handler {
	return plugin.HandlerFunc(func(context.Context, *plugin.API, store.Event, []*message.Message) error {
		return nil
	})
}

// lifecyclePlugin records start/stop/notification calls.
type lifecyclePlugin struct {
	started  int
	stopped  int
	events   []store.Event
	startErr error
}

func (p *lifecyclePlugin) Start(context.Context, *plugin.API) error {
	p.started++
	return p.startErr
}

func (p *lifecyclePlugin) Stop(context.Context, *plugin.API) error {
	p.stopped++
	return nil
}

func (p *lifecyclePlugin) OnNotifications(_ context.Context, _ *plugin.API, event store.Event, _ []*message.Message) error {
	p.events = append(p.events, event)
	return nil
}

func TestHost_DispatchIsolatesFailures(t *testing.T) {
	host := plugin.NewNotifyHost(newDeps(t))
	ctx := context.Background()

	var delivered []string
	require.NoError(t, host.Register(ctx, "panicky", plugin.HandlerFunc(
		func(context.Context, *plugin.API, store.Event, []*message.Message) error {
			panic("broken plugin")
		})))
	require.NoError(t, host.Register(ctx, "failing", plugin.HandlerFunc(
		func(context.Context, *plugin.API, store.Event, []*message.Message) error {
			return errors.New("unhappy")
		})))
	require.NoError(t, host.Register(ctx, "healthy", plugin.HandlerFunc(
		func(_ context.Context, _ *plugin.API, _ store.Event, msgs []*message.Message) error {
			for _, m := range msgs {
				delivered = append(delivered, m.Ref)
			}
			return nil
		})))

	err := host.Dispatch(ctx, store.EventCreated, []*message.Message{{Ref: "m1"}})
	require.NoError(t, err, "plugin faults never reach the dispatcher")
	assert.Equal(t, []string{"m1"}, delivered)
}

func TestHost_DispatchRejectsForeignEvents(t *testing.T) {
	host := plugin.NewIngestHost(newDeps(t))
	err := host.Dispatch(context.Background(), store.EventCreated, nil)
	assert.Error(t, err, "ingest hosts have no dispatchable events")
}

func TestHost_LifecycleAndReplacement(t *testing.T) {
	host := plugin.NewNotifyHost(newDeps(t))
	ctx := context.Background()

	first := &lifecyclePlugin{}
	require.NoError(t, host.Register(ctx, "p", first))
	assert.Zero(t, first.started, "not started before the host runs")

	host.Start(ctx)
	assert.Equal(t, 1, first.started)

	// Replacing stops the previous plugin and starts the new one.
	second := &lifecyclePlugin{}
	require.NoError(t, host.Register(ctx, "p", second))
	assert.Equal(t, 1, first.stopped)
	assert.Equal(t, 1, second.started)

	host.Unregister(ctx, "p")
	assert.Equal(t, 1, second.stopped)
	host.Unregister(ctx, "p") // idempotent

	host.Stop(ctx)
	assert.Empty(t, host.Plugins())
}

func TestHost_RegisterFailsWhenStartFails(t *testing.T) {
	host := plugin.NewNotifyHost(newDeps(t))
	ctx := context.Background()
	host.Start(ctx)

	bad := &lifecyclePlugin{startErr: errors.New("no config")}
	err := host.Register(ctx, "bad", bad)
	assert.Error(t, err)
	assert.Empty(t, host.Plugins(), "failed start leaves nothing registered")
}

func TestBridge_RollsBackOnNotifyFailure(t *testing.T) {
	deps := newDeps(t)
	ingest := plugin.NewIngestHost(deps)
	notify := plugin.NewNotifyHost(deps)
	ctx := context.Background()
	ingest.Start(ctx)
	notify.Start(ctx)

	bridge := plugin.NewBridge(ingest, notify)
	bad := &lifecyclePlugin{startErr: errors.New("boom")}
	err := bridge.Register(ctx, "pair", noopHandler(), bad)
	require.Error(t, err)
	assert.Empty(t, ingest.Plugins(), "ingest side rolled back")
	assert.Empty(t, notify.Plugins())

	require.NoError(t, bridge.Register(ctx, "pair", noopHandler(), &lifecyclePlugin{}))
	assert.Equal(t, []string{"pair"}, ingest.Plugins())
	assert.Equal(t, []string{"pair"}, notify.Plugins())
}

func TestAPI_CapabilitiesPerRole(t *testing.T) {
	deps := newDeps(t)
	ctx := context.Background()

	grab := func(host *plugin.Host) *plugin.API {
		var got *plugin.API
		require.NoError(t, host.Register(ctx, "probe", plugin.HandlerFunc(
			func(_ context.Context, api *plugin.API, _ store.Event, _ []*message.Message) error {
				got = api
				return nil
			})))
		host.Start(ctx)
		if err := host.Dispatch(ctx, store.EventCreated, nil); err != nil {
			// Non-notify hosts: reach the API through a starter instead.
			host.Unregister(ctx, "probe")
			startProbe := &apiProbe{}
			require.NoError(t, host.Register(ctx, "probe", startProbe))
			got = startProbe.api
		}
		return got
	}

	ingestAPI := grab(plugin.NewIngestHost(deps))
	require.NotNil(t, ingestAPI)
	assert.NotNil(t, ingestAPI.Factory)
	assert.Nil(t, ingestAPI.Action)
	_, err := ingestAPI.Store.Add(&message.Message{
		Ref: "from-ingest", Title: "ok", Kind: message.KindTask,
		Level: message.LevelNotice, Origin: message.Origin{Type: message.OriginAutomation, System: "t", ID: "1"},
	})
	assert.NoError(t, err)

	notifyAPI := grab(plugin.NewNotifyHost(deps))
	require.NotNil(t, notifyAPI)
	assert.Nil(t, notifyAPI.Factory)
	assert.Nil(t, notifyAPI.Action)
	_, err = notifyAPI.Store.Add(&message.Message{Ref: "x"})
	assert.ErrorIs(t, err, plugin.ErrReadOnly)
	assert.NotNil(t, notifyAPI.Store.Get("from-ingest"), "reads stay available")

	engageAPI := grab(plugin.NewEngageHost(deps))
	require.NotNil(t, engageAPI)
	assert.NotNil(t, engageAPI.Action)
	assert.Nil(t, engageAPI.Factory)
	_, err = engageAPI.Store.Remove("from-ingest")
	assert.ErrorIs(t, err, plugin.ErrReadOnly)
}

type apiProbe struct {
	api *plugin.API
}

func (p *apiProbe) Start(_ context.Context, api *plugin.API) error {
	p.api = api
	return nil
}

func (p *apiProbe) OnNotifications(context.Context, *plugin.API, store.Event, []*message.Message) error {
	return nil
}
