package admin

import (
	"sync"

	"github.com/msghub/msghub/internal/message"
	"github.com/msghub/msghub/internal/store"
)

// Notice is one lifecycle notification on the event stream.
type Notice struct {
	Event store.Event `json:"event"`
	Refs  []string    `json:"refs"`
	TS    int64       `json:"ts"`
}

// Broadcaster fans lifecycle notices out to websocket subscribers. A
// slow subscriber loses notices rather than blocking the dispatcher.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Notice]struct{}
}

// NewBroadcaster creates an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Notice]struct{})}
}

// Subscribe registers a new subscriber. Call the returned cancel func
// to unsubscribe.
func (b *Broadcaster) Subscribe() (<-chan Notice, func()) {
	ch := make(chan Notice, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// Publish delivers the notice to all subscribers, dropping it for full
// ones.
func (b *Broadcaster) Publish(n Notice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

// Dispatcher adapts the Broadcaster to the store's dispatch contract.
func (b *Broadcaster) Dispatcher(ts func() int64) store.Dispatcher {
	return func(event store.Event, msgs []*message.Message) {
		refs := make([]string, len(msgs))
		for i, m := range msgs {
			refs[i] = m.Ref
		}
		b.Publish(Notice{Event: event, Refs: refs, TS: ts()})
	}
}
