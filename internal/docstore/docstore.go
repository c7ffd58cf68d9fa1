// Package docstore persists one whole JSON document per Store with
// write coalescing: several writes scheduled within the interval
// collapse into a single physical write carrying the latest value.
// All physical I/O runs through a shared serial queue, so writes never
// overlap and the last scheduled value deterministically wins.
package docstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/msghub/msghub/internal/metrics"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/opqueue"
	"github.com/msghub/msghub/internal/storage"
)

// Mode records how the last physical write replaced the target file.
type Mode string

const (
	// ModeRename is the atomic tmp+rename path.
	ModeRename Mode = "rename"
	// ModeFallback means rename failed and the write fell back to a
	// direct overwrite.
	ModeFallback Mode = "fallback"
	// ModeOverride is the direct overwrite path on backends without
	// rename support.
	ModeOverride Mode = "override"
)

// Status is a point-in-time snapshot of a Store.
type Status struct {
	FilePath           string    `json:"filePath"`
	LastPersistedAt    time.Time `json:"lastPersistedAt"`
	LastPersistedBytes int       `json:"lastPersistedBytes"`
	LastPersistedMode  Mode      `json:"lastPersistedMode"`
	Pending            bool      `json:"pending"`
	LastError          string    `json:"lastError,omitempty"`
}

// Options configures a Store.
type Options struct {
	Backend storage.Backend
	// Path of the document relative to the backend root, e.g.
	// "messages.json".
	Path  string
	Codec msgcodec.Codec
	// WriteInterval is the coalescing window. Zero means every
	// WriteJSON enqueues an immediate physical write.
	WriteInterval time.Duration
	// Queue serializes physical writes. Stores sharing a backend
	// should share a queue.
	Queue  *opqueue.Queue
	Logger *slog.Logger
}

// Store persists a single JSON document.
type Store struct {
	backend  storage.Backend
	path     string
	codec    msgcodec.Codec
	interval time.Duration
	queue    *opqueue.Queue
	log      *slog.Logger

	mu       sync.Mutex
	pending  any
	hasPend  bool
	pendFut  *opqueue.Future
	pendRes  func(error)
	timer    *time.Timer
	writeGen uint64
	retry    *backoff.ExponentialBackOff
	status   Status
}

// New creates a Store. Call Init before first use.
func New(opts Options) *Store {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return &Store{
		backend:  opts.Backend,
		path:     opts.Path,
		codec:    opts.Codec,
		interval: opts.WriteInterval,
		queue:    opts.Queue,
		log:      log.With("component", "docstore", "doc", opts.Path),
		retry:    b,
		status:   Status{FilePath: opts.Path},
	}
}

// Init ensures the document's directory exists.
func (s *Store) Init() error {
	dir := path.Dir(s.path)
	if dir != "." && dir != "/" {
		if err := s.backend.MkdirAll(dir); err != nil {
			return fmt.Errorf("docstore init %s: %w", s.path, err)
		}
	}
	s.log.Info("document store ready", "path", s.path)
	return nil
}

// ReadJSON reads and decodes the document into out via encoding/json.
// Missing, empty or invalid content leaves out untouched and returns
// false; out then keeps its caller-supplied fallback value.
func (s *Store) ReadJSON(out any) bool {
	data, err := s.backend.ReadFile(s.path)
	if err != nil {
		if !storage.IsNotExist(err) {
			s.log.Warn("document read failed, using fallback", "error", err)
		}
		return false
	}
	if len(data) == 0 {
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.log.Warn("document invalid, using fallback", "error", err)
		return false
	}
	return true
}

// WriteJSON schedules v for persistence. With a zero interval the
// write is enqueued immediately; otherwise writes within the interval
// coalesce and all callers share the Future resolved on the flush.
func (s *Store) WriteJSON(v any) *opqueue.Future {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeGen++
	if s.interval == 0 {
		gen := s.writeGen
		return s.queue.Submit(func() error {
			return s.persist(v, gen)
		})
	}

	s.pending = v
	if !s.hasPend {
		s.hasPend = true
		s.pendFut, s.pendRes = opqueue.Promise()
		s.status.Pending = true
		s.timer = time.AfterFunc(s.interval, func() {
			s.mu.Lock()
			if s.hasPend {
				s.flushLocked()
			}
			s.mu.Unlock()
		})
	}
	return s.pendFut
}

// FlushPending cancels the coalescing timer and writes the latest
// pending value now. Without a pending value it returns the queue tail
// so callers can quiesce.
func (s *Store) FlushPending() *opqueue.Future {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasPend {
		return s.queue.Current()
	}
	return s.flushLocked()
}

// flushLocked moves the pending value into the write queue. Caller
// holds s.mu.
func (s *Store) flushLocked() *opqueue.Future {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	v := s.pending
	resolve := s.pendRes
	fut := s.pendFut
	gen := s.writeGen
	s.pending = nil
	s.hasPend = false
	s.pendFut = nil
	s.pendRes = nil
	s.status.Pending = false

	s.queue.Submit(func() error {
		err := s.persist(v, gen)
		resolve(err)
		return err
	})
	return fut
}

// persist performs the physical write. Runs on the queue goroutine.
func (s *Store) persist(v any, gen uint64) error {
	data, err := s.codec.EncodeIndent(v)
	if err != nil {
		s.recordError(err)
		return fmt.Errorf("docstore encode %s: %w", s.path, err)
	}

	mode := ModeOverride
	if s.backend.CanRename() {
		mode = ModeRename
		tmp := s.path + ".tmp"
		err = s.backend.WriteFile(tmp, data)
		if err == nil {
			// Best-effort removal of the target; some backends refuse
			// to rename onto an existing file.
			_ = s.backend.Delete(s.path)
			err = s.backend.Rename(tmp, s.path)
		}
		if err != nil {
			s.log.Warn("atomic replace failed, overwriting directly", "error", err)
			_ = s.backend.Delete(tmp)
			mode = ModeFallback
			err = s.backend.WriteFile(s.path, data)
		}
	} else {
		err = s.backend.WriteFile(s.path, data)
	}

	if err != nil {
		s.recordError(err)
		s.scheduleRetry(v, gen)
		return fmt.Errorf("docstore write %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.retry.Reset()
	s.status.LastPersistedAt = time.Now()
	s.status.LastPersistedBytes = len(data)
	s.status.LastPersistedMode = mode
	s.status.LastError = ""
	s.mu.Unlock()
	metrics.DocumentWritesTotal.WithLabelValues(string(mode)).Inc()
	return nil
}

func (s *Store) recordError(err error) {
	s.mu.Lock()
	s.status.LastError = err.Error()
	s.mu.Unlock()
}

// scheduleRetry re-enqueues the failed value after a backoff delay. A
// newer WriteJSON supersedes the retry: last writer still wins.
func (s *Store) scheduleRetry(v any, gen uint64) {
	s.mu.Lock()
	delay := s.retry.NextBackOff()
	s.mu.Unlock()
	s.log.Warn("document write failed, retrying", "delay", delay)
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		stale := s.writeGen != gen
		s.mu.Unlock()
		if stale {
			return
		}
		s.queue.Submit(func() error {
			return s.persist(v, gen)
		})
	})
}

// Status returns a snapshot of the store's persistence state.
func (s *Store) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
