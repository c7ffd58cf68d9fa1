package docstore_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msghub/msghub/internal/docstore"
	"github.com/msghub/msghub/internal/msgcodec"
	"github.com/msghub/msghub/internal/opqueue"
	"github.com/msghub/msghub/internal/storage"
	"github.com/msghub/msghub/internal/util/testutil"
)

type doc struct {
	A int `json:"a"`
}

func newStore(t *testing.T, dir string, interval time.Duration) (*docstore.Store, *opqueue.Queue) {
	t.Helper()
	q := opqueue.New()
	t.Cleanup(q.Close)
	s := docstore.New(docstore.Options{
		Backend:       storage.NewNative(dir),
		Path:          "messages.json",
		Codec:         msgcodec.Default,
		WriteInterval: interval,
		Queue:         q,
	})
	require.NoError(t, s.Init())
	return s, q
}

func readDoc(t *testing.T, dir string) doc {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "messages.json"))
	require.NoError(t, err)
	var d doc
	require.NoError(t, json.Unmarshal(data, &d))
	return d
}

func TestWriteJSON_Immediate(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, 0)

	require.NoError(t, s.WriteJSON(doc{A: 1}).Err())
	assert.Equal(t, 1, readDoc(t, dir).A)

	st := s.Status()
	assert.Equal(t, docstore.ModeRename, st.LastPersistedMode)
	assert.False(t, st.Pending)
	assert.Positive(t, st.LastPersistedBytes)
}

func TestWriteJSON_CoalescesToLatestValue(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, time.Second)

	f1 := s.WriteJSON(doc{A: 1})
	f2 := s.WriteJSON(doc{A: 2})
	f3 := s.WriteJSON(doc{A: 3})

	// One shared future for the whole window.
	assert.Same(t, f1, f2)
	assert.Same(t, f2, f3)
	assert.True(t, s.Status().Pending)

	require.NoError(t, s.FlushPending().Err())
	require.NoError(t, f1.Err())

	assert.Equal(t, 3, readDoc(t, dir).A)
	assert.False(t, s.Status().Pending)
}

func TestWriteJSON_TimerFlush(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, 20*time.Millisecond)

	f := s.WriteJSON(doc{A: 7})
	require.NoError(t, f.Err())
	assert.Equal(t, 7, readDoc(t, dir).A)
}

func TestFlushPending_NoPendingReturnsQueueTail(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, time.Second)

	require.NoError(t, s.FlushPending().Err())
}

func TestReadJSON_FallbackOnMissingAndInvalid(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, 0)

	d := doc{A: 42}
	assert.False(t, s.ReadJSON(&d))
	assert.Equal(t, 42, d.A, "fallback value untouched")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "messages.json"), []byte("{not json"), 0o644))
	assert.False(t, s.ReadJSON(&d))
	assert.Equal(t, 42, d.A)

	require.NoError(t, s.WriteJSON(doc{A: 5}).Err())
	assert.True(t, s.ReadJSON(&d))
	assert.Equal(t, 5, d.A)
}

func TestWriteJSON_TmpFileCleanedUp(t *testing.T) {
	dir := t.TempDir()
	s, _ := newStore(t, dir, 0)

	require.NoError(t, s.WriteJSON(doc{A: 1}).Err())
	_, err := os.Stat(filepath.Join(dir, "messages.json.tmp"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

// failingBackend rejects writes until healed.
type failingBackend struct {
	*storage.Native
	fail atomic.Bool
}

func (f *failingBackend) WriteFile(path string, data []byte) error {
	if f.fail.Load() {
		return errors.New("disk full")
	}
	return f.Native.WriteFile(path, data)
}

func TestWriteJSON_RetriesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	backend := &failingBackend{Native: storage.NewNative(dir)}
	backend.fail.Store(true)
	q := opqueue.New()
	t.Cleanup(q.Close)
	s := docstore.New(docstore.Options{
		Backend: backend,
		Path:    "messages.json",
		Codec:   msgcodec.Default,
		Queue:   q,
	})
	require.NoError(t, s.Init())

	err := s.WriteJSON(doc{A: 9}).Err()
	require.Error(t, err)
	assert.NotEmpty(t, s.Status().LastError)

	backend.fail.Store(false)
	testutil.RequireEventually(t, func() bool {
		return s.Status().LastError == ""
	}, "retry should persist the failed value")
	assert.Equal(t, 9, readDoc(t, dir).A)
}
