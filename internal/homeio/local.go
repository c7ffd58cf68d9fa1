package homeio

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Local is an in-process Runtime: objects and states live in memory,
// file namespaces are directories under a root path, and SendTo is
// dispatched to handlers registered in the same process. Standalone
// serve mode and the tests run on it.
type Local struct {
	namespace string
	root      string

	mu       sync.RWMutex
	objects  map[string]*Object
	states   map[string]*State
	handlers map[string]CommandHandler // "instance/command"

	subs *subscriptionSet
}

// CommandHandler answers a SendTo command addressed to an instance.
type CommandHandler func(ctx context.Context, payload any) (any, error)

// NewLocal creates a Local runtime. File namespaces live under root.
func NewLocal(namespace, root string) *Local {
	return &Local{
		namespace: namespace,
		root:      root,
		objects:   make(map[string]*Object),
		states:    make(map[string]*State),
		handlers:  make(map[string]CommandHandler),
		subs:      newSubscriptionSet(),
	}
}

// Namespace returns the own instance id.
func (l *Local) Namespace() string { return l.namespace }

// Objects returns the object-tree capability.
func (l *Local) Objects() Objects { return (*localObjects)(l) }

// States returns the state-tree capability.
func (l *Local) States() States { return (*localStates)(l) }

// Files returns the file-namespace capability.
func (l *Local) Files() Files { return &localFiles{root: l.root} }

// Subscriptions returns the change-notification capability.
func (l *Local) Subscriptions() Subscriptions { return l.subs }

// RegisterCommand installs a handler for commands addressed to the
// given instance. Replaces any previous handler.
func (l *Local) RegisterCommand(instance, command string, h CommandHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[instance+"/"+command] = h
}

// SendTo dispatches a command to a registered handler and waits for the
// response within the deadline.
func (l *Local) SendTo(ctx context.Context, instance, command string, payload any, opts *SendOptions) (any, error) {
	if strings.TrimSpace(instance) == "" {
		return nil, ErrEmptyTarget
	}
	if strings.TrimSpace(command) == "" {
		return nil, ErrEmptyCommand
	}
	if instance == l.namespace {
		return nil, ErrSelfAddressed
	}

	timeout := DefaultSendTimeout
	if opts != nil && opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	l.mu.RLock()
	h, ok := l.handlers[instance+"/"+command]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s %q", ErrNoHandler, instance, command)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp any
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := h(ctx, payload)
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, &TimeoutError{Instance: instance, Command: command, Timeout: timeout}
		}
		return nil, ctx.Err()
	}
}

// --- objects ---

type localObjects Local

func (o *localObjects) full(id string) string {
	return Namespaced(o.namespace, id)
}

// Namespaced prefixes id with ns unless it is already fully qualified
// under ns.
func Namespaced(ns, id string) string {
	if ns == "" || strings.HasPrefix(id, ns+".") {
		return id
	}
	return ns + "." + id
}

func (o *localObjects) Get(id string) (*Object, error) {
	return o.GetForeignObject(o.full(id))
}

func (o *localObjects) GetForeignObject(fullID string) (*Object, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	obj, ok := o.objects[fullID]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", fullID, fs.ErrNotExist)
	}
	return cloneObject(obj), nil
}

func (o *localObjects) Set(id string, obj *Object) error {
	fullID := o.full(id)
	c := cloneObject(obj)
	c.ID = fullID
	o.mu.Lock()
	o.objects[fullID] = c
	o.mu.Unlock()
	o.subs.notifyObject(fullID, cloneObject(c))
	return nil
}

func (o *localObjects) Delete(id string) error {
	fullID := o.full(id)
	o.mu.Lock()
	delete(o.objects, fullID)
	o.mu.Unlock()
	o.subs.notifyObject(fullID, nil)
	return nil
}

func (o *localObjects) Extend(id string, partial *Object) error {
	return o.ExtendForeignObject(o.full(id), partial)
}

func (o *localObjects) ExtendForeignObject(fullID string, partial *Object) error {
	o.mu.Lock()
	obj, ok := o.objects[fullID]
	if !ok {
		obj = &Object{ID: fullID, Type: partial.Type}
		o.objects[fullID] = obj
	}
	if partial.Type != "" {
		obj.Type = partial.Type
	}
	obj.Common = mergeMap(obj.Common, partial.Common)
	obj.Native = mergeMap(obj.Native, partial.Native)
	c := cloneObject(obj)
	o.mu.Unlock()
	o.subs.notifyObject(fullID, c)
	return nil
}

func (o *localObjects) GetView(objType, startKey, endKey string) ([]*Object, error) {
	prefix := o.namespace + "."
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*Object
	for fullID, obj := range o.objects {
		if !strings.HasPrefix(fullID, prefix) {
			continue
		}
		if objType != "" && obj.Type != objType {
			continue
		}
		if startKey != "" && fullID < startKey {
			continue
		}
		if endKey != "" && fullID > endKey {
			continue
		}
		out = append(out, cloneObject(obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (o *localObjects) GetForeignObjects(pattern, objType string) ([]*Object, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	var out []*Object
	for fullID, obj := range o.objects {
		if !matchPattern(pattern, fullID) {
			continue
		}
		if objType != "" && obj.Type != objType {
			continue
		}
		out = append(out, cloneObject(obj))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func cloneObject(obj *Object) *Object {
	if obj == nil {
		return nil
	}
	c := &Object{ID: obj.ID, Type: obj.Type}
	c.Common = mergeMap(nil, obj.Common)
	c.Native = mergeMap(nil, obj.Native)
	return c
}

func mergeMap(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// --- states ---

type localStates Local

func (s *localStates) Set(id string, st State) error {
	return s.SetForeign(Namespaced(s.namespace, id), st)
}

func (s *localStates) SetForeign(fullID string, st State) error {
	if st.TS.IsZero() {
		st.TS = time.Now()
	}
	if st.From == "" {
		st.From = s.namespace
	}
	s.mu.Lock()
	s.states[fullID] = &st
	s.mu.Unlock()
	s.subs.notifyState(fullID, st)
	return nil
}

func (s *localStates) GetForeign(fullID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[fullID]
	if !ok {
		return nil, fmt.Errorf("state %s: %w", fullID, fs.ErrNotExist)
	}
	c := *st
	return &c, nil
}

// --- files ---

type localFiles struct {
	root string
}

func (f *localFiles) resolve(metaID, path string) string {
	return filepath.Join(f.root, metaID, filepath.FromSlash(path))
}

func (f *localFiles) Read(metaID, path string) ([]byte, error) {
	return os.ReadFile(f.resolve(metaID, path))
}

func (f *localFiles) Write(metaID, path string, data []byte) error {
	p := f.resolve(metaID, path)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (f *localFiles) Mkdir(metaID, path string) error {
	return os.MkdirAll(f.resolve(metaID, path), 0o755)
}

func (f *localFiles) Rename(metaID, oldPath, newPath string) error {
	dst := f.resolve(metaID, newPath)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(f.resolve(metaID, oldPath), dst)
}

func (f *localFiles) Delete(metaID, path string) error {
	return os.Remove(f.resolve(metaID, path))
}

func (f *localFiles) ReadDir(metaID, path string) ([]FileInfo, error) {
	entries, err := os.ReadDir(f.resolve(metaID, path))
	if err != nil {
		return nil, err
	}
	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		fi := FileInfo{Name: e.Name(), IsDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			fi.Size = info.Size()
		}
		out = append(out, fi)
	}
	return out, nil
}

func (f *localFiles) Stat(metaID, path string) (*FileInfo, error) {
	info, err := os.Stat(f.resolve(metaID, path))
	if err != nil {
		return nil, err
	}
	return &FileInfo{Name: info.Name(), Size: info.Size(), IsDir: info.IsDir()}, nil
}

// --- subscriptions ---

type subscription struct {
	pattern string
	state   StateHandler
	object  ObjectHandler
}

type subscriptionSet struct {
	mu   sync.RWMutex
	next int
	subs map[int]*subscription
}

func newSubscriptionSet() *subscriptionSet {
	return &subscriptionSet{subs: make(map[int]*subscription)}
}

func (s *subscriptionSet) add(sub *subscription) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = sub
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *subscriptionSet) SubscribeStates(pattern string, h StateHandler) (func(), error) {
	return s.add(&subscription{pattern: pattern, state: h}), nil
}

func (s *subscriptionSet) SubscribeObjects(pattern string, h ObjectHandler) (func(), error) {
	return s.add(&subscription{pattern: pattern, object: h}), nil
}

func (s *subscriptionSet) SubscribeForeignStates(pattern string, h StateHandler) (func(), error) {
	return s.add(&subscription{pattern: pattern, state: h}), nil
}

func (s *subscriptionSet) SubscribeForeignObjects(pattern string, h ObjectHandler) (func(), error) {
	return s.add(&subscription{pattern: pattern, object: h}), nil
}

func (s *subscriptionSet) notifyState(fullID string, st State) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.state != nil && matchPattern(sub.pattern, fullID) {
			sub.state(fullID, st)
		}
	}
}

func (s *subscriptionSet) notifyObject(fullID string, obj *Object) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.object != nil && matchPattern(sub.pattern, fullID) {
			sub.object(fullID, obj)
		}
	}
}

// matchPattern matches id against pattern: "*" matches everything, a
// trailing "*" matches by prefix, anything else matches literally.
func matchPattern(pattern, id string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(id, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == id
}
