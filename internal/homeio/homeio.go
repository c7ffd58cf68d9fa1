// Package homeio abstracts the home-automation host runtime the hub is
// embedded in: object tree, state tree, file namespaces, subscriptions
// and inter-instance messaging. The core consumes these capabilities
// and hands them to plugins through the api facades; nothing outside
// this package talks to the host directly.
package homeio

import (
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// Typed errors for the messaging surface.
var (
	// ErrEmptyTarget is returned by SendTo when no instance is given.
	ErrEmptyTarget = errors.New("homeio: empty target instance")
	// ErrEmptyCommand is returned by SendTo when no command is given.
	ErrEmptyCommand = errors.New("homeio: empty command")
	// ErrSelfAddressed is returned by SendTo when a hub instance
	// addresses itself.
	ErrSelfAddressed = errors.New("homeio: sendTo to own instance")
	// ErrNoHandler is returned when the target instance has no handler
	// registered for the command.
	ErrNoHandler = errors.New("homeio: no handler for command")
)

// TimeoutError is returned when a SendTo receives no response within
// the deadline.
type TimeoutError struct {
	Instance string
	Command  string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("homeio: sendTo %s %q timed out after %s", e.Instance, e.Command, e.Timeout)
}

// Object is a node of the host object tree.
type Object struct {
	ID     string         `json:"_id"`
	Type   string         `json:"type"`
	Common map[string]any `json:"common,omitempty"`
	Native map[string]any `json:"native,omitempty"`
}

// State is a value of the host state tree.
type State struct {
	Val  any       `json:"val"`
	Ack  bool      `json:"ack"`
	TS   time.Time `json:"ts"`
	From string    `json:"from,omitempty"`
}

// Objects is the object-tree capability. Unqualified ids are relative
// to the own namespace; the Foreign variants take fully qualified ids.
type Objects interface {
	Get(id string) (*Object, error)
	Set(id string, obj *Object) error
	Delete(id string) error
	// Extend merges the given partial object into the stored one,
	// creating it when missing.
	Extend(id string, partial *Object) error
	// GetView returns all own objects of the given type whose id sorts
	// within [startKey, endKey].
	GetView(objType, startKey, endKey string) ([]*Object, error)
	GetForeignObject(fullID string) (*Object, error)
	GetForeignObjects(pattern, objType string) ([]*Object, error)
	ExtendForeignObject(fullID string, partial *Object) error
}

// States is the state-tree capability.
type States interface {
	Set(id string, s State) error
	SetForeign(fullID string, s State) error
	GetForeign(fullID string) (*State, error)
}

// FileInfo describes a file in a host file namespace.
type FileInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

// Files is the host file-namespace capability: a logical tree of files
// under a metaID root (e.g. "msghub.0").
type Files interface {
	Read(metaID, path string) ([]byte, error)
	Write(metaID, path string, data []byte) error
	Mkdir(metaID, path string) error
	Rename(metaID, oldPath, newPath string) error
	Delete(metaID, path string) error
	ReadDir(metaID, path string) ([]FileInfo, error)
	Stat(metaID, path string) (*FileInfo, error)
}

// IsNotExist reports whether err marks a missing file, object or state.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// StateHandler receives state changes for a subscription.
type StateHandler func(fullID string, s State)

// ObjectHandler receives object changes for a subscription.
type ObjectHandler func(fullID string, obj *Object)

// Subscriptions is the change-notification capability. Patterns use a
// trailing "*" wildcard; everything else matches literally.
type Subscriptions interface {
	SubscribeStates(pattern string, h StateHandler) (unsubscribe func(), err error)
	SubscribeObjects(pattern string, h ObjectHandler) (unsubscribe func(), err error)
	SubscribeForeignStates(pattern string, h StateHandler) (unsubscribe func(), err error)
	SubscribeForeignObjects(pattern string, h ObjectHandler) (unsubscribe func(), err error)
}
