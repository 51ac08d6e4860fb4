package beacon

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
)

var (
	// ErrUnknownKind is returned when a record's discriminator has no registered factory.
	ErrUnknownKind = errors.New("unknown record kind")
	// ErrMissingKind is returned when a serialized record carries no discriminator.
	ErrMissingKind = errors.New("record has no type")
)

// Record is a single telemetry entry carried inside a beacon.
// Kind is the discriminator written to the "type" field on the wire.
type Record interface {
	Kind() string
}

// Base holds the fields shared by every browser-originated record.
type Base struct {
	ID        int64  `json:"id,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	TabID     string `json:"tabId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// Session returns the monitoring session the record belongs to.
func (b Base) Session() string {
	return b.SessionID
}

type sessioned interface {
	Session() string
}

// IsNil reports whether r is nil or an interface holding a nil pointer.
func IsNil(r Record) bool {
	if r == nil {
		return true
	}
	v := reflect.ValueOf(r)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// SessionOf returns the session ID of r, or "" if r carries none.
func SessionOf(r Record) string {
	if IsNil(r) {
		return ""
	}
	if s, ok := r.(sessioned); ok {
		return s.Session()
	}
	return ""
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Record{}
)

// Register makes a record kind decodable. It panics if kind is empty or
// already registered.
func Register(kind string, factory func() Record) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if kind == "" {
		panic("beacon: Register with empty kind")
	}
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("beacon: Register called twice for kind %q", kind))
	}
	registry[kind] = factory
}

// NewRecord returns a new zero record of the given kind.
func NewRecord(kind string) (Record, error) {
	registryMu.RLock()
	factory, ok := registry[kind]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return factory(), nil
}

// Kinds returns the registered record kinds in sorted order.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
