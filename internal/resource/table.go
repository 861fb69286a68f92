// Package resource implements the Resource Table (RT): the process-wide
// registry mapping small integer ids to typed native resources (watchers,
// child processes, WASM modules/instances, debugger event receivers).
//
// Built like internal/pty.Manager (a map[string]*Session guarded by
// sync.RWMutex, with insert/get/drop and per-user bookkeeping),
// generalized from one concrete resource type to any type implementing
// Resource, and from string session ids to generation-counted uint32
// rids, so free-slot reuse is gated by a per-slot generation counter
// and a stale rid can never alias a reused slot.
package resource

import (
	"fmt"
	"sync"
)

// Resource is anything the Resource Table can own: a file watcher, a
// child process, a WASM module or instance, or a debugger event receiver.
// Close is the finalizer drop invokes: it stops watchers, closes
// pipes, releases WASM memory, closes WebSockets.
type Resource interface {
	Close() error
}

// ID is the guest-visible resource id ("rid"). The low 32
// bits are never exposed directly to callers of this package; Table hides
// the generation/slot split behind opaque ID values so a stale id from a
// dropped resource can never alias a reused slot.
type ID uint64

const (
	slotBits = 32
	slotMask = (uint64(1) << slotBits) - 1
)

func makeID(slot uint32, generation uint32) ID {
	return ID(uint64(generation)<<slotBits | uint64(slot))
}

func (id ID) slot() uint32       { return uint32(uint64(id) & slotMask) }
func (id ID) generation() uint32 { return uint32(uint64(id) >> slotBits) }

type entry struct {
	resource   Resource
	generation uint32
	live       bool
}

// Table is the Resource Table. All methods are safe to call from any
// dispatcher worker; when a resource's own method suspends (e.g.
// reading a bounded queue), Table does not hold its lock for that
// duration — Get returns a borrowed reference and releases the table
// lock immediately.
type Table struct {
	mu      sync.RWMutex
	entries []entry
	freeList []uint32
}

// NewTable creates an empty Resource Table.
func NewTable() *Table {
	return &Table{}
}

// Insert adds resource to the table and returns its fresh id. O(1)
// amortized: reuses a free slot (bumping its generation) when one is
// available, otherwise appends.
func (t *Table) Insert(r Resource) ID {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.freeList); n > 0 {
		slot := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		e := &t.entries[slot]
		e.resource = r
		e.live = true
		return makeID(slot, e.generation)
	}

	slot := uint32(len(t.entries))
	t.entries = append(t.entries, entry{resource: r, generation: 0, live: true})
	return makeID(slot, 0)
}

// ErrInvalidHandle is returned (wrapped with a family-specific message by
// callers) whenever an id is unknown, stale, or of the wrong type.
var ErrInvalidHandle = fmt.Errorf("invalid handle")

// Get looks up id and type-asserts the stored resource to T. It returns
// ErrInvalidHandle for an unknown id, a stale (already-dropped, since
// reused or not) id, or a type mismatch — strict type checking, never
// a silent best-effort cast.
func Get[T Resource](t *Table, id ID) (T, error) {
	var zero T
	t.mu.RLock()
	defer t.mu.RUnlock()

	slot := id.slot()
	if int(slot) >= len(t.entries) {
		return zero, ErrInvalidHandle
	}
	e := t.entries[slot]
	if !e.live || e.generation != id.generation() {
		return zero, ErrInvalidHandle
	}
	typed, ok := e.resource.(T)
	if !ok {
		return zero, ErrInvalidHandle
	}
	return typed, nil
}

// Drop closes the resource at id (calling its finalizer) and frees the
// slot for reuse under a bumped generation. Double-drop, and drop of an
// unknown or stale id, both yield ErrInvalidHandle — never undefined
// behavior.
func (t *Table) Drop(id ID) error {
	t.mu.Lock()
	slot := id.slot()
	if int(slot) >= len(t.entries) {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	e := &t.entries[slot]
	if !e.live || e.generation != id.generation() {
		t.mu.Unlock()
		return ErrInvalidHandle
	}
	r := e.resource
	e.live = false
	e.resource = nil
	e.generation++
	t.freeList = append(t.freeList, slot)
	t.mu.Unlock()

	return r.Close()
}

// Len reports the number of currently live resources. Used by tests to
// assert no leak persists across an insert/drop cycle.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.live {
			n++
		}
	}
	return n
}

// DropAll closes every live resource, for process shutdown.
func (t *Table) DropAll() []error {
	t.mu.Lock()
	ids := make([]ID, 0, len(t.entries))
	for slot, e := range t.entries {
		if e.live {
			ids = append(ids, makeID(uint32(slot), e.generation))
		}
	}
	t.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := t.Drop(id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
