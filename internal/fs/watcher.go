// Package fs implements the Filesystem Service (FS): file and directory
// IO plus a change-notification watcher resource. The watcher wraps
// github.com/fsnotify/fsnotify, folding its richer, platform-specific
// event set down to a closed {create, modify, remove, rename} kind
// taxonomy; event delivery runs through internal/eventbus, the same
// bounded drop-oldest broadcaster the debugger's pause/script receivers
// use for the filesystem-notifications event family.
package fs

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"github.com/layerdynamics/forge-runtime/internal/eventbus"
)

// EventKind is one of the four watch event kinds.
type EventKind string

const (
	EventCreate EventKind = "create"
	EventModify EventKind = "modify"
	EventRemove EventKind = "remove"
	EventRename EventKind = "rename"
)

// Event is a single filesystem change, delivered by watch_next.
type Event struct {
	Kind  EventKind
	Paths []string
}

// queueDepth bounds the watcher's per-subscriber queue. Overflow drops
// the oldest queued event, the same policy event-receiver queues use
// generally.
const queueDepth = 256

// Watcher is the Watch resource RT owns: a live fsnotify watch fanned
// into a single-subscriber eventbus.Bus so its overflow counter and
// drop-oldest policy match every other receiver family in the runtime.
type Watcher struct {
	fsw  *fsnotify.Watcher
	bus  *eventbus.Bus[Event]
	sub  *eventbus.Queue[Event]
	errs chan error
	done chan struct{}
}

// NewWatcher starts watching root itself. fsnotify is not recursive and
// no subdirectories are added, so changes inside nested directories are
// not reported.
func NewWatcher(root string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	bus := eventbus.NewBus[Event]()
	w := &Watcher{
		fsw:  fsw,
		bus:  bus,
		sub:  bus.Subscribe(queueDepth),
		errs: make(chan error, 1),
		done: make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

func (w *Watcher) pump() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			kind, ok := translateOp(ev.Op)
			if !ok {
				continue
			}
			w.bus.Publish(Event{Kind: kind, Paths: []string{ev.Name}})
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		case <-w.done:
			return
		}
	}
}

func translateOp(op fsnotify.Op) (EventKind, bool) {
	switch {
	case op&fsnotify.Create != 0:
		return EventCreate, true
	case op&fsnotify.Remove != 0:
		return EventRemove, true
	case op&fsnotify.Rename != 0:
		return EventRename, true
	case op&fsnotify.Write != 0, op&fsnotify.Chmod != 0:
		return EventModify, true
	default:
		return "", false
	}
}

// Next blocks until an event is available, the watcher is closed, or ctx
// is cancelled.
func (w *Watcher) Next(ctx context.Context) (Event, error, bool) {
	select {
	case ev := <-w.sub.Recv():
		return ev, nil, true
	case err := <-w.errs:
		return Event{}, err, false
	case <-w.sub.Done():
		return Event{}, nil, false
	case <-w.done:
		return Event{}, nil, false
	case <-ctx.Done():
		return Event{}, ctx.Err(), false
	}
}

// Overflow reports how many filesystem events were dropped because the
// watcher's consumer fell behind.
func (w *Watcher) Overflow() uint64 { return w.sub.Overflow() }

// Close implements resource.Resource.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	w.bus.CloseAll()
	return w.fsw.Close()
}
