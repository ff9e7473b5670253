// Package subscribe is the path-keyed registry of change handlers.
package subscribe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/agentic-research/strata/internal/doc"
)

// Kind classifies a change by comparing the merged value before and after.
type Kind uint8

const (
	Added Kind = iota + 1
	Removed
	Modified
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Classify derives the event kind from the values before and after a write.
// ok is false when both are absent and nothing should be reported. An
// unchanged value still counts as Modified.
func Classify(before, after doc.Node) (kind Kind, ok bool) {
	switch {
	case before == nil && after == nil:
		return 0, false
	case before == nil:
		return Added, true
	case after == nil:
		return Removed, true
	default:
		return Modified, true
	}
}

// Event describes one change at Path. Values are shared read-only snapshots.
type Event struct {
	Path      string
	Kind      Kind
	NewValue  doc.Node
	OldValue  doc.Node
	Timestamp time.Time
}

type Handler func(Event)

// Subscription is the disposable handle returned by Subscribe.
type Subscription struct {
	ID   uuid.UUID
	Path string

	handler  Handler
	reg      *Registry
	disposed atomic.Bool
}

// Dispose unregisters the handler. It is safe to call more than once and from
// inside the handler itself.
func (s *Subscription) Dispose() {
	if s == nil || s.reg == nil {
		return
	}
	s.reg.Unsubscribe(s)
}

// Active reports whether the subscription has not been disposed.
func (s *Subscription) Active() bool {
	return !s.disposed.Load()
}

func (s *Subscription) invoke(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("subscriber %s on %s panicked handling %s event for %s: %v", s.ID, s.Path, ev.Kind, ev.Path, r)
		}
	}()
	s.handler(ev)
}

// Delivery pairs an event with the subscriptions it goes to, captured at the
// time the event was computed.
type Delivery struct {
	Event   Event
	Targets []*Subscription
}

type Registry struct {
	mu     sync.Mutex
	byPath map[string][]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{byPath: make(map[string][]*Subscription)}
}

// Subscribe registers h for events at path. Handlers at one path are invoked
// in registration order.
func (r *Registry) Subscribe(path string, h Handler) *Subscription {
	if h == nil {
		panic(fmt.Sprintf("subscribe %s: nil handler", path))
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := &Subscription{
		ID:      uuid.New(),
		Path:    path,
		handler: h,
		reg:     r,
	}
	r.byPath[path] = append(r.byPath[path], sub)
	return sub
}

// Unsubscribe removes exactly sub. It reports whether sub was registered.
func (r *Registry) Unsubscribe(sub *Subscription) bool {
	if !sub.disposed.CompareAndSwap(false, true) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.byPath[sub.Path]
	for i, s := range list {
		if s != sub {
			continue
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(r.byPath, sub.Path)
		} else {
			r.byPath[sub.Path] = list
		}
		return true
	}
	return false
}

// Snapshot returns the subscriptions at path in registration order.
func (r *Registry) Snapshot(path string) []*Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byPath[path]
	if len(list) == 0 {
		return nil
	}
	out := make([]*Subscription, len(list))
	copy(out, list)
	return out
}

// Count returns the number of live subscriptions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, list := range r.byPath {
		n += len(list)
	}
	return n
}

// Deliver invokes handlers synchronously, batch order first, then
// registration order. Handlers disposed since the batch was captured are
// skipped. A panicking handler is logged and does not stop the rest.
// Callers must not hold any store lock.
func Deliver(batch []Delivery) {
	for _, d := range batch {
		for _, sub := range d.Targets {
			if !sub.Active() {
				continue
			}
			sub.invoke(d.Event)
		}
	}
}
