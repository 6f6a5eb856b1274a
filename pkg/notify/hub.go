package notify

import (
	"fmt"
	"runtime/debug"
	"sync"

	"beacon/pkg/logx"
)

// Reporter receives (event, listener, error) tuples for listener failures
// during dispatch. It runs synchronously on the Notify caller's goroutine,
// so implementations should be cheap or hand off.
type Reporter[E comparable] func(event E, l Listener[E], lerr *ListenerError)

// Hub is a notification registry and dispatcher. Every Hub owns its own
// registry; there is no process-wide instance.
type Hub[E comparable] struct {
	log    logx.Logger
	report Reporter[E]

	mu     sync.Mutex
	events map[E][]*registration[E]
}

// registration is immutable once created; it is only ever destroyed.
type registration[E comparable] struct {
	listener Listener[E]
	release  ReleaseFunc
}

type Option[E comparable] func(*Hub[E])

// WithLogger sets the logger used by the default failure reporter.
func WithLogger[E comparable](log logx.Logger) Option[E] {
	return func(h *Hub[E]) { h.log = log }
}

// WithReporter replaces the default failure reporter.
func WithReporter[E comparable](r Reporter[E]) Option[E] {
	return func(h *Hub[E]) { h.report = r }
}

func New[E comparable](opts ...Option[E]) *Hub[E] {
	h := &Hub[E]{
		log:    logx.Nop(),
		events: map[E][]*registration[E]{},
	}
	for _, o := range opts {
		o(h)
	}
	if h.report == nil {
		h.report = func(event E, l Listener[E], lerr *ListenerError) {
			h.log.Error("listener failed",
				logx.Any("event", event),
				logx.String("listener", lerr.Listener),
				logx.Err(lerr.Err),
				logx.Stack(lerr.Stack),
			)
		}
	}
	return h
}

// Register adds l to event's listener set and returns the release handle
// bound to that registration.
//
// If l is already registered for event, no new registration is created and
// the existing registration's handle is returned: invoking it once fully
// unregisters l no matter how many times Register was called.
//
// If l implements CleanupRegistrar, the handle is also passed to
// RegisterCleanup before Register returns, exactly once per successful
// registration and never on a duplicate.
func (h *Hub[E]) Register(event E, l Listener[E]) (ReleaseFunc, error) {
	var zero E
	if event == zero {
		return nil, fmt.Errorf("%w: zero event key", ErrInvalidArgument)
	}
	if l == nil {
		return nil, fmt.Errorf("%w: nil listener", ErrInvalidArgument)
	}

	h.mu.Lock()
	for _, reg := range h.events[event] {
		if reg.listener == l {
			rel := reg.release
			h.mu.Unlock()
			return rel, nil
		}
	}

	reg := &registration[E]{listener: l}
	var once sync.Once
	reg.release = func() {
		once.Do(func() { h.remove(event, reg) })
	}
	h.events[event] = append(h.events[event], reg)
	h.mu.Unlock()

	// Delegation happens outside the registry lock so the listener may
	// invoke the handle immediately.
	if cr, ok := l.(CleanupRegistrar); ok {
		cr.RegisterCleanup(reg.release)
	}
	return reg.release, nil
}

// Unregister removes l from event's listener set. No-op if absent.
func (h *Hub[E]) Unregister(event E, l Listener[E]) {
	if l == nil {
		return
	}
	var rel ReleaseFunc
	h.mu.Lock()
	for _, reg := range h.events[event] {
		if reg.listener == l {
			rel = reg.release
			break
		}
	}
	h.mu.Unlock()

	// Going through the stored handle keeps release idempotency in one
	// place: later handle invocations find nothing to remove.
	if rel != nil {
		rel()
	}
}

// Notify dispatches event to every listener registered for it at the time
// of the call, in registration order, passing args to each.
//
// The listener set is snapshotted before the first invocation: listeners
// registered or released during the dispatch (including by the dispatched
// listeners themselves) affect only future Notify calls. A failing listener
// is reported and skipped; Notify never fails because of a listener.
func (h *Hub[E]) Notify(event E, args ...any) error {
	var zero E
	if event == zero {
		return fmt.Errorf("%w: zero event key", ErrInvalidArgument)
	}

	h.mu.Lock()
	regs := h.events[event]
	if len(regs) == 0 {
		h.mu.Unlock()
		return nil
	}
	snapshot := make([]Listener[E], len(regs))
	for i, reg := range regs {
		snapshot[i] = reg.listener
	}
	report := h.report
	h.mu.Unlock()

	for _, l := range snapshot {
		if lerr := invoke(event, l, args); lerr != nil {
			report(event, l, lerr)
		}
	}
	return nil
}

// SetReporter replaces the failure reporter. Useful when the reporter
// chain needs the hub itself (introspection metrics). A nil r restores
// nothing and is ignored.
func (h *Hub[E]) SetReporter(r Reporter[E]) {
	if r == nil {
		return
	}
	h.mu.Lock()
	h.report = r
	h.mu.Unlock()
}

func invoke[E comparable](event E, l Listener[E], args []any) (lerr *ListenerError) {
	defer func() {
		if r := recover(); r != nil {
			lerr = &ListenerError{
				Listener: fmt.Sprintf("%T", l),
				Err:      fmt.Errorf("panic: %v", r),
				Stack:    string(debug.Stack()),
			}
		}
	}()
	if err := l.HandleEvent(event, args); err != nil {
		return &ListenerError{Listener: fmt.Sprintf("%T", l), Err: err}
	}
	return nil
}

// UnregisterAll clears the given events, or every event when called with no
// arguments. Outstanding release handles for cleared registrations become
// no-ops.
func (h *Hub[E]) UnregisterAll(events ...E) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(events) == 0 {
		clear(h.events)
		return
	}
	for _, e := range events {
		delete(h.events, e)
	}
}

// EventNames returns the keys that currently have at least one listener, in
// no particular order.
func (h *Hub[E]) EventNames() []E {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]E, 0, len(h.events))
	for e := range h.events {
		out = append(out, e)
	}
	return out
}

// ListenerCount reports the number of listeners registered for event.
func (h *Hub[E]) ListenerCount(event E) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events[event])
}

func (h *Hub[E]) remove(event E, target *registration[E]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	regs := h.events[event]
	for i, reg := range regs {
		if reg == target {
			h.events[event] = append(regs[:i], regs[i+1:]...)
			if len(h.events[event]) == 0 {
				delete(h.events, event)
			}
			return
		}
	}
}
