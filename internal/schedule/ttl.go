package schedule

import (
	"time"

	"beacon/pkg/notify"
)

// WithTTL wraps l so that each registration of the wrapper releases itself
// after d. The wrapper implements the cleanup-registration capability: the
// expiry timer is armed when the hub hands over the release handle, so no
// scheduler or hub support is needed.
//
// If l itself implements notify.CleanupRegistrar, the handle is forwarded
// to it as well.
func WithTTL[E comparable](l notify.Listener[E], d time.Duration) notify.Listener[E] {
	return &ttlListener[E]{inner: l, ttl: d}
}

type ttlListener[E comparable] struct {
	inner notify.Listener[E]
	ttl   time.Duration
}

func (t *ttlListener[E]) HandleEvent(event E, args []any) error {
	return t.inner.HandleEvent(event, args)
}

func (t *ttlListener[E]) RegisterCleanup(release func()) {
	// Release is idempotent, so a wrapper registered for several events
	// arms one independent timer per registration.
	time.AfterFunc(t.ttl, release)
	if cr, ok := t.inner.(notify.CleanupRegistrar); ok {
		cr.RegisterCleanup(release)
	}
}
