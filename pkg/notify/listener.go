package notify

// Listener receives events dispatched by a Hub.
//
// Hub membership is by listener identity (the interface value), not by
// value: registering the same listener twice for the same event is a no-op
// the second time. Listeners are typically pointers; a listener whose
// dynamic type is not comparable must not be registered.
type Listener[E comparable] interface {
	HandleEvent(event E, args []any) error
}

// CleanupRegistrar is the optional cleanup-registration capability.
//
// If a listener implements it, Register hands the listener its own release
// handle synchronously, exactly once per successful (non-duplicate)
// registration. The listener may invoke the handle immediately, later from
// a timer, or never. Errors inside RegisterCleanup are the listener's own
// responsibility.
type CleanupRegistrar interface {
	RegisterCleanup(release func())
}

// ReleaseFunc removes exactly one registration. The first call takes
// effect; every subsequent call is a no-op. Safe to invoke from inside a
// dispatch in progress.
type ReleaseFunc func()

// Func adapts a plain function into a Listener.
//
// Each call returns a listener with a fresh identity: registering the
// results of two separate Func calls adds two registrations even when fn is
// the same function. Hold on to the returned value if you need to
// Unregister it later.
func Func[E comparable](fn func(event E, args []any) error) Listener[E] {
	return &funcListener[E]{fn: fn}
}

type funcListener[E comparable] struct {
	fn func(E, []any) error
}

func (l *funcListener[E]) HandleEvent(event E, args []any) error {
	return l.fn(event, args)
}
