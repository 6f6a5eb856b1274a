// Package telegram forwards dispatched events to a Telegram chat.
//
// The sink implements the listener interface of pkg/notify and exposes
// RegisterCleanup, so hubs that honor the cleanup capability hand it the
// release handles for its registrations. Close invokes every collected
// handle, detaching the sink from all hubs it was registered on.
package telegram
