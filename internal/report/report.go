// Package report provides Reporter implementations for the notification
// hub: structured logging, persistent journaling, metrics, throttling, and
// fan-out composition.
package report

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"beacon/internal/journal"
	"beacon/pkg/logx"
	"beacon/pkg/notify"
)

// Logged returns a reporter that logs each listener failure.
func Logged[E comparable](log logx.Logger) notify.Reporter[E] {
	return func(event E, l notify.Listener[E], lerr *notify.ListenerError) {
		log.Error("listener failed",
			logx.Any("event", event),
			logx.String("listener", lerr.Listener),
			logx.Err(lerr.Err),
			logx.Stack(lerr.Stack),
		)
	}
}

// Journaled returns a reporter that appends each failure to st.
// Append errors are logged and otherwise ignored; reporting is best-effort.
func Journaled[E comparable](st journal.Store, log logx.Logger) notify.Reporter[E] {
	return func(event E, l notify.Listener[E], lerr *notify.ListenerError) {
		if st == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		defer cancel()
		err := st.Append(ctx, journal.Entry{
			At:       time.Now(),
			Event:    fmt.Sprint(event),
			Listener: lerr.Listener,
			Error:    lerr.Err.Error(),
			Stack:    lerr.Stack,
		})
		if err != nil {
			log.Debug("journal append failed", logx.Err(err))
		}
	}
}

// Counted returns a reporter that increments c for each failure.
func Counted[E comparable](c prometheus.Counter) notify.Reporter[E] {
	return func(E, notify.Listener[E], *notify.ListenerError) {
		c.Inc()
	}
}

// Limited wraps next with a token bucket of perSec reports per second.
// Excess reports are dropped: a chronically failing listener must not
// flood the log or the journal. perSec <= 0 disables throttling.
func Limited[E comparable](perSec int, next notify.Reporter[E]) notify.Reporter[E] {
	if perSec <= 0 {
		return next
	}
	lim := rate.NewLimiter(rate.Limit(perSec), perSec)
	return func(event E, l notify.Listener[E], lerr *notify.ListenerError) {
		if !lim.Allow() {
			return
		}
		next(event, l, lerr)
	}
}

// Fanout returns a reporter that forwards each failure to every reporter
// in rs, in order. Nil entries are skipped.
func Fanout[E comparable](rs ...notify.Reporter[E]) notify.Reporter[E] {
	return func(event E, l notify.Listener[E], lerr *notify.ListenerError) {
		for _, r := range rs {
			if r != nil {
				r(event, l, lerr)
			}
		}
	}
}
