// Package schedule drives time-based event emission through the hub.
//
// Two pieces:
//   - Service: named cron/interval specs that publish an event each time
//     they fire ("emitters").
//   - WithTTL: a listener wrapper that uses the hub's cleanup-registration
//     capability to release its own registration after a fixed duration.
//
// Supported schedule formats (robfig/cron, seconds field optional):
//   - Cron: "*/5 * * * *", "55 * * * *", "@hourly"
//   - Interval: "@every 55m", "@every 2h30m"
package schedule
