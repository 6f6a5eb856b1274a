package journal

// Package journal persists listener failures for operator debugging.
//
// It currently supports:
//   - A dependency-free file backend (append-only JSON Lines with compaction)
//   - An optional SQLite backend (build with -tags sqlite)
