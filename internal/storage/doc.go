// Package storage persists job results so a restarted process can seed each
// job's last result, plus a compact run history.
//
// Drivers:
//   - "file": JSON snapshot + JSONL journal, no dependencies
//   - "sqlite": pure-Go SQLite (modernc.org/sqlite)
//   - "sqlite3": cgo SQLite (github.com/mattn/go-sqlite3), cgo builds only
package storage
