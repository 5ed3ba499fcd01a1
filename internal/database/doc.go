// Package database stores the materialization manifest in SQLite.
//
// A sync daemon records each provider item's state and progress in the
// items table; lazythumb reads it to decide whether bytes are local and
// records materialization requests for the daemon to pick up. Every write
// bumps the row's seq column through a trigger, so a change feed can follow
// writes made by any process sharing the file. Changes are fanned out to
// watchers by path and by parent directory, which backs the manifest
// provider's change notifications, and to OnChange hooks.
//
// The database uses WAL mode so the daemon and readers can share it.
package database
