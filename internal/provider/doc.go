// Package provider answers "are this item's bytes local?" for the storage
// provider behind the browsed tree.
//
// Four sources are available: the SQLite manifest written by a sync daemon,
// extended attributes exposed by a FUSE provider, plain local storage, and
// an in-memory source for tests and demos. Sources with native change
// notification also implement Watcher.
package provider
