// Command lazyctl inspects and drives the lazythumb manifest from the
// command line.
//
// The sync daemon normally writes item status into the manifest; lazyctl
// can do the same by hand, which is useful for scripting, debugging and
// demonstrating live thumbnail updates.
//
// Usage:
//
//	lazyctl <command> [arguments]
//
// Commands:
//
//	report <path> <state> [progress]
//	        Record a status report. Progress within a download never
//	        moves backwards; a lower report is ignored.
//
//	status <path>
//	        Show the manifest status of an item. Untracked files that
//	        exist locally are shown as materialized.
//
//	requests
//	        List items the server asked to materialize.
//
//	stats   Count manifest items by state and show the last report time.
//
//	demo <path> [steps]
//	        Simulate a download: evict the item, report progress in steps
//	        and mark it materialized. Draws a progress bar on a terminal.
//
//	vacuum  Compact the manifest database.
//
// Environment:
//
//	DATA_DIR - Directory holding manifest.db (default: /data/state)
package main
