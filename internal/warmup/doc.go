// Package warmup pre-generates thumbnails for items whose bytes are
// already local.
//
// A Warmer walks the root tree with a pool of workers and asks the
// thumbnail generator for every file with a known media extension. The
// generator consults the status source first, so items that are not
// materialized come back as pending placeholders and are counted as
// skipped. A warm-up never starts a download.
//
// Only one run is active at a time. Start runs in the background and Run
// blocks; both return ErrRunning while another run is in progress.
package warmup
