// Package main provides the entry point for the lazythumb server.
//
// lazythumb serves thumbnails and materialization status for a directory
// tree whose files may be cloud placeholders. Items whose bytes are not
// local get a pending icon; clients subscribe to progress and directory
// streams and swap in the real thumbnail once the download completes.
//
// # Application Lifecycle
//
//  1. Memory Configuration: Sets GOMEMLIMIT from environment or cgroup limits
//  2. Configuration Loading: Defaults, optional TOML/YAML file, environment
//  3. Codec Initialization: Starts libvips when enabled
//  4. Manifest Database: Opens the SQLite manifest the sync daemon reports to
//  5. Component Initialization:
//     - Status source chosen by PROVIDER (manifest, local, xattr)
//     - Two-tier thumbnail cache bounded by the memory budget
//     - Memory monitor that trims the cache and pauses decoding
//     - Thumbnail generator and change notification engine
//     - Metrics collector
//  6. HTTP Server Setup: Routes, middleware, and the metrics server
//  7. Graceful Shutdown: Handles SIGINT/SIGTERM
//
// # HTTP Server
//
// The application runs two HTTP servers:
//
//  1. Main Server (default port 8080):
//     - Thumbnails, status reads and reports, materialization requests
//     - Server-sent event streams for progress, completion and directories
//     - Cache inspection and invalidation
//     - Health and readiness probes
//
//  2. Metrics Server (default port 9090, optional):
//     - Prometheus metrics endpoint (/metrics)
//     - Health check endpoint (/health)
//
// # Graceful Shutdown
//
//  1. Close all subscriptions, ending open event streams
//  2. Shutdown main HTTP server (30s timeout)
//  3. Shutdown metrics server
//  4. Stop metrics collector and memory monitor
//  5. Close the manifest database
//  6. Shut down libvips
//
// # Build Requirements
//
// The application requires CGO for SQLite and libvips, and FFmpeg on PATH
// for video frames:
//
//	go build -o lazythumb ./cmd/lazythumb
//
// # Related Packages
//
//   - [lazythumb/internal/config]: Configuration and startup reporting
//   - [lazythumb/internal/handlers]: HTTP request handlers
//   - [lazythumb/internal/notify]: Change notification engine
//   - [lazythumb/internal/thumbnail]: Thumbnail generation and icons
//   - [lazythumb/internal/thumbcache]: Two-tier thumbnail cache
//   - [lazythumb/internal/provider]: Materialization status sources
package main
