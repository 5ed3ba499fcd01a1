// Package handlers provides HTTP request handlers for the lazythumb API.
//
// It includes handlers for:
//   - Thumbnails, rendered from the cache or generated on demand
//   - Materialization status reads, daemon reports and download requests
//   - Server-sent event streams for item progress, completion and
//     directory listings
//   - Cache inspection and invalidation
//   - Health checks, version and Prometheus metrics
//
// Item paths are taken from the {path} route variable and are always
// relative to the configured root directory.
package handlers
