// Package middleware provides HTTP middleware for the lazythumb API.
//
// It includes:
//   - Request logging in W3C Extended Log Format
//   - Prometheus request metrics labelled by route template
//   - gzip compression of JSON responses
//
// Every response writer wrapper exposes Unwrap, so handlers can flush
// event streams through the whole chain with http.ResponseController.
package middleware
