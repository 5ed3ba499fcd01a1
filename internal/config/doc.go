// Package config loads lazythumb's configuration and prints the startup
// report.
//
// Settings come from three layers applied in order: built-in defaults, an
// optional TOML or YAML file named by LAZYTHUMB_CONFIG, and environment
// variables. Environment variables always win, so a container can override
// a mounted file without editing it.
//
// Environment variables:
//
//	ROOT_DIR              directory tree served to clients (default /data/files)
//	CACHE_DIR             thumbnail disk tier parent (default /cache)
//	DATA_DIR              manifest database directory (default /data/state)
//	PORT                  HTTP port (default 8080)
//	METRICS_PORT          Prometheus port (default 9090)
//	METRICS_ENABLED       serve /metrics (default true)
//	PROVIDER              manifest | local | xattr (default manifest)
//	NOTIFY_STRATEGY       query | polling (default query)
//	UPDATE_INTERVAL       default subscription interval (default 1s)
//	MEMORY_CACHE_ENTRIES  memory tier entry bound (default 512)
//	MEMORY_CACHE_BYTES    memory tier byte budget (default derived from the memory limit)
//	THUMBNAIL_SIZE        default thumbnail edge in pixels (default 256)
//	THUMBNAIL_QUALITY     low | medium | high (default high)
//	VIPS_ENABLED          use libvips for large images (default true)
//	INCLUDE_HIDDEN        list dot files in directory feeds (default false)
//	LOG_HEALTH_CHECKS     log /health requests (default false)
//	WARMUP_ON_START       pre-generate thumbnails for local items at startup (default false)
//	WARMUP_WORKERS        warm-up walker workers (default one per CPU)
//
// The build variables Version, Commit and BuildTime are injected with
// -ldflags at release time.
package config
