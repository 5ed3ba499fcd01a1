package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"lazythumb/internal/logging"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in PROVIDER.
const (
	ProviderManifest = "manifest"
	ProviderLocal    = "local"
	ProviderXattr    = "xattr"
)

// Config holds all application configuration.
type Config struct {
	RootDir            string        `toml:"root_dir" yaml:"root_dir"`
	CacheDir           string        `toml:"cache_dir" yaml:"cache_dir"`
	DataDir            string        `toml:"data_dir" yaml:"data_dir"`
	Port               string        `toml:"port" yaml:"port"`
	MetricsPort        string        `toml:"metrics_port" yaml:"metrics_port"`
	MetricsEnabled     bool          `toml:"metrics_enabled" yaml:"metrics_enabled"`
	Provider           string        `toml:"provider" yaml:"provider"`
	NotifyStrategy     string        `toml:"notify_strategy" yaml:"notify_strategy"`
	UpdateInterval     time.Duration `toml:"update_interval" yaml:"update_interval"`
	MemoryCacheEntries int           `toml:"memory_cache_entries" yaml:"memory_cache_entries"`
	MemoryCacheBytes   int64         `toml:"memory_cache_bytes" yaml:"memory_cache_bytes"`
	ThumbnailSize      int           `toml:"thumbnail_size" yaml:"thumbnail_size"`
	ThumbnailQuality   string        `toml:"thumbnail_quality" yaml:"thumbnail_quality"`
	VipsEnabled        bool          `toml:"vips_enabled" yaml:"vips_enabled"`
	IncludeHidden      bool          `toml:"include_hidden" yaml:"include_hidden"`
	LogHealthChecks    bool          `toml:"log_health_checks" yaml:"log_health_checks"`
	WarmupOnStart      bool          `toml:"warmup_on_start" yaml:"warmup_on_start"`
	WarmupWorkers      int           `toml:"warmup_workers" yaml:"warmup_workers"`

	// Derived paths
	DatabasePath string `toml:"-" yaml:"-"`
	ThumbnailDir string `toml:"-" yaml:"-"`

	// File is the config file that was applied, if any.
	File string `toml:"-" yaml:"-"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		RootDir:            "/data/files",
		CacheDir:           "/cache",
		DataDir:            "/data/state",
		Port:               "8080",
		MetricsPort:        "9090",
		MetricsEnabled:     true,
		Provider:           ProviderManifest,
		NotifyStrategy:     "query",
		UpdateInterval:     time.Second,
		MemoryCacheEntries: 512,
		ThumbnailSize:      256,
		ThumbnailQuality:   "high",
		VipsEnabled:        true,
	}
}

// LoadConfig builds the configuration from defaults, the optional file
// named by LAZYTHUMB_CONFIG and the environment, validates it, prepares the
// directories it names and logs the result.
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	cfg := Default()
	if path := os.Getenv("LAZYTHUMB_CONFIG"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.logSettings()

	if err := cfg.Prepare(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile applies the settings in path over c. Files ending in .yaml or
// .yml are read as YAML, everything else as TOML. Keys the file leaves out
// keep their current value; unknown keys are an error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode YAML %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), c)
		if err != nil {
			return fmt.Errorf("decode TOML %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return fmt.Errorf("decode TOML %s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	c.File = path
	return nil
}

// ApplyEnv overrides c with any settings present in the environment.
func (c *Config) ApplyEnv() {
	c.RootDir = getEnv("ROOT_DIR", c.RootDir)
	c.CacheDir = getEnv("CACHE_DIR", c.CacheDir)
	c.DataDir = getEnv("DATA_DIR", c.DataDir)
	c.Port = getEnv("PORT", c.Port)
	c.MetricsPort = getEnv("METRICS_PORT", c.MetricsPort)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.Provider = getEnv("PROVIDER", c.Provider)
	c.NotifyStrategy = getEnv("NOTIFY_STRATEGY", c.NotifyStrategy)
	c.UpdateInterval = getEnvDuration("UPDATE_INTERVAL", c.UpdateInterval)
	c.MemoryCacheEntries = int(getEnvInt("MEMORY_CACHE_ENTRIES", int64(c.MemoryCacheEntries)))
	c.MemoryCacheBytes = getEnvInt("MEMORY_CACHE_BYTES", c.MemoryCacheBytes)
	c.ThumbnailSize = int(getEnvInt("THUMBNAIL_SIZE", int64(c.ThumbnailSize)))
	c.ThumbnailQuality = getEnv("THUMBNAIL_QUALITY", c.ThumbnailQuality)
	c.VipsEnabled = getEnvBool("VIPS_ENABLED", c.VipsEnabled)
	c.IncludeHidden = getEnvBool("INCLUDE_HIDDEN", c.IncludeHidden)
	c.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", c.LogHealthChecks)
	c.WarmupOnStart = getEnvBool("WARMUP_ON_START", c.WarmupOnStart)
	c.WarmupWorkers = int(getEnvInt("WARMUP_WORKERS", int64(c.WarmupWorkers)))
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderManifest, ProviderLocal, ProviderXattr:
	default:
		errs = append(errs, fmt.Errorf("provider %q: want manifest, local or xattr", c.Provider))
	}
	switch c.NotifyStrategy {
	case "query", "polling":
	default:
		errs = append(errs, fmt.Errorf("notify_strategy %q: want query or polling", c.NotifyStrategy))
	}
	switch c.ThumbnailQuality {
	case "low", "medium", "high":
	default:
		errs = append(errs, fmt.Errorf("thumbnail_quality %q: want low, medium or high", c.ThumbnailQuality))
	}
	if c.UpdateInterval <= 0 {
		errs = append(errs, fmt.Errorf("update_interval %v: must be positive", c.UpdateInterval))
	}
	if c.MemoryCacheEntries < 0 {
		errs = append(errs, errors.New("memory_cache_entries: must not be negative"))
	}
	if c.MemoryCacheBytes < 0 {
		errs = append(errs, errors.New("memory_cache_bytes: must not be negative"))
	}
	if c.WarmupWorkers < 0 {
		errs = append(errs, errors.New("warmup_workers: must not be negative"))
	}
	if c.ThumbnailSize <= 0 || c.ThumbnailSize > 4096 {
		errs = append(errs, fmt.Errorf("thumbnail_size %d: want 1..4096", c.ThumbnailSize))
	}
	for name, port := range map[string]string{"port": c.Port, "metrics_port": c.MetricsPort} {
		if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
			errs = append(errs, fmt.Errorf("%s %q: not a valid port", name, port))
		}
	}
	if c.RootDir == "" || c.CacheDir == "" || c.DataDir == "" {
		errs = append(errs, errors.New("root_dir, cache_dir and data_dir are required"))
	}

	return errors.Join(errs...)
}

// Prepare resolves directories to absolute paths, creates the ones the
// service writes to and fills in the derived paths.
func (c *Config) Prepare() error {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	for _, dir := range []*string{&c.RootDir, &c.CacheDir, &c.DataDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return fmt.Errorf("failed to resolve %s: %w", *dir, err)
		}
		*dir = abs
	}
	logging.Info("  Root directory (absolute):  %s", c.RootDir)
	logging.Info("  Cache directory (absolute): %s", c.CacheDir)
	logging.Info("  Data directory (absolute):  %s", c.DataDir)

	// The root only needs to be readable; missing is a warning.
	if err := ensureDirectory(c.RootDir, "root"); err != nil {
		logging.Warn("  Root directory issue: %v", err)
	}

	c.DatabasePath = filepath.Join(c.DataDir, "manifest.db")
	c.ThumbnailDir = filepath.Join(c.CacheDir, "thumbnails")

	if err := ensureDirectory(c.DataDir, "data"); err != nil {
		return fmt.Errorf("data directory error: %w", err)
	}
	if err := testWriteAccess(c.DataDir); err != nil {
		return fmt.Errorf("data directory is not writable (required for the manifest): %w", err)
	}
	logging.Info("  [OK] Data directory is writable")

	if err := ensureDirectory(c.ThumbnailDir, "thumbnail"); err != nil {
		return fmt.Errorf("thumbnail directory error: %w", err)
	}
	if err := testWriteAccess(c.ThumbnailDir); err != nil {
		return fmt.Errorf("thumbnail directory is not writable: %w", err)
	}
	logging.Info("  [OK] Thumbnail directory is writable")
	return nil
}

func (c *Config) logSettings() {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if c.File != "" {
		logging.Info("  Config file:           %s", c.File)
	}
	logging.Info("  ROOT_DIR:              %s", c.RootDir)
	logging.Info("  CACHE_DIR:             %s", c.CacheDir)
	logging.Info("  DATA_DIR:              %s", c.DataDir)
	logging.Info("  PORT:                  %s", c.Port)
	logging.Info("  METRICS_PORT:          %s", c.MetricsPort)
	logging.Info("  METRICS_ENABLED:       %v", c.MetricsEnabled)
	logging.Info("  PROVIDER:              %s", c.Provider)
	logging.Info("  NOTIFY_STRATEGY:       %s", c.NotifyStrategy)
	logging.Info("  UPDATE_INTERVAL:       %v", c.UpdateInterval)
	logging.Info("  MEMORY_CACHE_ENTRIES:  %d", c.MemoryCacheEntries)
	if c.MemoryCacheBytes > 0 {
		logging.Info("  MEMORY_CACHE_BYTES:    %d", c.MemoryCacheBytes)
	} else {
		logging.Info("  MEMORY_CACHE_BYTES:    (derived from memory limit)")
	}
	logging.Info("  THUMBNAIL_SIZE:        %d", c.ThumbnailSize)
	logging.Info("  THUMBNAIL_QUALITY:     %s", c.ThumbnailQuality)
	logging.Info("  VIPS_ENABLED:          %v", c.VipsEnabled)
	logging.Info("  INCLUDE_HIDDEN:        %v", c.IncludeHidden)
	logging.Info("  LOG_HEALTH_CHECKS:     %v", c.LogHealthChecks)
	logging.Info("  WARMUP_ON_START:       %v", c.WarmupOnStart)
	if c.WarmupWorkers > 0 {
		logging.Info("  WARMUP_WORKERS:        %d", c.WarmupWorkers)
	} else {
		logging.Info("  WARMUP_WORKERS:        (one per CPU)")
	}
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int64) int64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
