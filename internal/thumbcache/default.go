package thumbcache

import (
	"os"
	"path/filepath"
	"sync"
)

var (
	defaultOnce  sync.Once
	defaultCache *Cache
	defaultErr   error
	defaultOpts  *Options
	defaultMu    sync.Mutex
)

// SetDefaultOptions configures the process-wide cache. It only has an
// effect before the first call to Default.
func SetDefaultOptions(opts Options) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOpts = &opts
}

// Default returns the process-wide cache, creating it on first use from the
// options given to SetDefaultOptions, or under the user cache directory.
// Components should accept an injected *Cache and fall back to this.
func Default() (*Cache, error) {
	defaultOnce.Do(func() {
		defaultMu.Lock()
		opts := defaultOpts
		defaultMu.Unlock()

		if opts == nil {
			base, err := os.UserCacheDir()
			if err != nil {
				base = os.TempDir()
			}
			opts = &Options{Dir: filepath.Join(base, "lazythumb", "thumbnails")}
		}
		defaultCache, defaultErr = New(*opts)
	})
	return defaultCache, defaultErr
}
