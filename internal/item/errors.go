package item

import "errors"

// Error taxonomy. Components wrap these with fmt.Errorf("...: %w", err) so
// callers can test with errors.Is.
var (
	// ErrProviderUnavailable means the status source could not be reached.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrItemNotFound means the provider or filesystem has no such item.
	ErrItemNotFound = errors.New("item not found")
	// ErrDecodeFailed means image bytes could not be decoded.
	ErrDecodeFailed = errors.New("decode failed")
	// ErrMaterializationFailed means the provider gave up downloading the item.
	ErrMaterializationFailed = errors.New("materialization failed")
	// ErrCacheIO means a persistent cache read or write failed.
	ErrCacheIO = errors.New("cache io failed")
)

// ErrorKind returns a short label for err's taxonomy class, used for metric
// labels and HTTP error bodies. Errors outside the taxonomy map to "other".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrItemNotFound):
		return "item_not_found"
	case errors.Is(err, ErrDecodeFailed):
		return "decode_failed"
	case errors.Is(err, ErrMaterializationFailed):
		return "materialization_failed"
	case errors.Is(err, ErrCacheIO):
		return "cache_io_failed"
	default:
		return "other"
	}
}
