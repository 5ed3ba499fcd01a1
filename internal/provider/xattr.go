package provider

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"

	"golang.org/x/sys/unix"
)

// Extended attributes a FUSE-backed provider exposes on each placeholder.
const (
	XattrState    = "user.lazythumb.state"
	XattrProgress = "user.lazythumb.progress"
	XattrRequest  = "user.lazythumb.request"
)

// XattrSource reads provider state from extended attributes on the file
// itself. Files without the attributes, or on filesystems without xattr
// support, are treated as ordinary local files.
type XattrSource struct {
	retry filesystem.RetryConfig
}

// NewXattrSource returns an XattrSource.
func NewXattrSource(retry filesystem.RetryConfig) *XattrSource {
	return &XattrSource{retry: retry}
}

// CurrentStatus reads the state and progress attributes of ref.
func (s *XattrSource) CurrentStatus(ctx context.Context, ref item.Ref) (st item.Status, err error) {
	defer func() { observe("xattr", "status", err) }()

	if err := ctx.Err(); err != nil {
		return item.Status{}, err
	}

	raw, err := getxattr(ref.Path, XattrState)
	if err != nil {
		if noXattr(err) {
			return localStatus(ref, s.retry)
		}
		return item.Status{}, xattrError(ref, err)
	}

	state, ok := item.ParseState(strings.TrimSpace(raw))
	if !ok {
		return item.Status{}, fmt.Errorf("%s: unknown state %q: %w", ref.Path, raw, item.ErrProviderUnavailable)
	}

	switch state {
	case item.Materialized:
		return item.MaterializedStatus(), nil
	case item.NotMaterialized:
		return item.NotMaterializedStatus(), nil
	}

	progress := 0.0
	if p, err := getxattr(ref.Path, XattrProgress); err == nil {
		if v, perr := strconv.ParseFloat(strings.TrimSpace(p), 64); perr == nil {
			progress = v
		}
	}
	return item.MaterializingStatus(progress), nil
}

// BeginMaterializing sets the request attribute, which the provider's
// filesystem interprets as a fetch request.
func (s *XattrSource) BeginMaterializing(ctx context.Context, ref item.Ref) (err error) {
	defer func() { observe("xattr", "begin", err) }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := unix.Setxattr(ref.Path, XattrRequest, []byte("1"), 0); err != nil {
		if noXattr(err) {
			_, err = localStatus(ref, s.retry)
			return err
		}
		return xattrError(ref, err)
	}
	return nil
}

func getxattr(path, name string) (string, error) {
	buf := make([]byte, 64)
	for {
		n, err := unix.Getxattr(path, name, buf)
		if errors.Is(err, unix.ERANGE) && len(buf) < 1<<16 {
			buf = make([]byte, len(buf)*4)
			continue
		}
		if err != nil {
			return "", err
		}
		return string(buf[:n]), nil
	}
}

// noXattr reports errors meaning "this file carries no provider state".
func noXattr(err error) bool {
	return errors.Is(err, unix.ENODATA) || errors.Is(err, unix.ENOTSUP) || errors.Is(err, unix.EOPNOTSUPP)
}

func xattrError(ref item.Ref, err error) error {
	if errors.Is(err, unix.ENOENT) {
		return fmt.Errorf("%s: %w", ref.Path, item.ErrItemNotFound)
	}
	return fmt.Errorf("xattr %s: %w: %w", ref.Path, item.ErrProviderUnavailable, err)
}
