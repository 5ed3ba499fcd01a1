package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"lazythumb/internal/item"
	"lazythumb/internal/thumbnail"

	"github.com/gorilla/mux"
)

// maxThumbnailSize bounds the requested edge length.
const maxThumbnailSize = 2048

// GetThumbnail renders the thumbnail for an item as PNG. Items whose bytes
// are not local get the pending icon, which must not be cached by clients.
func (h *Handlers) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(mux.Vars(r)["path"], true)
	if err != nil {
		fail(w, "thumbnail", err)
		return
	}

	size, err := h.requestedSize(r)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	var res thumbnail.Result
	if r.URL.Query().Get("refresh") == "true" {
		res = h.gen.Refresh(r.Context(), ref, size)
	} else {
		res = h.gen.Generate(r.Context(), ref, size)
	}

	var buf bytes.Buffer
	if err := h.codec.Encode(&buf, res.Image); err != nil {
		fail(w, "thumbnail encode", err)
		return
	}

	log.Debug("thumbnail %s %s: %s", ref.Path, size, res.Origin)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.Header().Set("X-Thumbnail-Origin", string(res.Origin))
	if transient(res) {
		w.Header().Set("Cache-Control", "no-store")
	} else {
		w.Header().Set("Cache-Control", "private, max-age=60")
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Debug("thumbnail write for %s: %v", ref.Path, err)
	}
}

// transient reports whether the image stands in for content that is not
// available yet.
func transient(res thumbnail.Result) bool {
	return res.Origin == thumbnail.OriginPending || (res.Origin == thumbnail.OriginIcon && !res.Cached)
}

// requestedSize reads w and h. A lone dimension gives a square; none gives
// the configured default.
func (h *Handlers) requestedSize(r *http.Request) (item.Size, error) {
	width, err := dimension(r, "w")
	if err != nil {
		return item.Size{}, err
	}
	height, err := dimension(r, "h")
	if err != nil {
		return item.Size{}, err
	}

	switch {
	case width == 0 && height == 0:
		return item.Square(h.size), nil
	case width == 0:
		width = height
	case height == 0:
		height = width
	}
	return item.Size{Width: width, Height: height}, nil
}

func dimension(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return min(v, maxThumbnailSize), nil
}
