package handlers

import (
	"context"
	"errors"
	"net/http"

	"lazythumb/internal/warmup"

	"github.com/gorilla/mux"
)

// CacheStats describes both cache tiers.
type CacheStats struct {
	Dir           string `json:"dir"`
	DiskBytes     int64  `json:"diskBytes"`
	MemoryEntries int    `json:"memoryEntries"`
	MemoryBytes   int64  `json:"memoryBytes"`
}

// GetCacheStats reports disk usage and the memory tier's size.
func (h *Handlers) GetCacheStats(w http.ResponseWriter, _ *http.Request) {
	c := h.cache()
	disk, err := c.TotalSize()
	if err != nil {
		fail(w, "cache size", err)
		return
	}
	entries, bytes := c.MemoryStats()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, CacheStats{
		Dir:           c.Dir(),
		DiskBytes:     disk,
		MemoryEntries: entries,
		MemoryBytes:   bytes,
	})
}

// ClearCache empties both tiers.
func (h *Handlers) ClearCache(w http.ResponseWriter, _ *http.Request) {
	if err := h.cache().Clear(); err != nil {
		fail(w, "cache clear", err)
		return
	}
	writeJSONStatus(w, http.StatusOK, "cleared")
}

// InvalidateItem drops every cached size of one item. The item need not
// exist any more.
func (h *Handlers) InvalidateItem(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(mux.Vars(r)["path"], false)
	if err != nil {
		fail(w, "cache invalidate", err)
		return
	}
	h.cache().Invalidate(ref)
	writeJSONStatus(w, http.StatusOK, "invalidated")
}

// StartWarmup begins a background warm-up of the cache. It answers 409
// while a run is already in progress.
func (h *Handlers) StartWarmup(w http.ResponseWriter, _ *http.Request) {
	if h.warmer == nil {
		writeJSONError(w, "cache warm-up is not configured", http.StatusNotImplemented)
		return
	}
	// The run outlives the request; shutdown stops it.
	if err := h.warmer.Start(context.Background()); err != nil {
		if errors.Is(err, warmup.ErrRunning) {
			writeJSONError(w, err.Error(), http.StatusConflict)
			return
		}
		fail(w, "cache warm-up", err)
		return
	}
	writeJSONCode(w, http.StatusAccepted, h.warmer.Stats())
}

// GetWarmup reports the progress of the current or last warm-up.
func (h *Handlers) GetWarmup(w http.ResponseWriter, _ *http.Request) {
	if h.warmer == nil {
		writeJSONError(w, "cache warm-up is not configured", http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, h.warmer.Stats())
}
