package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lazythumb/internal/item"
	"lazythumb/internal/provider"

	"github.com/gorilla/mux"
)

// StatusResponse is the materialization status of one item.
type StatusResponse struct {
	Path     string         `json:"path"`
	Kind     item.Kind      `json:"kind"`
	Media    item.MediaKind `json:"media"`
	State    string         `json:"state"`
	Progress float64        `json:"progress"`
}

func (h *Handlers) statusResponse(ref item.Ref, st item.Status) StatusResponse {
	return StatusResponse{
		Path:     h.relative(ref.Path),
		Kind:     ref.Kind,
		Media:    item.Classify(ref),
		State:    st.State.String(),
		Progress: st.Progress,
	}
}

// GetStatus returns the current status of an item.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(mux.Vars(r)["path"], true)
	if err != nil {
		fail(w, "status", err)
		return
	}

	st, err := provider.StatusOf(r.Context(), h.source(), ref)
	if err != nil {
		fail(w, "status", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, h.statusResponse(ref, st))
}

// ReportRequest is the body of a status report from the sync daemon.
type ReportRequest struct {
	State    string  `json:"state"`
	Progress float64 `json:"progress"`
}

// ReportStatus records a status report. Only sources that keep a manifest
// accept reports; the rest answer 501.
func (h *Handlers) ReportStatus(w http.ResponseWriter, r *http.Request) {
	rep, ok := h.source().(reporter)
	if !ok {
		writeJSONError(w, "status source does not accept reports", http.StatusNotImplemented)
		return
	}

	ref, err := h.resolve(mux.Vars(r)["path"], false)
	if err != nil {
		fail(w, "report", err)
		return
	}
	if ref.IsDir() {
		writeJSONError(w, "directories are always materialized", http.StatusBadRequest)
		return
	}

	var req ReportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSONError(w, fmt.Sprintf("invalid report: %v", err), http.StatusBadRequest)
		return
	}
	state, ok := item.ParseState(req.State)
	if !ok {
		writeJSONError(w, fmt.Sprintf("unknown state %q", req.State), http.StatusBadRequest)
		return
	}

	status := item.Status{State: state, Progress: req.Progress}.Normalize()
	written, err := rep.Report(r.Context(), ref, status)
	if err != nil {
		fail(w, "report", err)
		return
	}

	resp := struct {
		StatusResponse
		Written bool `json:"written"`
	}{h.statusResponse(ref, status), written}
	writeJSONCode(w, http.StatusOK, resp)
}

// Materialize asks the provider to download an item. Items already local
// answer 200; accepted requests answer 202.
func (h *Handlers) Materialize(w http.ResponseWriter, r *http.Request) {
	ref, err := h.resolve(mux.Vars(r)["path"], true)
	if err != nil {
		fail(w, "materialize", err)
		return
	}

	st, err := provider.StatusOf(r.Context(), h.source(), ref)
	if err != nil {
		fail(w, "materialize", err)
		return
	}
	if st.IsMaterialized() {
		writeJSONCode(w, http.StatusOK, h.statusResponse(ref, st))
		return
	}

	if err := h.source().BeginMaterializing(r.Context(), ref); err != nil {
		fail(w, "materialize", err)
		return
	}
	log.Info("materialization requested for %s", ref.Path)
	writeJSONCode(w, http.StatusAccepted, h.statusResponse(ref, st))
}

// RequestEntry is one item waiting for the sync daemon.
type RequestEntry struct {
	StatusResponse
	UpdatedAt time.Time `json:"updatedAt"`
}

// ListRequests returns items that were asked to materialize and are not
// yet local.
func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, "no manifest database configured", http.StatusNotImplemented)
		return
	}

	entries, err := h.db.Requests(r.Context())
	if err != nil {
		fail(w, "requests", err)
		return
	}

	out := make([]RequestEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, RequestEntry{
			StatusResponse: h.statusResponse(e.Ref(), e.Status),
			UpdatedAt:      e.UpdatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, out)
}

// ManifestStats summarizes the manifest.
type ManifestStats struct {
	Counts     map[string]int `json:"counts"`
	LastReport *time.Time     `json:"lastReport,omitempty"`
}

// GetManifestStats returns entry counts by state and the time of the last
// daemon report.
func (h *Handlers) GetManifestStats(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		writeJSONError(w, "no manifest database configured", http.StatusNotImplemented)
		return
	}

	counts, err := h.db.CountByState(r.Context())
	if err != nil {
		fail(w, "manifest stats", err)
		return
	}
	stats := ManifestStats{Counts: counts}

	last, err := h.db.LastReport(r.Context())
	if err != nil {
		fail(w, "manifest stats", err)
		return
	}
	if !last.IsZero() {
		stats.LastReport = &last
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, stats)
}
