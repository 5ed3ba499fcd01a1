package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lazythumb/internal/codec"
	"lazythumb/internal/database"
	"lazythumb/internal/filesystem"
	"lazythumb/internal/item"
	"lazythumb/internal/notify"
	"lazythumb/internal/provider"
	"lazythumb/internal/thumbcache"
	"lazythumb/internal/thumbnail"
	"lazythumb/internal/warmup"

	"github.com/disintegration/imaging"
	"github.com/gorilla/mux"
)

const waitFor = 5 * time.Second

type fixture struct {
	h      *Handlers
	router *mux.Router
	root   string
	engine *notify.Engine
	cache  *thumbcache.Cache
}

// newFixture wires real components over src. db may be nil.
func newFixture(t *testing.T, src provider.Source, db *database.Database) *fixture {
	t.Helper()
	root := t.TempDir()
	c := codec.New(codec.DefaultOptions())

	cache, err := thumbcache.New(thumbcache.Options{Dir: t.TempDir(), Codec: c})
	if err != nil {
		t.Fatal(err)
	}
	gen, err := thumbnail.New(thumbnail.Options{Source: src, Cache: cache, Codec: c, Quality: codec.QualityHigh, Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	engine := notify.New(src, notify.Options{Strategy: notify.StrategyPolling, DefaultInterval: 20 * time.Millisecond})
	t.Cleanup(engine.Close)
	warmer, err := warmup.New(warmup.Options{Generator: gen, Root: root, Size: item.Square(64), Workers: 2})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(warmer.Stop)

	h, err := New(Options{
		Generator:     gen,
		Engine:        engine,
		Codec:         c,
		Database:      db,
		Warmer:        warmer,
		RootDir:       root,
		ThumbnailSize: 64,
		KeepAlive:     50 * time.Millisecond,
		Retry:         filesystem.DefaultRetryConfig(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{h: h, router: testRouter(h), root: root, engine: engine, cache: cache}
}

func newMemoryFixture(t *testing.T) (*fixture, *provider.MemorySource) {
	t.Helper()
	src := provider.NewMemorySource()
	return newFixture(t, src, nil), src
}

func newManifestFixture(t *testing.T) (*fixture, *database.Database) {
	t.Helper()
	db, err := database.New(context.Background(), filepath.Join(t.TempDir(), "manifest.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return newFixture(t, provider.NewManifestSource(db, filesystem.DefaultRetryConfig()), db), db
}

func testRouter(h *Handlers) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/version", h.GetVersion).Methods("GET")
	api.HandleFunc("/thumbnail/{path:.*}", h.GetThumbnail).Methods("GET")
	api.HandleFunc("/status/{path:.*}", h.GetStatus).Methods("GET")
	api.HandleFunc("/status/{path:.*}", h.ReportStatus).Methods("PUT")
	api.HandleFunc("/materialize/{path:.*}", h.Materialize).Methods("POST")
	api.HandleFunc("/events/item/{path:.*}", h.ItemEvents).Methods("GET")
	api.HandleFunc("/events/completion/{path:.*}", h.CompletionEvents).Methods("GET")
	api.HandleFunc("/events/directory/{path:.*}", h.DirectoryEvents).Methods("GET")
	api.HandleFunc("/requests", h.ListRequests).Methods("GET")
	api.HandleFunc("/manifest", h.GetManifestStats).Methods("GET")
	api.HandleFunc("/cache", h.GetCacheStats).Methods("GET")
	api.HandleFunc("/cache", h.ClearCache).Methods("DELETE")
	api.HandleFunc("/cache/item/{path:.*}", h.InvalidateItem).Methods("DELETE")
	api.HandleFunc("/cache/warm", h.GetWarmup).Methods("GET")
	api.HandleFunc("/cache/warm", h.StartWarmup).Methods("POST")
	return r
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, r)
	return rec
}

func (f *fixture) writeJPEG(t *testing.T, name string) item.Ref {
	t.Helper()
	img := imaging.New(120, 80, color.NRGBA{R: 0x20, G: 0x90, B: 0xD0, A: 0xFF})
	path := filepath.Join(f.root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := imaging.Save(img, path); err != nil {
		t.Fatal(err)
	}
	return item.NewFile(path)
}

// paintJPEG overwrites name with a solid image of c, as a fresh download
// would.
func (f *fixture) paintJPEG(t *testing.T, name string, c color.NRGBA) {
	t.Helper()
	if err := imaging.Save(imaging.New(120, 80, c), filepath.Join(f.root, name)); err != nil {
		t.Fatal(err)
	}
}

// centerColor decodes a PNG thumbnail response and returns its middle pixel.
func centerColor(t *testing.T, rec *httptest.ResponseRecorder) color.NRGBA {
	t.Helper()
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	b := img.Bounds()
	return color.NRGBAModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.NRGBA)
}

func (f *fixture) writeFile(t *testing.T, name, data string) item.Ref {
	t.Helper()
	path := filepath.Join(f.root, name)
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	return item.NewFile(path)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNewRequiresComponents(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("New() without generator and engine should fail")
	}
}

func TestResolve(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.writeFile(t, "a.txt", "x")
	if err := os.Mkdir(filepath.Join(f.root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		rel       string
		mustExist bool
		wantKind  item.Kind
		wantCode  int
	}{
		{"a.txt", true, item.KindFile, 0},
		{"sub", true, item.KindDirectory, 0},
		{"", true, item.KindDirectory, 0},
		{"gone.txt", false, item.KindFile, 0},
		{"gone.txt", true, "", http.StatusNotFound},
		{"../escape.txt", false, "", http.StatusBadRequest},
		{"sub/../../x", false, "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		ref, err := f.h.resolve(tt.rel, tt.mustExist)
		if tt.wantCode != 0 {
			if err == nil || statusCode(err) != tt.wantCode {
				t.Errorf("resolve(%q) err = %v, want status %d", tt.rel, err, tt.wantCode)
			}
			continue
		}
		if err != nil {
			t.Errorf("resolve(%q) error = %v", tt.rel, err)
			continue
		}
		if ref.Kind != tt.wantKind {
			t.Errorf("resolve(%q).Kind = %s, want %s", tt.rel, ref.Kind, tt.wantKind)
		}
		if got := f.h.relative(ref.Path); got != tt.rel {
			t.Errorf("relative(resolve(%q)) = %q", tt.rel, got)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{item.ErrItemNotFound, http.StatusNotFound},
		{item.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{errInvalidPath, http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{item.ErrCacheIO, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusCode(tt.err); got != tt.want {
			t.Errorf("statusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestGetThumbnail(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "photos/a.jpg")
	src.Set(ref, item.MaterializedStatus())

	rec := f.do(t, "GET", "/api/thumbnail/photos/a.jpg?w=60", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginGenerated) {
		t.Errorf("origin = %q, want generated", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/png" {
		t.Errorf("Content-Type = %q", got)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 60 || b.Dy() != 40 {
		t.Errorf("thumbnail bounds = %v, want 60x40", b)
	}

	rec = f.do(t, "GET", "/api/thumbnail/photos/a.jpg?w=60", "")
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginCache) {
		t.Errorf("second request origin = %q, want cache", got)
	}
	if rec.Header().Get("Cache-Control") == "no-store" {
		t.Error("cached thumbnail marked no-store")
	}

	rec = f.do(t, "GET", "/api/thumbnail/photos/a.jpg?w=60&refresh=true", "")
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginGenerated) {
		t.Errorf("refresh origin = %q, want generated", got)
	}
}

func TestGetThumbnailPending(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.NotMaterializedStatus())

	rec := f.do(t, "GET", "/api/thumbnail/a.jpg", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginPending) {
		t.Errorf("origin = %q, want pending", got)
	}
	if got := rec.Header().Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Errorf("pending icon bounds = %v, want the 64px default", b)
	}
}

func TestGetThumbnailErrors(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.writeJPEG(t, "a.jpg")

	tests := []struct {
		target string
		want   int
	}{
		{"/api/thumbnail/missing.jpg", http.StatusNotFound},
		{"/api/thumbnail/a.jpg?w=abc", http.StatusBadRequest},
		{"/api/thumbnail/a.jpg?h=-3", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec := f.do(t, "GET", tt.target, ""); rec.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.target, rec.Code, tt.want)
		}
	}
}

func TestRequestedSize(t *testing.T) {
	f, _ := newMemoryFixture(t)
	tests := []struct {
		query string
		want  item.Size
	}{
		{"", item.Square(64)},
		{"w=100", item.Square(100)},
		{"h=30", item.Square(30)},
		{"w=10&h=20", item.Size{Width: 10, Height: 20}},
		{"w=99999", item.Square(maxThumbnailSize)},
	}
	for _, tt := range tests {
		got, err := f.h.requestedSize(httptest.NewRequest("GET", "/?"+tt.query, nil))
		if err != nil {
			t.Errorf("requestedSize(%q) error = %v", tt.query, err)
			continue
		}
		if got != tt.want {
			t.Errorf("requestedSize(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestGetStatus(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeFile(t, "song.mp3", "x")
	src.Set(ref, item.MaterializingStatus(0.25))

	rec := f.do(t, "GET", "/api/status/song.mp3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[StatusResponse](t, rec)
	want := StatusResponse{Path: "song.mp3", Kind: item.KindFile, Media: item.MediaAudio, State: "materializing", Progress: 0.25}
	if got != want {
		t.Errorf("GetStatus = %+v, want %+v", got, want)
	}

	src.SetUnavailable(true)
	rec = f.do(t, "GET", "/api/status/song.mp3", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unavailable provider status = %d, want 503", rec.Code)
	}
	if body := decode[errorResponse](t, rec); body.Kind != "provider_unavailable" {
		t.Errorf("error kind = %q", body.Kind)
	}
}

func TestGetStatusDirectory(t *testing.T) {
	f, _ := newMemoryFixture(t)
	if err := os.Mkdir(filepath.Join(f.root, "albums"), 0o755); err != nil {
		t.Fatal(err)
	}

	got := decode[StatusResponse](t, f.do(t, "GET", "/api/status/albums", ""))
	if got.Kind != item.KindDirectory || got.State != "materialized" || got.Progress != 1 {
		t.Errorf("directory status = %+v", got)
	}
}

func TestMaterializeMemorySource(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeFile(t, "a.jpg", "x")
	src.Set(ref, item.NotMaterializedStatus())

	rec := f.do(t, "POST", "/api/materialize/a.jpg", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	if n := src.BeginCount(ref); n != 1 {
		t.Errorf("BeginCount = %d, want 1", n)
	}

	src.Set(ref, item.MaterializedStatus())
	if rec := f.do(t, "POST", "/api/materialize/a.jpg", ""); rec.Code != http.StatusOK {
		t.Errorf("materialized item status = %d, want 200", rec.Code)
	}
	if n := src.BeginCount(ref); n != 1 {
		t.Errorf("materialized item was requested again, BeginCount = %d", n)
	}

	if rec := f.do(t, "POST", "/api/materialize/nope.jpg", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing item status = %d, want 404", rec.Code)
	}
}

func TestReportRequiresManifest(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.writeFile(t, "a.jpg", "x")

	rec := f.do(t, "PUT", "/api/status/a.jpg", `{"state":"materialized"}`)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
	if rec := f.do(t, "GET", "/api/requests", ""); rec.Code != http.StatusNotImplemented {
		t.Errorf("requests without db = %d, want 501", rec.Code)
	}
}

func TestManifestReportAndRequests(t *testing.T) {
	f, _ := newManifestFixture(t)
	f.writeFile(t, "a.jpg", "x")
	f.writeFile(t, "b.jpg", "x")

	rec := f.do(t, "PUT", "/api/status/a.jpg", `{"state":"not_materialized"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("report = %d: %s", rec.Code, rec.Body.String())
	}

	if rec := f.do(t, "POST", "/api/materialize/a.jpg", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("materialize = %d, want 202", rec.Code)
	}
	// Untracked files are taken as local.
	if rec := f.do(t, "POST", "/api/materialize/b.jpg", ""); rec.Code != http.StatusOK {
		t.Errorf("untracked materialize = %d, want 200", rec.Code)
	}

	requests := decode[[]RequestEntry](t, f.do(t, "GET", "/api/requests", ""))
	if len(requests) != 1 || requests[0].Path != "a.jpg" {
		t.Fatalf("requests = %+v, want a.jpg only", requests)
	}

	f.do(t, "PUT", "/api/status/a.jpg", `{"state":"materializing","progress":0.5}`)
	rec = f.do(t, "PUT", "/api/status/a.jpg", `{"state":"materializing","progress":0.2}`)
	body := decode[struct {
		Written bool `json:"written"`
	}](t, rec)
	if body.Written {
		t.Error("backwards progress report was written")
	}
	if got := decode[StatusResponse](t, f.do(t, "GET", "/api/status/a.jpg", "")); got.Progress != 0.5 {
		t.Errorf("progress = %v, want 0.5", got.Progress)
	}

	f.do(t, "PUT", "/api/status/a.jpg", `{"state":"materialized"}`)
	if requests := decode[[]RequestEntry](t, f.do(t, "GET", "/api/requests", "")); len(requests) != 0 {
		t.Errorf("requests after completion = %+v", requests)
	}

	stats := decode[ManifestStats](t, f.do(t, "GET", "/api/manifest", ""))
	if stats.Counts["materialized"] != 1 || stats.LastReport == nil {
		t.Errorf("manifest stats = %+v", stats)
	}
}

func TestReportedDownloadReplacesCachedThumbnail(t *testing.T) {
	f, db := newManifestFixture(t)
	red := color.NRGBA{R: 0xFF, A: 0xFF}
	green := color.NRGBA{G: 0xFF, A: 0xFF}
	blue := color.NRGBA{B: 0xFF, A: 0xFF}

	f.paintJPEG(t, "swap.jpg", red)
	f.do(t, "PUT", "/api/status/swap.jpg", `{"state":"materialized"}`)
	rec := f.do(t, "GET", "/api/thumbnail/swap.jpg", "")
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginGenerated) {
		t.Fatalf("first origin = %q, want generated", got)
	}
	if c := centerColor(t, rec); c.R < 0xC0 || c.G > 0x40 {
		t.Fatalf("first thumbnail center = %v, want red", c)
	}
	if got := f.do(t, "GET", "/api/thumbnail/swap.jpg", "").Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginCache) {
		t.Fatalf("second origin = %q, want cache", got)
	}

	// Evicted, then downloaded again with different bytes.
	f.do(t, "PUT", "/api/status/swap.jpg", `{"state":"not_materialized"}`)
	f.paintJPEG(t, "swap.jpg", green)
	f.do(t, "PUT", "/api/status/swap.jpg", `{"state":"materialized"}`)

	rec = f.do(t, "GET", "/api/thumbnail/swap.jpg", "")
	if got := rec.Header().Get("X-Thumbnail-Origin"); got != string(thumbnail.OriginGenerated) {
		t.Fatalf("origin after re-download = %q, want generated", got)
	}
	if c := centerColor(t, rec); c.G < 0xC0 || c.R > 0x40 {
		t.Errorf("thumbnail center after re-download = %v, want green", c)
	}

	// The same cycle written by another process sharing the manifest.
	daemon, err := database.New(context.Background(), db.Path())
	if err != nil {
		t.Fatal(err)
	}
	defer daemon.Close()
	ref := item.NewFile(filepath.Join(f.root, "swap.jpg"))
	ctx := context.Background()
	if err := daemon.SetStatus(ctx, ref, item.NotMaterializedStatus()); err != nil {
		t.Fatal(err)
	}
	f.paintJPEG(t, "swap.jpg", blue)
	if err := daemon.SetStatus(ctx, ref, item.MaterializedStatus()); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(waitFor)
	for {
		rec = f.do(t, "GET", "/api/thumbnail/swap.jpg", "")
		if rec.Header().Get("X-Thumbnail-Origin") == string(thumbnail.OriginGenerated) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("thumbnail never regenerated after another process reported a download")
		}
		time.Sleep(20 * time.Millisecond)
	}
	if c := centerColor(t, rec); c.B < 0xC0 || c.G > 0x40 {
		t.Errorf("thumbnail center after external re-download = %v, want blue", c)
	}
}

func TestReportValidation(t *testing.T) {
	f, _ := newManifestFixture(t)
	f.writeFile(t, "a.jpg", "x")

	tests := []struct {
		name string
		body string
	}{
		{"unknown state", `{"state":"flying"}`},
		{"unknown field", `{"state":"materialized","extra":1}`},
		{"not json", `state=materialized`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := f.do(t, "PUT", "/api/status/a.jpg", tt.body); rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	if rec := f.do(t, "PUT", "/api/status/", `{"state":"materialized"}`); rec.Code != http.StatusBadRequest {
		t.Errorf("directory report = %d, want 400", rec.Code)
	}
}

func TestCacheEndpoints(t *testing.T) {
	f, src := newMemoryFixture(t)
	ref := f.writeJPEG(t, "a.jpg")
	src.Set(ref, item.MaterializedStatus())
	f.do(t, "GET", "/api/thumbnail/a.jpg", "")

	stats := decode[CacheStats](t, f.do(t, "GET", "/api/cache", ""))
	if stats.DiskBytes == 0 || stats.MemoryEntries != 1 || stats.MemoryBytes == 0 {
		t.Errorf("stats after one thumbnail = %+v", stats)
	}

	if rec := f.do(t, "DELETE", "/api/cache/item/a.jpg", ""); rec.Code != http.StatusOK {
		t.Fatalf("invalidate = %d", rec.Code)
	}
	if _, ok := f.cache.Fetch(ref, item.Square(64)); ok {
		t.Error("thumbnail still cached after invalidate")
	}

	f.do(t, "GET", "/api/thumbnail/a.jpg", "")
	if rec := f.do(t, "DELETE", "/api/cache", ""); rec.Code != http.StatusOK {
		t.Fatalf("clear = %d", rec.Code)
	}
	stats = decode[CacheStats](t, f.do(t, "GET", "/api/cache", ""))
	if stats.DiskBytes != 0 || stats.MemoryEntries != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
}

func TestWarmupEndpoints(t *testing.T) {
	f, src := newMemoryFixture(t)
	local := f.writeJPEG(t, "a.jpg")
	src.Set(local, item.MaterializedStatus())
	remote := f.writeJPEG(t, "b.jpg")
	src.Set(remote, item.NotMaterializedStatus())

	rec := f.do(t, "POST", "/api/cache/warm", "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start warm-up = %d: %s", rec.Code, rec.Body.String())
	}
	f.h.warmer.Wait()

	stats := decode[warmup.Stats](t, f.do(t, "GET", "/api/cache/warm", ""))
	if stats.Running || stats.Scanned != 2 || stats.Generated != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := f.cache.Fetch(local, item.Square(64)); !ok {
		t.Error("local item not cached by warm-up")
	}
	if _, ok := f.cache.Fetch(remote, item.Square(64)); ok {
		t.Error("remote item cached by warm-up")
	}
	if n := src.BeginCount(remote); n != 0 {
		t.Errorf("warm-up requested %d downloads", n)
	}
}

func TestWarmupNotConfigured(t *testing.T) {
	f, _ := newMemoryFixture(t)
	f.h.warmer = nil

	for _, method := range []string{"GET", "POST"} {
		if rec := f.do(t, method, "/api/cache/warm", ""); rec.Code != http.StatusNotImplemented {
			t.Errorf("%s = %d, want 501", method, rec.Code)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	f, db := newManifestFixture(t)

	rec := f.do(t, "GET", "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	health := decode[HealthResponse](t, rec)
	if health.Status != statusHealthy || health.Strategy != notify.StrategyPolling {
		t.Errorf("health = %+v", health)
	}

	if rec := f.do(t, "HEAD", "/livez", ""); rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Errorf("HEAD /livez = %d with %d body bytes", rec.Code, rec.Body.Len())
	}
	if rec := f.do(t, "GET", "/readyz", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}

	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if rec := f.do(t, "GET", "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz with closed db = %d, want 503", rec.Code)
	}
	rec = f.do(t, "GET", "/health", "")
	if rec.Code != http.StatusServiceUnavailable || decode[HealthResponse](t, rec).Status != statusDegraded {
		t.Errorf("health with closed db = %d", rec.Code)
	}
}

func TestGetVersion(t *testing.T) {
	f, _ := newMemoryFixture(t)
	rec := f.do(t, "GET", "/api/version", "")
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"version"`)) {
		t.Errorf("version = %d %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsHandler(t *testing.T) {
	f, _ := newMemoryFixture(t)
	rec := httptest.NewRecorder()
	f.h.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("metrics = %d", rec.Code)
	}
}
