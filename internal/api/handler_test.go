package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"vod-server/internal/catalog"
	"vod-server/internal/platform/logger"
	"vod-server/internal/playback"
	"vod-server/internal/transcode"
)

type stubEncoder struct {
	err     error
	payload []byte
}

func (s stubEncoder) Encode(ctx context.Context, src, dst string, p transcode.Profile) error {
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(dst, s.payload, 0o644)
}

type testServer struct {
	router *chi.Mux
	dir    string
	orch   *transcode.Orchestrator
	store  *playback.Store
}

func newTestServer(t *testing.T, enc transcode.Encoder, opts ...func(*Deps)) *testServer {
	t.Helper()
	dir := t.TempDir()
	log := logger.Discard()
	cat := catalog.New(catalog.Options{Dir: dir, Logger: log})
	orch, err := transcode.New(transcode.Config{OutputDir: cat.TranscodedDir()}, cat, enc, log, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})

	store := playback.NewStore()
	deps := Deps{Catalog: cat, Transcode: orch, Playback: store, Logger: log}
	for _, opt := range opts {
		opt(&deps)
	}
	r := chi.NewRouter()
	NewHandler(deps).Register(r)
	return &testServer{router: r, dir: dir, orch: orch, store: store}
}

func (s *testServer) addVideo(t *testing.T, name string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
	return data
}

func (s *testServer) do(t *testing.T, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "192.0.2.10:51234"
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHandler_range_then_playback_scenario(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	data := s.addVideo(t, "clip.mp4", 10000)

	rec := s.do(t, http.MethodGet, "/stream/clip.mp4", "", http.Header{"Range": {"bytes=0-999"}})
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-999/10000" {
		t.Errorf("Content-Range = %q", got)
	}
	if got := rec.Header().Get("Content-Length"); got != "1000" {
		t.Errorf("Content-Length = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data[:1000]) {
		t.Errorf("body mismatch, got %d bytes", rec.Body.Len())
	}

	rec = s.do(t, http.MethodPost, "/save-playback", `{"video":"clip.mp4","position":42.5}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = s.do(t, http.MethodGet, "/get-playback/clip.mp4", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rec.Code)
	}
	if got := decode[positionResponse](t, rec); got.Position != 42.5 {
		t.Errorf("position = %v, want 42.5", got.Position)
	}
}

func TestHandler_Stream(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	data := s.addVideo(t, "clip.mp4", 10000)

	tests := []struct {
		name       string
		method     string
		rangeHdr   string
		wantStatus int
		wantBody   []byte
		wantRange  string
	}{
		{"full", http.MethodGet, "", http.StatusOK, data, ""},
		{"suffix", http.MethodGet, "bytes=-100", http.StatusPartialContent, data[9900:], "bytes 9900-9999/10000"},
		{"open ended", http.MethodGet, "bytes=9990-", http.StatusPartialContent, data[9990:], "bytes 9990-9999/10000"},
		{"clamped end", http.MethodGet, "bytes=9000-20000", http.StatusPartialContent, data[9000:], "bytes 9000-9999/10000"},
		{"start past end", http.MethodGet, "bytes=10000-", http.StatusRequestedRangeNotSatisfiable, nil, "bytes */10000"},
		{"malformed", http.MethodGet, "bytes=abc", http.StatusRequestedRangeNotSatisfiable, nil, "bytes */10000"},
		{"head", http.MethodHead, "", http.StatusOK, nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hdr http.Header
			if tt.rangeHdr != "" {
				hdr = http.Header{"Range": {tt.rangeHdr}}
			}
			rec := s.do(t, tt.method, "/stream/clip.mp4", "", hdr)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if !bytes.Equal(rec.Body.Bytes(), tt.wantBody) {
				t.Errorf("body length %d, want %d", rec.Body.Len(), len(tt.wantBody))
			}
			if got := rec.Header().Get("Content-Range"); got != tt.wantRange {
				t.Errorf("Content-Range = %q, want %q", got, tt.wantRange)
			}
			if tt.wantStatus != http.StatusRequestedRangeNotSatisfiable {
				if rec.Header().Get("Accept-Ranges") != "bytes" || rec.Header().Get("Content-Type") != "video/mp4" {
					t.Errorf("headers = %v", rec.Header())
				}
			}
		})
	}

	for _, target := range []string{"/stream/missing.mp4", "/stream/notes.txt", "/stream/..%2Fsecret.mp4"} {
		if rec := s.do(t, http.MethodGet, target, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestHandler_ListVideos(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	s.addVideo(t, "clip.mp4", 10)
	s.addVideo(t, "movie.MKV", 20)
	s.addVideo(t, "notes.txt", 5)

	rec := s.do(t, http.MethodGet, "/videos", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	videos := decode[[]videoResponse](t, rec)
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %+v", videos)
	}
	if v := videos[0]; v.Original != "clip.mp4" || v.Transcoded != "clip.mp4.web.mp4" || v.IsTranscoded || v.Size != 10 {
		t.Errorf("unexpected entry: %+v", v)
	}
	if v := videos[1]; v.Original != "movie.MKV" || v.MimeType != "video/x-matroska" || v.TranscodeStatus != catalog.StatusNone {
		t.Errorf("unexpected entry: %+v", v)
	}
}

func TestHandler_ListVideos_scan_failure(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	if err := os.RemoveAll(s.dir); err != nil {
		t.Fatal(err)
	}
	rec := s.do(t, http.MethodGet, "/videos", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decode[errorResponse](t, rec); got.Error == "" {
		t.Error("expected error body")
	}
}

func TestHandler_GetMetadata(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	s.addVideo(t, "clip.mp4", 10)

	rec := s.do(t, http.MethodGet, "/metadata/clip.mp4", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	md := decode[metadataResponse](t, rec)
	if len(md.Subtitles) != 2 || len(md.AudioTracks) != 2 {
		t.Errorf("unexpected metadata: %+v", md)
	}
	if rec := s.do(t, http.MethodGet, "/metadata/missing.mp4", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Download(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	data := s.addVideo(t, "clip.mkv", 500)

	rec := s.do(t, http.MethodGet, "/download/clip.mkv", "", http.Header{"Range": {"bytes=0-9"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "attachment") || !strings.Contains(got, "clip.mkv") {
		t.Errorf("Content-Disposition = %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Errorf("download should be the whole file, got %d bytes", rec.Body.Len())
	}
	if rec := s.do(t, http.MethodGet, "/download/missing.mkv", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Transcode_wait_then_stream_rendition(t *testing.T) {
	s := newTestServer(t, stubEncoder{payload: []byte("rendition-bytes")})
	s.addVideo(t, "clip.mkv", 100)

	rec := s.do(t, http.MethodPost, "/transcode/clip.mkv?wait=true", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[transcodeResponse](t, rec)
	if resp.Status != transcode.StateSucceeded || resp.TranscodedFilename != "clip.mkv.web.mp4" || resp.JobID == "" {
		t.Errorf("unexpected response: %+v", resp)
	}

	rec = s.do(t, http.MethodGet, "/stream/clip.mkv", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "rendition-bytes" {
		t.Fatalf("stream should serve the rendition: %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "video/mp4" {
		t.Errorf("Content-Type = %q", got)
	}

	rec = s.do(t, http.MethodGet, "/download/clip.mkv", "", nil)
	if rec.Body.Len() != 100 {
		t.Errorf("download should stay the original, got %d bytes", rec.Body.Len())
	}

	videos := decode[[]videoResponse](t, s.do(t, http.MethodGet, "/videos", "", nil))
	if len(videos) != 1 || !videos[0].IsTranscoded {
		t.Errorf("listing should report the rendition: %+v", videos)
	}

	rec = s.do(t, http.MethodPost, "/transcode/clip.mkv", "", nil)
	if resp := decode[transcodeResponse](t, rec); resp.Status != transcode.StateSucceeded || resp.Message != "Transcoded file already available" {
		t.Errorf("second request should reuse the rendition: %+v", resp)
	}
}

func TestHandler_Transcode_async(t *testing.T) {
	s := newTestServer(t, stubEncoder{payload: []byte("x")})
	s.addVideo(t, "clip.avi", 10)

	rec := s.do(t, http.MethodPost, "/transcode/clip.avi", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[transcodeResponse](t, rec)
	if resp.JobID == "" || resp.Joined {
		t.Fatalf("unexpected response: %+v", resp)
	}

	rec = s.do(t, http.MethodGet, "/transcode/jobs/"+resp.JobID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job status: expected 200, got %d", rec.Code)
	}
	if job := decode[transcode.Job](t, rec); job.ID != resp.JobID || job.SourceAssetID != "clip.avi" {
		t.Errorf("unexpected job: %+v", job)
	}

	jobs := decode[[]transcode.Job](t, s.do(t, http.MethodGet, "/transcode/jobs", "", nil))
	if len(jobs) != 1 {
		t.Errorf("expected 1 job, got %d", len(jobs))
	}
}

func TestHandler_Transcode_failure(t *testing.T) {
	s := newTestServer(t, stubEncoder{err: errors.New("Invalid data found when processing input")})
	s.addVideo(t, "broken.mov", 10)

	rec := s.do(t, http.MethodPost, "/transcode/broken.mov?wait=1", "", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	body := decode[errorResponse](t, rec)
	if body.Error != "Transcoding failed" || !strings.Contains(body.Details, "Invalid data") {
		t.Errorf("unexpected body: %+v", body)
	}

	videos := decode[[]videoResponse](t, s.do(t, http.MethodGet, "/videos", "", nil))
	if len(videos) != 1 || videos[0].TranscodeStatus != catalog.StatusFailed || videos[0].IsTranscoded {
		t.Errorf("unexpected listing: %+v", videos)
	}
	rec = s.do(t, http.MethodGet, "/stream/broken.mov", "", nil)
	if rec.Code != http.StatusOK || rec.Body.Len() != 10 {
		t.Errorf("failed transcode should fall back to the original: %d", rec.Code)
	}
}

func TestHandler_Transcode_errors(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	s.addVideo(t, "clip.mp4", 10)

	if rec := s.do(t, http.MethodPost, "/transcode/missing.mp4", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("missing source: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/transcode/jobs/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown job: expected 404, got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodDelete, "/transcode/jobs/nope", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel unknown job: expected 404, got %d", rec.Code)
	}

	if err := s.orch.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if rec := s.do(t, http.MethodPost, "/transcode/clip.mp4", "", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("after close: expected 503, got %d", rec.Code)
	}
}

func TestHandler_CancelJob_finished(t *testing.T) {
	s := newTestServer(t, stubEncoder{payload: []byte("x")})
	s.addVideo(t, "clip.mkv", 10)

	resp := decode[transcodeResponse](t, s.do(t, http.MethodPost, "/transcode/clip.mkv?wait=true", "", nil))
	rec := s.do(t, http.MethodDelete, "/transcode/jobs/"+resp.JobID, "", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_SavePlayback_bad_request(t *testing.T) {
	s := newTestServer(t, stubEncoder{})

	tests := []struct {
		name string
		body string
	}{
		{"not json", "not json"},
		{"missing position", `{"video":"clip.mp4"}`},
		{"missing video", `{"position":3}`},
		{"negative position", `{"video":"clip.mp4","position":-1}`},
		{"wrong type", `{"video":"clip.mp4","position":"ten"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/save-playback", tt.body, nil)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
	if s.store.Len() != 0 {
		t.Errorf("rejected saves must not be stored, Len = %d", s.store.Len())
	}

	if rec := s.do(t, http.MethodPost, "/save-playback", `{"video":"clip.mp4","position":0}`, nil); rec.Code != http.StatusOK {
		t.Errorf("zero position is valid, got %d", rec.Code)
	}
}

func TestHandler_GetPlayback_defaults_to_zero(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	rec := s.do(t, http.MethodGet, "/get-playback/never-seen.mp4", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decode[positionResponse](t, rec); got.Position != 0 {
		t.Errorf("position = %v", got.Position)
	}
}

func TestHandler_Playback_header_client_key(t *testing.T) {
	s := newTestServer(t, stubEncoder{}, func(d *Deps) {
		d.ClientKey = playback.HeaderKey("X-Client-ID", nil)
	})
	alice := http.Header{"X-Client-Id": {"alice"}}
	bob := http.Header{"X-Client-Id": {"bob"}}

	if rec := s.do(t, http.MethodPost, "/save-playback", `{"video":"clip.mp4","position":12}`, alice); rec.Code != http.StatusOK {
		t.Fatalf("save: %d", rec.Code)
	}
	if got := decode[positionResponse](t, s.do(t, http.MethodGet, "/get-playback/clip.mp4", "", bob)); got.Position != 0 {
		t.Errorf("bob shares alice's address but should not see her position, got %v", got.Position)
	}
	if got := decode[positionResponse](t, s.do(t, http.MethodGet, "/get-playback/clip.mp4", "", alice)); got.Position != 12 {
		t.Errorf("alice position = %v", got.Position)
	}
}

func TestHandler_Health(t *testing.T) {
	s := newTestServer(t, stubEncoder{})
	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}
