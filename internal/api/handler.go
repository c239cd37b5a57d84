package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vod-server/internal/catalog"
	"vod-server/internal/platform/metrics"
	"vod-server/internal/playback"
	"vod-server/internal/streaming"
	"vod-server/internal/transcode"
)

// maxPlaybackBody bounds the save-playback request body.
const maxPlaybackBody = 64 << 10

// placeholderMetadata is returned for every asset; tracks are not extracted.
var placeholderMetadata = metadataResponse{
	Subtitles:   []string{"English", "Spanish"},
	AudioTracks: []string{"English", "Hindi"},
}

// Deps are the components a Handler serves.
type Deps struct {
	Catalog   *catalog.Catalog
	Transcode *transcode.Orchestrator
	Playback  *playback.Store
	Responder *streaming.Responder
	// ClientKey identifies the caller for playback positions. Defaults to playback.RemoteAddrKey.
	ClientKey playback.ClientKeyFunc
	// Profile is used for POST /transcode. Defaults to transcode.DefaultProfile.
	Profile transcode.Profile
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Handler exposes the video server endpoints using go-chi.
type Handler struct {
	catalog   *catalog.Catalog
	transcode *transcode.Orchestrator
	playback  *playback.Store
	responder *streaming.Responder
	clientKey playback.ClientKeyFunc
	profile   transcode.Profile
	log       *slog.Logger
	metrics   *metrics.Metrics
}

// NewHandler returns a Handler over d. Metrics may be nil (e.g. in tests).
func NewHandler(d Deps) *Handler {
	if d.ClientKey == nil {
		d.ClientKey = playback.RemoteAddrKey
	}
	if d.Profile.Name == "" {
		d.Profile = transcode.DefaultProfile
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Responder == nil {
		d.Responder = streaming.NewResponder(streaming.DefaultResponderConfig(), d.Logger, d.Metrics)
	}
	return &Handler{
		catalog:   d.Catalog,
		transcode: d.Transcode,
		playback:  d.Playback,
		responder: d.Responder,
		clientKey: d.ClientKey,
		profile:   d.Profile,
		log:       d.Logger,
		metrics:   d.Metrics,
	}
}

// Register mounts every endpoint on r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/videos", h.ListVideos)
	r.Get("/metadata/{filename}", h.GetMetadata)
	r.Get("/stream/{filename}", h.Stream)
	r.Head("/stream/{filename}", h.Stream)
	r.Get("/download/{filename}", h.Download)
	r.Route("/transcode", func(r chi.Router) {
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Delete("/jobs/{id}", h.CancelJob)
		r.Post("/{filename}", h.Transcode)
	})
	r.Post("/save-playback", h.SavePlayback)
	r.Get("/get-playback/{filename}", h.GetPlayback)
	r.Get("/healthz", h.Health)
}

// ListVideos handles GET /videos.
func (h *Handler) ListVideos(w http.ResponseWriter, r *http.Request) {
	assets, err := h.catalog.List()
	if err != nil {
		h.log.Error("list videos failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to scan directory")
		return
	}

	out := make([]videoResponse, 0, len(assets))
	for _, a := range assets {
		out = append(out, videoResponse{
			Original:        a.ID,
			Transcoded:      filepath.Base(h.catalog.TranscodedPath(a.ID)),
			IsTranscoded:    a.TranscodeStatus == catalog.StatusReady,
			TranscodeStatus: a.TranscodeStatus,
			Size:            a.SizeBytes,
			MimeType:        a.MimeType,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GetMetadata handles GET /metadata/{filename}.
func (h *Handler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.asset(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, placeholderMetadata)
}

// Stream handles GET and HEAD /stream/{filename}. The transcoded rendition is
// served when ready, the original otherwise.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.asset(w, r)
	if !ok {
		return
	}

	path := h.catalog.ResolvePlaybackPath(asset)
	f, err := os.Open(path)
	if err != nil && path != asset.Path {
		h.log.Warn("transcoded rendition unreadable, serving original",
			slog.String("video", asset.ID),
			slog.String("error", err.Error()))
		path = asset.Path
		f, err = os.Open(path)
	}
	if err != nil {
		h.openFailed(w, asset.ID, err)
		return
	}
	defer f.Close()

	h.serveFile(w, r, f, path, false)
}

// Download handles GET /download/{filename}: the whole original file as an attachment.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	asset, ok := h.asset(w, r)
	if !ok {
		return
	}

	f, err := os.Open(asset.Path)
	if err != nil {
		h.openFailed(w, asset.ID, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": asset.ID}))
	h.serveFile(w, r, f, asset.Path, true)
}

// serveFile sizes f from the open descriptor, so a file replaced after the
// catalog scan is still framed correctly.
func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, f *os.File, path string, full bool) {
	info, err := f.Stat()
	if err != nil {
		h.log.Error("stat video failed", slog.String("path", path), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to read video")
		return
	}

	d := streaming.Decision{Kind: streaming.Full}
	if !full {
		d = streaming.Resolve(r.Header.Get("Range"), info.Size())
	}
	if err := h.responder.Respond(w, r, d, f, info.Size(), catalog.MimeType(path)); err != nil {
		if errors.Is(err, streaming.ErrSourceFailed) {
			// Headers promised more bytes than were sent; drop the connection
			// so the client cannot mistake the body for complete.
			panic(http.ErrAbortHandler)
		}
	}
}

// Transcode handles POST /transcode/{filename}. By default it answers as soon
// as the job is started or joined; with ?wait=true it answers once the job ends.
func (h *Handler) Transcode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "filename")
	handle, joined, err := h.transcode.RequestTranscode(id, h.profile)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		writeError(w, http.StatusNotFound, "Video not found")
		return
	case errors.Is(err, transcode.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	case err != nil:
		h.log.Error("request transcode failed", slog.String("video", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Transcoding failed")
		return
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		job := handle.Snapshot()
		msg := "Transcoding started"
		switch {
		case job.State == transcode.StateSucceeded:
			msg = "Transcoded file already available"
		case joined:
			msg = "Transcoding already in progress"
		}
		writeJSON(w, http.StatusOK, newTranscodeResponse(msg, job, joined))
		return
	}

	job, err := handle.Wait(r.Context())
	switch {
	case errors.Is(err, transcode.ErrTranscodeFailed):
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Transcoding failed", Details: job.Error})
	case err != nil:
		h.log.Debug("client left while waiting for transcode",
			slog.String("video", id),
			slog.String("job", job.ID))
	default:
		writeJSON(w, http.StatusOK, newTranscodeResponse("Transcoding completed", job, joined))
	}
}

// ListJobs handles GET /transcode/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.transcode.Jobs())
}

// GetJob handles GET /transcode/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.transcode.Status(chi.URLParam(r, "id"))
	if errors.Is(err, transcode.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob handles DELETE /transcode/jobs/{id}.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	switch err := h.transcode.Cancel(id); {
	case errors.Is(err, transcode.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, transcode.ErrJobFinished):
		writeError(w, http.StatusConflict, "Job already finished")
	default:
		h.log.Info("transcode cancel requested", slog.String("job", id))
		writeJSON(w, http.StatusAccepted, messageResponse{Message: "Cancel requested"})
	}
}

// SavePlayback handles POST /save-playback.
// Body: { "video": "clip.mp4", "position": 42.5 }.
func (h *Handler) SavePlayback(w http.ResponseWriter, r *http.Request) {
	var body savePlaybackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPlaybackBody)).Decode(&body); err != nil {
		h.log.Debug("invalid playback body", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Video == "" || body.Position == nil {
		writeError(w, http.StatusBadRequest, "Missing video or position")
		return
	}

	key := h.clientKey(r)
	if err := h.playback.Save(key, body.Video, *body.Position); err != nil {
		if errors.Is(err, playback.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, "Invalid playback position")
			return
		}
		h.log.Error("save playback failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Unable to save playback position")
		return
	}

	h.metrics.IncPlaybackSaves()
	h.log.Debug("playback saved",
		slog.String("client", key),
		slog.String("video", body.Video),
		slog.Float64("position", *body.Position))
	writeJSON(w, http.StatusOK, messageResponse{Message: "Playback position saved"})
}

// GetPlayback handles GET /get-playback/{filename}. Unknown pairs report 0.
func (h *Handler) GetPlayback(w http.ResponseWriter, r *http.Request) {
	pos := h.playback.Get(h.clientKey(r), chi.URLParam(r, "filename"))
	writeJSON(w, http.StatusOK, positionResponse{Position: pos})
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// asset resolves the {filename} param, writing 404 when it does not name a video.
func (h *Handler) asset(w http.ResponseWriter, r *http.Request) (catalog.VideoAsset, bool) {
	a, err := h.catalog.Get(chi.URLParam(r, "filename"))
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			h.log.Error("lookup video failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Unable to read video")
			return a, false
		}
		writeError(w, http.StatusNotFound, "Video not found")
		return a, false
	}
	return a, true
}

func (h *Handler) openFailed(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		writeError(w, http.StatusNotFound, "Video not found")
		return
	}
	h.log.Error("open video failed", slog.String("video", id), slog.String("error", err.Error()))
	writeError(w, http.StatusInternalServerError, "Unable to read video")
}
