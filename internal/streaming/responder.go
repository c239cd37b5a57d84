package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"vod-server/internal/platform/metrics"
)

// Sentinel errors for stream delivery. Both mean the response was cut short
// after headers were sent; neither can be reported to the client.
var (
	// ErrClientGone indicates the client disconnected or stopped reading.
	ErrClientGone = errors.New("client disconnected")

	// ErrSourceFailed indicates the media source failed mid-transfer.
	ErrSourceFailed = errors.New("source read failed")
)

// ResponderConfig tunes the copy loop.
type ResponderConfig struct {
	// ChunkSize is how much is read from the source before each write.
	ChunkSize int
	// WriteTimeout bounds a single chunk write; 0 disables the deadline.
	WriteTimeout time.Duration
}

// DefaultResponderConfig returns 256KB chunks and a 30s per-chunk write deadline.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		ChunkSize:    256 * 1024,
		WriteTimeout: 30 * time.Second,
	}
}

// Responder writes range decisions as HTTP responses.
type Responder struct {
	cfg     ResponderConfig
	log     *slog.Logger
	metrics *metrics.Metrics
	bufs    sync.Pool
}

// NewResponder returns a Responder. Metrics may be nil.
func NewResponder(cfg ResponderConfig, log *slog.Logger, m *metrics.Metrics) *Responder {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultResponderConfig().ChunkSize
	}
	rs := &Responder{cfg: cfg, log: log, metrics: m}
	rs.bufs.New = func() any {
		b := make([]byte, rs.cfg.ChunkSize)
		return &b
	}
	return rs
}

// Respond writes status, framing headers and the selected bytes of src.
//
// Once headers are out the status cannot change: a failure afterwards is
// returned as ErrClientGone or ErrSourceFailed and the caller must not write
// anything else. Reading from src stops as soon as the request context ends.
func (rs *Responder) Respond(w http.ResponseWriter, r *http.Request, d Decision, src io.ReaderAt, size int64, contentType string) error {
	h := w.Header()

	var offset, length int64
	switch d.Kind {
	case Unsatisfiable:
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return nil
	case Partial:
		offset, length = d.Start, d.Length()
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", d.Start, d.End, size))
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(length, 10))
		h.Set("Content-Type", contentType)
		w.WriteHeader(http.StatusPartialContent)
	default:
		offset, length = 0, size
		h.Set("Accept-Ranges", "bytes")
		h.Set("Content-Length", strconv.FormatInt(size, 10))
		h.Set("Content-Type", contentType)
		w.WriteHeader(http.StatusOK)
	}

	if r.Method == http.MethodHead || length == 0 {
		return nil
	}

	start := time.Now()
	n, err := rs.copy(r.Context(), w, io.NewSectionReader(src, offset, length), length)
	rs.metrics.AddStreamBytes(d.Kind.String(), n)

	if err != nil {
		rs.metrics.IncStreamAborts()
		attrs := []any{
			slog.String("path", r.URL.Path),
			slog.Int64("written", n),
			slog.Int64("expected", length),
			slog.String("error", err.Error()),
		}
		if errors.Is(err, ErrSourceFailed) {
			rs.log.Error("stream source failed", attrs...)
		} else {
			rs.log.Debug("stream aborted", attrs...)
		}
		return err
	}

	rs.log.Debug("stream completed",
		slog.String("path", r.URL.Path),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// copy moves length bytes one chunk at a time. The next chunk is read only
// after the previous write returned, so a slow client throttles file reads.
func (rs *Responder) copy(ctx context.Context, w http.ResponseWriter, src io.Reader, length int64) (int64, error) {
	rc := http.NewResponseController(w)
	bp := rs.bufs.Get().(*[]byte)
	defer rs.bufs.Put(bp)
	buf := *bp

	var written int64
	for written < length {
		select {
		case <-ctx.Done():
			return written, fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
		default:
		}

		want := int64(len(buf))
		if remaining := length - written; remaining < want {
			want = remaining
		}
		nr, rerr := io.ReadFull(src, buf[:want])
		if nr > 0 {
			if rs.cfg.WriteTimeout > 0 {
				// Unsupported on some writers (e.g. recorders); the copy still works.
				_ = rc.SetWriteDeadline(time.Now().Add(rs.cfg.WriteTimeout))
			}
			nw, werr := w.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, fmt.Errorf("%w: %v", ErrClientGone, werr)
			}
		}
		if rerr != nil {
			return written, fmt.Errorf("%w: %v", ErrSourceFailed, rerr)
		}
	}

	if rs.cfg.WriteTimeout > 0 {
		_ = rc.SetWriteDeadline(time.Time{})
	}
	return written, nil
}
