package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vod-server/internal/catalog"
	"vod-server/internal/platform/metrics"
)

var (
	// ErrJobNotFound is returned for ids that are neither live nor retained.
	ErrJobNotFound = errors.New("transcode job not found")

	// ErrJobFinished is returned when canceling a job that already ended.
	ErrJobFinished = errors.New("transcode job already finished")

	// ErrTranscodeFailed wraps the reason a job ended in StateFailed.
	ErrTranscodeFailed = errors.New("transcode failed")

	// ErrEmptyOutput is reported when the encoder exits cleanly without a usable file.
	ErrEmptyOutput = errors.New("encoder produced no output")

	// ErrClosed is returned by RequestTranscode after Close.
	ErrClosed = errors.New("transcode orchestrator closed")
)

// partSuffix marks in-progress encoder output.
const partSuffix = ".part"

// Defaults for Config.
const (
	DefaultMaxConcurrent = 2
	DefaultRetention     = 256
)

// AssetStore is the part of the catalog the orchestrator needs.
type AssetStore interface {
	Get(id string) (catalog.VideoAsset, error)
	SetTranscodeState(id string, status catalog.TranscodeStatus, path string)
}

// Config configures an Orchestrator.
type Config struct {
	// OutputDir receives finished renditions. It is created if missing.
	OutputDir string
	// MaxConcurrent bounds how many encodes run at once; further jobs stay queued.
	MaxConcurrent int
	// Retention is how many finished jobs stay queryable.
	Retention int
}

// Orchestrator runs transcode jobs, guaranteeing at most one live job per
// (asset, profile) pair. Concurrent requests for the same pair join the live job.
type Orchestrator struct {
	cfg     Config
	assets  AssetStore
	encoder Encoder
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	live     map[jobKey]*job
	byID     map[string]*job
	retained Store
	closed   bool

	sem    chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	now   func() time.Time
	newID func() string
}

// New returns an Orchestrator writing into cfg.OutputDir.
func New(cfg Config, assets AssetStore, enc Encoder, log *slog.Logger, m *metrics.Metrics) (*Orchestrator, error) {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcode output dir: %w", err)
	}
	retained, err := NewLRUStore(cfg.Retention, func(j Job) {
		log.Debug("transcode job evicted", "job", j.ID, "asset", j.SourceAssetID)
	})
	if err != nil {
		return nil, err
	}

	removeStaleParts(cfg.OutputDir, log)

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cfg:      cfg,
		assets:   assets,
		encoder:  enc,
		log:      log,
		metrics:  m,
		live:     make(map[jobKey]*job),
		byID:     make(map[string]*job),
		retained: retained,
		sem:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		newID:    uuid.NewString,
	}, nil
}

// RequestTranscode starts a job converting assetID with profile p, or joins
// the live job for the same pair. joined reports whether an existing job was
// returned. If a usable rendition already exists, the returned handle is
// already done and no encode runs.
func (o *Orchestrator) RequestTranscode(assetID string, p Profile) (h *Handle, joined bool, err error) {
	if p.Name == "" {
		p = DefaultProfile
	}
	asset, err := o.assets.Get(assetID)
	if err != nil {
		return nil, false, err
	}
	key := jobKey{asset: asset.ID, profile: p.Name}
	target := filepath.Join(o.cfg.OutputDir, catalog.TranscodedName(asset.ID, p.Name))
	// Checked before locking so file I/O never stalls other callers. A live
	// job for the key still takes precedence below.
	reuse := usable(target) == nil

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, false, ErrClosed
	}
	if j, ok := o.live[key]; ok {
		o.metrics.IncTranscodeJoined()
		o.log.Debug("joined transcode job", "job", j.ID, "asset", asset.ID, "profile", p.Name)
		return &Handle{o: o, j: j}, true, nil
	}

	now := o.now()
	j := &job{
		Job: Job{
			ID:            o.newID(),
			SourceAssetID: asset.ID,
			Profile:       p.Name,
			State:         StateQueued,
			CreatedAt:     now,
		},
		key:     key,
		profile: p,
		source:  asset.Path,
		target:  target,
		done:    make(chan struct{}),
	}

	if reuse {
		j.State = StateSucceeded
		j.OutputPath = target
		j.Output = filepath.Base(target)
		j.FinishedAt = &now
		close(j.done)
		o.assets.SetTranscodeState(asset.ID, catalog.StatusReady, target)
		o.retainLocked(j)
		o.log.Info("reusing transcoded rendition", "job", j.ID, "asset", asset.ID, "profile", p.Name)
		return &Handle{o: o, j: j}, false, nil
	}

	ctx, cancel := context.WithCancel(o.ctx)
	j.cancel = cancel
	o.live[key] = j
	o.byID[j.ID] = j
	o.assets.SetTranscodeState(asset.ID, catalog.StatusPending, "")
	o.log.Info("transcode job queued", "job", j.ID, "asset", asset.ID, "profile", p.Name)

	o.wg.Add(1)
	go o.run(ctx, j)
	return &Handle{o: o, j: j}, false, nil
}

// run drives one job from queued to a terminal state.
func (o *Orchestrator) run(ctx context.Context, j *job) {
	defer o.wg.Done()
	defer j.cancel()

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.finish(j, fmt.Errorf("canceled before start: %w", ctx.Err()))
		return
	}
	defer func() { <-o.sem }()

	o.mu.Lock()
	started := o.now()
	j.State = StateRunning
	j.StartedAt = &started
	o.mu.Unlock()
	o.log.Info("transcode job running", "job", j.ID, "asset", j.SourceAssetID)

	// Hidden temp name in the output dir so the final rename is atomic and a
	// partial file is never picked up by the catalog.
	tmp := filepath.Join(o.cfg.OutputDir, "."+filepath.Base(j.target)+"."+j.ID+partSuffix)

	o.metrics.AddActiveTranscodes(1)
	begin := time.Now()
	err := o.encoder.Encode(ctx, j.source, tmp, j.profile)
	o.metrics.ObserveEncodeDuration(time.Since(begin).Seconds())
	o.metrics.AddActiveTranscodes(-1)

	if err == nil {
		err = usable(tmp)
	}
	if err == nil {
		err = os.Rename(tmp, j.target)
	}
	if err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			o.log.Warn("remove partial output", "path", tmp, "err", rmErr)
		}
	}
	o.finish(j, err)
}

// finish moves j to a terminal state, updates the asset in the same critical
// section, and releases waiters.
func (o *Orchestrator) finish(j *job, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	j.FinishedAt = &now
	if err != nil {
		j.State = StateFailed
		j.Error = err.Error()
		o.assets.SetTranscodeState(j.SourceAssetID, catalog.StatusFailed, "")
		o.log.Warn("transcode job failed", "job", j.ID, "asset", j.SourceAssetID, "err", err)
	} else {
		j.State = StateSucceeded
		j.OutputPath = j.target
		j.Output = filepath.Base(j.target)
		o.assets.SetTranscodeState(j.SourceAssetID, catalog.StatusReady, j.target)
		o.log.Info("transcode job succeeded", "job", j.ID, "asset", j.SourceAssetID, "output", j.Output)
	}

	delete(o.live, j.key)
	delete(o.byID, j.ID)
	o.retainLocked(j)
	close(j.done)
}

func (o *Orchestrator) retainLocked(j *job) {
	o.retained.Put(j.Job)
	o.metrics.IncTranscodeJobs(string(j.State))
	o.metrics.SetRetainedJobs(o.retained.Len())
}

// Status returns a snapshot of the job with the given id.
func (o *Orchestrator) Status(id string) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if j, ok := o.byID[id]; ok {
		return j.Job, nil
	}
	if j, ok := o.retained.Get(id); ok {
		return j, nil
	}
	return Job{}, ErrJobNotFound
}

// Jobs returns live and retained jobs, newest first.
func (o *Orchestrator) Jobs() []Job {
	o.mu.Lock()
	out := make([]Job, 0, len(o.byID)+o.retained.Len())
	for _, j := range o.byID {
		out = append(out, j.Job)
	}
	out = append(out, o.retained.List()...)
	o.mu.Unlock()

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out
}

// Active returns the number of queued or running jobs.
func (o *Orchestrator) Active() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.live)
}

// Retained returns the number of finished jobs still queryable.
func (o *Orchestrator) Retained() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retained.Len()
}

// Cancel interrupts a live job. The job ends in StateFailed.
func (o *Orchestrator) Cancel(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if j, ok := o.byID[id]; ok {
		j.cancel()
		return nil
	}
	if _, ok := o.retained.Get(id); ok {
		return ErrJobFinished
	}
	return ErrJobNotFound
}

// Close stops accepting work, interrupts every live job, and waits for them
// to clean up or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	n := len(o.live)
	o.mu.Unlock()

	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %d transcode jobs: %w", n, ctx.Err())
	}
}

// removeStaleParts deletes partial outputs left by a process that was killed
// mid-encode. Nothing else writes to dir until New returns.
func removeStaleParts(dir string, log *slog.Logger) {
	matches, err := filepath.Glob(filepath.Join(dir, ".*"+partSuffix))
	if err != nil {
		log.Warn("list stale partial outputs", "dir", dir, "err", err)
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove stale partial output", "path", path, "err", err)
			continue
		}
		log.Info("removed stale partial output", "path", path)
	}
}

// usable reports nil if path is a non-empty regular file that can be read.
func usable(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrEmptyOutput
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return ErrEmptyOutput
	}
	var b [1]byte
	if _, err := io.ReadFull(f, b[:]); err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	return nil
}
