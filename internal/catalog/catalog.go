package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"vod-server/internal/platform/metrics"
)

// DefaultProfile names the transcode profile whose output marks an asset ready.
const DefaultProfile = "web"

var (
	// ErrNotFound is returned when an id does not name a listable video file.
	ErrNotFound = errors.New("asset not found")

	// ErrScan is returned when the video directory cannot be read.
	ErrScan = errors.New("catalog scan failed")
)

// Options configures a Catalog.
type Options struct {
	// Dir is the directory holding source videos. Only its top level is scanned.
	Dir string
	// TranscodedDir holds web-compatible renditions. Defaults to Dir/transcoded.
	TranscodedDir string
	// Profile is the transcode profile name used to locate ready renditions.
	Profile string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Catalog discovers video assets in a directory and tracks their transcode state.
type Catalog struct {
	dir           string
	transcodedDir string
	profile       string
	log           *slog.Logger
	metrics       *metrics.Metrics

	mu         sync.RWMutex
	entries    []entry
	entriesMod time.Time
	cached     bool
	// gen is bumped by Invalidate; a scan that started under an older gen
	// must not publish its result.
	gen uint64
	// afterRead runs between reading the directory and caching the result.
	afterRead func()
	states    map[string]transcodeState
}

// entry is one cached directory scan result.
type entry struct {
	id   string
	path string
	size int64
	mod  time.Time
}

// New returns a Catalog for opts.Dir.
func New(opts Options) *Catalog {
	if opts.TranscodedDir == "" {
		opts.TranscodedDir = filepath.Join(opts.Dir, "transcoded")
	}
	if opts.Profile == "" {
		opts.Profile = DefaultProfile
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Catalog{
		dir:           opts.Dir,
		transcodedDir: opts.TranscodedDir,
		profile:       opts.Profile,
		log:           opts.Logger,
		metrics:       opts.Metrics,
		states:        make(map[string]transcodeState),
	}
}

// Dir returns the source video directory.
func (c *Catalog) Dir() string { return c.dir }

// TranscodedDir returns the directory holding transcoded renditions.
func (c *Catalog) TranscodedDir() string { return c.transcodedDir }

// TranscodedName is the file name of the rendition of id produced by profile.
// The full source filename is kept so clip.mkv and clip.avi never collide.
func TranscodedName(id, profile string) string {
	return id + "." + profile + ".mp4"
}

// TranscodedPath returns where the rendition of id for the catalog's profile lives.
func (c *Catalog) TranscodedPath(id string) string {
	return filepath.Join(c.transcodedDir, TranscodedName(id, c.profile))
}

// List returns every allow-listed video file in the directory, ordered by id.
// The directory listing is reused while the directory modification time is
// unchanged; transcode state is evaluated on every call.
func (c *Catalog) List() ([]VideoAsset, error) {
	entries, err := c.scan()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]bool, len(entries))
	assets := make([]VideoAsset, 0, len(entries))
	for _, e := range entries {
		present[e.id] = true
		assets = append(assets, c.assetLocked(e))
	}

	// Drop state for files that disappeared; a pending job reconciles itself.
	for id, st := range c.states {
		if !present[id] && st.status != StatusPending {
			delete(c.states, id)
		}
	}

	return assets, nil
}

// Get returns the asset named id. Ids containing path elements, hidden names,
// non-video extensions, and files that cannot be stat'ed all yield ErrNotFound.
func (c *Catalog) Get(id string) (VideoAsset, error) {
	if !validID(id) || !IsVideoFile(id) {
		return VideoAsset{}, ErrNotFound
	}

	path := filepath.Join(c.dir, id)
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			c.log.Warn("stat asset failed", slog.String("id", id), slog.String("error", err.Error()))
		}
		return VideoAsset{}, ErrNotFound
	}
	if !info.Mode().IsRegular() {
		return VideoAsset{}, ErrNotFound
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.assetLocked(entry{id: id, path: path, size: info.Size(), mod: info.ModTime()}), nil
}

// ResolvePlaybackPath prefers the transcoded rendition and falls back to the original.
func (c *Catalog) ResolvePlaybackPath(a VideoAsset) string {
	if a.TranscodeStatus == StatusReady && a.TranscodedPath != "" {
		return a.TranscodedPath
	}
	return a.Path
}

// SetTranscodeState records the orchestrator's view of id. StatusNone clears it.
func (c *Catalog) SetTranscodeState(id string, status TranscodeStatus, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if status == StatusNone {
		delete(c.states, id)
		return
	}
	if status != StatusReady {
		path = ""
	}
	c.states[id] = transcodeState{status: status, path: path}
}

// Invalidate drops the cached directory listing.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cached = false
	c.gen++
	c.entries = nil
	c.mu.Unlock()
}

// scan returns the directory entries, from cache when the directory is unchanged.
func (c *Catalog) scan() ([]entry, error) {
	c.mu.RLock()
	gen := c.gen
	c.mu.RUnlock()

	info, err := os.Stat(c.dir)
	if err != nil {
		c.metrics.IncCatalogScans("error")
		return nil, fmt.Errorf("%w: %v", ErrScan, err)
	}

	c.mu.RLock()
	if c.cached && info.ModTime().Equal(c.entriesMod) {
		entries := c.entries
		c.mu.RUnlock()
		c.metrics.IncCatalogScans("cached")
		return entries, nil
	}
	c.mu.RUnlock()

	dirEntries, err := os.ReadDir(c.dir)
	if err != nil {
		c.metrics.IncCatalogScans("error")
		return nil, fmt.Errorf("%w: %v", ErrScan, err)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, d := range dirEntries {
		name := d.Name()
		if d.IsDir() || strings.HasPrefix(name, ".") || !IsVideoFile(name) {
			continue
		}
		path := filepath.Join(c.dir, name)
		// Stat follows symlinks so linked videos are listed like regular files.
		fi, err := os.Stat(path)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		entries = append(entries, entry{id: name, path: path, size: fi.Size(), mod: fi.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	if c.afterRead != nil {
		c.afterRead()
	}

	c.mu.Lock()
	if c.gen == gen {
		c.entries = entries
		c.entriesMod = info.ModTime()
		c.cached = true
	}
	c.mu.Unlock()

	c.metrics.IncCatalogScans("scanned")
	c.log.Debug("catalog scanned", slog.String("dir", c.dir), slog.Int("assets", len(entries)))
	return entries, nil
}

// assetLocked builds the public asset for e. Caller must hold c.mu.
func (c *Catalog) assetLocked(e entry) VideoAsset {
	a := VideoAsset{
		ID:              e.id,
		Path:            e.path,
		SizeBytes:       e.size,
		MimeType:        MimeType(e.path),
		ModTime:         e.mod,
		TranscodeStatus: StatusNone,
	}

	if st, ok := c.states[e.id]; ok {
		a.TranscodeStatus = st.status
		if st.status == StatusReady {
			if usableFile(st.path) {
				a.TranscodedPath = st.path
			} else {
				a.TranscodeStatus = StatusNone
			}
		}
		return a
	}

	// A rendition left by an earlier process is still servable.
	if p := c.TranscodedPath(e.id); usableFile(p) {
		a.TranscodeStatus = StatusReady
		a.TranscodedPath = p
	}
	return a
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." || strings.HasPrefix(id, ".") {
		return false
	}
	if strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return false
	}
	return filepath.Base(id) == id
}

func usableFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
