package playback

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrInvalidRequest is returned for saves without a video id or with a
// missing, negative or non-finite position.
var ErrInvalidRequest = errors.New("invalid playback data")

// Record is the resume position of one video for one client.
type Record struct {
	ClientKey       string    `json:"-"`
	VideoID         string    `json:"video"`
	PositionSeconds float64   `json:"position"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Store is a concurrency-safe in-memory map of client -> video -> position.
// Records live for the lifetime of the process; nothing is persisted.
type Store struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	now     func() time.Time
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]map[string]Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Save upserts the position of videoID for clientKey.
func (s *Store) Save(clientKey, videoID string, position float64) error {
	if videoID == "" || position < 0 || math.IsNaN(position) || math.IsInf(position, 0) {
		return ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	videos, ok := s.records[clientKey]
	if !ok {
		videos = make(map[string]Record)
		s.records[clientKey] = videos
	}
	videos[videoID] = Record{
		ClientKey:       clientKey,
		VideoID:         videoID,
		PositionSeconds: position,
		UpdatedAt:       s.now(),
	}
	return nil
}

// Get returns the saved position, or 0 when nothing was saved.
func (s *Store) Get(clientKey, videoID string) float64 {
	rec, _ := s.Record(clientKey, videoID)
	return rec.PositionSeconds
}

// Record returns the full record and whether one exists.
func (s *Store) Record(clientKey, videoID string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[clientKey][videoID]
	return rec, ok
}

// Len returns the number of stored records across all clients.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, videos := range s.records {
		n += len(videos)
	}
	return n
}

// Reset drops every record. Called on shutdown.
func (s *Store) Reset() {
	s.mu.Lock()
	s.records = make(map[string]map[string]Record)
	s.mu.Unlock()
}
