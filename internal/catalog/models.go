package catalog

import "time"

// TranscodeStatus is the web-compatible rendition state of an asset.
type TranscodeStatus string

const (
	StatusNone    TranscodeStatus = "none"
	StatusPending TranscodeStatus = "pending"
	StatusReady   TranscodeStatus = "ready"
	StatusFailed  TranscodeStatus = "failed"
)

// VideoAsset describes one playable file in the video directory.
// ID is the filename and is unique within the catalog.
type VideoAsset struct {
	ID        string    `json:"id"`
	Path      string    `json:"-"`
	SizeBytes int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
	ModTime   time.Time `json:"modTime"`

	// Owned by the transcode orchestrator. TranscodedPath is set iff
	// TranscodeStatus is StatusReady.
	TranscodeStatus TranscodeStatus `json:"transcodeStatus"`
	TranscodedPath  string          `json:"-"`
}

// transcodeState is the orchestrator-reported state kept per asset id.
type transcodeState struct {
	status TranscodeStatus
	path   string
}
