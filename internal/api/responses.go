package api

import (
	"encoding/json"
	"net/http"

	"vod-server/internal/catalog"
	"vod-server/internal/transcode"
)

type videoResponse struct {
	Original        string                  `json:"original"`
	Transcoded      string                  `json:"transcoded"`
	IsTranscoded    bool                    `json:"isTranscoded"`
	TranscodeStatus catalog.TranscodeStatus `json:"transcodeStatus"`
	Size            int64                   `json:"size"`
	MimeType        string                  `json:"mimeType"`
}

type metadataResponse struct {
	Subtitles   []string `json:"subtitles"`
	AudioTracks []string `json:"audioTracks"`
}

type transcodeResponse struct {
	Message            string          `json:"message"`
	JobID              string          `json:"jobId"`
	Status             transcode.State `json:"status"`
	Joined             bool            `json:"joined"`
	TranscodedFilename string          `json:"transcodedFilename,omitempty"`
}

func newTranscodeResponse(msg string, job transcode.Job, joined bool) transcodeResponse {
	return transcodeResponse{
		Message:            msg,
		JobID:              job.ID,
		Status:             job.State,
		Joined:             joined,
		TranscodedFilename: job.Output,
	}
}

type savePlaybackRequest struct {
	Video string `json:"video"`
	// Position is a pointer so a missing field is distinguishable from 0.
	Position *float64 `json:"position"`
}

type positionResponse struct {
	Position float64 `json:"position"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
