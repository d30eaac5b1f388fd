// Package api defines the REST wire types shared by the daemon's server and
// the CLI client, plus the client itself.
package api

import (
	"time"

	"github.com/mortdiggiddy/video-translator/internal/progress"
	"github.com/mortdiggiddy/video-translator/internal/run"
)

// StartRunRequest is the POST /api/runs body.
type StartRunRequest struct {
	MediaPath  string `json:"media_path"`
	SourceLang string `json:"source_lang,omitempty"`
	TargetLang string `json:"target_lang"`
	WantVideo  bool   `json:"want_video,omitempty"`
	BurnInSubs bool   `json:"burn_in_subs,omitempty"`
}

// ResultView is the completed run's output summary.
type ResultView struct {
	ArtifactsDir  string   `json:"artifacts_dir"`
	SubtitlesPath string   `json:"subtitles_path"`
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points,omitempty"`
	VideoPath     string   `json:"video_path,omitempty"`
	Files         []string `json:"files,omitempty"`
}

// RunView is the run representation returned by the API.
type RunView struct {
	ID           string      `json:"id"`
	MediaPath    string      `json:"media_path"`
	SourceLang   string      `json:"source_lang,omitempty"`
	TargetLang   string      `json:"target_lang"`
	WantVideo    bool        `json:"want_video"`
	BurnInSubs   bool        `json:"burn_in_subs"`
	Status       string      `json:"status"`
	CurrentStage int         `json:"current_stage"`
	ErrorKind    string      `json:"error_kind,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Result       *ResultView `json:"result,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// ProgressView is the GET /api/runs/{id}/progress payload.
type ProgressView struct {
	RunID           string    `json:"run_id"`
	StageOrdinal    int       `json:"stage_ordinal"`
	StageName       string    `json:"stage_name,omitempty"`
	PercentComplete float64   `json:"percent_complete"`
	Status          string    `json:"status"`
	ErrorKind       string    `json:"error_kind,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PruneResult is the POST /api/prune payload.
type PruneResult struct {
	Removed int `json:"removed"`
}

// StatusView is the GET /api/status payload.
type StatusView struct {
	Running   bool           `json:"running"`
	StorePath string         `json:"store_path"`
	Counts    map[string]int `json:"counts"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// RunViewFrom converts a stored run into its wire form.
func RunViewFrom(r *run.Run) RunView {
	view := RunView{
		ID:           r.ID,
		MediaPath:    r.Input.MediaPath,
		SourceLang:   r.Input.SourceLang,
		TargetLang:   r.Input.TargetLang,
		WantVideo:    r.Input.WantVideo,
		BurnInSubs:   r.Input.BurnInSubs,
		Status:       string(r.Status),
		CurrentStage: r.CurrentStage,
		ErrorKind:    r.ErrorKind,
		ErrorMessage: r.ErrorMessage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.Result != nil {
		view.Result = &ResultView{
			ArtifactsDir:  r.Result.ArtifactsDir,
			SubtitlesPath: r.Result.SubtitlesPath,
			Summary:       r.Result.Summary,
			KeyPoints:     r.Result.KeyPoints,
			VideoPath:     r.Result.VideoPath,
			Files:         r.Result.Files,
		}
	}
	return view
}

// ProgressViewFrom converts a progress snapshot into its wire form.
func ProgressViewFrom(snap progress.Snapshot) ProgressView {
	return ProgressView{
		RunID:           snap.RunID,
		StageOrdinal:    snap.StageOrdinal,
		StageName:       snap.StageName,
		PercentComplete: snap.PercentComplete,
		Status:          string(snap.Status),
		ErrorKind:       snap.ErrorKind,
		ErrorMessage:    snap.ErrorMessage,
		UpdatedAt:       snap.UpdatedAt,
	}
}
