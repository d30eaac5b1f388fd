package run

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a pipeline run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further stage execution.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Run is one pipeline execution persisted in the run store.
type Run struct {
	ID           string
	Input        Input
	Status       Status
	CurrentStage int
	Result       *Result
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Result is the final aggregate output, populated only on completion.
type Result struct {
	ArtifactsDir  string   `json:"artifacts_dir"`
	SubtitlesPath string   `json:"subtitles_path"`
	Transcription string   `json:"transcription"`
	Translation   string   `json:"translation"`
	Summary       string   `json:"summary"`
	KeyPoints     []string `json:"key_points"`
	VideoPath     string   `json:"video_path,omitempty"`
	Files         []string `json:"files"`
}

// SetFailed marks the run failed with classification details.
func (r *Run) SetFailed(kind, message string) {
	r.Status = StatusFailed
	r.ErrorKind = kind
	r.ErrorMessage = message
}
