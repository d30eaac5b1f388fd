package pipeline

import (
	"github.com/mortdiggiddy/video-translator/internal/run"
)

// Segment is one timed span of speech. Start and End are seconds from the
// beginning of the source media.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// AudioResult is the extract_audio stage output.
type AudioResult struct {
	AudioPath       string  `json:"audio_path"`
	MediaPath       string  `json:"media_path"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// TranscriptResult is the transcribe stage output.
type TranscriptResult struct {
	Text             string    `json:"text"`
	DetectedLanguage string    `json:"detected_language"`
	Segments         []Segment `json:"segments"`
}

// TranslationResult is the translate stage output.
type TranslationResult struct {
	TranslatedText string `json:"translated_text"`
}

// SummaryResult is the summarize stage output.
type SummaryResult struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points"`
}

// SubtitleResult is the generate_subtitles stage output. SRT and VTT are
// derived from the same cue list so boundaries are identical across formats.
type SubtitleResult struct {
	SRTContent string `json:"srt_content"`
	VTTContent string `json:"vtt_content"`
}

// MuxResult is the mux_video stage output. Skipped is recorded when the run
// did not request video output so the checkpoint prefix stays contiguous.
type MuxResult struct {
	OutputPath string `json:"output_path,omitempty"`
	Skipped    bool   `json:"skipped"`
}

// ArtifactResult is the persist_artifacts stage output.
type ArtifactResult struct {
	ArtifactsDir  string   `json:"artifacts_dir"`
	Files         []string `json:"files"`
	SubtitlesPath string   `json:"subtitles_path"`
	VideoPath     string   `json:"video_path,omitempty"`
}

// State carries one run's input and accumulated stage outputs. Each stage's
// input is a pure function of the run input and earlier outputs; no hidden
// process-wide state is consulted. TempPaths collects scratch files scoped to
// this run for best-effort cleanup after a terminal status.
type State struct {
	RunID   string
	Input   run.Input
	WorkDir string

	Audio       *AudioResult
	Transcript  *TranscriptResult
	Translation *TranslationResult
	Summary     *SummaryResult
	Subtitles   *SubtitleResult
	Mux         *MuxResult
	Artifacts   *ArtifactResult

	tempPaths []string
}

// AddTemp registers a scratch path for cleanup when the run terminates.
func (st *State) AddTemp(path string) {
	if path == "" {
		return
	}
	st.tempPaths = append(st.tempPaths, path)
}

// TempPaths returns the scratch paths registered so far.
func (st *State) TempPaths() []string {
	cp := make([]string, len(st.tempPaths))
	copy(cp, st.tempPaths)
	return cp
}
