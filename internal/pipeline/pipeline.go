// Package pipeline defines the fixed stage topology: the stage contract, the
// typed state threaded between stages, and the compiled-in stage definitions.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Stage names, in execution order.
const (
	StageExtractAudio     = "extract_audio"
	StageTranscribe       = "transcribe"
	StageTranslate        = "translate"
	StageSummarize        = "summarize"
	StageSubtitles        = "generate_subtitles"
	StageMuxVideo         = "mux_video"
	StagePersistArtifacts = "persist_artifacts"
)

// Downstream dependency names used for circuit-breaker bookkeeping. Stages
// without an external dependency use the empty string.
const (
	DepFFmpeg      = "ffmpeg"
	DepOpenAIAudio = "openai-audio"
	DepOpenAIChat  = "openai-chat"
)

// Definition is the static, compiled-in description of one stage.
type Definition struct {
	Name           string
	Ordinal        int
	Dependency     string
	Timeout        time.Duration
	MaxAttempts    int
	BackoffBase    time.Duration
	ProgressWeight float64
}

// Stage is one ordinal step in the fixed pipeline. Execute performs the
// external call and returns the payload to checkpoint; Restore rehydrates the
// state from a previously-committed checkpoint without re-invoking anything.
type Stage interface {
	Definition() Definition
	Execute(ctx context.Context, st *State) (json.RawMessage, error)
	Restore(st *State, payload json.RawMessage) error
}

// Validate checks that a stage sequence is well-formed: contiguous ordinals
// from zero and progress weights summing to 100.
func Validate(stages []Stage) error {
	var total float64
	for i, stage := range stages {
		def := stage.Definition()
		if def.Ordinal != i {
			return fmt.Errorf("stage %q has ordinal %d, expected %d", def.Name, def.Ordinal, i)
		}
		if def.ProgressWeight < 0 {
			return fmt.Errorf("stage %q has negative progress weight", def.Name)
		}
		total += def.ProgressWeight
	}
	if total != 100 {
		return fmt.Errorf("progress weights sum to %v, expected 100", total)
	}
	return nil
}

// CumulativePercent returns the percent complete after the first `completed`
// stages have checkpointed.
func CumulativePercent(stages []Stage, completed int) float64 {
	var percent float64
	for i, stage := range stages {
		if i >= completed {
			break
		}
		percent += stage.Definition().ProgressWeight
	}
	if percent > 100 {
		percent = 100
	}
	return percent
}
