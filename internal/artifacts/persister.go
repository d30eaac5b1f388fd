// Package artifacts implements the persist_artifacts stage: the run's final
// outputs are written to a per-run directory under the configured artifacts
// root. Every file lands through a temp-file rename, so a retried attempt
// either reproduces an identical file or replaces a partial one; it never
// leaves torn output.
package artifacts

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mortdiggiddy/video-translator/internal/config"
	"github.com/mortdiggiddy/video-translator/internal/fileutil"
	"github.com/mortdiggiddy/video-translator/internal/logging"
	"github.com/mortdiggiddy/video-translator/internal/pipeline"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Artifact filenames inside the per-run directory.
const (
	FileSubtitlesSRT  = "subtitles.srt"
	FileSubtitlesVTT  = "subtitles.vtt"
	FileTranscription = "transcription.txt"
	FileTranslation   = "translation.txt"
	FileMetadata      = "metadata.json"
	FileVideo         = "translated_video.mkv"
)

// Persister writes the run's artifacts to durable storage.
type Persister struct {
	root   string
	logger *slog.Logger
}

// NewPersister constructs the stage from the configured artifacts root.
func NewPersister(cfg config.Paths, logger *slog.Logger) *Persister {
	return &Persister{
		root:   cfg.ArtifactsDir,
		logger: logging.WithComponent(logger, "artifacts"),
	}
}

func (p *Persister) Definition() pipeline.Definition {
	return pipeline.Definition{
		Name:           pipeline.StagePersistArtifacts,
		Ordinal:        6,
		Timeout:        2 * time.Minute,
		MaxAttempts:    2,
		BackoffBase:    time.Second,
		ProgressWeight: 5,
	}
}

// metadata is the content of metadata.json. It stays a pure function of the
// run's inputs and stage outputs so retries reproduce identical bytes.
type metadata struct {
	RunID            string   `json:"run_id"`
	MediaPath        string   `json:"media_path"`
	SourceLang       string   `json:"source_lang,omitempty"`
	DetectedLanguage string   `json:"detected_language,omitempty"`
	TargetLang       string   `json:"target_lang"`
	DurationSeconds  float64  `json:"duration_seconds"`
	Summary          string   `json:"summary"`
	KeyPoints        []string `json:"key_points"`
}

func (p *Persister) Execute(ctx context.Context, st *pipeline.State) (json.RawMessage, error) {
	switch {
	case st.Audio == nil, st.Transcript == nil, st.Translation == nil, st.Summary == nil, st.Subtitles == nil, st.Mux == nil:
		return nil, services.Wrap(services.ErrConflict, pipeline.StagePersistArtifacts, "execute", "missing upstream stage output", nil)
	}

	dir := filepath.Join(p.root, st.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrTransient, pipeline.StagePersistArtifacts, "create artifacts dir", dir, err)
	}

	meta, err := json.MarshalIndent(metadata{
		RunID:            st.RunID,
		MediaPath:        st.Input.MediaPath,
		SourceLang:       st.Input.SourceLang,
		DetectedLanguage: st.Transcript.DetectedLanguage,
		TargetLang:       st.Input.TargetLang,
		DurationSeconds:  st.Audio.DurationSeconds,
		Summary:          st.Summary.Summary,
		KeyPoints:        st.Summary.KeyPoints,
	}, "", "  ")
	if err != nil {
		return nil, services.Wrap(services.ErrPermanent, pipeline.StagePersistArtifacts, "encode metadata", "", err)
	}

	files := map[string][]byte{
		FileSubtitlesSRT:  []byte(st.Subtitles.SRTContent),
		FileSubtitlesVTT:  []byte(st.Subtitles.VTTContent),
		FileTranscription: []byte(st.Transcript.Text),
		FileTranslation:   []byte(st.Translation.TranslatedText),
		FileMetadata:      meta,
	}
	names := []string{FileSubtitlesSRT, FileSubtitlesVTT, FileTranscription, FileTranslation, FileMetadata}
	for _, name := range names {
		if err := fileutil.WriteFileAtomic(filepath.Join(dir, name), files[name], 0o644); err != nil {
			return nil, services.Wrap(services.ErrTransient, pipeline.StagePersistArtifacts, "write artifact", name, err)
		}
	}

	result := pipeline.ArtifactResult{
		ArtifactsDir:  dir,
		Files:         names,
		SubtitlesPath: filepath.Join(dir, FileSubtitlesSRT),
	}

	if st.Mux.OutputPath != "" && !st.Mux.Skipped {
		videoPath := filepath.Join(dir, FileVideo)
		if err := fileutil.CopyFile(st.Mux.OutputPath, videoPath); err != nil {
			return nil, services.Wrap(services.ErrTransient, pipeline.StagePersistArtifacts, "copy video", st.Mux.OutputPath, err)
		}
		result.VideoPath = videoPath
		result.Files = append(result.Files, FileVideo)
	}

	st.Artifacts = &result
	p.logger.Info("artifacts persisted",
		logging.String(logging.FieldRunID, st.RunID),
		logging.String("dir", dir),
		logging.Int("files", len(result.Files)))
	return json.Marshal(result)
}

func (p *Persister) Restore(st *pipeline.State, payload json.RawMessage) error {
	var result pipeline.ArtifactResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return services.Wrap(services.ErrConflict, pipeline.StagePersistArtifacts, "restore", "undecodable checkpoint", err)
	}
	st.Artifacts = &result
	return nil
}
