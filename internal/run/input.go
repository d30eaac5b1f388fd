package run

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mortdiggiddy/video-translator/internal/language"
	"github.com/mortdiggiddy/video-translator/internal/services"
)

// Input holds the immutable job parameters for one run. It is validated once
// at the registry boundary; the orchestrator and stages treat it as read-only.
type Input struct {
	MediaPath      string `json:"media_path"`
	SourceLang     string `json:"source_lang,omitempty"` // empty means auto-detect
	TargetLang     string `json:"target_lang"`
	SourceDisplay  string `json:"source_display,omitempty"`
	TargetDisplay  string `json:"target_display"`
	WantVideo      bool   `json:"want_video"`
	BurnInSubs     bool   `json:"burn_in_subs"`
	OutputBasename string `json:"output_basename"`
}

// ValidateInput normalizes raw parameters into a fully-typed Input. All
// problems surface as a single permanent error before any stage starts.
func ValidateInput(mediaPath, sourceLang, targetLang string, wantVideo, burnIn bool) (Input, error) {
	mediaPath = strings.TrimSpace(mediaPath)
	if mediaPath == "" {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "media path must not be empty", nil)
	}
	abs, err := filepath.Abs(mediaPath)
	if err != nil {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "resolve media path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "media file not accessible", err)
	}
	if info.IsDir() {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "media path is a directory", nil)
	}

	target, err := language.Parse(targetLang)
	if err != nil {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "target language", err)
	}

	input := Input{
		MediaPath:      abs,
		TargetLang:     target.Code,
		TargetDisplay:  target.Display,
		WantVideo:      wantVideo,
		BurnInSubs:     burnIn,
		OutputBasename: Slug(abs),
	}
	if strings.TrimSpace(sourceLang) != "" {
		source, err := language.Parse(sourceLang)
		if err != nil {
			return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "source language", err)
		}
		input.SourceLang = source.Code
		input.SourceDisplay = source.Display
	}
	if burnIn && !wantVideo {
		return Input{}, services.Wrap(services.ErrPermanent, "registry", "validate", "burn-in requires video output", nil)
	}
	return input, nil
}
