package run

import (
	"path/filepath"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const slugMaxLen = 40

// Slug derives a filesystem-safe, human-readable token from a media path:
// the base name without extension, lowercased, with runs of non-alphanumerics
// collapsed to single hyphens.
func Slug(mediaPath string) string {
	base := filepath.Base(mediaPath)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(base) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "media"
	}
	if len(slug) > slugMaxLen {
		slug = strings.Trim(slug[:slugMaxLen], "-")
	}
	return slug
}

// NewID builds a run identifier that is both discoverable (slug + target
// language) and collision-resistant (random suffix).
func NewID(mediaPath, targetLang string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return Slug(mediaPath) + "-" + targetLang + "-" + suffix
}
