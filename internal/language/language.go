package language

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// wellKnown is the candidate set used for name-based lookup ("Spanish" → es).
// Code-based lookup accepts any valid BCP-47 tag regardless of this list.
var wellKnown = []language.Tag{
	language.English, language.Spanish, language.French, language.German,
	language.Italian, language.Portuguese, language.Dutch, language.Polish,
	language.Swedish, language.Danish, language.Norwegian, language.Finnish,
	language.Russian, language.Ukrainian, language.Czech, language.Greek,
	language.Turkish, language.Arabic, language.Hebrew, language.Hindi,
	language.Bengali, language.Thai, language.Vietnamese, language.Indonesian,
	language.Malay, language.Japanese, language.Korean, language.Chinese,
	language.SimplifiedChinese, language.TraditionalChinese, language.Romanian,
	language.Hungarian, language.Bulgarian, language.Croatian, language.Serbian,
	language.Slovak, language.Slovenian, language.Lithuanian, language.Latvian,
	language.Estonian, language.Persian, language.Urdu, language.Tamil,
	language.Telugu, language.Swahili, language.Filipino, language.Catalan,
}

var byName = func() map[string]language.Tag {
	namer := display.English.Tags()
	m := make(map[string]language.Tag, len(wellKnown))
	for _, tag := range wellKnown {
		name := strings.ToLower(strings.TrimSpace(namer.Name(tag)))
		if name == "" {
			continue
		}
		if _, exists := m[name]; !exists {
			m[name] = tag
		}
	}
	return m
}()

// Lang is a normalized language with both the code used on the wire and the
// English display name used in prompts.
type Lang struct {
	Tag     language.Tag
	Code    string // base ISO 639-1 code, e.g. "es"
	Display string // English name, e.g. "Spanish"
}

// Parse normalizes a user-supplied language identifier. It accepts ISO codes
// ("es"), BCP-47 tags ("es-MX"), and English names ("Spanish",
// case-insensitive).
func Parse(value string) (Lang, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return Lang{}, fmt.Errorf("language must not be empty")
	}

	if tag, ok := byName[strings.ToLower(trimmed)]; ok {
		return fromTag(tag), nil
	}

	tag, err := language.Parse(trimmed)
	if err != nil {
		return Lang{}, fmt.Errorf("unrecognized language %q", value)
	}
	return fromTag(tag), nil
}

func fromTag(tag language.Tag) Lang {
	base, _ := tag.Base()
	return Lang{
		Tag:     tag,
		Code:    base.String(),
		Display: display.English.Tags().Name(tag),
	}
}
