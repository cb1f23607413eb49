// Package types defines the shared types used across callbridge packages.
//
// Each package defines its own domain types; only cross-cutting values that
// several layers agree on live here to avoid circular imports.
package types

import (
	"slices"
	"strings"
)

// Language is a lowercase ISO 639-1 language code such as "en" or "es".
type Language string

// SupportedLanguages is the closed set of languages a conference can be
// bridged between. Order is stable and used for display.
var SupportedLanguages = []Language{
	"en", "es", "fr", "de", "it", "pt", "nl", "pl",
	"ru", "uk", "tr", "ar", "hi", "zh", "ja", "ko",
}

var languageNames = map[Language]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"nl": "Dutch",
	"pl": "Polish",
	"ru": "Russian",
	"uk": "Ukrainian",
	"tr": "Turkish",
	"ar": "Arabic",
	"hi": "Hindi",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
}

// ParseLanguage normalizes s (case, surrounding space, and an optional region
// suffix such as "en-US") and reports whether the result is supported.
func ParseLanguage(s string) (Language, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i > 0 {
		s = s[:i]
	}
	l := Language(s)
	return l, l.Supported()
}

// Supported reports whether l is in [SupportedLanguages].
func (l Language) Supported() bool {
	return slices.Contains(SupportedLanguages, l)
}

// Name returns the English display name of l, or the code itself when l is
// not supported.
func (l Language) Name() string {
	if n, ok := languageNames[l]; ok {
		return n
	}
	return string(l)
}

func (l Language) String() string { return string(l) }
