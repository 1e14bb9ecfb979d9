// Package language detects the language of user text and translates between
// that language and English. Failures degrade to pass-through and never
// block a pipeline run.
package language

import (
	"context"
	"strings"
	"unicode"

	xlanguage "golang.org/x/text/language"
)

// English is the pipeline's working language.
const English = "en"

// Detected is the result of language detection.
type Detected struct {
	Code       string
	Confidence float64
}

// Translator is the language service used by the pipeline and formatter.
type Translator interface {
	Detect(ctx context.Context, text string) Detected
	Translate(ctx context.Context, text string, from string, to string) string
}

// Canonical reduces a BCP-47 tag to its base language ("es-MX" becomes
// "es"). Unparseable input yields "".
func Canonical(code string) string {
	code = strings.TrimSpace(code)
	if code == "" || strings.EqualFold(code, "auto") {
		return ""
	}

	tag, err := xlanguage.Parse(code)
	if err != nil {
		return ""
	}
	base, confidence := tag.Base()
	if confidence == xlanguage.No {
		return ""
	}

	return base.String()
}

// Identity is a translator that detects English and never translates.
type Identity struct{}

func (Identity) Detect(context.Context, string) Detected {
	return Detected{Code: English, Confidence: 1}
}

func (Identity) Translate(_ context.Context, text string, _ string, _ string) string {
	return text
}

var scriptHints = []struct {
	table *unicode.RangeTable
	code  string
}{
	{unicode.Devanagari, "hi"},
	{unicode.Bengali, "bn"},
	{unicode.Tamil, "ta"},
	{unicode.Arabic, "ar"},
	{unicode.Hebrew, "he"},
	{unicode.Cyrillic, "ru"},
	{unicode.Greek, "el"},
	{unicode.Thai, "th"},
	{unicode.Hangul, "ko"},
	{unicode.Hiragana, "ja"},
	{unicode.Katakana, "ja"},
	{unicode.Han, "zh"},
}

// Hint guesses a language from the dominant non-Latin script without any
// network call. Latin-script text returns "" since the script alone does not
// identify the language.
func Hint(text string) string {
	counts := make(map[string]int)
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		for _, hint := range scriptHints {
			if unicode.Is(hint.table, r) {
				counts[hint.code]++
				break
			}
		}
	}
	if letters == 0 {
		return ""
	}

	best, bestCount := "", 0
	for _, hint := range scriptHints {
		if n := counts[hint.code]; n > bestCount {
			best, bestCount = hint.code, n
		}
	}
	// Kana mixed with kanji is Japanese even when kanji dominate.
	if best == "zh" && counts["ja"] > 0 {
		best = "ja"
	}
	if bestCount*2 < letters {
		return ""
	}

	return best
}
