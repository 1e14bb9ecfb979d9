package classifier

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// chainPool holds transformer chains; a chain keeps state and is not safe
// for concurrent use.
var chainPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Cf)),
			runes.Map(foldPunctuation),
			width.Fold,
		)
	},
}

// Normalize prepares text for lexicon matching: NFKC, case folding,
// typographic quotes folded to ASCII, whitespace collapsed and trimmed.
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToValidUTF8(s, "")

	tr := chainPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	chainPool.Put(tr)
	if err != nil {
		out = strings.ToLower(s)
	}

	return strings.Join(strings.Fields(out), " ")
}

func foldPunctuation(r rune) rune {
	switch r {
	case '‘', '’', '‛', '′', 'ʼ', '`':
		return '\''
	case '“', '”', '‟', '″':
		return '"'
	case '‐', '‑', '‒', '–', '—':
		return '-'
	default:
		return r
	}
}
