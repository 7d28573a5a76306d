package analysis

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// OtherTopic is the catch-all category.
const OtherTopic = "Otro"

// Topics is the fixed category list, OtherTopic last.
var Topics = []string{
	"Ventas",
	"Soporte técnico",
	"Facturación",
	"Cobranza",
	"Reclamo",
	"Cancelación",
	"Renovación",
	"Agendamiento",
	"Información general",
	OtherTopic,
}

// NormalizeTopic maps free model output onto Topics. Matching ignores case,
// accents and surrounding punctuation; anything unrecognized is OtherTopic.
func NormalizeTopic(raw string) string {
	got := fold(raw)
	if got == "" {
		return OtherTopic
	}
	for _, t := range Topics {
		if fold(t) == got {
			return t
		}
	}
	for _, t := range Topics {
		if strings.Contains(got, fold(t)) {
			return t
		}
	}
	return OtherTopic
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = strings.ToLower(out)
	return strings.TrimFunc(out, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
