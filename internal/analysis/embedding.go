package analysis

import (
	"strings"
)

// EmbeddingInput is the call content folded into the embedding text.
type EmbeddingInput struct {
	Title      string
	Agent      string
	Summary    string
	Topics     []string
	Category   string
	Entities   []string
	Transcript string
}

// EmbeddingText joins the non-empty fields, transcript last, and caps the
// result at 8000 runes.
func EmbeddingText(in EmbeddingInput) string {
	var parts []string
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("Título", in.Title)
	add("Asesor", in.Agent)
	add("Resumen", in.Summary)
	add("Temas", strings.Join(in.Topics, ", "))
	add("Categoría", in.Category)
	add("Entidades", strings.Join(in.Entities, ", "))
	add("Transcripción", in.Transcript)

	r := []rune(strings.Join(parts, "\n"))
	if len(r) > maxEmbeddingRunes {
		r = r[:maxEmbeddingRunes]
	}
	return string(r)
}
