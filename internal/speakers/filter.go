// Package speakers rebuilds a two-party call transcript from unlabeled
// speech-to-text segments.
//
// Attribution is heuristic: lexical cues, turn position and silence gaps.
// It will mislabel some turns; the goal is a stable, reproducible result.
package speakers

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"call-pipeline-go/internal/types"
)

// NoSpeechThreshold drops segments the model itself believes are silence.
const NoSpeechThreshold = 0.6

// Phrases the model emits when it echoes the instruction prompt or falls
// back to stock subtitle credits instead of transcribing.
var contaminationPhrases = []string{
	"transcribe el siguiente audio",
	"transcripción de una llamada",
	"llamada de servicio al cliente entre un asesor",
	"identifica a los hablantes",
	"subtítulos realizados por",
	"subtitulado por la comunidad",
	"amara.org",
	"gracias por ver el video",
	"suscríbete al canal",
}

var (
	noiseTagRe = regexp.MustCompile(`[\[\(][^\]\)]{1,40}[\]\)]`)
	spaceRe    = regexp.MustCompile(`\s+`)
)

// Filter drops unusable segments and returns the rest ordered by start time.
// The input slice is not modified.
func Filter(segments []types.TranscriptSegment) []types.TranscriptSegment {
	kept := make([]types.TranscriptSegment, 0, len(segments))
	for _, s := range segments {
		if keep(s) {
			kept = append(kept, s)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}

func keep(s types.TranscriptSegment) bool {
	if s.NoSpeechProb >= NoSpeechThreshold {
		return false
	}
	if s.End < s.Start {
		return false
	}
	text := strings.TrimSpace(s.Text)
	if !hasWordChars(text) {
		return false
	}
	if isContaminated(text) {
		return false
	}
	if isNoiseOnly(text) {
		return false
	}
	return true
}

func hasWordChars(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

func isContaminated(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range contaminationPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// isNoiseOnly reports whether the text is nothing but tags like [música] or (risas).
func isNoiseOnly(s string) bool {
	return !hasWordChars(noiseTagRe.ReplaceAllString(s, ""))
}

// CleanText strips noise tags and control characters and collapses whitespace.
func CleanText(s string) string {
	s = noiseTagRe.ReplaceAllString(s, " ")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
