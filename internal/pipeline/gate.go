package pipeline

import (
	"errors"
	"strings"

	"call-pipeline-go/internal/speakers"
	"call-pipeline-go/internal/transcription"
)

const minTranscriptChars = 100

var (
	ErrEmptyTranscript       = errors.New("transcript is empty")
	ErrTranscriptUnavailable = errors.New("transcript unavailable")
	ErrTranscriptTooShort    = errors.New("transcript too short")
	ErrNoSpeakerTags         = errors.New("transcript has no speaker tags")
)

// unavailablePrefix starts every "no transcription" placeholder.
const unavailablePrefix = "No hay transcripción disponible"

// CheckTranscript is the quality gate applied before analysis.
func CheckTranscript(text string) error {
	t := strings.TrimSpace(text)
	switch {
	case t == "":
		return ErrEmptyTranscript
	case t == transcription.SentinelTooLarge || strings.HasPrefix(t, unavailablePrefix):
		return ErrTranscriptUnavailable
	case len([]rune(t)) < minTranscriptChars:
		return ErrTranscriptTooShort
	case !speakers.HasSpeakerTags(t):
		return ErrNoSpeakerTags
	}
	return nil
}

// buildTranscript attributes speakers and applies the quality gate. The
// returned text is what gets persisted either way.
func buildTranscript(tr transcription.Result) (string, int, error) {
	if tr.TooLarge {
		return tr.Text, 0, ErrTranscriptUnavailable
	}
	t, err := speakers.Build(tr.Segments, tr.Text)
	if err != nil {
		return strings.TrimSpace(tr.Text), 0, err
	}
	text := t.String()
	if err := CheckTranscript(text); err != nil {
		return text, len(t.Turns), err
	}
	return text, len(t.Turns), nil
}
