package speakers

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"call-pipeline-go/internal/types"
)

var (
	// ErrNoAnalyzableContent means nothing survived filtering.
	ErrNoAnalyzableContent = errors.New("no analyzable content")
	// ErrInsufficientConversation means the transcript does not hold a dialogue.
	ErrInsufficientConversation = errors.New("insufficient conversation")
)

const (
	silenceMarkerGap      = 2.0
	syntheticSentenceSecs = 8
	minTaggedLines        = 2
)

var sentenceRe = regexp.MustCompile(`[^.!?¿¡]+[.!?]*`)

// Transcript is the formatted, speaker-tagged conversation.
type Transcript struct {
	Turns []types.SpeakerTurn
	// FromSegments is false when roles were synthesized from flat text.
	FromSegments bool
}

// String renders one "[m:ss] Role: text" line per turn.
func (t Transcript) String() string {
	return Render(t.Turns)
}

// Build turns model output into a validated transcript. Segments win over
// flat text when both are present.
func Build(segments []types.TranscriptSegment, flat string) (Transcript, error) {
	var tr Transcript
	switch {
	case len(segments) > 0:
		kept := Filter(segments)
		if len(kept) == 0 {
			return Transcript{}, ErrNoAnalyzableContent
		}
		tr = Transcript{Turns: Format(Attribute(kept)), FromSegments: true}
	case strings.TrimSpace(flat) != "":
		tr = Transcript{Turns: FromText(flat)}
	default:
		return Transcript{}, ErrNoAnalyzableContent
	}
	if len(tr.Turns) == 0 {
		return Transcript{}, ErrNoAnalyzableContent
	}

	tr.Turns = Balance(tr.Turns)
	if err := Validate(tr.Turns); err != nil {
		return Transcript{}, err
	}
	return tr, nil
}

// Format converts attributed segments into turns, inserting a silence
// marker wherever the next segment starts two or more seconds later.
func Format(segments []types.TranscriptSegment) []types.SpeakerTurn {
	turns := make([]types.SpeakerTurn, 0, len(segments))
	for i, seg := range segments {
		text := CleanText(seg.Text)
		if text != "" {
			turns = append(turns, types.SpeakerTurn{Seconds: seg.Start, Role: seg.Role, Text: text})
		}
		if i+1 < len(segments) {
			gap := segments[i+1].Start - seg.End
			if gap >= silenceMarkerGap {
				turns = append(turns, types.SpeakerTurn{
					Seconds: seg.End,
					Role:    types.RoleSilence,
					Text:    fmt.Sprintf("%d segundos de pausa", int(math.Round(gap))),
				})
			}
		}
	}
	return turns
}

// FromText synthesizes turns when the model returned no segments. Roles
// flip on every sentence whose 1-based position is divisible by 2 or 3.
func FromText(text string) []types.SpeakerTurn {
	var turns []types.SpeakerTurn
	role := types.RoleAdvisor
	for _, raw := range sentenceRe.FindAllString(text, -1) {
		sentence := CleanText(raw)
		if !hasWordChars(sentence) {
			continue
		}
		i := len(turns)
		if i > 0 && ((i+1)%2 == 0 || (i+1)%3 == 0) {
			role = alternate(role)
		}
		turns = append(turns, types.SpeakerTurn{
			Seconds: float64(i * syntheticSentenceSecs),
			Role:    role,
			Text:    sentence,
		})
	}
	return turns
}

// Balance makes sure both advisor and client appear. When only one of them
// is present, every third line of that role is handed to the other.
func Balance(turns []types.SpeakerTurn) []types.SpeakerTurn {
	out := append([]types.SpeakerTurn(nil), turns...)
	advisor, client := countRole(out, types.RoleAdvisor), countRole(out, types.RoleClient)
	if (advisor > 0) == (client > 0) {
		return out
	}

	present, missing := types.RoleAdvisor, types.RoleClient
	if client > 0 {
		present, missing = types.RoleClient, types.RoleAdvisor
	}
	n := 0
	for i := range out {
		if out[i].Role != present {
			continue
		}
		n++
		if n%3 == 0 {
			out[i].Role = missing
		}
	}
	return out
}

// Validate rejects transcripts that are not a conversation.
func Validate(turns []types.SpeakerTurn) error {
	tagged := 0
	for _, t := range turns {
		if isSpeaker(t.Role) {
			tagged++
		}
	}
	if tagged < minTaggedLines {
		return fmt.Errorf("%w: %d speaker lines", ErrInsufficientConversation, tagged)
	}
	if countRole(turns, types.RoleAdvisor) == 0 && countRole(turns, types.RoleClient) == 0 {
		return fmt.Errorf("%w: no advisor or client lines", ErrInsufficientConversation)
	}
	return nil
}

// Render joins turns into the persisted transcript text.
func Render(turns []types.SpeakerTurn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[%s] %s: %s", FormatTimestamp(t.Seconds), t.Role, t.Text)
	}
	return b.String()
}

// FormatTimestamp renders seconds as m:ss.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// HasSpeakerTags reports whether rendered text carries an advisor or client tag.
func HasSpeakerTags(text string) bool {
	return strings.Contains(text, "] "+string(types.RoleAdvisor)+":") ||
		strings.Contains(text, "] "+string(types.RoleClient)+":")
}

func isSpeaker(r types.Role) bool {
	return r == types.RoleAdvisor || r == types.RoleClient || r == types.RoleThirdParty
}

func countRole(turns []types.SpeakerTurn, r types.Role) int {
	n := 0
	for _, t := range turns {
		if t.Role == r {
			n++
		}
	}
	return n
}
