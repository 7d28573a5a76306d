package speakers

import "call-pipeline-go/internal/types"

// Rule identifies which turn-assignment rule produced a Decision.
type Rule int

const (
	RuleKeep Rule = iota
	RuleThirdPartyCue
	RuleAdvisorCue
	RuleClientCue
	RuleSilenceGap
	RuleLongHold
	RuleClientQuestion
)

func (r Rule) String() string {
	switch r {
	case RuleThirdPartyCue:
		return "third_party_cue"
	case RuleAdvisorCue:
		return "advisor_cue"
	case RuleClientCue:
		return "client_cue"
	case RuleSilenceGap:
		return "silence_gap"
	case RuleLongHold:
		return "long_hold"
	case RuleClientQuestion:
		return "client_question"
	default:
		return "keep"
	}
}

const (
	minSilenceGap    = 1.5
	longHoldGap      = 0.8
	silenceHoldTurns = 2
	longHoldTurns    = 3
)

// Decision is the outcome of evaluating one segment.
type Decision struct {
	Role types.Role
	Rule Rule
}

// Turn is the state carried between segments.
type Turn struct {
	Current     types.Role
	Consecutive int
}

// Input is what Decide needs to know about the segment being assigned.
type Input struct {
	Scores         Scores
	Gap            float64 // seconds since the previous segment ended
	PrevDuration   float64
	ClientQuestion bool
}

// DynamicThreshold scales the silence threshold with the previous turn length.
func DynamicThreshold(prevDuration float64) float64 {
	t := prevDuration * 0.8
	if t < 1.0 {
		return 1.0
	}
	if t > 3.0 {
		return 3.0
	}
	return t
}

// Decide applies the assignment rules in order; the first match wins.
func Decide(turn Turn, in Input) Decision {
	cur := turn.Current
	s := in.Scores

	switch {
	case s.ThirdParty > 0 && s.ThirdParty > s.Advisor && s.ThirdParty > s.Client && cur != types.RoleThirdParty:
		return Decision{types.RoleThirdParty, RuleThirdPartyCue}
	case s.Advisor > 0 && s.Advisor > s.Client && cur != types.RoleAdvisor:
		return Decision{types.RoleAdvisor, RuleAdvisorCue}
	case s.Client > 0 && s.Client > s.Advisor && cur != types.RoleClient:
		return Decision{types.RoleClient, RuleClientCue}
	case in.Gap > max(minSilenceGap, DynamicThreshold(in.PrevDuration)) && turn.Consecutive > silenceHoldTurns:
		return Decision{alternate(cur), RuleSilenceGap}
	case turn.Consecutive > longHoldTurns && in.Gap > longHoldGap:
		return Decision{alternate(cur), RuleLongHold}
	case in.ClientQuestion && cur == types.RoleAdvisor:
		return Decision{types.RoleClient, RuleClientQuestion}
	}
	return Decision{cur, RuleKeep}
}

// alternate flips between advisor and client. A third party hands the call
// back to the advisor.
func alternate(r types.Role) types.Role {
	if r == types.RoleAdvisor {
		return types.RoleClient
	}
	return types.RoleAdvisor
}

// Attribute assigns a role to every segment. Segments must already be
// filtered and ordered by start time.
func Attribute(segments []types.TranscriptSegment) []types.TranscriptSegment {
	out := make([]types.TranscriptSegment, len(segments))
	turn := Turn{Current: types.RoleAdvisor}

	for i, seg := range segments {
		in := Input{
			Scores:         ScoreSegment(seg.Text, i),
			ClientQuestion: IsClientQuestion(seg.Text),
		}
		if i > 0 {
			prev := segments[i-1]
			in.Gap = seg.Start - prev.End
			in.PrevDuration = prev.Duration()
		}

		d := Decide(turn, in)
		if d.Role != turn.Current {
			turn.Current = d.Role
			turn.Consecutive = 0
		} else {
			turn.Consecutive++
		}

		seg.Role = turn.Current
		out[i] = seg
	}
	return out
}
