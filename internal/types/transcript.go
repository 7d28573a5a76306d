package types

// Role is the speaker assigned to a transcript line.
type Role string

const (
	RoleAdvisor    Role = "Asesor"
	RoleClient     Role = "Cliente"
	RoleThirdParty Role = "Tercero"
	RoleSilence    Role = "Silencio"
)

// TranscriptSegment is one span of speech returned by the speech-to-text model.
type TranscriptSegment struct {
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	NoSpeechProb float64 `json:"no_speech_prob"`
	Role         Role    `json:"-"`
}

// Duration returns the segment length in seconds.
func (s TranscriptSegment) Duration() float64 {
	if s.End < s.Start {
		return 0
	}
	return s.End - s.Start
}

// SpeakerTurn is a single formatted line of the transcript.
type SpeakerTurn struct {
	Seconds float64
	Role    Role
	Text    string
}
