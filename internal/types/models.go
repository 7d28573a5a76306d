package types

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a call record.
type Status string

const (
	StatusPending      Status = "pending"
	StatusTranscribing Status = "transcribing"
	StatusAnalyzing    Status = "analyzing"
	StatusComplete     Status = "complete"
	StatusError        Status = "error"
)

var statusRank = map[Status]int{
	StatusPending:      0,
	StatusTranscribing: 1,
	StatusAnalyzing:    2,
	StatusComplete:     3,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	if s == StatusError {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

// CanTransition reports whether a call may move from s to next.
// Status only moves forward, except to error. Whether a run may restart a
// call at transcribing is decided by storage.Store.ClaimCall.
func (s Status) CanTransition(next Status) bool {
	if !next.Valid() || !s.Valid() {
		return false
	}
	if next == StatusError {
		return s != StatusComplete
	}
	if next == StatusTranscribing && s != StatusComplete {
		return true
	}
	if s == StatusError {
		return false
	}
	return statusRank[next] > statusRank[s]
}

// ParseStatus converts a stored string into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown call status %q", v)
	}
	return s, nil
}

type CallRecord struct {
	ID               string    `json:"id"`
	AccountID        string    `json:"account_id"`
	Title            string    `json:"title"`
	AgentName        string    `json:"agent_name,omitempty"`
	AudioURL         string    `json:"audio_url"`
	DurationSeconds  float64   `json:"duration,omitempty"`
	Status           Status    `json:"status"`
	Progress         int       `json:"progress"`
	Transcription    string    `json:"transcription,omitempty"`
	Summary          string    `json:"summary,omitempty"`
	CallTopic        string    `json:"call_topic,omitempty"`
	Sentiment        string    `json:"sentiment,omitempty"`
	Entities         []string  `json:"entities"`
	Topics           []string  `json:"topics"`
	ContentEmbedding []float32 `json:"content_embedding,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BehaviorResult is the evaluation of one selected behavior for a call.
type BehaviorResult struct {
	BehaviorID string `json:"behavior_id"`
	Name       string `json:"name"`
	Compliant  bool   `json:"compliant"`
	Comment    string `json:"comment,omitempty"`
}

type FeedbackRecord struct {
	ID               string           `json:"id"`
	CallID           string           `json:"call_id"`
	AccountID        string           `json:"account_id"`
	Score            int              `json:"score"`
	Positive         []string         `json:"positive"`
	Negative         []string         `json:"negative"`
	Opportunities    []string         `json:"opportunities"`
	Sentiment        string           `json:"sentiment"`
	Entities         []string         `json:"entities"`
	Topics           []string         `json:"topics"`
	BehaviorAnalysis []BehaviorResult `json:"behaviors_analysis"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Behavior is an account-defined conduct the feedback stage evaluates.
type Behavior struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
