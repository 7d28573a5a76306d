package voicesession

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
)

// Entry is one utterance captured from whichever backend was live.
type Entry struct {
	Backend string    `json:"backend"`
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Transition is one applied state change.
type Transition struct {
	From  State
	Event Event
	To    State
	At    time.Time
}

// Session is safe for concurrent use; backend callbacks may arrive from
// any goroutine.
type Session struct {
	ID string

	mu         sync.Mutex
	state      State
	backend    string
	transcript []Entry
	history    []Transition
	now        func() time.Time
	log        *logrus.Entry
}

func New(log *logrus.Entry) *Session {
	if log == nil {
		log = logger.Discard()
	}
	id := uuid.NewString()
	return &Session{
		ID:    id,
		state: Idle,
		now:   time.Now,
		log:   log.WithFields(logrus.Fields{"component": "voicesession", "session_id": id}),
	}
}

// Fire applies ev and returns the new state. Invalid events leave the
// state unchanged.
func (s *Session) Fire(ev Event) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fireLocked(ev)
}

func (s *Session) fireLocked(ev Event) (State, error) {
	to, err := Next(s.state, ev)
	if err != nil {
		return s.state, err
	}
	s.history = append(s.history, Transition{From: s.state, Event: ev, To: to, At: s.now()})
	s.log.WithFields(logrus.Fields{"from": s.state, "event": ev, "to": to}).Debug("session transition")
	s.state = to
	if !to.Connected() {
		s.backend = ""
	}
	return to, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Backend names the live backend, empty when not connected.
func (s *Session) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

// connected fires ConnectSucceeded and records which backend is live.
func (s *Session) connected(backend string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.fireLocked(ConnectSucceeded); err != nil {
		return err
	}
	s.backend = backend
	return nil
}

// Record appends an utterance to the unified transcript. Utterances that
// arrive while no backend is live are dropped and Record returns false.
func (s *Session) Record(speaker, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Connected() || text == "" {
		return false
	}
	s.transcript = append(s.transcript, Entry{Backend: s.backend, Speaker: speaker, Text: text, At: s.now()})
	return true
}

func (s *Session) Transcript() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.transcript...)
}

func (s *Session) History() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transition(nil), s.history...)
}
