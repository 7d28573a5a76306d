package voicesession

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"call-pipeline-go/internal/provider"
)

func TestNext_Table(t *testing.T) {
	tests := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{Idle, Start, ConnectingPrimary, true},
		{ConnectingPrimary, ConnectSucceeded, ConnectedPrimary, true},
		{ConnectingPrimary, Timeout, FallingBack, true},
		{ConnectingPrimary, ConnectFailed, FallingBack, true},
		{ConnectedPrimary, RemoteError, FallingBack, true},
		{FallingBack, Start, ConnectingSecondary, true},
		{ConnectingSecondary, ConnectSucceeded, ConnectedSecondary, true},
		{ConnectingSecondary, ConnectFailed, Ending, true},
		{ConnectedSecondary, UserHangup, Ending, true},
		{Ending, Closed, Ended, true},
		{Idle, ConnectSucceeded, Idle, false},
		{ConnectedPrimary, Start, ConnectedPrimary, false},
		{Ended, Start, Ended, false},
		{Ending, UserHangup, Ending, false},
	}
	for _, tt := range tests {
		got, err := Next(tt.from, tt.ev)
		if tt.ok && err != nil {
			t.Errorf("%s on %s: %v", tt.ev, tt.from, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on %s: err = %v, want ErrInvalidTransition", tt.ev, tt.from, err)
		}
		if got != tt.want {
			t.Errorf("%s on %s = %s, want %s", tt.ev, tt.from, got, tt.want)
		}
	}
}

func TestEndedIsTerminal(t *testing.T) {
	for ev := Start; ev <= Closed; ev++ {
		if _, err := Next(Ended, ev); err == nil {
			t.Errorf("Ended accepted %s", ev)
		}
	}
}

func TestSession_ConcurrentEvents(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Fire(Start); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || s.State() != ConnectingPrimary {
		t.Errorf("accepted = %d, state = %s", accepted, s.State())
	}
	if h := s.History(); len(h) != 1 || h[0].From != Idle {
		t.Errorf("history = %+v", h)
	}
}

type fakeConn struct{ closed bool }

func (c *fakeConn) Close() error { c.closed = true; return nil }

type fakeBackend struct {
	name  string
	err   error
	block bool
	say   []string
	conn  *fakeConn
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) Connect(ctx context.Context, onUtterance func(speaker, text string)) (io.Closer, error) {
	if b.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b.err != nil {
		return nil, b.err
	}
	b.conn = &fakeConn{}
	go func() {
		for _, text := range b.say {
			onUtterance("agent", text)
		}
	}()
	return b.conn, nil
}

func TestDial_PrimaryConnects(t *testing.T) {
	primary := &fakeBackend{name: "primary"}
	d := Dialer{Primary: primary, Secondary: &fakeBackend{name: "secondary"}}
	s := New(nil)

	conn, err := d.Dial(context.Background(), s)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if s.State() != ConnectedPrimary || s.Backend() != "primary" {
		t.Errorf("state = %s backend = %s", s.State(), s.Backend())
	}

	if err := d.Hangup(s, conn); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if s.State() != Ended || !primary.conn.closed {
		t.Errorf("state = %s closed = %v", s.State(), primary.conn.closed)
	}
}

func TestDial_FallsBack(t *testing.T) {
	tests := []struct {
		name    string
		primary *fakeBackend
		first   Event
	}{
		{"connect failure", &fakeBackend{name: "primary", err: errors.New("refused")}, ConnectFailed},
		{"timeout", &fakeBackend{name: "primary", block: true}, Timeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Dialer{Primary: tt.primary, Secondary: &fakeBackend{name: "secondary"}, ConnectTimeout: 20 * time.Millisecond}
			s := New(nil)

			if _, err := d.Dial(context.Background(), s); err != nil {
				t.Fatalf("Dial: %v", err)
			}
			if s.State() != ConnectedSecondary || s.Backend() != "secondary" {
				t.Errorf("state = %s backend = %s", s.State(), s.Backend())
			}
			h := s.History()
			if len(h) != 4 || h[1].Event != tt.first || h[1].To != FallingBack {
				t.Errorf("history = %+v", h)
			}
		})
	}
}

func TestDial_BothFail(t *testing.T) {
	d := Dialer{
		Primary:   &fakeBackend{name: "primary", err: errors.New("refused")},
		Secondary: &fakeBackend{name: "secondary", err: errors.New("503")},
	}
	s := New(nil)

	_, err := d.Dial(context.Background(), s)
	if !errors.Is(err, provider.ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted", err)
	}
	if s.State() != Ended {
		t.Errorf("state = %s, want ended", s.State())
	}
}

func TestDial_NotIdle(t *testing.T) {
	d := Dialer{Primary: &fakeBackend{name: "primary"}, Secondary: &fakeBackend{name: "secondary"}}
	s := New(nil)
	if _, err := d.Dial(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Dial(context.Background(), s); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second Dial err = %v", err)
	}
	if s.State() != ConnectedPrimary {
		t.Errorf("state = %s", s.State())
	}
}

func TestUnifiedTranscript(t *testing.T) {
	primary := &fakeBackend{name: "primary"}
	secondary := &fakeBackend{name: "secondary"}
	d := Dialer{Primary: primary, Secondary: secondary}
	s := New(nil)

	if _, err := d.Dial(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	s.Record("user", "hola, quiero información")
	s.Record("agent", "claro, con gusto")

	conn, err := d.Recover(context.Background(), s)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	s.Record("user", "¿sigue ahí?")
	d.Hangup(s, conn)
	if s.Record("user", "after hangup") {
		t.Error("recorded after hangup")
	}

	tr := s.Transcript()
	if len(tr) != 3 {
		t.Fatalf("transcript = %+v", tr)
	}
	if tr[0].Backend != "primary" || tr[1].Backend != "primary" || tr[2].Backend != "secondary" {
		t.Errorf("backends = %s %s %s", tr[0].Backend, tr[1].Backend, tr[2].Backend)
	}
}

func TestRecover_FromSecondaryEnds(t *testing.T) {
	d := Dialer{Primary: &fakeBackend{name: "primary", err: errors.New("x")}, Secondary: &fakeBackend{name: "secondary"}}
	s := New(nil)
	if _, err := d.Dial(context.Background(), s); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Recover(context.Background(), s); err == nil {
		t.Fatal("expected error")
	}
	if s.State() != Ended {
		t.Errorf("state = %s", s.State())
	}
}

// sessionBackend keeps its stream bound to the context it was connected with.
type sessionBackend struct {
	ctx  context.Context
	conn *fakeConn
}

func (b *sessionBackend) Name() string { return "primary" }

func (b *sessionBackend) Connect(ctx context.Context, onUtterance func(speaker, text string)) (io.Closer, error) {
	b.ctx = ctx
	b.conn = &fakeConn{}
	return b.conn, nil
}

func TestDial_SessionOutlivesConnectTimeout(t *testing.T) {
	primary := &sessionBackend{}
	d := Dialer{Primary: primary, ConnectTimeout: 20 * time.Millisecond}
	s := New(nil)

	conn, err := d.Dial(context.Background(), s)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	time.Sleep(3 * d.ConnectTimeout)
	if err := primary.ctx.Err(); err != nil {
		t.Fatalf("session context ended while connected: %v", err)
	}

	if err := d.Hangup(s, conn); err != nil {
		t.Fatalf("Hangup: %v", err)
	}
	if primary.ctx.Err() == nil || !primary.conn.closed {
		t.Errorf("after hangup ctx err = %v closed = %v", primary.ctx.Err(), primary.conn.closed)
	}
}

func TestDial_TimeoutCancelsHandshake(t *testing.T) {
	primary := &fakeBackend{name: "primary", block: true}
	d := Dialer{Primary: primary, ConnectTimeout: 20 * time.Millisecond}
	s := New(nil)

	_, err := d.Dial(context.Background(), s)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if s.State() != Ended {
		t.Errorf("state = %s, want ended", s.State())
	}
}
