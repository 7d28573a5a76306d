package voicesession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"call-pipeline-go/internal/provider"
)

// Backend is a realtime voice service.
type Backend interface {
	Name() string
	// Connect opens a session. ctx scopes the whole session, not just the
	// handshake, and is cancelled when the returned connection is closed or
	// the handshake is abandoned. onUtterance may be called from any
	// goroutine until the returned connection is closed.
	Connect(ctx context.Context, onUtterance func(speaker, text string)) (io.Closer, error)
}

// Dialer connects a session to the primary backend, falling back to the
// secondary one.
type Dialer struct {
	Primary        Backend
	Secondary      Backend
	ConnectTimeout time.Duration
}

type dialRequest struct {
	session *Session
}

// Dial connects s, starting from Idle. When both backends fail the session
// ends and the joined failures are returned.
func (d Dialer) Dial(ctx context.Context, s *Session) (io.Closer, error) {
	backends := []Backend{d.Primary}
	if d.Secondary != nil {
		backends = append(backends, d.Secondary)
	}
	return d.attempt(ctx, s, backends)
}

// Recover handles a remote error on the live primary backend by moving
// the session to the secondary one.
func (d Dialer) Recover(ctx context.Context, s *Session) (io.Closer, error) {
	if _, err := s.Fire(RemoteError); err != nil {
		return nil, err
	}
	if s.State() != FallingBack || d.Secondary == nil {
		d.end(s)
		return nil, fmt.Errorf("no backend left after remote error")
	}
	return d.attempt(ctx, s, []Backend{d.Secondary})
}

// Hangup ends a connected session.
func (d Dialer) Hangup(s *Session, conn io.Closer) error {
	if _, err := s.Fire(UserHangup); err != nil {
		return err
	}
	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}
	if _, err := s.Fire(Closed); err != nil {
		return err
	}
	return closeErr
}

func (d Dialer) attempt(ctx context.Context, s *Session, backends []Backend) (io.Closer, error) {
	providers := make([]provider.Provider[dialRequest, io.Closer], 0, len(backends))
	for _, b := range backends {
		providers = append(providers, provider.Provider[dialRequest, io.Closer]{
			Name: b.Name(),
			Call: func(ctx context.Context, req dialRequest) (io.Closer, error) {
				return d.connect(ctx, req.session, b)
			},
		})
	}

	res, err := provider.Attempt(ctx, providers, dialRequest{session: s}, func(err error) bool {
		return errors.Is(err, ErrInvalidTransition)
	})
	if err != nil {
		d.end(s)
		return nil, err
	}
	return res.Value, nil
}

// connect moves the session into the connecting state for b and reports
// the outcome as an event. ConnectTimeout bounds only the handshake: the
// context handed to b stays live until the returned connection is closed.
func (d Dialer) connect(ctx context.Context, s *Session, b Backend) (io.Closer, error) {
	if _, err := s.Fire(Start); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	results := make(chan dialed, 1)
	go func() {
		conn, err := b.Connect(sctx, func(speaker, text string) { s.Record(speaker, text) })
		results <- dialed{conn: conn, err: err}
	}()

	var timeout <-chan time.Time
	if d.ConnectTimeout > 0 {
		t := time.NewTimer(d.ConnectTimeout)
		defer t.Stop()
		timeout = t.C
	}

	var err error
	select {
	case r := <-results:
		if r.err == nil {
			if err := s.connected(b.Name()); err != nil {
				r.conn.Close()
				cancel()
				return nil, err
			}
			return &sessionConn{Closer: r.conn, cancel: cancel}, nil
		}
		cancel()
		err = r.err
	case <-timeout:
		cancel()
		go closeLate(results)
		err = fmt.Errorf("connecting to %s: %w", b.Name(), context.DeadlineExceeded)
	case <-ctx.Done():
		cancel()
		go closeLate(results)
		err = ctx.Err()
	}

	ev := ConnectFailed
	if errors.Is(err, context.DeadlineExceeded) {
		ev = Timeout
	}
	s.Fire(ev)
	return nil, err
}

type dialed struct {
	conn io.Closer
	err  error
}

// closeLate releases a connection that finished after connect gave up on it.
func closeLate(results <-chan dialed) {
	if r := <-results; r.err == nil && r.conn != nil {
		r.conn.Close()
	}
}

// sessionConn ties the backend session context to the connection.
type sessionConn struct {
	io.Closer
	cancel context.CancelFunc
}

func (c *sessionConn) Close() error {
	defer c.cancel()
	return c.Closer.Close()
}

// end drives the session to Ended from wherever the failure left it.
func (d Dialer) end(s *Session) {
	if s.State() == FallingBack {
		s.Fire(UserHangup)
	}
	if s.State() == Ending {
		s.Fire(Closed)
	}
}
