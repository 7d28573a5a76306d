package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/processor"
	"call-pipeline-go/internal/types"
)

// ErrDisabled is returned by New for an empty schedule.
var ErrDisabled = errors.New("sweeper disabled")

const defaultBatchSize = 200

type CallLister interface {
	ListCallsByStatus(ctx context.Context, status types.Status, limit int) ([]types.CallRecord, error)
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

// Report summarizes one sweep.
type Report struct {
	Found     int
	Completed int
	Degraded  int
	Failed    int
	// Skipped counts calls another trigger already owned or finished.
	Skipped int
}

// Sweeper periodically runs the pipeline for calls still pending.
type Sweeper struct {
	calls       CallLister
	runner      Runner
	sched       cron.Schedule
	concurrency int
	batchSize   int
	log         *logrus.Entry
}

// New parses a standard 5-field cron expression (minute hour day-of-month
// month day-of-week), e.g. "*/5 * * * *". An empty schedule or "off"
// returns ErrDisabled.
func New(schedule string, calls CallLister, runner Runner, concurrency int, log *logrus.Entry) (*Sweeper, error) {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" || schedule == "off" {
		return nil, ErrDisabled
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", schedule, err)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Sweeper{
		calls:       calls,
		runner:      runner,
		sched:       sched,
		concurrency: concurrency,
		batchSize:   defaultBatchSize,
		log:         log.WithFields(logrus.Fields{"component": "sweeper", "schedule": schedule}),
	}, nil
}

// Next is the first run strictly after now.
func (s *Sweeper) Next(now time.Time) time.Time {
	return s.sched.Next(now)
}

// Sweep processes one batch of pending calls through the worker pool.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	pending, err := s.calls.ListCallsByStatus(ctx, types.StatusPending, s.batchSize)
	if err != nil {
		return Report{}, fmt.Errorf("listing pending calls: %w", err)
	}
	rep := Report{Found: len(pending)}
	if len(pending) == 0 {
		return rep, nil
	}

	outcomes := processor.Map(ctx, pending, s.concurrency, func(ctx context.Context, c types.CallRecord) (pipeline.Result, error) {
		return s.runner.Run(ctx, pipeline.Request{CallID: c.ID, AccountID: c.AccountID})
	})
	for i, o := range outcomes {
		switch {
		case o.Err != nil:
			rep.Failed++
			logger.WithCall(s.log, pending[i].ID, pending[i].AccountID).WithError(o.Err).Warn("sweep run failed")
		case o.Value.AlreadyRunning || o.Value.AlreadyCompleted:
			rep.Skipped++
		case o.Value.Degraded:
			rep.Degraded++
		default:
			rep.Completed++
		}
	}
	return rep, nil
}

// Start launches the schedule loop in its own goroutine and returns at once.
// The loop stops when ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		for {
			now := time.Now()
			next := s.Next(now)
			s.log.WithField("next", next.Format(time.RFC3339)).Debug("next sweep scheduled")

			t := time.NewTimer(next.Sub(now))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}

			rep, err := s.Sweep(ctx)
			if err != nil {
				s.log.WithError(err).Error("sweep failed")
				continue
			}
			if rep.Found > 0 {
				s.log.WithFields(logrus.Fields{
					"found":     rep.Found,
					"completed": rep.Completed,
					"degraded":  rep.Degraded,
					"failed":    rep.Failed,
					"skipped":   rep.Skipped,
				}).Info("sweep complete")
			}
		}
	}()
}
