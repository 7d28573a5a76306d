package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"call-pipeline-go/internal/types"
)

const feedbackColumns = `id, call_id, account_id, score, positive, negative, opportunities, sentiment,
	entities, topics, behavior_analysis, created_at`

// InsertFeedback appends a feedback row. Rows are never updated.
func (s *Store) InsertFeedback(ctx context.Context, f *types.FeedbackRecord) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = s.now()
	}

	lists := make([]any, 0, 6)
	for _, l := range [][]string{f.Positive, f.Negative, f.Opportunities} {
		v, err := encodeList(l)
		if err != nil {
			return err
		}
		lists = append(lists, v)
	}
	entities, err := encodeList(f.Entities)
	if err != nil {
		return err
	}
	topics, err := encodeList(f.Topics)
	if err != nil {
		return err
	}
	behaviors, err := encodeList(f.BehaviorAnalysis)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO feedback (`+feedbackColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.CallID, f.AccountID, f.Score, lists[0], lists[1], lists[2], f.Sentiment,
		entities, topics, behaviors, formatTime(f.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting feedback for call %s: %w", f.CallID, err)
	}
	return nil
}

// ListFeedbackByCall returns a call's feedback rows, oldest first.
func (s *Store) ListFeedbackByCall(ctx context.Context, callID string) ([]types.FeedbackRecord, error) {
	return s.queryFeedback(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE call_id = ?
		ORDER BY created_at ASC, rowid ASC`, callID)
}

// ListFeedbackByAccount returns every feedback row of an account, oldest first.
func (s *Store) ListFeedbackByAccount(ctx context.Context, accountID string) ([]types.FeedbackRecord, error) {
	return s.queryFeedback(ctx, `SELECT `+feedbackColumns+` FROM feedback WHERE account_id = ?
		ORDER BY created_at ASC, rowid ASC`, accountID)
}

func (s *Store) queryFeedback(ctx context.Context, q string, args ...any) ([]types.FeedbackRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.FeedbackRecord
	for rows.Next() {
		var (
			f                                 types.FeedbackRecord
			positive, negative, opportunities string
			entities, topics, behaviors       string
			createdAt                         string
		)
		if err := rows.Scan(&f.ID, &f.CallID, &f.AccountID, &f.Score, &positive, &negative, &opportunities,
			&f.Sentiment, &entities, &topics, &behaviors, &createdAt); err != nil {
			return nil, err
		}
		for _, p := range []struct {
			raw string
			dst *[]string
		}{{positive, &f.Positive}, {negative, &f.Negative}, {opportunities, &f.Opportunities}, {entities, &f.Entities}, {topics, &f.Topics}} {
			if err := decodeList(p.raw, p.dst); err != nil {
				return nil, err
			}
		}
		if err := decodeList(behaviors, &f.BehaviorAnalysis); err != nil {
			return nil, err
		}
		if f.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
