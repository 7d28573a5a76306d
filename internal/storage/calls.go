package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"call-pipeline-go/internal/types"
)

const callColumns = `id, account_id, title, agent_name, audio_url, duration_seconds, status, progress,
	transcription, summary, call_topic, sentiment, entities, topics, content_embedding, created_at, updated_at`

// CreateCall inserts c as a new pending call. An empty ID gets a fresh uuid.
func (s *Store) CreateCall(ctx context.Context, c *types.CallRecord) error {
	if c.AccountID == "" {
		return fmt.Errorf("call has no account")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = types.StatusPending
	}
	entities, err := encodeList(c.Entities)
	if err != nil {
		return err
	}
	topics, err := encodeList(c.Topics)
	if err != nil {
		return err
	}
	now := s.now()
	c.CreatedAt, c.UpdatedAt = now, now

	_, err = s.db.ExecContext(ctx, `INSERT INTO calls (`+callColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Title, c.AgentName, c.AudioURL, c.DurationSeconds, string(c.Status), c.Progress,
		c.Transcription, c.Summary, c.CallTopic, c.Sentiment, entities, topics, encodeEmbedding(c.ContentEmbedding),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("inserting call %s: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, id string) (types.CallRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+callColumns+` FROM calls WHERE id = ?`, id)
	c, err := scanCall(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.CallRecord{}, ErrNotFound
	}
	return c, err
}

// ListCalls returns an account's calls, oldest first. An empty account
// lists every call.
func (s *Store) ListCalls(ctx context.Context, accountID string) ([]types.CallRecord, error) {
	q := `SELECT ` + callColumns + ` FROM calls`
	var args []any
	if accountID != "" {
		q += ` WHERE account_id = ?`
		args = append(args, accountID)
	}
	q += ` ORDER BY created_at ASC, rowid ASC`
	return s.queryCalls(ctx, q, args...)
}

// ListCallsByStatus returns up to limit calls in status, oldest first.
func (s *Store) ListCallsByStatus(ctx context.Context, status types.Status, limit int) ([]types.CallRecord, error) {
	return s.queryCalls(ctx, `SELECT `+callColumns+` FROM calls WHERE status = ?
		ORDER BY created_at ASC, rowid ASC LIMIT ?`, string(status), limit)
}

func (s *Store) queryCalls(ctx context.Context, q string, args ...any) ([]types.CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.CallRecord
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CallUpdate lists the fields to change. Zero values leave a column alone.
type CallUpdate struct {
	Status        types.Status
	Progress      *int
	Transcription *string
	Duration      *float64
	Summary       *string
	CallTopic     *string
	Sentiment     *string
	Entities      []string
	Topics        []string
	Embedding     []float32
}

// ClaimCall starts a run on call id by moving it to transcribing at the
// given progress. Only pending and error calls can be claimed, plus
// transcribing or analyzing calls untouched for staleAfter (their run died).
// A zero staleAfter never reclaims in-progress calls. The single UPDATE makes
// concurrent claims race inside SQLite: exactly one caller gets true.
func (s *Store) ClaimCall(ctx context.Context, id string, progress int, staleAfter time.Duration) (bool, error) {
	now := s.now()
	cutoff := ""
	if staleAfter > 0 {
		cutoff = formatTime(now.Add(-staleAfter))
	}
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET status = ?, progress = ?, updated_at = ?
		WHERE id = ? AND (status IN (?, ?) OR (status IN (?, ?) AND updated_at < ?))`,
		string(types.StatusTranscribing), progress, formatTime(now), id,
		string(types.StatusPending), string(types.StatusError),
		string(types.StatusTranscribing), string(types.StatusAnalyzing), cutoff,
	)
	if err != nil {
		return false, fmt.Errorf("claiming call %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claiming call %s: %w", id, err)
	}
	return n == 1, nil
}

// UpdateCall applies u to call id. A status change must be allowed by
// types.Status.CanTransition; repeating the current status is fine.
func (s *Store) UpdateCall(ctx context.Context, id string, u CallUpdate) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if u.Status != "" {
		set("status", string(u.Status))
	}
	if u.Progress != nil {
		p := *u.Progress
		if p < 0 || p > 100 {
			return fmt.Errorf("progress %d out of range", p)
		}
		set("progress", p)
	}
	if u.Transcription != nil {
		set("transcription", *u.Transcription)
	}
	if u.Duration != nil {
		set("duration_seconds", *u.Duration)
	}
	if u.Summary != nil {
		set("summary", *u.Summary)
	}
	if u.CallTopic != nil {
		set("call_topic", *u.CallTopic)
	}
	if u.Sentiment != nil {
		set("sentiment", *u.Sentiment)
	}
	if u.Entities != nil {
		v, err := encodeList(u.Entities)
		if err != nil {
			return err
		}
		set("entities", v)
	}
	if u.Topics != nil {
		v, err := encodeList(u.Topics)
		if err != nil {
			return err
		}
		set("topics", v)
	}
	if u.Embedding != nil {
		set("content_embedding", encodeEmbedding(u.Embedding))
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", s.timestamp())
	args = append(args, id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM calls WHERE id = ?`, id).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if u.Status != "" && types.Status(current) != u.Status && !types.Status(current).CanTransition(u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, u.Status)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE calls SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...); err != nil {
		return fmt.Errorf("updating call %s: %w", id, err)
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCall(row scanner) (types.CallRecord, error) {
	var (
		c                    types.CallRecord
		status               string
		entities, topics     string
		embedding            []byte
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.Title, &c.AgentName, &c.AudioURL, &c.DurationSeconds, &status, &c.Progress,
		&c.Transcription, &c.Summary, &c.CallTopic, &c.Sentiment, &entities, &topics, &embedding, &createdAt, &updatedAt)
	if err != nil {
		return types.CallRecord{}, err
	}
	if c.Status, err = types.ParseStatus(status); err != nil {
		return types.CallRecord{}, err
	}
	if err := decodeList(entities, &c.Entities); err != nil {
		return types.CallRecord{}, err
	}
	if err := decodeList(topics, &c.Topics); err != nil {
		return types.CallRecord{}, err
	}
	if c.ContentEmbedding, err = decodeEmbedding(embedding); err != nil {
		return types.CallRecord{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return types.CallRecord{}, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return types.CallRecord{}, err
	}
	return c, nil
}
