package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"call-pipeline-go/internal/types"
)

func (s *Store) SaveBehavior(ctx context.Context, b *types.Behavior) error {
	if b.AccountID == "" || strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("behavior needs an account and a name")
	}
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	b.CreatedAt = s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behaviors (id, account_id, name, description, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`,
		b.ID, b.AccountID, b.Name, b.Description, formatTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving behavior %s: %w", b.ID, err)
	}
	return nil
}

// GetBehaviors returns the account's behaviors among ids, in ids order.
// Unknown ids and ids of other accounts are skipped.
func (s *Store) GetBehaviors(ctx context.Context, accountID string, ids []string) ([]types.Behavior, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := []any{accountID}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, account_id, name, description, created_at
		FROM behaviors WHERE account_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[string]types.Behavior{}
	for rows.Next() {
		var (
			b         types.Behavior
			createdAt string
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Name, &b.Description, &createdAt); err != nil {
			return nil, err
		}
		if b.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		found[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.Behavior, 0, len(found))
	for _, id := range ids {
		if b, ok := found[id]; ok {
			out = append(out, b)
			delete(found, id)
		}
	}
	return out, nil
}
