package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinoteka/kinoteka/internal/authz"
)

// Store persists facts into admin_action_logs and reads them back.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore returns a new Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Record persists the fact.
func (s *Store) Record(ctx context.Context, fact authz.Fact) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("audit: store not initialised")
	}
	if fact.Action == "" {
		return fmt.Errorf("audit: fact requires an action")
	}
	target := fact.Target
	if target == nil {
		target = authz.NoTarget{}
	}
	oldJSON, err := marshalValues(fact.Old)
	if err != nil {
		return err
	}
	newJSON, err := marshalValues(fact.New)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO admin_action_logs (action, outcome, actor_id, target_type, target_id, old_values, new_values, reason, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		fact.Action, string(fact.Outcome), fact.ActorID, target.TargetType(), target.TargetID(), oldJSON, newJSON, fact.Reason, nullTime(fact))
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// TimelineWindow returns up to limit rows starting at offset, newest first.
func (s *Store) TimelineWindow(ctx context.Context, filters TimelineFilters, limit, offset int) ([]TimelineRow, error) {
	where, args := timelineWhere(filters)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT id, occurred_at, actor_id, action, outcome, target_type, target_id, old_values, new_values, reason
FROM admin_action_logs %s ORDER BY occurred_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))
	return s.queryRows(ctx, query, args...)
}

// TimelineAll returns every row matching filters, newest first.
func (s *Store) TimelineAll(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	where, args := timelineWhere(filters)
	query := `SELECT id, occurred_at, actor_id, action, outcome, target_type, target_id, old_values, new_values, reason
FROM admin_action_logs ` + where + ` ORDER BY occurred_at DESC, id DESC`
	return s.queryRows(ctx, query, args...)
}

func (s *Store) queryRows(ctx context.Context, query string, args ...any) ([]TimelineRow, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	defer rows.Close()
	var out []TimelineRow
	for rows.Next() {
		var row TimelineRow
		var oldJSON, newJSON []byte
		if err := rows.Scan(&row.ID, &row.At, &row.ActorID, &row.Action, &row.Outcome, &row.TargetType, &row.TargetID, &oldJSON, &newJSON, &row.Reason); err != nil {
			return nil, fmt.Errorf("audit: scan timeline: %w", err)
		}
		row.OldValues = unmarshalValues(oldJSON)
		row.NewValues = unmarshalValues(newJSON)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate timeline: %w", err)
	}
	return out, nil
}

func timelineWhere(f TimelineFilters) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if !f.From.IsZero() {
		add("occurred_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < $%d", f.To)
	}
	if f.ActorID > 0 {
		add("actor_id = $%d", f.ActorID)
	}
	if t := strings.TrimSpace(f.TargetType); t != "" {
		add("target_type = $%d", t)
	}
	if a := strings.TrimSpace(f.Action); a != "" {
		add("action = $%d", a)
	}
	if o := strings.TrimSpace(f.Outcome); o != "" {
		add("outcome = $%d", o)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func marshalValues(values map[string]any) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("audit: encode values: %w", err)
	}
	return data, nil
}

func unmarshalValues(data []byte) map[string]any {
	if len(data) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func nullTime(fact authz.Fact) any {
	if fact.At.IsZero() {
		return nil
	}
	return fact.At
}
