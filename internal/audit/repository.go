package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends one audit entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO permission_audit_logs
			(id, action_type, target_type, target_id, permission_key, old_value, new_value, performed_by, reason, performed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.ActionType, entry.TargetType, entry.TargetID,
		optionalText(entry.PermissionKey), entry.OldValue, entry.NewValue,
		entry.PerformedBy, entry.Reason, entry.PerformedAt)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

// ListWindow returns up to limit entries matching the filters, newest first.
func (r *Repository) ListWindow(ctx context.Context, f Filters, offset, limit int) ([]Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Action != "" {
		add("action_type = $%d", f.Action)
	}
	if f.TargetType != "" {
		add("target_type = $%d", f.TargetType)
	}
	if f.TargetID != "" {
		add("target_id = $%d", f.TargetID)
	}
	if f.PerformedBy != 0 {
		add("performed_by = $%d", f.PerformedBy)
	}
	if !f.From.IsZero() {
		add("performed_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("performed_at <= $%d", f.To)
	}

	query := `
		SELECT id, action_type, target_type, target_id, permission_key, old_value, new_value, performed_by, reason, performed_at
		FROM permission_audit_logs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY performed_at DESC, id DESC"
	query += " OFFSET $" + strconv.Itoa(len(args)+1) + " LIMIT $" + strconv.Itoa(len(args)+2)
	args = append(args, offset, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: list entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry Entry
			key   pgtype.Text
		)
		if err := rows.Scan(&entry.ID, &entry.ActionType, &entry.TargetType, &entry.TargetID,
			&key, &entry.OldValue, &entry.NewValue, &entry.PerformedBy, &entry.Reason, &entry.PerformedAt); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		if key.Valid {
			value := key.String
			entry.PermissionKey = &value
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate entries: %w", err)
	}
	return entries, nil
}

func optionalText(value *string) pgtype.Text {
	if value == nil || strings.TrimSpace(*value) == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: *value, Valid: true}
}
