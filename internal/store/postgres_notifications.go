package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"

	"jobflow/internal/models"
)

func (s *Postgres) CreateNotification(ctx context.Context, n models.Notification) error {
	recipients := n.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, job_ref, type, title, message, priority, recipients, created_by, created_at, is_read)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, n.JobRef, n.Type, n.Title, n.Message, n.Priority, recipients, n.CreatedBy, n.CreatedAt, n.IsRead)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *Postgres) ListNotifications(ctx context.Context, f NotificationFilter) ([]models.Notification, error) {
	var (
		where []string
		args  []any
	)
	if f.JobRef != "" {
		args = append(args, f.JobRef)
		where = append(where, fmt.Sprintf("job_ref = $%d", len(args)))
	}
	if f.Recipient != "" {
		args = append(args, f.Recipient)
		where = append(where, fmt.Sprintf("$%d = ANY(recipients)", len(args)))
	}
	if f.UnreadOnly {
		where = append(where, "NOT is_read")
	}
	query := `SELECT id, job_ref, type, title, message, priority, recipients, created_by, created_at, is_read FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []models.Notification
	for rows.Next() {
		var (
			n      models.Notification
			jobRef pgtype.Text
		)
		if err := rows.Scan(&n.ID, &jobRef, &n.Type, &n.Title, &n.Message, &n.Priority, &n.Recipients, &n.CreatedBy, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.JobRef = textPtr(jobRef)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Postgres) MarkNotificationRead(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}
