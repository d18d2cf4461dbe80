package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobflow/internal/models"
)

// Postgres wraps pgxpool for persistence of every workflow entity.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

const lifecycleColumns = `id, job_ref, product_type, status, current_stage,
	prepress_status, inventory_status, production_status, qa_status, dispatch_status,
	prepress_notes, inventory_notes, production_notes, qa_notes, dispatch_notes,
	priority, due_date, held_from, created_by, created_at, updated_at, version`

func (s *Postgres) CreateLifecycle(ctx context.Context, lc models.JobLifecycle) (models.JobLifecycle, error) {
	lc.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_lifecycles (`+lifecycleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
	`, lc.ID, lc.JobRef, lc.ProductType, lc.Status, lc.CurrentStage,
		lc.PrepressStatus, lc.InventoryStatus, lc.ProductionStatus, lc.QAStatus, lc.DispatchStatus,
		lc.PrepressNotes, lc.InventoryNotes, lc.ProductionNotes, lc.QANotes, lc.DispatchNotes,
		lc.Priority, lc.DueDate, statusPtr(lc.HeldFrom), lc.CreatedBy, lc.CreatedAt, lc.UpdatedAt, lc.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", lc.JobRef, ErrAlreadyExists)
		}
		return models.JobLifecycle{}, fmt.Errorf("insert lifecycle: %w", err)
	}
	return lc, nil
}

func (s *Postgres) GetLifecycleByJob(ctx context.Context, jobRef string) (models.JobLifecycle, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+lifecycleColumns+` FROM job_lifecycles WHERE job_ref = $1`, jobRef)
	lc, err := scanLifecycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", jobRef, ErrNotFound)
	}
	if err != nil {
		return models.JobLifecycle{}, fmt.Errorf("scan lifecycle: %w", err)
	}
	return lc, nil
}

// UpdateLifecycle writes every mutable column only when the stored version
// still matches expectedVersion.
func (s *Postgres) UpdateLifecycle(ctx context.Context, lc models.JobLifecycle, expectedVersion int64) (models.JobLifecycle, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE job_lifecycles SET
			product_type = $3, status = $4, current_stage = $5,
			prepress_status = $6, inventory_status = $7, production_status = $8, qa_status = $9, dispatch_status = $10,
			prepress_notes = $11, inventory_notes = $12, production_notes = $13, qa_notes = $14, dispatch_notes = $15,
			priority = $16, due_date = $17, held_from = $18, updated_at = $19, version = version + 1
		WHERE job_ref = $1 AND version = $2
		RETURNING `+lifecycleColumns,
		lc.JobRef, expectedVersion, lc.ProductType, lc.Status, lc.CurrentStage,
		lc.PrepressStatus, lc.InventoryStatus, lc.ProductionStatus, lc.QAStatus, lc.DispatchStatus,
		lc.PrepressNotes, lc.InventoryNotes, lc.ProductionNotes, lc.QANotes, lc.DispatchNotes,
		lc.Priority, lc.DueDate, statusPtr(lc.HeldFrom), lc.UpdatedAt)
	updated, err := scanLifecycle(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetLifecycleByJob(ctx, lc.JobRef); getErr != nil {
			return models.JobLifecycle{}, getErr
		}
		return models.JobLifecycle{}, fmt.Errorf("lifecycle %s: %w", lc.JobRef, ErrVersionConflict)
	}
	if err != nil {
		return models.JobLifecycle{}, fmt.Errorf("update lifecycle: %w", err)
	}
	return updated, nil
}

func (s *Postgres) ListLifecycles(ctx context.Context, f LifecycleFilter) ([]models.JobLifecycle, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		where = append(where, fmt.Sprintf("priority = $%d", len(args)))
	}
	query := `SELECT ` + lifecycleColumns + ` FROM job_lifecycles`
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
		return nil, fmt.Errorf("list lifecycles: %w", err)
	}
	defer rows.Close()
	var out []models.JobLifecycle
	for rows.Next() {
		lc, err := scanLifecycle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lifecycle: %w", err)
		}
		out = append(out, lc)
	}
	return out, rows.Err()
}

func (s *Postgres) CountLifecyclesByStatus(ctx context.Context) (map[models.OverallStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM job_lifecycles GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count lifecycles: %w", err)
	}
	defer rows.Close()
	out := make(map[models.OverallStatus]int)
	for rows.Next() {
		var (
			status models.OverallStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (s *Postgres) AppendHistory(ctx context.Context, e models.LifecycleHistoryEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO lifecycle_history (id, lifecycle_id, status, message, changed_by, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.LifecycleID, e.Status, e.Message, e.ChangedBy, e.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

func (s *Postgres) ListHistory(ctx context.Context, lifecycleID string) ([]models.LifecycleHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, lifecycle_id, status, message, changed_by, changed_at
		FROM lifecycle_history WHERE lifecycle_id = $1 ORDER BY seq
	`, lifecycleID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []models.LifecycleHistoryEntry
	for rows.Next() {
		var e models.LifecycleHistoryEntry
		if err := rows.Scan(&e.ID, &e.LifecycleID, &e.Status, &e.Message, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanLifecycle(row pgx.Row) (models.JobLifecycle, error) {
	var (
		lc       models.JobLifecycle
		heldFrom pgtype.Text
	)
	err := row.Scan(&lc.ID, &lc.JobRef, &lc.ProductType, &lc.Status, &lc.CurrentStage,
		&lc.PrepressStatus, &lc.InventoryStatus, &lc.ProductionStatus, &lc.QAStatus, &lc.DispatchStatus,
		&lc.PrepressNotes, &lc.InventoryNotes, &lc.ProductionNotes, &lc.QANotes, &lc.DispatchNotes,
		&lc.Priority, &lc.DueDate, &heldFrom, &lc.CreatedBy, &lc.CreatedAt, &lc.UpdatedAt, &lc.Version)
	if err != nil {
		return models.JobLifecycle{}, err
	}
	if heldFrom.Valid {
		st := models.OverallStatus(heldFrom.String)
		lc.HeldFrom = &st
	}
	return lc, nil
}

func statusPtr(s *models.OverallStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func textPtr(t pgtype.Text) *string {
	if t.Valid {
		return &t.String
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return pgCode(err) == "23505"
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
