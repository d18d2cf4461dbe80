package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"jobflow/internal/models"
)

const prepressColumns = `id, job_ref, assigned_designer_id, assigned_at, priority, due_date,
	overall_status, design_status, die_plate_status, other_status,
	design_notes, die_plate_notes, other_notes, review_notes,
	created_by, created_at, updated_at, version`

func (s *Postgres) CreatePrepressJob(ctx context.Context, j models.PrepressJob) (models.PrepressJob, error) {
	j.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO prepress_jobs (`+prepressColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`, j.ID, j.JobRef, j.AssignedDesignerID, j.AssignedAt, j.Priority, j.DueDate,
		j.OverallStatus, j.DesignStatus, j.DiePlateStatus, j.OtherStatus,
		j.DesignNotes, j.DiePlateNotes, j.OtherNotes, j.ReviewNotes,
		j.CreatedBy, j.CreatedAt, j.UpdatedAt, j.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return models.PrepressJob{}, fmt.Errorf("prepress job for %s: %w", j.JobRef, ErrAlreadyExists)
		}
		return models.PrepressJob{}, fmt.Errorf("insert prepress job: %w", err)
	}
	return j, nil
}

func (s *Postgres) GetPrepressJob(ctx context.Context, id string) (models.PrepressJob, error) {
	return s.getPrepress(ctx, "id", id)
}

func (s *Postgres) GetPrepressJobByJobRef(ctx context.Context, jobRef string) (models.PrepressJob, error) {
	return s.getPrepress(ctx, "job_ref", jobRef)
}

func (s *Postgres) getPrepress(ctx context.Context, column, value string) (models.PrepressJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+prepressColumns+` FROM prepress_jobs WHERE `+column+` = $1`, value)
	j, err := scanPrepress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.PrepressJob{}, fmt.Errorf("prepress job %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return models.PrepressJob{}, fmt.Errorf("scan prepress job: %w", err)
	}
	return j, nil
}

func (s *Postgres) UpdatePrepressJob(ctx context.Context, j models.PrepressJob, expectedVersion int64) (models.PrepressJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE prepress_jobs SET
			assigned_designer_id = $3, assigned_at = $4, priority = $5, due_date = $6,
			overall_status = $7, design_status = $8, die_plate_status = $9, other_status = $10,
			design_notes = $11, die_plate_notes = $12, other_notes = $13, review_notes = $14,
			updated_at = $15, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+prepressColumns,
		j.ID, expectedVersion, j.AssignedDesignerID, j.AssignedAt, j.Priority, j.DueDate,
		j.OverallStatus, j.DesignStatus, j.DiePlateStatus, j.OtherStatus,
		j.DesignNotes, j.DiePlateNotes, j.OtherNotes, j.ReviewNotes, j.UpdatedAt)
	updated, err := scanPrepress(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetPrepressJob(ctx, j.ID); getErr != nil {
			return models.PrepressJob{}, getErr
		}
		return models.PrepressJob{}, fmt.Errorf("prepress job %s: %w", j.ID, ErrVersionConflict)
	}
	if err != nil {
		return models.PrepressJob{}, fmt.Errorf("update prepress job: %w", err)
	}
	return updated, nil
}

func scanPrepress(row pgx.Row) (models.PrepressJob, error) {
	var (
		j        models.PrepressJob
		designer pgtype.Text
	)
	err := row.Scan(&j.ID, &j.JobRef, &designer, &j.AssignedAt, &j.Priority, &j.DueDate,
		&j.OverallStatus, &j.DesignStatus, &j.DiePlateStatus, &j.OtherStatus,
		&j.DesignNotes, &j.DiePlateNotes, &j.OtherNotes, &j.ReviewNotes,
		&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &j.Version)
	if err != nil {
		return models.PrepressJob{}, err
	}
	j.AssignedDesignerID = textPtr(designer)
	return j, nil
}

func (s *Postgres) AppendPrepressActivity(ctx context.Context, a models.Activity) error {
	return s.appendActivity(ctx, "prepress_activities", "prepress_job_id", a)
}

func (s *Postgres) ListPrepressActivities(ctx context.Context, prepressJobID string) ([]models.Activity, error) {
	return s.listActivities(ctx, "prepress_activities", "prepress_job_id", prepressJobID)
}

func (s *Postgres) AppendInventoryActivity(ctx context.Context, a models.Activity) error {
	return s.appendActivity(ctx, "inventory_activities", "inventory_job_id", a)
}

func (s *Postgres) ListInventoryActivities(ctx context.Context, inventoryJobID string) ([]models.Activity, error) {
	return s.listActivities(ctx, "inventory_activities", "inventory_job_id", inventoryJobID)
}

func (s *Postgres) appendActivity(ctx context.Context, table, ownerColumn string, a models.Activity) error {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal activity metadata: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+table+` (id, `+ownerColumn+`, activity_type, description, metadata, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.OwnerID, a.ActivityType, a.Description, metaJSON, a.UserID, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}

func (s *Postgres) listActivities(ctx context.Context, table, ownerColumn, ownerID string) ([]models.Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, `+ownerColumn+`, activity_type, description, metadata, user_id, created_at
		FROM `+table+` WHERE `+ownerColumn+` = $1 ORDER BY seq
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()
	var out []models.Activity
	for rows.Next() {
		var (
			a        models.Activity
			metaJSON []byte
		)
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.ActivityType, &a.Description, &metaJSON, &a.UserID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		if err := json.Unmarshal(metaJSON, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal activity metadata: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const inventoryColumns = `id, job_ref, assigned_to, priority, due_date, status, notes, created_by, created_at, updated_at, version`

func (s *Postgres) CreateInventoryJob(ctx context.Context, j models.InventoryJob) (models.InventoryJob, error) {
	j.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO inventory_jobs (`+inventoryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, j.ID, j.JobRef, j.AssignedTo, j.Priority, j.DueDate, j.Status, j.Notes, j.CreatedBy, j.CreatedAt, j.UpdatedAt, j.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return models.InventoryJob{}, fmt.Errorf("inventory job for %s: %w", j.JobRef, ErrAlreadyExists)
		}
		return models.InventoryJob{}, fmt.Errorf("insert inventory job: %w", err)
	}
	return j, nil
}

func (s *Postgres) GetInventoryJob(ctx context.Context, id string) (models.InventoryJob, error) {
	return s.getInventory(ctx, "id", id)
}

func (s *Postgres) GetInventoryJobByJobRef(ctx context.Context, jobRef string) (models.InventoryJob, error) {
	return s.getInventory(ctx, "job_ref", jobRef)
}

func (s *Postgres) getInventory(ctx context.Context, column, value string) (models.InventoryJob, error) {
	j, err := scanInventory(s.pool.QueryRow(ctx, `SELECT `+inventoryColumns+` FROM inventory_jobs WHERE `+column+` = $1`, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.InventoryJob{}, fmt.Errorf("inventory job %s: %w", value, ErrNotFound)
	}
	if err != nil {
		return models.InventoryJob{}, fmt.Errorf("scan inventory job: %w", err)
	}
	return j, nil
}

func (s *Postgres) UpdateInventoryJob(ctx context.Context, j models.InventoryJob, expectedVersion int64) (models.InventoryJob, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE inventory_jobs
		SET assigned_to = $3, priority = $4, due_date = $5, status = $6, notes = $7, updated_at = $8, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+inventoryColumns,
		j.ID, expectedVersion, j.AssignedTo, j.Priority, j.DueDate, j.Status, j.Notes, j.UpdatedAt)
	updated, err := scanInventory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetInventoryJob(ctx, j.ID); getErr != nil {
			return models.InventoryJob{}, getErr
		}
		return models.InventoryJob{}, fmt.Errorf("inventory job %s: %w", j.ID, ErrVersionConflict)
	}
	if err != nil {
		return models.InventoryJob{}, fmt.Errorf("update inventory job: %w", err)
	}
	return updated, nil
}

func scanInventory(row pgx.Row) (models.InventoryJob, error) {
	var j models.InventoryJob
	err := row.Scan(&j.ID, &j.JobRef, &j.AssignedTo, &j.Priority, &j.DueDate, &j.Status, &j.Notes,
		&j.CreatedBy, &j.CreatedAt, &j.UpdatedAt, &j.Version)
	return j, err
}

const requestColumns = `id, inventory_job_id, material_ref, unit,
	quantity_requested, quantity_approved, quantity_issued, status,
	requested_by, approved_by, issued_by, notes, created_at, approved_at, issued_at, updated_at, version`

func (s *Postgres) CreateMaterialRequest(ctx context.Context, r models.MaterialRequest) (models.MaterialRequest, error) {
	r.Version = 1
	_, err := s.pool.Exec(ctx, `
		INSERT INTO material_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, r.ID, r.InventoryJobID, r.MaterialRef, r.Unit,
		r.QuantityRequested.String(), r.QuantityApproved.String(), r.QuantityIssued.String(), r.Status,
		r.RequestedBy, r.ApprovedBy, r.IssuedBy, r.Notes, r.CreatedAt, r.ApprovedAt, r.IssuedAt, r.UpdatedAt, r.Version)
	if err != nil {
		if pgCode(err) == "23503" {
			return models.MaterialRequest{}, fmt.Errorf("inventory job %s: %w", r.InventoryJobID, ErrNotFound)
		}
		return models.MaterialRequest{}, fmt.Errorf("insert material request: %w", err)
	}
	return r, nil
}

func (s *Postgres) GetMaterialRequest(ctx context.Context, id string) (models.MaterialRequest, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM material_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MaterialRequest{}, fmt.Errorf("material request %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.MaterialRequest{}, fmt.Errorf("scan material request: %w", err)
	}
	return r, nil
}

func (s *Postgres) UpdateMaterialRequest(ctx context.Context, r models.MaterialRequest, expectedVersion int64) (models.MaterialRequest, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE material_requests SET
			quantity_approved = $3, quantity_issued = $4, status = $5,
			approved_by = $6, issued_by = $7, notes = $8, approved_at = $9, issued_at = $10, updated_at = $11,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+requestColumns,
		r.ID, expectedVersion, r.QuantityApproved.String(), r.QuantityIssued.String(), r.Status,
		r.ApprovedBy, r.IssuedBy, r.Notes, r.ApprovedAt, r.IssuedAt, r.UpdatedAt)
	updated, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.GetMaterialRequest(ctx, r.ID); getErr != nil {
			return models.MaterialRequest{}, getErr
		}
		return models.MaterialRequest{}, fmt.Errorf("material request %s: %w", r.ID, ErrVersionConflict)
	}
	if err != nil {
		return models.MaterialRequest{}, fmt.Errorf("update material request: %w", err)
	}
	return updated, nil
}

func (s *Postgres) ListMaterialRequests(ctx context.Context, inventoryJobID string) ([]models.MaterialRequest, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM material_requests
		WHERE inventory_job_id = $1 ORDER BY created_at, id
	`, inventoryJobID)
	if err != nil {
		return nil, fmt.Errorf("list material requests: %w", err)
	}
	defer rows.Close()
	var out []models.MaterialRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan material request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRequest(row pgx.Row) (models.MaterialRequest, error) {
	var (
		r                           models.MaterialRequest
		requested, approved, issued pgtype.Numeric
	)
	err := row.Scan(&r.ID, &r.InventoryJobID, &r.MaterialRef, &r.Unit,
		&requested, &approved, &issued, &r.Status,
		&r.RequestedBy, &r.ApprovedBy, &r.IssuedBy, &r.Notes, &r.CreatedAt, &r.ApprovedAt, &r.IssuedAt, &r.UpdatedAt, &r.Version)
	if err != nil {
		return models.MaterialRequest{}, err
	}
	r.QuantityRequested = numericToDecimal(requested)
	r.QuantityApproved = numericToDecimal(approved)
	r.QuantityIssued = numericToDecimal(issued)
	return r, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
