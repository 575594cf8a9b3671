package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/siteops/site-entry-api/internal/models"
)

// ErrDeploymentConflict signals that an overlapping non-terminal deployment
// already holds the equipment or the worker.
var ErrDeploymentConflict = errors.New("conflicting deployment window")

const deploymentColumns = `id, entry_request_id, equipment_id, worker_id, final_company_id, site_name, site_address,
       rate_schedule, start_date, planned_end_date, actual_end_date, status, idempotency_key, created_by, created_at, updated_at`

// nonTerminalStatuses is the predicate used by every overlap check.
const nonTerminalStatuses = `('ACTIVE','EXTENDED')`

// DeploymentRepository persists deployments and their audit trail.
type DeploymentRepository struct {
	db *sqlx.DB
}

// NewDeploymentRepository constructs the repository.
func NewDeploymentRepository(db *sqlx.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Create inserts the deployment after locking and checking for window
// conflicts inside one transaction. The schema additionally carries gist
// exclusion constraints over (equipment_id, window) and (worker_id, window)
// for non-terminal rows, so a race that slips past the lock still surfaces as
// ErrDeploymentConflict instead of a double booking. Replaying an idempotency
// key returns the previously created deployment.
func (r *DeploymentRepository) Create(ctx context.Context, deployment *models.Deployment) error {
	now := time.Now().UTC()
	if deployment.ID == "" {
		deployment.ID = uuid.NewString()
	}
	if deployment.Status == "" {
		deployment.Status = models.DeploymentStatusActive
	}
	if deployment.IdempotencyKey == "" {
		deployment.IdempotencyKey = uuid.NewString()
	}
	if deployment.CreatedAt.IsZero() {
		deployment.CreatedAt = now
	}
	deployment.UpdatedAt = now

	if existing, err := r.findByIdempotencyKey(ctx, deployment.IdempotencyKey); err == nil {
		*deployment = *existing
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deployment tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	conflicting, err := lockConflicting(ctx, tx, deployment.EquipmentID, deployment.WorkerID, deployment.StartDate, deployment.PlannedEndDate, "")
	if err != nil {
		return err
	}
	if conflicting {
		return ErrDeploymentConflict
	}

	const insert = `INSERT INTO deployments
	(id, entry_request_id, equipment_id, worker_id, final_company_id, site_name, site_address,
	 rate_schedule, start_date, planned_end_date, actual_end_date, status, idempotency_key, created_by, created_at, updated_at)
	VALUES (:id, :entry_request_id, :equipment_id, :worker_id, :final_company_id, :site_name, :site_address,
	 :rate_schedule, :start_date, :planned_end_date, :actual_end_date, :status, :idempotency_key, :created_by, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insert, deployment); err != nil {
		if conflictErr := asConflict(err); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("create deployment: %w", err)
	}

	if err := appendAudit(ctx, tx, &models.DeploymentAuditEntry{
		DeploymentID: deployment.ID,
		Action:       models.DeploymentAuditCreated,
		NewValue:     strPtr(fmt.Sprintf("%s..%s", deployment.StartDate.Format("2006-01-02"), deployment.PlannedEndDate.Format("2006-01-02"))),
		ActorID:      deployment.CreatedBy,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if conflictErr := asConflict(err); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("commit deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepository) findByIdempotencyKey(ctx context.Context, key string) (*models.Deployment, error) {
	query := fmt.Sprintf("SELECT %s FROM deployments WHERE idempotency_key = $1", deploymentColumns)
	var deployment models.Deployment
	if err := r.db.GetContext(ctx, &deployment, query, key); err != nil {
		return nil, err
	}
	return &deployment, nil
}

// lockConflicting row-locks every non-terminal deployment holding the
// equipment or worker over an intersecting window. excludeID skips the
// deployment being mutated (worker changes).
func lockConflicting(ctx context.Context, tx *sqlx.Tx, equipmentID, workerID string, start, end time.Time, excludeID string) (bool, error) {
	conditions := make([]string, 0, 2)
	args := []interface{}{start, end}
	if equipmentID != "" {
		args = append(args, equipmentID)
		conditions = append(conditions, fmt.Sprintf("equipment_id = $%d", len(args)))
	}
	if workerID != "" {
		args = append(args, workerID)
		conditions = append(conditions, fmt.Sprintf("worker_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return false, nil
	}

	query := fmt.Sprintf(`SELECT id FROM deployments
	WHERE status IN %s AND start_date <= $2 AND planned_end_date >= $1 AND (%s)`,
		nonTerminalStatuses, strings.Join(conditions, " OR "))
	if excludeID != "" {
		args = append(args, excludeID)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	query += " FOR UPDATE"

	var ids []string
	if err := tx.SelectContext(ctx, &ids, query, args...); err != nil {
		return false, fmt.Errorf("lock conflicting deployments: %w", err)
	}
	return len(ids) > 0, nil
}

// asConflict maps Postgres exclusion/unique violations on the non-overlap
// constraints to ErrDeploymentConflict.
func asConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23P01", "23505": // exclusion_violation, unique_violation
			return ErrDeploymentConflict
		}
	}
	return nil
}

// GetByID fetches the deployment with its audit trail.
func (r *DeploymentRepository) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	query := fmt.Sprintf("SELECT %s FROM deployments WHERE id = $1", deploymentColumns)
	var deployment models.Deployment
	if err := r.db.GetContext(ctx, &deployment, query, id); err != nil {
		return nil, err
	}

	const auditQuery = `SELECT id, deployment_id, action, old_value, new_value, reason, actor_id, created_at
	FROM deployment_audit_entries WHERE deployment_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &deployment.AuditEntries, auditQuery, id); err != nil {
		return nil, fmt.Errorf("load deployment audit trail: %w", err)
	}
	return &deployment, nil
}

// List returns deployments matching the filter (latest first).
func (r *DeploymentRepository) List(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM deployments", deploymentColumns))

	conditions := make([]string, 0, 5)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.FinalCompanyID != "" {
		args = append(args, filter.FinalCompanyID)
		conditions = append(conditions, fmt.Sprintf("final_company_id = $%d", len(args)))
	}
	if filter.EquipmentID != "" {
		args = append(args, filter.EquipmentID)
		conditions = append(conditions, fmt.Sprintf("equipment_id = $%d", len(args)))
	}
	if filter.WorkerID != "" {
		args = append(args, filter.WorkerID)
		conditions = append(conditions, fmt.Sprintf("worker_id = $%d", len(args)))
	}
	if filter.EntryRequestID != "" {
		args = append(args, filter.EntryRequestID)
		conditions = append(conditions, fmt.Sprintf("entry_request_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var deployments []models.Deployment
	if err := r.db.SelectContext(ctx, &deployments, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	return deployments, nil
}

// Extend pushes planned_end_date out via compare-and-set: the UPDATE predicate
// re-checks both the mutable status and the strict increase, so a stale caller
// sees sql.ErrNoRows and the row stays untouched. The audit entry commits with
// the update or not at all.
func (r *DeploymentRepository) Extend(ctx context.Context, id string, newEndDate time.Time, oldEndDate time.Time, reason, actorID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin extend tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`UPDATE deployments
	SET planned_end_date = $2, status = 'EXTENDED', updated_at = $3
	WHERE id = $1 AND status IN %s AND planned_end_date < $2`, nonTerminalStatuses)
	result, err := tx.ExecContext(ctx, query, id, newEndDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("extend deployment: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("check extend rows: %w", err)
	} else if affected == 0 {
		return sql.ErrNoRows
	}

	if err := appendAudit(ctx, tx, &models.DeploymentAuditEntry{
		DeploymentID: id,
		Action:       models.DeploymentAuditExtended,
		OldValue:     strPtr(oldEndDate.Format("2006-01-02")),
		NewValue:     strPtr(newEndDate.Format("2006-01-02")),
		Reason:       strPtr(reason),
		ActorID:      actorID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit extend: %w", err)
	}
	return nil
}

// ChangeWorker substitutes the assigned worker after locking the new worker's
// non-terminal deployments against the current window.
func (r *DeploymentRepository) ChangeWorker(ctx context.Context, id, oldWorkerID, newWorkerID string, start, end time.Time, reason, actorID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin change worker tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	conflicting, err := lockConflicting(ctx, tx, "", newWorkerID, start, end, id)
	if err != nil {
		return err
	}
	if conflicting {
		return ErrDeploymentConflict
	}

	query := fmt.Sprintf(`UPDATE deployments
	SET worker_id = $2, updated_at = $3
	WHERE id = $1 AND worker_id = $4 AND status IN %s`, nonTerminalStatuses)
	result, err := tx.ExecContext(ctx, query, id, newWorkerID, time.Now().UTC(), oldWorkerID)
	if err != nil {
		if conflictErr := asConflict(err); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("change deployment worker: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("check change worker rows: %w", err)
	} else if affected == 0 {
		return sql.ErrNoRows
	}

	if err := appendAudit(ctx, tx, &models.DeploymentAuditEntry{
		DeploymentID: id,
		Action:       models.DeploymentAuditWorkerChange,
		OldValue:     strPtr(oldWorkerID),
		NewValue:     strPtr(newWorkerID),
		Reason:       strPtr(reason),
		ActorID:      actorID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if conflictErr := asConflict(err); conflictErr != nil {
			return conflictErr
		}
		return fmt.Errorf("commit change worker: %w", err)
	}
	return nil
}

// Complete closes the deployment. The CAS predicate makes double completion
// fail without appending a second audit entry.
func (r *DeploymentRepository) Complete(ctx context.Context, id string, actualEndDate time.Time, actorID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	query := fmt.Sprintf(`UPDATE deployments
	SET actual_end_date = $2, status = 'COMPLETED', updated_at = $3
	WHERE id = $1 AND status IN %s`, nonTerminalStatuses)
	result, err := tx.ExecContext(ctx, query, id, actualEndDate, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("complete deployment: %w", err)
	}
	if affected, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("check complete rows: %w", err)
	} else if affected == 0 {
		return sql.ErrNoRows
	}

	if err := appendAudit(ctx, tx, &models.DeploymentAuditEntry{
		DeploymentID: id,
		Action:       models.DeploymentAuditCompleted,
		NewValue:     strPtr(actualEndDate.Format("2006-01-02")),
		ActorID:      actorID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

func appendAudit(ctx context.Context, tx *sqlx.Tx, entry *models.DeploymentAuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO deployment_audit_entries (id, deployment_id, action, old_value, new_value, reason, actor_id, created_at)
	VALUES (:id, :deployment_id, :action, :old_value, :new_value, :reason, :actor_id, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append deployment audit entry: %w", err)
	}
	return nil
}

func strPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
