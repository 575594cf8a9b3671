package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/siteops/site-entry-api/internal/models"
)

const entryRequestColumns = `id, request_number, requester_company_id, requester_user_id, intermediate_company_id,
       final_company_id, purpose, start_date, end_date, status, work_plan_ref,
       intermediate_reviewer_id, intermediate_reviewed_at, intermediate_comment,
       final_reviewer_id, final_reviewed_at, final_comment, rejection_reason, created_at, updated_at`

// EntryRequestRepository persists entry requests and their items.
type EntryRequestRepository struct {
	db *sqlx.DB
}

// NewEntryRequestRepository constructs the repository.
func NewEntryRequestRepository(db *sqlx.DB) *EntryRequestRepository {
	return &EntryRequestRepository{db: db}
}

// Create inserts the request and all of its items in one transaction.
func (r *EntryRequestRepository) Create(ctx context.Context, request *models.EntryRequest) error {
	now := time.Now().UTC()
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.EntryRequestStatusRequested
	}
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	request.UpdatedAt = now

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin entry request tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if request.RequestNumber == "" {
		number, err := nextRequestNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		request.RequestNumber = number
	}

	const insertRequest = `INSERT INTO entry_requests
	(id, request_number, requester_company_id, requester_user_id, intermediate_company_id, final_company_id,
	 purpose, start_date, end_date, status, work_plan_ref,
	 intermediate_reviewer_id, intermediate_reviewed_at, intermediate_comment,
	 final_reviewer_id, final_reviewed_at, final_comment, rejection_reason, created_at, updated_at)
	VALUES (:id, :request_number, :requester_company_id, :requester_user_id, :intermediate_company_id, :final_company_id,
	 :purpose, :start_date, :end_date, :status, :work_plan_ref,
	 :intermediate_reviewer_id, :intermediate_reviewed_at, :intermediate_comment,
	 :final_reviewer_id, :final_reviewed_at, :final_comment, :rejection_reason, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, insertRequest, request); err != nil {
		return fmt.Errorf("create entry request: %w", err)
	}

	const insertItem = `INSERT INTO entry_request_items (id, entry_request_id, item_type, identity_id, paired_item_id, created_at)
	VALUES (:id, :entry_request_id, :item_type, :identity_id, :paired_item_id, :created_at)`
	for i := range request.Items {
		item := &request.Items[i]
		if item.ID == "" {
			item.ID = uuid.NewString()
		}
		item.EntryRequestID = request.ID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if _, err := tx.NamedExecContext(ctx, insertItem, item); err != nil {
			return fmt.Errorf("create entry request item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit entry request: %w", err)
	}
	return nil
}

// nextRequestNumber allocates a year-scoped human readable number (ER-2025-000042).
func nextRequestNumber(ctx context.Context, tx *sqlx.Tx, now time.Time) (string, error) {
	var seq int64
	if err := tx.GetContext(ctx, &seq, `SELECT nextval('entry_request_number_seq')`); err != nil {
		return "", fmt.Errorf("allocate request number: %w", err)
	}
	return fmt.Sprintf("ER-%d-%06d", now.Year(), seq), nil
}

// GetByID fetches the request with its items.
func (r *EntryRequestRepository) GetByID(ctx context.Context, id string) (*models.EntryRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM entry_requests WHERE id = $1", entryRequestColumns)
	var request models.EntryRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}

	const itemQuery = `SELECT id, entry_request_id, item_type, identity_id, paired_item_id, created_at
	FROM entry_request_items WHERE entry_request_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &request.Items, itemQuery, id); err != nil {
		return nil, fmt.Errorf("load entry request items: %w", err)
	}
	return &request, nil
}

// List returns requests matching the filter (latest first). Items are not
// loaded for listings.
func (r *EntryRequestRepository) List(ctx context.Context, filter models.EntryRequestFilter) ([]models.EntryRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM entry_requests", entryRequestColumns))

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequesterCompanyID != "" {
		args = append(args, filter.RequesterCompanyID)
		conditions = append(conditions, fmt.Sprintf("requester_company_id = $%d", len(args)))
	}
	if filter.IntermediateCompanyID != "" {
		args = append(args, filter.IntermediateCompanyID)
		conditions = append(conditions, fmt.Sprintf("intermediate_company_id = $%d", len(args)))
	}
	if filter.FinalCompanyID != "" {
		args = append(args, filter.FinalCompanyID)
		conditions = append(conditions, fmt.Sprintf("final_company_id = $%d", len(args)))
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

	var requests []models.EntryRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list entry requests: %w", err)
	}
	return requests, nil
}

// TransitionParams groups the columns written by one approval transition.
type TransitionParams struct {
	ID           string
	FromStatuses []models.EntryRequestStatus
	ToStatus     models.EntryRequestStatus
	ReviewerID   string
	ReviewedAt   time.Time
	Comment      *string

	// Intermediate approval only.
	FinalCompanyID *string
	WorkPlanRef    *string

	// Rejections only.
	RejectionReason *string

	// FinalStage selects which reviewer audit columns receive the actor.
	FinalStage bool
}

// Transition performs an atomic compare-and-set status move. The status
// predicate rides in the UPDATE itself, so two concurrent reviewers cannot
// both win: the loser sees zero affected rows and gets sql.ErrNoRows.
func (r *EntryRequestRepository) Transition(ctx context.Context, params TransitionParams) error {
	if len(params.FromStatuses) == 0 {
		return fmt.Errorf("transition requires at least one source status")
	}

	setParts := []string{"status = :to_status", "updated_at = :reviewed_at"}
	if params.FinalStage {
		setParts = append(setParts,
			"final_reviewer_id = :reviewer_id",
			"final_reviewed_at = :reviewed_at",
			"final_comment = :comment",
		)
	} else {
		setParts = append(setParts,
			"intermediate_reviewer_id = :reviewer_id",
			"intermediate_reviewed_at = :reviewed_at",
			"intermediate_comment = :comment",
		)
	}
	if params.FinalCompanyID != nil {
		setParts = append(setParts, "final_company_id = :final_company_id")
	}
	if params.WorkPlanRef != nil {
		setParts = append(setParts, "work_plan_ref = :work_plan_ref")
	}
	if params.RejectionReason != nil {
		setParts = append(setParts, "rejection_reason = :rejection_reason")
	}

	statuses := make([]string, len(params.FromStatuses))
	for i, status := range params.FromStatuses {
		statuses[i] = fmt.Sprintf("'%s'", status)
	}

	query := fmt.Sprintf("UPDATE entry_requests SET %s WHERE id = :id AND status IN (%s)",
		strings.Join(setParts, ", "),
		strings.Join(statuses, ","),
	)
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":               params.ID,
		"to_status":        params.ToStatus,
		"reviewer_id":      params.ReviewerID,
		"reviewed_at":      params.ReviewedAt,
		"comment":          params.Comment,
		"final_company_id": params.FinalCompanyID,
		"work_plan_ref":    params.WorkPlanRef,
		"rejection_reason": params.RejectionReason,
	})
	if err != nil {
		return fmt.Errorf("transition entry request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
