package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/internal/models"
)

func newEntryRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestEntryRequestRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEntryRequestRepoMock(t)
	defer cleanup()

	repo := NewEntryRequestRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT nextval('entry_request_number_seq')")).
		WillReturnRows(sqlmock.NewRows([]string{"nextval"}).AddRow(int64(42)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entry_requests")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entry_request_items")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entry_request_items")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	request := &models.EntryRequest{
		RequesterCompanyID:    "co-owner",
		RequesterUserID:       "user-owner",
		IntermediateCompanyID: "co-mid",
		Purpose:               "crane assembly",
		StartDate:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:               time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Items: []models.EntryRequestItem{
			{ItemType: models.EntryRequestItemEquipment, IdentityID: "eq-1"},
			{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-1"},
		},
	}
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, fmt.Sprintf("ER-%d-000042", time.Now().Year()), request.RequestNumber)
	require.Equal(t, models.EntryRequestStatusRequested, request.Status)
	require.Equal(t, request.ID, request.Items[0].EntryRequestID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRequestRepositoryGetByID(t *testing.T) {
	db, mock, cleanup := newEntryRequestRepoMock(t)
	defer cleanup()

	repo := NewEntryRequestRepository(db)
	now := time.Now()
	requestRows := sqlmock.NewRows([]string{
		"id", "request_number", "requester_company_id", "requester_user_id", "intermediate_company_id",
		"final_company_id", "purpose", "start_date", "end_date", "status", "work_plan_ref",
		"intermediate_reviewer_id", "intermediate_reviewed_at", "intermediate_comment",
		"final_reviewer_id", "final_reviewed_at", "final_comment", "rejection_reason", "created_at", "updated_at",
	}).AddRow("req-1", "ER-2026-000001", "co-owner", "user-owner", "co-mid",
		nil, "crane assembly", now, now, "REQUESTED", nil,
		nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM entry_requests WHERE id = $1")).
		WithArgs("req-1").
		WillReturnRows(requestRows)

	itemRows := sqlmock.NewRows([]string{"id", "entry_request_id", "item_type", "identity_id", "paired_item_id", "created_at"}).
		AddRow("item-1", "req-1", "EQUIPMENT", "eq-1", nil, now).
		AddRow("item-2", "req-1", "WORKER", "wk-1", "item-1", now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM entry_request_items WHERE entry_request_id = $1")).
		WithArgs("req-1").
		WillReturnRows(itemRows)

	request, err := repo.GetByID(context.Background(), "req-1")
	require.NoError(t, err)
	require.Equal(t, "req-1", request.ID)
	require.Len(t, request.Items, 2)
	require.True(t, request.HasWorker("wk-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newEntryRequestRepoMock(t)
	defer cleanup()

	repo := NewEntryRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "request_number", "requester_company_id", "requester_user_id", "intermediate_company_id",
		"final_company_id", "purpose", "start_date", "end_date", "status", "work_plan_ref",
		"intermediate_reviewer_id", "intermediate_reviewed_at", "intermediate_comment",
		"final_reviewer_id", "final_reviewed_at", "final_comment", "rejection_reason", "created_at", "updated_at",
	}).AddRow("req-1", "ER-2026-000001", "co-owner", "user-owner", "co-mid",
		nil, "crane assembly", now, now, "REQUESTED", nil,
		nil, nil, nil, nil, nil, nil, nil, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM entry_requests WHERE status IN ($1) AND requester_company_id = $2")).
		WithArgs("REQUESTED", "co-owner").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.EntryRequestFilter{
		Status:             []models.EntryRequestStatus{models.EntryRequestStatusRequested},
		RequesterCompanyID: "co-owner",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "req-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryRequestRepositoryTransitionCAS(t *testing.T) {
	db, mock, cleanup := newEntryRequestRepoMock(t)
	defer cleanup()

	repo := NewEntryRequestRepository(db)
	final := "co-final"
	ref := "doc://plan-1"
	params := TransitionParams{
		ID:             "req-1",
		FromStatuses:   []models.EntryRequestStatus{models.EntryRequestStatusRequested, models.EntryRequestStatusIntermediateReviewing},
		ToStatus:       models.EntryRequestStatusFinalReviewing,
		ReviewerID:     "user-mid",
		ReviewedAt:     time.Now(),
		FinalCompanyID: &final,
		WorkPlanRef:    &ref,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE entry_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Transition(context.Background(), params))

	// A stale caller matches zero rows.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE entry_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Transition(context.Background(), params)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
