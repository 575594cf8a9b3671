package dto

import (
	"encoding/json"
	"time"

	"github.com/siteops/site-entry-api/internal/models"
)

// CreateDeploymentRequest turns an approved entry request into a deployment.
// IdempotencyKey makes retries safe: replaying the same key returns the
// deployment created by the first attempt.
type CreateDeploymentRequest struct {
	EntryRequestID string          `json:"entry_request_id"`
	EquipmentID    string          `json:"equipment_id"`
	WorkerID       string          `json:"worker_id"`
	FinalCompanyID string          `json:"final_company_id"`
	StartDate      time.Time       `json:"start_date"`
	PlannedEndDate time.Time       `json:"planned_end_date"`
	SiteName       string          `json:"site_name"`
	SiteAddress    string          `json:"site_address"`
	RateSchedule   json.RawMessage `json:"rate_schedule,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// ExtendDeploymentRequest pushes the planned end date out.
type ExtendDeploymentRequest struct {
	NewEndDate time.Time `json:"new_end_date"`
	Reason     string    `json:"reason"`
}

// ChangeWorkerRequest substitutes the assigned worker.
type ChangeWorkerRequest struct {
	NewWorkerID string `json:"new_worker_id"`
	Reason      string `json:"reason"`
}

// CompleteDeploymentRequest closes the deployment.
type CompleteDeploymentRequest struct {
	ActualEndDate time.Time `json:"actual_end_date"`
}

// DeploymentQuery mirrors supported listing filters.
type DeploymentQuery struct {
	Status         []models.DeploymentStatus
	FinalCompanyID string
	EquipmentID    string
	WorkerID       string
	EntryRequestID string
	Page           int
	Size           int
}
