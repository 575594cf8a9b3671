package models

import (
	"encoding/json"
	"time"
)

// DeploymentStatus captures the lifecycle states of a deployment.
type DeploymentStatus string

const (
	DeploymentStatusActive    DeploymentStatus = "ACTIVE"
	DeploymentStatusExtended  DeploymentStatus = "EXTENDED"
	DeploymentStatusCompleted DeploymentStatus = "COMPLETED"
)

// Mutable reports whether extend/changeWorker/complete may still act on the
// deployment.
func (s DeploymentStatus) Mutable() bool {
	return s == DeploymentStatusActive || s == DeploymentStatusExtended
}

// Deployment binds one equipment unit and one worker to a site for a bounded
// window, under the final-authorizer company that approved the originating
// entry request.
type Deployment struct {
	ID             string           `db:"id" json:"id"`
	EntryRequestID string           `db:"entry_request_id" json:"entry_request_id"`
	EquipmentID    string           `db:"equipment_id" json:"equipment_id"`
	WorkerID       string           `db:"worker_id" json:"worker_id"`
	FinalCompanyID string           `db:"final_company_id" json:"final_company_id"`
	SiteName       string           `db:"site_name" json:"site_name"`
	SiteAddress    string           `db:"site_address" json:"site_address"`
	RateSchedule   json.RawMessage  `db:"rate_schedule" json:"rate_schedule,omitempty"`
	StartDate      time.Time        `db:"start_date" json:"start_date"`
	PlannedEndDate time.Time        `db:"planned_end_date" json:"planned_end_date"`
	ActualEndDate  *time.Time       `db:"actual_end_date" json:"actual_end_date,omitempty"`
	Status         DeploymentStatus `db:"status" json:"status"`
	IdempotencyKey string           `db:"idempotency_key" json:"-"`
	CreatedBy      string           `db:"created_by" json:"created_by"`
	CreatedAt      time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updated_at"`

	AuditEntries []DeploymentAuditEntry `db:"-" json:"audit_entries,omitempty"`
}

// Overlaps reports whether the deployment window intersects [start, end].
// Intervals are closed; touching boundaries count as overlap.
func (d *Deployment) Overlaps(start, end time.Time) bool {
	return !d.StartDate.After(end) && !start.After(d.PlannedEndDate)
}

// DeploymentAuditAction enumerates recorded deployment mutations.
type DeploymentAuditAction string

const (
	DeploymentAuditCreated      DeploymentAuditAction = "CREATED"
	DeploymentAuditExtended     DeploymentAuditAction = "EXTENDED"
	DeploymentAuditWorkerChange DeploymentAuditAction = "WORKER_CHANGED"
	DeploymentAuditCompleted    DeploymentAuditAction = "COMPLETED"
)

// DeploymentAuditEntry is an immutable record of one deployment mutation.
type DeploymentAuditEntry struct {
	ID           string                `db:"id" json:"id"`
	DeploymentID string                `db:"deployment_id" json:"deployment_id"`
	Action       DeploymentAuditAction `db:"action" json:"action"`
	OldValue     *string               `db:"old_value" json:"old_value,omitempty"`
	NewValue     *string               `db:"new_value" json:"new_value,omitempty"`
	Reason       *string               `db:"reason" json:"reason,omitempty"`
	ActorID      string                `db:"actor_id" json:"actor_id"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
}

// DeploymentFilter constrains listing queries.
type DeploymentFilter struct {
	Status         []DeploymentStatus
	FinalCompanyID string
	EquipmentID    string
	WorkerID       string
	EntryRequestID string
	Limit          int
	Offset         int
}
