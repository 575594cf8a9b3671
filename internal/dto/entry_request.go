package dto

import (
	"time"

	"github.com/siteops/site-entry-api/internal/models"
)

// EntryRequestItemPayload is one equipment/worker line of a submission.
// PairedIndex optionally points at another item of the same payload (by
// position) to express the worker-operates-equipment relationship.
type EntryRequestItemPayload struct {
	ItemType    models.EntryRequestItemType `json:"item_type"`
	IdentityID  string                      `json:"identity_id"`
	PairedIndex *int                        `json:"paired_index,omitempty"`
}

// SubmitEntryRequest is the payload creating a new entry request.
type SubmitEntryRequest struct {
	IntermediateCompanyID string                    `json:"intermediate_company_id"`
	Purpose               string                    `json:"purpose"`
	StartDate             time.Time                 `json:"start_date"`
	EndDate               time.Time                 `json:"end_date"`
	Items                 []EntryRequestItemPayload `json:"items"`
}

// IntermediateApproveRequest forwards a request to the final company.
type IntermediateApproveRequest struct {
	FinalCompanyID string `json:"final_company_id"`
	WorkPlanRef    string `json:"work_plan_ref"`
	Comment        string `json:"comment"`
}

// FinalApproveRequest records the final authorizer decision.
type FinalApproveRequest struct {
	Comment string `json:"comment"`
}

// RejectEntryRequest carries the mandatory rejection reason.
type RejectEntryRequest struct {
	Reason string `json:"reason"`
}

// EntryRequestQuery mirrors supported listing filters.
type EntryRequestQuery struct {
	Status []models.EntryRequestStatus
	Page   int
	Size   int
}
