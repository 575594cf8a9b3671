package models

import "time"

// EntryRequestStatus captures the workflow states of an entry request.
type EntryRequestStatus string

const (
	EntryRequestStatusRequested             EntryRequestStatus = "REQUESTED"
	EntryRequestStatusIntermediateReviewing EntryRequestStatus = "INTERMEDIATE_REVIEWING"
	EntryRequestStatusFinalReviewing        EntryRequestStatus = "FINAL_REVIEWING"
	EntryRequestStatusApproved              EntryRequestStatus = "APPROVED"
	EntryRequestStatusRejected              EntryRequestStatus = "REJECTED"
)

// entryRequestTransitions is the directed edge set of the approval state
// machine. Every status write is validated against it; edges never move a
// request backward.
var entryRequestTransitions = map[EntryRequestStatus][]EntryRequestStatus{
	EntryRequestStatusRequested: {
		EntryRequestStatusIntermediateReviewing,
		EntryRequestStatusFinalReviewing,
		EntryRequestStatusRejected,
	},
	EntryRequestStatusIntermediateReviewing: {
		EntryRequestStatusFinalReviewing,
		EntryRequestStatusRejected,
	},
	EntryRequestStatusFinalReviewing: {
		EntryRequestStatusApproved,
		EntryRequestStatusRejected,
	},
	EntryRequestStatusApproved: nil,
	EntryRequestStatusRejected: nil,
}

// CanTransition reports whether moving from one status to another follows a
// legal edge.
func (s EntryRequestStatus) CanTransition(to EntryRequestStatus) bool {
	for _, next := range entryRequestTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s EntryRequestStatus) Terminal() bool {
	return len(entryRequestTransitions[s]) == 0
}

// Reviewable reports whether the intermediate company may still act on the
// request.
func (s EntryRequestStatus) Reviewable() bool {
	return s == EntryRequestStatusRequested || s == EntryRequestStatusIntermediateReviewing
}

// EntryRequestItemType distinguishes the two item kinds within a request.
type EntryRequestItemType string

const (
	EntryRequestItemEquipment EntryRequestItemType = "EQUIPMENT"
	EntryRequestItemWorker    EntryRequestItemType = "WORKER"
)

// EntryRequestItem is one equipment/worker line of an entry request. An item
// may point at another item of the same request to express "this worker
// operates that equipment".
type EntryRequestItem struct {
	ID             string               `db:"id" json:"id"`
	EntryRequestID string               `db:"entry_request_id" json:"entry_request_id"`
	ItemType       EntryRequestItemType `db:"item_type" json:"item_type"`
	IdentityID     string               `db:"identity_id" json:"identity_id"`
	PairedItemID   *string              `db:"paired_item_id" json:"paired_item_id,omitempty"`
	CreatedAt      time.Time            `db:"created_at" json:"created_at"`
}

// EntryRequest is the aggregate root of the approval workflow.
type EntryRequest struct {
	ID                    string             `db:"id" json:"id"`
	RequestNumber         string             `db:"request_number" json:"request_number"`
	RequesterCompanyID    string             `db:"requester_company_id" json:"requester_company_id"`
	RequesterUserID       string             `db:"requester_user_id" json:"requester_user_id"`
	IntermediateCompanyID string             `db:"intermediate_company_id" json:"intermediate_company_id"`
	FinalCompanyID        *string            `db:"final_company_id" json:"final_company_id,omitempty"`
	Purpose               string             `db:"purpose" json:"purpose"`
	StartDate             time.Time          `db:"start_date" json:"start_date"`
	EndDate               time.Time          `db:"end_date" json:"end_date"`
	Status                EntryRequestStatus `db:"status" json:"status"`

	WorkPlanRef *string `db:"work_plan_ref" json:"work_plan_ref,omitempty"`

	IntermediateReviewerID *string    `db:"intermediate_reviewer_id" json:"intermediate_reviewer_id,omitempty"`
	IntermediateReviewedAt *time.Time `db:"intermediate_reviewed_at" json:"intermediate_reviewed_at,omitempty"`
	IntermediateComment    *string    `db:"intermediate_comment" json:"intermediate_comment,omitempty"`

	FinalReviewerID *string    `db:"final_reviewer_id" json:"final_reviewer_id,omitempty"`
	FinalReviewedAt *time.Time `db:"final_reviewed_at" json:"final_reviewed_at,omitempty"`
	FinalComment    *string    `db:"final_comment" json:"final_comment,omitempty"`

	RejectionReason *string `db:"rejection_reason" json:"rejection_reason,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Items []EntryRequestItem `db:"-" json:"items,omitempty"`
}

// HasEquipment reports whether the given equipment identity appears among the
// request items.
func (r *EntryRequest) HasEquipment(identityID string) bool {
	return r.hasItem(EntryRequestItemEquipment, identityID)
}

// HasWorker reports whether the given worker identity appears among the
// request items.
func (r *EntryRequest) HasWorker(identityID string) bool {
	return r.hasItem(EntryRequestItemWorker, identityID)
}

func (r *EntryRequest) hasItem(itemType EntryRequestItemType, identityID string) bool {
	for _, item := range r.Items {
		if item.ItemType == itemType && item.IdentityID == identityID {
			return true
		}
	}
	return false
}

// EntryRequestFilter constrains listing queries.
type EntryRequestFilter struct {
	Status                []EntryRequestStatus
	RequesterCompanyID    string
	IntermediateCompanyID string
	FinalCompanyID        string
	Limit                 int
	Offset                int
}
