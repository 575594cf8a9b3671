package models

import "time"

// CompanyType distinguishes the three parties of the approval chain.
type CompanyType string

const (
	// CompanyTypeOwner owns equipment and workers and submits entry requests.
	CompanyTypeOwner CompanyType = "OWNER"
	// CompanyTypeIntermediate reviews requests first and forwards them onward.
	CompanyTypeIntermediate CompanyType = "INTERMEDIATE"
	// CompanyTypeFinal holds the authority that actually permits site entry.
	CompanyTypeFinal CompanyType = "FINAL"
)

// Company identifies a participating company. Identity and type are owned by
// an external catalog; this service only reads them.
type Company struct {
	ID        string      `db:"id" json:"id"`
	Name      string      `db:"name" json:"name"`
	Type      CompanyType `db:"type" json:"type"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}

// IdentityType classifies the identities referenced by entry request items.
type IdentityType string

const (
	IdentityTypeEquipment IdentityType = "EQUIPMENT"
	IdentityTypeWorker    IdentityType = "WORKER"
)
