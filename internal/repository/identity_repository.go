package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/siteops/site-entry-api/internal/models"
)

// IdentityRepository answers ownership questions against the external identity
// catalog: does equipment/worker X belong to company Y.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository constructs the repository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// OwnedByCompany reports whether the identity exists and belongs to the
// company.
func (r *IdentityRepository) OwnedByCompany(ctx context.Context, identityType models.IdentityType, identityID, companyID string) (bool, error) {
	table := "workers"
	if identityType == models.IdentityTypeEquipment {
		table = "equipment"
	}
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1 AND owner_company_id = $2)`, table)
	var owned bool
	if err := r.db.GetContext(ctx, &owned, query, identityID, companyID); err != nil {
		return false, fmt.Errorf("check %s ownership: %w", table, err)
	}
	return owned, nil
}
