package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/siteops/site-entry-api/internal/models"
)

// CompanyRepository reads company identities from the external catalog tables.
type CompanyRepository struct {
	db *sqlx.DB
}

// NewCompanyRepository constructs the repository.
func NewCompanyRepository(db *sqlx.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

// GetByID fetches a company by identifier.
func (r *CompanyRepository) GetByID(ctx context.Context, id string) (*models.Company, error) {
	const query = `SELECT id, name, type, created_at FROM companies WHERE id = $1`
	var company models.Company
	if err := r.db.GetContext(ctx, &company, query, id); err != nil {
		return nil, err
	}
	return &company, nil
}

// ExistsWithType reports whether a company of the given type exists.
func (r *CompanyRepository) ExistsWithType(ctx context.Context, id string, companyType models.CompanyType) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM companies WHERE id = $1 AND type = $2)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, id, companyType); err != nil {
		return false, fmt.Errorf("check company type: %w", err)
	}
	return exists, nil
}
