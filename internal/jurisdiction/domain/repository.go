package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListRequest struct {
	Level       Level
	CountryCode string
	StateCode   string
	IsActive    *bool
	SortBy      string
	OrderBy     string
}

// Create and Update accept the caller's transaction so the write shares its
// fate with the audit entry; a nil tx uses the repository's own connection.
type Repository interface {
	Create(ctx context.Context, tx *gorm.DB, j *Jurisdiction) error
	FindByID(ctx context.Context, id snowflake.ID) (*Jurisdiction, error)
	FindByCode(ctx context.Context, code string) (*Jurisdiction, error)
	FindNode(ctx context.Context, level Level, addr Address) (*Jurisdiction, error)
	ListDistricts(ctx context.Context, countryCode, stateCode string) ([]Jurisdiction, error)
	List(ctx context.Context, filter ListRequest) ([]Jurisdiction, error)
	Update(ctx context.Context, tx *gorm.DB, j *Jurisdiction) error
}
