package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/paksafinancial/taxengine/pkg/db/pagination"
	"gorm.io/gorm"
)

type ListRequest struct {
	pagination.Pagination
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListResponse struct {
	pagination.PageInfo
	Entries []Entry `json:"entries"`
}

// Record describes one auditable event. Old/new value maps are optional and
// carry the field-level diff for UPDATE style actions.
type Record struct {
	CompanyID  *snowflake.ID
	EntityType string
	EntityID   string
	Action     Action
	UserID     *string
	OldValues  map[string]any
	NewValues  map[string]any
	Notes      string
}

// Recorder appends audit entries. When tx is non-nil the entry is written
// inside that transaction so the trail commits or rolls back with the
// operation it describes.
type Recorder interface {
	Record(ctx context.Context, tx *gorm.DB, rec Record) error
}

type Service interface {
	Recorder
	List(ctx context.Context, req ListRequest) (ListResponse, error)
	// PruneExpired deletes entries older than the configured retention
	// window and reports how many rows were removed. A zero or negative
	// retention disables pruning.
	PruneExpired(ctx context.Context) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Entry, error)
	DeleteOlderThan(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidCompany   = errors.New("invalid_company")
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_audit_action")
	ErrInvalidEntity    = errors.New("invalid_audit_entity")
)
