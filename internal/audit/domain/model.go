package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Action enumerates the auditable operations on tax entities.
type Action string

const (
	ActionCreate     Action = "CREATE"
	ActionUpdate     Action = "UPDATE"
	ActionDelete     Action = "DELETE"
	ActionCalculate  Action = "CALCULATE"
	ActionPost       Action = "POST"
	ActionVoid       Action = "VOID"
	ActionFile       Action = "FILE"
	ActionPayment    Action = "PAYMENT"
	ActionAdjustment Action = "ADJUSTMENT"
	ActionReview     Action = "REVIEW"
	ActionApprove    Action = "APPROVE"
	ActionReject     Action = "REJECT"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionCalculate, ActionPost, ActionVoid,
		ActionFile, ActionPayment, ActionAdjustment, ActionReview, ActionApprove, ActionReject:
		return true
	default:
		return false
	}
}

// Entry is one append-only audit trail record. Rows are never updated or
// deleted once written.
type Entry struct {
	ID        snowflake.ID  `gorm:"primaryKey" json:"id"`
	CompanyID *snowflake.ID `gorm:"column:company_id;index" json:"company_id,omitempty"`

	EntityType string `gorm:"column:entity_type;type:text;not null" json:"entity_type"`
	EntityID   string `gorm:"column:entity_id;type:text;not null" json:"entity_id"`
	Action     Action `gorm:"type:text;not null" json:"action"`

	UserID    *string `gorm:"column:user_id;type:text" json:"user_id,omitempty"`
	RequestID *string `gorm:"column:request_id;type:text" json:"request_id,omitempty"`

	OldValues datatypes.JSONMap `gorm:"column:old_values" json:"old_values,omitempty"`
	NewValues datatypes.JSONMap `gorm:"column:new_values" json:"new_values,omitempty"`

	Notes     *string `gorm:"type:text" json:"notes,omitempty"`
	IPAddress *string `gorm:"column:ip_address;type:text" json:"ip_address,omitempty"`
	UserAgent *string `gorm:"column:user_agent;type:text" json:"user_agent,omitempty"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}

func (Entry) TableName() string { return "tax_audit_trail" }

// AuditCursor is the keyset position for trail pagination.
type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	CompanyID  snowflake.ID
	EntityType string
	EntityID   string
	UserID     string
	Action     string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
