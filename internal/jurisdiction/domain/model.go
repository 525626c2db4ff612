package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Level identifies where a jurisdiction sits in the hierarchy.
// Ordering is fixed: federal < state < county < city. Districts attach to a
// state and sit outside the chain.
type Level string

const (
	LevelFederal  Level = "federal"
	LevelState    Level = "state"
	LevelCounty   Level = "county"
	LevelCity     Level = "city"
	LevelDistrict Level = "district"
)

// rank returns the position of a level in the parent chain. Districts share
// the county rank for parent validation (their parent is a state).
func (l Level) rank() int {
	switch l {
	case LevelFederal:
		return 0
	case LevelState:
		return 1
	case LevelCounty, LevelDistrict:
		return 2
	case LevelCity:
		return 3
	default:
		return -1
	}
}

func (l Level) Valid() bool { return l.rank() >= 0 }

// Jurisdiction is a node in the geographic tax hierarchy. Code is a stable,
// unique identifier (e.g. "US", "US-CA", "US-CA-LOS_ANGELES").
type Jurisdiction struct {
	ID       snowflake.ID  `gorm:"primaryKey" json:"id"`
	ParentID *snowflake.ID `gorm:"column:parent_id;index" json:"parent_id,omitempty"`

	Code  string `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name  string `gorm:"type:text;not null" json:"name"`
	Level Level  `gorm:"type:text;not null" json:"level"`

	CountryCode string `gorm:"column:country_code;type:text;not null" json:"country_code"`
	StateCode   string `gorm:"column:state_code;type:text" json:"state_code,omitempty"`
	CountyName  string `gorm:"column:county_name;type:text" json:"county_name,omitempty"`
	CityName    string `gorm:"column:city_name;type:text" json:"city_name,omitempty"`

	IsActive                 bool                `gorm:"column:is_active;not null;default:true" json:"is_active"`
	RegistrationRequired     bool                `gorm:"column:registration_required;not null;default:false" json:"registration_required"`
	MinimumTransactionAmount decimal.NullDecimal `gorm:"column:minimum_transaction_amount;type:numeric(20,2)" json:"minimum_transaction_amount,omitempty"`
	RequiredFilingFrequency  *string             `gorm:"column:required_filing_frequency;type:text" json:"required_filing_frequency,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Jurisdiction) TableName() string { return "tax_jurisdictions" }

func (j *Jurisdiction) Validate() error {
	if strings.TrimSpace(j.Code) == "" {
		return ErrInvalidCode
	}
	if !j.Level.Valid() {
		return ErrInvalidLevel
	}
	if strings.TrimSpace(j.CountryCode) == "" {
		return ErrInvalidCountry
	}
	if j.Level != LevelFederal && strings.TrimSpace(j.StateCode) == "" {
		return ErrInvalidState
	}
	return nil
}

// ValidParentLevel reports whether parent may own a child at this level.
func (l Level) ValidParentLevel(parent Level) bool {
	if l == LevelDistrict {
		return parent == LevelState
	}
	return parent.rank() == l.rank()-1
}

// Address is the structured input to resolution. Only country is mandatory.
type Address struct {
	CountryCode string `json:"country_code" binding:"required"`
	StateCode   string `json:"state_code,omitempty"`
	CountyName  string `json:"county_name,omitempty"`
	CityName    string `json:"city_name,omitempty"`
}

func (a Address) Normalized() Address {
	return Address{
		CountryCode: strings.ToUpper(strings.TrimSpace(a.CountryCode)),
		StateCode:   strings.ToUpper(strings.TrimSpace(a.StateCode)),
		CountyName:  strings.TrimSpace(a.CountyName),
		CityName:    strings.TrimSpace(a.CityName),
	}
}
