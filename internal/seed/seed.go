package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	exemptiondomain "github.com/paksafinancial/taxengine/internal/exemption/domain"
	jurisdictiondomain "github.com/paksafinancial/taxengine/internal/jurisdiction/domain"
	"gorm.io/gorm"
)

// EnsureReferenceData seeds the baseline US jurisdiction tree and the
// standard exemption reason codes. Every insert is idempotent so repeated
// startups leave existing rows untouched.
func EnsureReferenceData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureJurisdictions(ctx, tx, node); err != nil {
			return err
		}
		return ensureExemptionCodes(ctx, tx, node)
	})
}

type jurisdictionSeed struct {
	code       string
	name       string
	level      jurisdictiondomain.Level
	parentCode string
	state      string
	county     string
	city       string
}

var jurisdictionSeeds = []jurisdictionSeed{
	{code: "US", name: "United States", level: jurisdictiondomain.LevelFederal},
	{code: "US-CA", name: "California", level: jurisdictiondomain.LevelState, parentCode: "US", state: "CA"},
	{code: "US-NY", name: "New York", level: jurisdictiondomain.LevelState, parentCode: "US", state: "NY"},
	{code: "US-CA-LA_COUNTY", name: "Los Angeles County", level: jurisdictiondomain.LevelCounty, parentCode: "US-CA", state: "CA", county: "Los Angeles"},
	{code: "US-CA-LOS_ANGELES", name: "Los Angeles", level: jurisdictiondomain.LevelCity, parentCode: "US-CA-LA_COUNTY", state: "CA", county: "Los Angeles", city: "Los Angeles"},
	{code: "US-NY-NEW_YORK", name: "New York City", level: jurisdictiondomain.LevelCity, parentCode: "US-NY", state: "NY", city: "New York"},
}

func ensureJurisdictions(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	ids := make(map[string]snowflake.ID, len(jurisdictionSeeds))

	for _, s := range jurisdictionSeeds {
		var existing jurisdictiondomain.Jurisdiction
		err := tx.WithContext(ctx).Where("code = ?", s.code).First(&existing).Error
		if err == nil {
			ids[s.code] = existing.ID
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		record := jurisdictiondomain.Jurisdiction{
			ID:          node.Generate(),
			Code:        s.code,
			Name:        s.name,
			Level:       s.level,
			CountryCode: "US",
			StateCode:   s.state,
			CountyName:  s.county,
			CityName:    s.city,
			IsActive:    true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if s.parentCode != "" {
			parentID, ok := ids[s.parentCode]
			if !ok {
				return errors.New("seed parent jurisdiction missing: " + s.parentCode)
			}
			record.ParentID = &parentID
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
		ids[s.code] = record.ID
	}
	return nil
}

var exemptionSeeds = []exemptiondomain.TaxExemption{
	{Code: "RESALE", Description: "Purchase for resale", CertificateRequired: true},
	{Code: "NONPROFIT", Description: "Registered nonprofit organization", CertificateRequired: true},
	{Code: "GOVERNMENT", Description: "Government entity purchase", CertificateRequired: true},
	{Code: "AGRICULTURAL", Description: "Agricultural production use", CertificateRequired: true},
}

func ensureExemptionCodes(ctx context.Context, tx *gorm.DB, node *snowflake.Node) error {
	now := time.Now().UTC()
	for _, s := range exemptionSeeds {
		var count int64
		err := tx.WithContext(ctx).
			Model(&exemptiondomain.TaxExemption{}).
			Where("code = ?", s.Code).
			Count(&count).Error
		if err != nil {
			return err
		}
		if count > 0 {
			continue
		}

		record := s
		record.ID = node.Generate()
		record.ValidFrom = now
		record.CreatedAt = now
		record.UpdatedAt = now
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			return err
		}
	}
	return nil
}
