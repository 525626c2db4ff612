package domain

import "errors"

var (
	ErrNotFound               = errors.New("rule_not_found")
	ErrInvalidCode            = errors.New("invalid_rule_code")
	ErrInvalidName            = errors.New("invalid_rule_name")
	ErrInvalidTaxType         = errors.New("invalid_tax_type")
	ErrInvalidJurisdiction    = errors.New("invalid_rule_jurisdiction")
	ErrInvalidRate            = errors.New("invalid_rate")
	ErrInvalidRateType        = errors.New("invalid_rate_type")
	ErrInvalidEffectiveWindow = errors.New("invalid_effective_window")
	ErrInvalidTiers           = errors.New("invalid_tier_configuration")
	ErrOverlappingRates       = errors.New("overlapping_rate_windows")
	ErrDuplicateCode          = errors.New("duplicate_rule_code")
	ErrRuleInUse              = errors.New("rule_in_use")
	ErrRegistryUnavailable    = errors.New("registry_unavailable")
)
