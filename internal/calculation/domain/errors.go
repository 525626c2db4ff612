package domain

import "errors"

var (
	ErrInvalidAmount   = errors.New("invalid_amount")
	ErrInvalidTaxType  = errors.New("invalid_tax_type")
	ErrInvalidAddress  = errors.New("invalid_address")
	ErrNoRuleFound     = errors.New("no_rule_found")
	ErrNoEffectiveRate = errors.New("no_effective_rate")
)
