package domain

import "errors"

var (
	ErrNotFound       = errors.New("jurisdiction_not_found")
	ErrInvalidCode    = errors.New("invalid_jurisdiction_code")
	ErrInvalidLevel   = errors.New("invalid_jurisdiction_level")
	ErrInvalidParent  = errors.New("invalid_jurisdiction_parent")
	ErrInvalidCountry = errors.New("invalid_country_code")
	ErrInvalidState   = errors.New("invalid_state_code")
	ErrDuplicateCode  = errors.New("duplicate_jurisdiction_code")
)
