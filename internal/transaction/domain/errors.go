package domain

import "errors"

var (
	ErrNotFound           = errors.New("transaction_not_found")
	ErrInvalidState       = errors.New("invalid_transaction_state")
	ErrInvalidAmount      = errors.New("invalid_transaction_amount")
	ErrInvalidTaxType     = errors.New("invalid_transaction_tax_type")
	ErrInvalidDate        = errors.New("invalid_transaction_date")
	ErrInvariantViolation = errors.New("component_sum_mismatch")
	ErrDuplicateDocNumber = errors.New("duplicate_document_number")
	ErrMissingActor       = errors.New("missing_actor")
)
