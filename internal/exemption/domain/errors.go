package domain

import "errors"

var (
	ErrNotFound                 = errors.New("certificate_not_found")
	ErrExemptionNotFound        = errors.New("exemption_not_found")
	ErrDuplicateNumber          = errors.New("duplicate_certificate_number")
	ErrDuplicateCode            = errors.New("duplicate_exemption_code")
	ErrInvalidCertificateNumber = errors.New("invalid_certificate_number")
	ErrInvalidCustomer          = errors.New("invalid_customer")
	ErrInvalidExemptionType     = errors.New("invalid_exemption_type")
	ErrInvalidValidityWindow    = errors.New("invalid_validity_window")
	ErrCertificateInUse         = errors.New("certificate_in_use")
)

// Reason classifies why a certificate failed validation.
type Reason string

const (
	ReasonExpired           Reason = "expired"
	ReasonInactive          Reason = "inactive"
	ReasonWrongCustomer     Reason = "wrong_customer"
	ReasonWrongJurisdiction Reason = "wrong_jurisdiction"
	ReasonWrongTaxCode      Reason = "wrong_tax_code"
)

// ValidationError is the ExemptionInvalid error kind: a rejection carrying
// its reason subcode.
type ValidationError struct {
	Reason Reason
}

func (e *ValidationError) Error() string {
	return "exemption_invalid:" + string(e.Reason)
}

func NewValidationError(reason Reason) *ValidationError {
	return &ValidationError{Reason: reason}
}
