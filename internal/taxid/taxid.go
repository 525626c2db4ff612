// Package taxid validates tax identification numbers by country convention.
package taxid

import (
	"regexp"
	"strings"
)

// Validation is the outcome of a tax id check.
type Validation struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

var (
	digitsOnly = regexp.MustCompile(`^[0-9]+$`)
	hasDigit   = regexp.MustCompile(`[0-9]`)
	euPrefix   = regexp.MustCompile(`^[A-Z]{2}[0-9]+$`)
)

// euCountries are the member states whose VAT ids follow the common
// two-letter-prefix-then-digits shape checked here.
var euCountries = map[string]bool{
	"DE": true, "FR": true, "IT": true, "ES": true, "NL": true,
	"BE": true, "AT": true, "PT": true, "FI": true, "SE": true,
	"DK": true, "IE": true, "PL": true, "CZ": true, "HU": true,
	"RO": true, "SK": true, "SI": true, "BG": true, "HR": true,
	"EE": true, "LV": true, "LT": true, "LU": true, "MT": true,
	"CY": true, "GR": true, "EL": true,
}

// Validate checks a tax id against the convention for the country:
// US EIN (9 digits, normalized XX-XXXXXXX), UK VAT (GB + 5-12 digits),
// EU VAT (country prefix + digits). Any other country passes with the
// generic check: length >= 4 and at least one digit.
func Validate(taxID, country string) Validation {
	country = strings.ToUpper(strings.TrimSpace(country))
	cleaned := strings.ToUpper(strings.TrimSpace(taxID))
	cleaned = strings.NewReplacer(" ", "", "-", "", ".", "").Replace(cleaned)

	if cleaned == "" {
		return Validation{Valid: false, Reason: "empty"}
	}

	switch {
	case country == "US":
		return validateUS(cleaned)
	case country == "GB" || country == "UK":
		return validateUK(cleaned)
	case euCountries[country]:
		return validateEU(cleaned, country)
	default:
		return validateGeneric(cleaned)
	}
}

func validateUS(cleaned string) Validation {
	if len(cleaned) != 9 || !digitsOnly.MatchString(cleaned) {
		return Validation{Valid: false, Reason: "us_ein_must_be_9_digits"}
	}
	return Validation{Valid: true, Normalized: cleaned[:2] + "-" + cleaned[2:]}
}

func validateUK(cleaned string) Validation {
	body := strings.TrimPrefix(cleaned, "GB")
	if body == cleaned {
		return Validation{Valid: false, Reason: "uk_vat_must_start_with_gb"}
	}
	if len(body) < 5 || len(body) > 12 || !digitsOnly.MatchString(body) {
		return Validation{Valid: false, Reason: "uk_vat_must_have_5_to_12_digits"}
	}
	return Validation{Valid: true, Normalized: "GB" + body}
}

func validateEU(cleaned, country string) Validation {
	if !strings.HasPrefix(cleaned, country) {
		cleaned = country + cleaned
	}
	if !euPrefix.MatchString(cleaned) {
		return Validation{Valid: false, Reason: "eu_vat_must_be_country_prefix_and_digits"}
	}
	return Validation{Valid: true, Normalized: cleaned}
}

func validateGeneric(cleaned string) Validation {
	if len(cleaned) < 4 {
		return Validation{Valid: false, Reason: "too_short"}
	}
	if !hasDigit.MatchString(cleaned) {
		return Validation{Valid: false, Reason: "must_contain_digit"}
	}
	return Validation{Valid: true, Normalized: cleaned}
}

// MatchesPattern checks an id against a rule-supplied regular expression.
// An empty or unparseable pattern matches everything; rule authors get a
// permissive default rather than a hard failure.
func MatchesPattern(taxID, pattern string) bool {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return true
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return true
	}
	return re.MatchString(strings.TrimSpace(taxID))
}
