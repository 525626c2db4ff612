package domain

import (
	"context"

	taxruledomain "github.com/paksafinancial/taxengine/internal/taxrule/domain"
	"github.com/shopspring/decimal"
)

// Calculator produces tax breakdowns. ApplyRate is the single-rate core;
// Calculate composes it across the resolved jurisdiction chain.
type Calculator interface {
	Calculate(ctx context.Context, req CalculateRequest) (*Calculation, error)
	ApplyRate(taxableAmount decimal.Decimal, rate *taxruledomain.TaxRate, transactionType string) decimal.Decimal
}
