package billing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/hms/hms/internal/platform/apperr"
)

// Totals is the derived money breakdown of a bill. Amounts are rounded to
// cents.
type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Tax      decimal.Decimal `json:"tax"`
	Discount decimal.Decimal `json:"discount"`
	Final    decimal.Decimal `json:"final"`
}

// isCents reports whether v has at most two decimal places, the precision of
// every money column.
func isCents(v decimal.Decimal) bool {
	return v.Equal(v.Round(2))
}

// ComputeTotals returns subtotal = Σ quantity × unit price and
// final = subtotal + tax − discount. A negative final amount is an error and
// is never clamped to zero. Inputs finer than a cent are rejected so that the
// totals recompute exactly from stored values.
func ComputeTotals(items []*BillItem, tax, discount decimal.Decimal) (Totals, error) {
	if tax.IsNegative() {
		return Totals{}, fmt.Errorf("%w: tax_amount cannot be negative", apperr.ErrBillingError)
	}
	if discount.IsNegative() {
		return Totals{}, fmt.Errorf("%w: discount_amount cannot be negative", apperr.ErrBillingError)
	}
	if !isCents(tax) {
		return Totals{}, fmt.Errorf("%w: tax_amount %s has more than 2 decimal places", apperr.ErrBillingError, tax)
	}
	if !isCents(discount) {
		return Totals{}, fmt.Errorf("%w: discount_amount %s has more than 2 decimal places", apperr.ErrBillingError, discount)
	}

	subtotal := decimal.Zero
	for i, it := range items {
		if !isCents(it.UnitPrice) {
			return Totals{}, fmt.Errorf("%w: item %d: unit_price %s has more than 2 decimal places",
				apperr.ErrBillingError, i+1, it.UnitPrice)
		}
		subtotal = subtotal.Add(it.Amount())
	}
	final := subtotal.Add(tax).Sub(discount)
	if final.IsNegative() {
		return Totals{}, fmt.Errorf("%w: discount %s exceeds subtotal plus tax %s",
			apperr.ErrBillingError, discount.StringFixed(2), subtotal.Add(tax).StringFixed(2))
	}

	return Totals{
		Subtotal: subtotal.Round(2),
		Tax:      tax.Round(2),
		Discount: discount.Round(2),
		Final:    final.Round(2),
	}, nil
}

func validateItem(i int, it *BillItem) error {
	switch {
	case it == nil:
		return fmt.Errorf("%w: item %d is empty", apperr.ErrBillingError, i+1)
	case it.Description == "":
		return fmt.Errorf("%w: item %d: description is required", apperr.ErrBillingError, i+1)
	case it.Quantity < 1:
		return fmt.Errorf("%w: item %d: quantity must be at least 1", apperr.ErrBillingError, i+1)
	case it.UnitPrice.IsNegative():
		return fmt.Errorf("%w: item %d: unit_price cannot be negative", apperr.ErrBillingError, i+1)
	case !isCents(it.UnitPrice):
		return fmt.Errorf("%w: item %d: unit_price has more than 2 decimal places", apperr.ErrBillingError, i+1)
	case !it.Type.Valid():
		return fmt.Errorf("%w: item %d: unknown type %q", apperr.ErrBillingError, i+1, it.Type)
	}
	return nil
}
