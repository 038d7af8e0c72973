// Package billing holds the pure calculation core of the collections
// engine: invoice totals, status resolution, late-fee evaluation and
// schedule period generation. Nothing in here touches storage or the
// system clock; callers supply every input.
package billing

import "errors"

var (
	ErrInvalidCharge = errors.New("invalid_charge")
	ErrInvalidPolicy = errors.New("invalid_late_fee_policy")
)

// Totals is the recomputed amount breakdown for an invoice.
type Totals struct {
	Subtotal int64
	Total    int64
}

// ComputeTotals derives subtotal and total from the charge list. Charge
// amounts must be non-negative unless allowCredits is set; the recomputed
// total must never be negative. All amounts are minor units, so the sums
// are exact and nothing is rounded here.
func ComputeTotals(charges []int64, tax, otherCharges, lateFee int64, allowCredits bool) (Totals, error) {
	if tax < 0 || otherCharges < 0 || lateFee < 0 {
		return Totals{}, ErrInvalidCharge
	}

	var subtotal int64
	for _, amount := range charges {
		if amount < 0 && !allowCredits {
			return Totals{}, ErrInvalidCharge
		}
		subtotal += amount
	}

	total := subtotal + tax + otherCharges + lateFee
	if total < 0 {
		return Totals{}, ErrInvalidCharge
	}

	return Totals{Subtotal: subtotal, Total: total}, nil
}
