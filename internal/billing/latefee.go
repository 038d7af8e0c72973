package billing

import "github.com/casaops/rentledger/internal/money"

// FeePolicy names how a contract charges for overdue invoices.
type FeePolicy string

const (
	FeePolicyNone    FeePolicy = "none"
	FeePolicyPercent FeePolicy = "percent"
	FeePolicyFixed   FeePolicy = "fixed"
)

// EvaluateLateFee returns the fee to add when an invoice goes overdue.
// Percent fees apply to the contract's monthly rent, not the outstanding
// balance; the rate carries two implied decimals (550 = 5.50%). Callers
// are responsible for applying the fee at most once per invoice.
func EvaluateLateFee(policy FeePolicy, value int64, rentAmount int64) (int64, error) {
	switch policy {
	case FeePolicyNone, "":
		return 0, nil
	case FeePolicyPercent:
		if value < 0 {
			return 0, ErrInvalidPolicy
		}
		return money.Percent(rentAmount, value), nil
	case FeePolicyFixed:
		if value < 0 {
			return 0, ErrInvalidPolicy
		}
		return value, nil
	default:
		return 0, ErrInvalidPolicy
	}
}

// ValidateFeePolicy checks a policy and value pair at contract-creation
// time, before any invoice exists to charge.
func ValidateFeePolicy(policy FeePolicy, value int64) error {
	switch policy {
	case FeePolicyNone, "":
		return nil
	case FeePolicyPercent, FeePolicyFixed:
		if value < 0 {
			return ErrInvalidPolicy
		}
		return nil
	default:
		return ErrInvalidPolicy
	}
}
