package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotals(t *testing.T) {
	totals, err := ComputeTotals([]int64{150_000_000}, 0, 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, int64(150_000_000), totals.Subtotal)
	require.Equal(t, int64(150_000_000), totals.Total)

	totals, err = ComputeTotals([]int64{100_000, 25_000}, 11_000, 5_000, 7_500, false)
	require.NoError(t, err)
	require.Equal(t, int64(125_000), totals.Subtotal)
	require.Equal(t, int64(148_500), totals.Total)
}

func TestComputeTotalsIdempotent(t *testing.T) {
	charges := []int64{90_000, 10_000}

	first, err := ComputeTotals(charges, 5_000, 0, 2_000, false)
	require.NoError(t, err)
	second, err := ComputeTotals(charges, 5_000, 0, 2_000, false)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestComputeTotalsRejectsNegativeCharge(t *testing.T) {
	_, err := ComputeTotals([]int64{100, -50}, 0, 0, 0, false)
	require.ErrorIs(t, err, ErrInvalidCharge)

	// Credits allowed explicitly.
	totals, err := ComputeTotals([]int64{100, -50}, 0, 0, 0, true)
	require.NoError(t, err)
	require.Equal(t, int64(50), totals.Subtotal)

	// Even with credits, the total may not go negative.
	_, err = ComputeTotals([]int64{100, -500}, 0, 0, 0, true)
	require.ErrorIs(t, err, ErrInvalidCharge)

	_, err = ComputeTotals([]int64{100}, -1, 0, 0, false)
	require.ErrorIs(t, err, ErrInvalidCharge)
}

func TestEmptyChargeList(t *testing.T) {
	totals, err := ComputeTotals(nil, 0, 0, 0, false)
	require.NoError(t, err)
	require.Equal(t, int64(0), totals.Subtotal)
	require.Equal(t, int64(0), totals.Total)
}
