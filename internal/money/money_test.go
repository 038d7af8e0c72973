package money

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPercent(t *testing.T) {
	// 5.50% of 1_500_000.00
	require.Equal(t, int64(8_250_000), Percent(150_000_000, 550))

	// 10% of 0.05 = 0.005 → banker's rounding to 0.00
	require.Equal(t, int64(0), Percent(5, 1000))

	// 10% of 0.15 = 0.015 → banker's rounding to 0.02
	require.Equal(t, int64(2), Percent(15, 1000))

	require.Equal(t, int64(0), Percent(100_000, 0))
}

func TestParse(t *testing.T) {
	for input, want := range map[string]int64{
		"1234.50": 123450,
		"0.01":    1,
		"1500000": 150000000,
		"-10.25":  -1025,
	} {
		got, err := Parse(input)
		require.NoError(t, err, input)
		require.Equal(t, want, got, input)
	}

	_, err := Parse("10.005")
	require.Error(t, err)

	_, err = Parse("abc")
	require.Error(t, err)
}

func TestFormat(t *testing.T) {
	require.Equal(t, "1500000.00", Format(150000000))
	require.Equal(t, "0.05", Format(5))
	require.Equal(t, "-12.30", Format(-1230))
}
