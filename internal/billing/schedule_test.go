package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSchedulePeriodsQuarter(t *testing.T) {
	periods, err := SchedulePeriods(date(2024, 1, 1), date(2024, 3, 31), 5)
	require.NoError(t, err)
	require.Len(t, periods, 3)

	require.Equal(t, date(2024, 1, 1), periods[0].IssueDate)
	require.Equal(t, date(2024, 1, 5), periods[0].DueDate)
	require.Equal(t, date(2024, 2, 1), periods[1].IssueDate)
	require.Equal(t, date(2024, 2, 5), periods[1].DueDate)
	require.Equal(t, date(2024, 3, 1), periods[2].IssueDate)
	require.Equal(t, date(2024, 3, 5), periods[2].DueDate)
}

func TestSchedulePeriodsClampsShortMonths(t *testing.T) {
	periods, err := SchedulePeriods(date(2024, 1, 1), date(2024, 3, 31), 30)
	require.NoError(t, err)
	require.Len(t, periods, 3)

	// 2024 is a leap year; day 30 clamps to February 29.
	require.Equal(t, date(2024, 2, 29), periods[1].DueDate)

	periods, err = SchedulePeriods(date(2023, 2, 1), date(2023, 2, 28), 30)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	require.Equal(t, date(2023, 2, 28), periods[0].DueDate)
}

func TestSchedulePeriodsPartialMonths(t *testing.T) {
	// A contract touching three calendar months bills three full months,
	// no proration.
	periods, err := SchedulePeriods(date(2024, 1, 20), date(2024, 3, 10), 5)
	require.NoError(t, err)
	require.Len(t, periods, 3)
	require.Equal(t, date(2024, 1, 20), periods[0].IssueDate)
	require.Equal(t, date(2024, 2, 1), periods[1].IssueDate)
}

func TestSchedulePeriodsSingleMonth(t *testing.T) {
	periods, err := SchedulePeriods(date(2024, 5, 10), date(2024, 5, 20), 15)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	require.Equal(t, date(2024, 5, 15), periods[0].DueDate)
}

func TestSchedulePeriodsValidation(t *testing.T) {
	_, err := SchedulePeriods(date(2024, 5, 10), date(2024, 5, 1), 15)
	require.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = SchedulePeriods(date(2024, 1, 1), date(2024, 2, 1), 0)
	require.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = SchedulePeriods(date(2024, 1, 1), date(2024, 2, 1), 31)
	require.ErrorIs(t, err, ErrInvalidPeriod)
}
