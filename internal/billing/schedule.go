package billing

import (
	"errors"
	"time"
)

var ErrInvalidPeriod = errors.New("invalid_schedule_period")

// Period is one billing month of a contract's invoice schedule.
type Period struct {
	IssueDate time.Time
	DueDate   time.Time
}

// SchedulePeriods lays out one period per calendar month touched by the
// range, inclusive. The first period issues on the contract start date,
// later ones on the first of their month. Due dates fall on paymentDay,
// clamped to the last day of short months. Partial first or last months
// are not prorated; each month bills in full.
func SchedulePeriods(startDate, endDate time.Time, paymentDay int) ([]Period, error) {
	if endDate.Before(startDate) {
		return nil, ErrInvalidPeriod
	}
	if paymentDay < 1 || paymentDay > 30 {
		return nil, ErrInvalidPeriod
	}

	start := startOfDay(startDate)
	end := startOfDay(endDate)

	var periods []Period
	year, month, _ := start.Date()
	cursor := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for !cursor.After(end) {
		issue := cursor
		if len(periods) == 0 {
			issue = start
		}
		periods = append(periods, Period{
			IssueDate: issue,
			DueDate:   dueDateFor(cursor, paymentDay),
		})
		cursor = cursor.AddDate(0, 1, 0)
	}

	return periods, nil
}

func dueDateFor(monthStart time.Time, paymentDay int) time.Time {
	day := paymentDay
	if last := daysIn(monthStart); day > last {
		day = last
	}
	return time.Date(monthStart.Year(), monthStart.Month(), day, 0, 0, 0, 0, time.UTC)
}

func daysIn(monthStart time.Time) int {
	return monthStart.AddDate(0, 1, -1).Day()
}
