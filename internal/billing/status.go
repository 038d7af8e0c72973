package billing

import "time"

// InvoiceStatus is derived from amounts and dates, never set directly.
type InvoiceStatus string

const (
	InvoiceStatusDraft   InvoiceStatus = "DRAFT"
	InvoiceStatusIssued  InvoiceStatus = "ISSUED"
	InvoiceStatusPartial InvoiceStatus = "PARTIAL"
	InvoiceStatusOverdue InvoiceStatus = "OVERDUE"
	InvoiceStatusPaid    InvoiceStatus = "PAID"
)

// ResolveStatus derives an invoice status from its amounts and due date.
// Rules apply in priority order, first match wins:
//
//  1. unpaid draft      → DRAFT; a draft is only left through an
//     explicit issue action, no matter what the dates say
//  2. fully paid        → PAID, regardless of dates; a zero-total
//     invoice counts as fully paid once issued
//  3. past due, unpaid  → OVERDUE, even when partially paid; a
//     partially-paid invoice past its due date is collections risk,
//     not normal partial payment
//  4. some payment      → PARTIAL
//  5. no payment        → ISSUED
//
// The function is pure, so re-running it with unchanged inputs yields
// the same status.
func ResolveStatus(current InvoiceStatus, totalAmount, amountPaid int64, dueDate, today time.Time) InvoiceStatus {
	if current == InvoiceStatusDraft && amountPaid == 0 {
		return InvoiceStatusDraft
	}
	if amountPaid >= totalAmount {
		return InvoiceStatusPaid
	}
	if PastDue(dueDate, today) {
		return InvoiceStatusOverdue
	}
	if amountPaid > 0 {
		return InvoiceStatusPartial
	}
	return InvoiceStatusIssued
}

// PastDue reports whether today is strictly after the due date at day
// granularity. Time-of-day never makes an invoice overdue early.
func PastDue(dueDate, today time.Time) bool {
	return startOfDay(today).After(startOfDay(dueDate))
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
