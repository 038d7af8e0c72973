package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/pkg/db/pagination"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrPaymentNotFound     = errors.New("payment_not_found")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrInvoiceNotPayable   = errors.New("invoice_not_payable")
	ErrInvalidAmount       = errors.New("invalid_payment_amount")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrOverpayment         = errors.New("payment_exceeds_balance")
)

type RecordPaymentRequest struct {
	InvoiceID   string        `json:"invoice_id"`
	Amount      int64         `json:"amount"`
	PaymentDate time.Time     `json:"payment_date"`
	Method      PaymentMethod `json:"method"`
	ReceiptRef  string        `json:"receipt_ref,omitempty"`
	Note        string        `json:"note,omitempty"`
}

type RevisePaymentRequest struct {
	Amount      *int64         `json:"amount,omitempty"`
	PaymentDate *time.Time     `json:"payment_date,omitempty"`
	Method      *PaymentMethod `json:"method,omitempty"`
	Note        *string        `json:"note,omitempty"`
}

type ListPaymentRequest struct {
	pagination.Pagination
	InvoiceID *snowflake.ID
	Method    *PaymentMethod
}

type ListPaymentResponse struct {
	pagination.PageInfo
	Payments []Payment `json:"payments"`
}

type Service interface {
	// Record writes the payment and bumps the invoice's amount_paid and
	// status in one transaction. Overpayment is rejected, never clamped.
	Record(ctx context.Context, req RecordPaymentRequest) (Payment, error)

	List(ctx context.Context, req ListPaymentRequest) (ListPaymentResponse, error)
	GetByID(ctx context.Context, id string) (Payment, error)

	// Revise changes a recorded payment, re-deriving the invoice balance
	// from scratch rather than patching the delta.
	Revise(ctx context.Context, id string, req RevisePaymentRequest) (Payment, error)

	// Reverse deletes the payment and rolls its amount back out of the
	// invoice, re-resolving status from the remaining facts.
	Reverse(ctx context.Context, id string) error
}
