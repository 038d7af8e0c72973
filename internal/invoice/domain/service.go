package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/pkg/db/pagination"
)

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrChargeNotFound      = errors.New("invoice_charge_not_found")
	ErrInvalidInvoice      = errors.New("invalid_invoice")
	ErrInvoiceNotDraft     = errors.New("invoice_not_draft")
	ErrInvoiceHasPayments  = errors.New("invoice_has_payments")
)

type CreateInvoiceRequest struct {
	ContractID      string        `json:"contract_id"`
	TenantContactID string        `json:"tenant_contact_id"`
	IssueDate       time.Time     `json:"issue_date"`
	DueDate         time.Time     `json:"due_date"`
	TaxAmount       int64         `json:"tax_amount"`
	OtherCharges    int64         `json:"other_charges"`
	Charges         []ChargeInput `json:"charges"`
}

type ChargeInput struct {
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	Status     *billing.InvoiceStatus
	ContractID *snowflake.ID
	TenantID   *snowflake.ID
	DueFrom    *time.Time
	DueTo      *time.Time
	TotalMin   *int64
	TotalMax   *int64
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type RecalculateResponse struct {
	Subtotal int64 `json:"subtotal"`
	Total    int64 `json:"total"`
}

// AgingReport groups outstanding balances by days past due.
type AgingReport struct {
	AsOf    time.Time          `json:"as_of"`
	Buckets []AgingReportEntry `json:"buckets"`
}

type AgingReportEntry struct {
	Label       string `json:"label"`
	Invoices    int    `json:"invoices"`
	Outstanding int64  `json:"outstanding"`
}

type Service interface {
	Create(ctx context.Context, req CreateInvoiceRequest) (Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	Delete(ctx context.Context, id string) error

	// Issue moves a draft invoice into circulation. This is the only
	// path out of DRAFT; the status resolver never leaves it on its own.
	Issue(ctx context.Context, id string) (Invoice, error)

	AddCharge(ctx context.Context, invoiceID string, charge ChargeInput) (InvoiceCharge, error)
	RemoveCharge(ctx context.Context, chargeID string) error
	ListCharges(ctx context.Context, invoiceID string) ([]InvoiceCharge, error)

	// Recalculate recomputes subtotal and total from the stored charge
	// list and re-resolves status inside one transaction.
	Recalculate(ctx context.Context, invoiceID string) (RecalculateResponse, error)

	// ResolveStatus derives the status as of the given date. With
	// persist=false it is a pure read (dry run); with persist=true the
	// derived status is written back.
	ResolveStatus(ctx context.Context, invoiceID string, asOf time.Time, persist bool) (billing.InvoiceStatus, error)

	AgingReport(ctx context.Context, asOf time.Time) (AgingReport, error)
}
