// Package pdf renders invoice statements and payment receipts.
package pdf

import (
	"context"
	"io"
)

type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) (io.Reader, error)
	GenerateReceipt(ctx context.Context, data ReceiptData) (io.Reader, error)
}

type InvoiceData struct {
	OrgName       string
	InvoiceNumber string
	IssueDate     string
	DueDate       string
	PropertyName  string
	TenantName    string

	Items []InvoiceItem

	Subtotal   string
	Tax        string
	LateFee    string
	Total      string
	AmountPaid string
	BalanceDue string
}

type InvoiceItem struct {
	Description string
	Amount      string
}

type ReceiptData struct {
	InvoiceData
	ReceiptRef string
	DatePaid   string
	AmountPaid string
	Method     string
}
