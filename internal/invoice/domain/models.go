// Package domain contains models and contracts for rent invoices.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"gorm.io/datatypes"
)

// Invoice is one month of rent (or a manual bill) owed under a contract.
// Subtotal, total and status are derived fields: they are recomputed from
// the charge list and payment history, never trusted from input.
type Invoice struct {
	ID               snowflake.ID          `gorm:"primaryKey" json:"id"`
	OrgID            snowflake.ID          `gorm:"not null;index;uniqueIndex:ux_invoice_org_number,priority:1" json:"organization_id"`
	ContractID       snowflake.ID          `gorm:"not null;index" json:"contract_id"`
	PropertyID       snowflake.ID          `gorm:"not null;index" json:"property_id"`
	TenantContactID  snowflake.ID          `gorm:"not null;index" json:"tenant_contact_id"`
	InvoiceNumber    *string               `gorm:"uniqueIndex:ux_invoice_org_number,priority:2" json:"invoice_number,omitempty"`
	IssueDate        time.Time             `gorm:"not null" json:"issue_date"`
	DueDate          time.Time             `gorm:"not null;index" json:"due_date"`
	SubtotalAmount   int64                 `gorm:"not null;default:0" json:"subtotal_amount"`
	TaxAmount        int64                 `gorm:"not null;default:0" json:"tax_amount"`
	OtherCharges     int64                 `gorm:"not null;default:0" json:"other_charges"`
	LateFeeAmount    int64                 `gorm:"not null;default:0" json:"late_fee_amount"`
	TotalAmount      int64                 `gorm:"not null;default:0" json:"total_amount"`
	AmountPaid       int64                 `gorm:"not null;default:0" json:"amount_paid"`
	Status           billing.InvoiceStatus `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	LateFeeAppliedAt *time.Time            `gorm:"" json:"late_fee_applied_at,omitempty"`
	Metadata         datatypes.JSONMap     `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt        time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Invoice) TableName() string { return "invoices" }

// BalanceDue is the amount still owed on the invoice.
func (i Invoice) BalanceDue() int64 {
	return i.TotalAmount - i.AmountPaid
}

// InvoiceCharge is a named line item attached to an invoice.
type InvoiceCharge struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Amount      int64        `gorm:"not null" json:"amount"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (InvoiceCharge) TableName() string { return "invoice_charges" }

// FormatInvoiceNumber renders the per-organization sequential number.
func FormatInvoiceNumber(seq int64) string {
	return fmt.Sprintf("INV-%06d", seq)
}

// InvoiceNumberSeq extracts the sequence from a formatted invoice
// number. Numbers in any other format count as zero.
func InvoiceNumberSeq(number string) int64 {
	var seq int64
	if _, err := fmt.Sscanf(number, "INV-%d", &seq); err != nil {
		return 0
	}
	return seq
}
