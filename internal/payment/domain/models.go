// Package domain contains models and contracts for rent payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodCheck    PaymentMethod = "CHECK"
	MethodCard     PaymentMethod = "CARD"
)

func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodTransfer, MethodCheck, MethodCard:
		return true
	}
	return false
}

// Payment is money received against one invoice. The invoice's
// amount_paid column is the running sum of its payments and is adjusted
// in the same transaction that writes the payment row.
type Payment struct {
	ID          snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID      `gorm:"not null;index" json:"invoice_id"`
	Amount      int64             `gorm:"not null" json:"amount"`
	PaymentDate time.Time         `gorm:"not null" json:"payment_date"`
	Method      PaymentMethod     `gorm:"type:text;not null" json:"method"`
	ReceiptRef  string            `gorm:"type:text;not null;uniqueIndex" json:"receipt_ref"`
	Note        string            `gorm:"type:text" json:"note,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Payment) TableName() string { return "payments" }
