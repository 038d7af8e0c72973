// Package domain contains models and contracts for rental agreements.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"gorm.io/datatypes"
)

type ContractStatus string

const (
	ContractStatusDraft    ContractStatus = "DRAFT"
	ContractStatusActive   ContractStatus = "ACTIVE"
	ContractStatusExpiring ContractStatus = "EXPIRING"
	ContractStatusExpired  ContractStatus = "EXPIRED"
	ContractStatusClosed   ContractStatus = "CLOSED"
)

// Contract binds a tenant to a property for a date range at a fixed
// monthly rent. Activation generates the full invoice schedule up front.
type Contract struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	OrgID             snowflake.ID      `gorm:"not null;index" json:"organization_id"`
	PropertyID        snowflake.ID      `gorm:"not null;index" json:"property_id"`
	OwnerContactID    snowflake.ID      `gorm:"not null" json:"owner_contact_id"`
	TenantContactID   snowflake.ID      `gorm:"not null;index" json:"tenant_contact_id"`
	InsurancePolicyID *snowflake.ID     `gorm:"" json:"insurance_policy_id,omitempty"`
	StartDate         time.Time         `gorm:"not null" json:"start_date"`
	EndDate           time.Time         `gorm:"not null" json:"end_date"`
	RentAmount        int64             `gorm:"not null" json:"rent_amount"`
	PaymentDay        int               `gorm:"not null" json:"payment_day"`
	LateFeePolicy     billing.FeePolicy `gorm:"type:text;not null;default:'none'" json:"late_fee_policy"`
	LateFeeValue      int64             `gorm:"not null;default:0" json:"late_fee_value"`
	Status            ContractStatus    `gorm:"type:text;not null;default:'DRAFT';index" json:"status"`
	Metadata          datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Contract) TableName() string { return "contracts" }
