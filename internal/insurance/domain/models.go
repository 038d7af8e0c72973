// Package domain contains models and contracts for property insurance
// policies linked to lease contracts.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/pkg/db/pagination"
)

type InsurancePolicy struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID         snowflake.ID `gorm:"not null;index" json:"organization_id"`
	PropertyID    snowflake.ID `gorm:"not null;index" json:"property_id"`
	Insurer       string       `gorm:"not null" json:"insurer"`
	PolicyNumber  string       `gorm:"not null" json:"policy_number"`
	PremiumAmount int64        `gorm:"not null;default:0" json:"premium_amount"`
	StartDate     time.Time    `gorm:"not null" json:"start_date"`
	EndDate       time.Time    `gorm:"not null" json:"end_date"`
	CreatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (InsurancePolicy) TableName() string { return "insurance_policies" }

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPolicy       = errors.New("invalid_insurance_policy")
	ErrPolicyNotFound      = errors.New("insurance_policy_not_found")
)

type CreatePolicyRequest struct {
	PropertyID    string    `json:"property_id"`
	Insurer       string    `json:"insurer"`
	PolicyNumber  string    `json:"policy_number"`
	PremiumAmount int64     `json:"premium_amount"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
}

type ListPolicyRequest struct {
	pagination.Pagination
	PropertyID string `form:"property_id"`
}

type ListPolicyResponse struct {
	pagination.PageInfo
	Policies []InsurancePolicy `json:"policies"`
}

type Service interface {
	Create(ctx context.Context, req CreatePolicyRequest) (InsurancePolicy, error)
	List(ctx context.Context, req ListPolicyRequest) (ListPolicyResponse, error)
	GetByID(ctx context.Context, id string) (InsurancePolicy, error)
	Delete(ctx context.Context, id string) error
}
