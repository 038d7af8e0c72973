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
	ErrContractNotFound    = errors.New("contract_not_found")
	ErrInvalidContract     = errors.New("invalid_contract")
	ErrContractNotDraft    = errors.New("contract_not_draft")
	ErrOverlappingContract = errors.New("overlapping_contract")
	ErrContractHasInvoices = errors.New("contract_has_invoices")
)

type CreateContractRequest struct {
	PropertyID        string            `json:"property_id"`
	OwnerContactID    string            `json:"owner_contact_id"`
	TenantContactID   string            `json:"tenant_contact_id"`
	InsurancePolicyID string            `json:"insurance_policy_id,omitempty"`
	StartDate         time.Time         `json:"start_date"`
	EndDate           time.Time         `json:"end_date"`
	RentAmount        int64             `json:"rent_amount"`
	PaymentDay        int               `json:"payment_day"`
	LateFeePolicy     billing.FeePolicy `json:"late_fee_policy"`
	LateFeeValue      int64             `json:"late_fee_value"`
}

type UpdateContractRequest struct {
	EndDate       *time.Time         `json:"end_date,omitempty"`
	RentAmount    *int64             `json:"rent_amount,omitempty"`
	PaymentDay    *int               `json:"payment_day,omitempty"`
	LateFeePolicy *billing.FeePolicy `json:"late_fee_policy,omitempty"`
	LateFeeValue  *int64             `json:"late_fee_value,omitempty"`
}

type ListContractRequest struct {
	pagination.Pagination
	Status     *ContractStatus
	PropertyID *snowflake.ID
	TenantID   *snowflake.ID
}

type ListContractResponse struct {
	pagination.PageInfo
	Contracts []Contract `json:"contracts"`
}

// ActivateResponse reports the invoices generated by activation.
type ActivateResponse struct {
	Contract   Contract       `json:"contract"`
	InvoiceIDs []snowflake.ID `json:"invoice_ids"`
}

type Service interface {
	Create(ctx context.Context, req CreateContractRequest) (Contract, error)
	List(ctx context.Context, req ListContractRequest) (ListContractResponse, error)
	GetByID(ctx context.Context, id string) (Contract, error)
	Update(ctx context.Context, id string, req UpdateContractRequest) (Contract, error)
	Delete(ctx context.Context, id string) error

	// Activate transitions a draft contract to ACTIVE and generates the
	// whole invoice schedule in one transaction. Either every invoice is
	// created and the contract flips, or nothing changes.
	Activate(ctx context.Context, id string) (ActivateResponse, error)

	Close(ctx context.Context, id string) (Contract, error)
}
