package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	"github.com/casaops/rentledger/internal/orgcontext"
	"github.com/casaops/rentledger/pkg/db/option"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/casaops/rentledger/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock

	contractrepo repository.Repository[contractdomain.Contract]
}

func NewService(p ServiceParam) contractdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("contract.service"),
		genID: p.GenID,
		clock: p.Clock,

		contractrepo: repository.ProvideStore[contractdomain.Contract](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req contractdomain.CreateContractRequest) (contractdomain.Contract, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidOrganization
	}

	propertyID, err := snowflake.ParseString(strings.TrimSpace(req.PropertyID))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	ownerID, err := snowflake.ParseString(strings.TrimSpace(req.OwnerContactID))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantContactID))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	var insuranceID *snowflake.ID
	if trimmed := strings.TrimSpace(req.InsurancePolicyID); trimmed != "" {
		id, err := snowflake.ParseString(trimmed)
		if err != nil {
			return contractdomain.Contract{}, contractdomain.ErrInvalidContract
		}
		insuranceID = &id
	}

	if req.StartDate.IsZero() || req.EndDate.IsZero() || req.EndDate.Before(req.StartDate) {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	if req.RentAmount <= 0 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	if req.PaymentDay < 1 || req.PaymentDay > 30 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidContract
	}
	policy := req.LateFeePolicy
	if policy == "" {
		policy = billing.FeePolicyNone
	}
	if err := billing.ValidateFeePolicy(policy, req.LateFeeValue); err != nil {
		return contractdomain.Contract{}, err
	}

	now := s.clock.Now()
	contract := contractdomain.Contract{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		PropertyID:        propertyID,
		OwnerContactID:    ownerID,
		TenantContactID:   tenantID,
		InsurancePolicyID: insuranceID,
		StartDate:         req.StartDate.UTC(),
		EndDate:           req.EndDate.UTC(),
		RentAmount:        req.RentAmount,
		PaymentDay:        req.PaymentDay,
		LateFeePolicy:     policy,
		LateFeeValue:      req.LateFeeValue,
		Status:            contractdomain.ContractStatusDraft,
		Metadata:          datatypes.JSONMap{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.contractrepo.Create(ctx, &contract); err != nil {
		return contractdomain.Contract{}, err
	}

	return contract, nil
}

func (s *Service) List(ctx context.Context, req contractdomain.ListContractRequest) (contractdomain.ListContractResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.ListContractResponse{}, contractdomain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := &contractdomain.Contract{OrgID: orgID}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.PropertyID != nil {
		filter.PropertyID = *req.PropertyID
	}
	if req.TenantID != nil {
		filter.TenantContactID = *req.TenantID
	}

	items, err := s.contractrepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return contractdomain.ListContractResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(contract *contractdomain.Contract) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        contract.ID.String(),
			CreatedAt: contract.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	contracts := make([]contractdomain.Contract, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		contracts = append(contracts, *item)
	}

	return contractdomain.ListContractResponse{PageInfo: *pageInfo, Contracts: contracts}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (contractdomain.Contract, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrContractNotFound
	}

	item, err := s.contractrepo.FindOne(ctx, &contractdomain.Contract{ID: contractID, OrgID: orgID})
	if err != nil {
		return contractdomain.Contract{}, err
	}
	if item == nil {
		return contractdomain.Contract{}, contractdomain.ErrContractNotFound
	}

	return *item, nil
}

func (s *Service) Update(ctx context.Context, id string, req contractdomain.UpdateContractRequest) (contractdomain.Contract, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrContractNotFound
	}

	var updated contractdomain.Contract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := loadContractForUpdate(ctx, tx, orgID, contractID)
		if err != nil {
			return err
		}
		if contract == nil {
			return contractdomain.ErrContractNotFound
		}
		// Terms are frozen once the schedule exists.
		if contract.Status != contractdomain.ContractStatusDraft {
			return contractdomain.ErrContractNotDraft
		}

		if req.EndDate != nil {
			if req.EndDate.Before(contract.StartDate) {
				return contractdomain.ErrInvalidContract
			}
			contract.EndDate = req.EndDate.UTC()
		}
		if req.RentAmount != nil {
			if *req.RentAmount <= 0 {
				return contractdomain.ErrInvalidContract
			}
			contract.RentAmount = *req.RentAmount
		}
		if req.PaymentDay != nil {
			if *req.PaymentDay < 1 || *req.PaymentDay > 30 {
				return contractdomain.ErrInvalidContract
			}
			contract.PaymentDay = *req.PaymentDay
		}
		if req.LateFeePolicy != nil {
			contract.LateFeePolicy = *req.LateFeePolicy
		}
		if req.LateFeeValue != nil {
			contract.LateFeeValue = *req.LateFeeValue
		}
		if err := billing.ValidateFeePolicy(contract.LateFeePolicy, contract.LateFeeValue); err != nil {
			return err
		}

		contract.UpdatedAt = s.clock.Now()
		if err := tx.WithContext(ctx).Save(contract).Error; err != nil {
			return err
		}
		updated = *contract
		return nil
	})
	if err != nil {
		return contractdomain.Contract{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return contractdomain.ErrContractNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := loadContractForUpdate(ctx, tx, orgID, contractID)
		if err != nil {
			return err
		}
		if contract == nil {
			return contractdomain.ErrContractNotFound
		}

		var count int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COUNT(*) FROM invoices WHERE org_id = ? AND contract_id = ?`,
			orgID,
			contractID,
		).Scan(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return contractdomain.ErrContractHasInvoices
		}

		return tx.WithContext(ctx).Exec(
			`DELETE FROM contracts WHERE org_id = ? AND id = ?`,
			orgID,
			contractID,
		).Error
	})
}

func (s *Service) Activate(ctx context.Context, id string) (contractdomain.ActivateResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.ActivateResponse{}, contractdomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return contractdomain.ActivateResponse{}, contractdomain.ErrContractNotFound
	}

	var resp contractdomain.ActivateResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := loadContractForUpdate(ctx, tx, orgID, contractID)
		if err != nil {
			return err
		}
		if contract == nil {
			return contractdomain.ErrContractNotFound
		}
		if contract.Status != contractdomain.ContractStatusDraft {
			return contractdomain.ErrContractNotDraft
		}

		// Lock the property row so two activations on the same property
		// serialize, then re-check overlap inside the committing
		// transaction.
		if err := lockProperty(ctx, tx, orgID, contract.PropertyID); err != nil {
			return err
		}
		overlapping, err := countOverlapping(ctx, tx, contract)
		if err != nil {
			return err
		}
		if overlapping > 0 {
			return contractdomain.ErrOverlappingContract
		}

		periods, err := billing.SchedulePeriods(contract.StartDate, contract.EndDate, contract.PaymentDay)
		if err != nil {
			return err
		}

		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		seq, err := invoiceNumberSeq(ctx, tx, orgID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		invoices := make([]invoicedomain.Invoice, 0, len(periods))
		charges := make([]invoicedomain.InvoiceCharge, 0, len(periods))
		for _, period := range periods {
			totals, err := billing.ComputeTotals([]int64{contract.RentAmount}, 0, 0, 0, false)
			if err != nil {
				return err
			}

			seq++
			number := invoicedomain.FormatInvoiceNumber(seq)
			invoiceID := s.genID.Generate()
			invoices = append(invoices, invoicedomain.Invoice{
				ID:              invoiceID,
				OrgID:           orgID,
				ContractID:      contract.ID,
				PropertyID:      contract.PropertyID,
				TenantContactID: contract.TenantContactID,
				InvoiceNumber:   &number,
				IssueDate:       period.IssueDate,
				DueDate:         period.DueDate,
				SubtotalAmount:  totals.Subtotal,
				TotalAmount:     totals.Total,
				Status:          billing.ResolveStatus(billing.InvoiceStatusIssued, totals.Total, 0, period.DueDate, now),
				Metadata:        datatypes.JSONMap{},
				CreatedAt:       now,
				UpdatedAt:       now,
			})
			charges = append(charges, invoicedomain.InvoiceCharge{
				ID:          s.genID.Generate(),
				OrgID:       orgID,
				InvoiceID:   invoiceID,
				Description: "Monthly rent",
				Amount:      contract.RentAmount,
				CreatedAt:   now,
			})
		}

		if err := tx.WithContext(ctx).CreateInBatches(invoices, 100).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).CreateInBatches(charges, 100).Error; err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE contracts SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
			contractdomain.ContractStatusActive,
			now,
			orgID,
			contractID,
		).Error; err != nil {
			return err
		}

		contract.Status = contractdomain.ContractStatusActive
		contract.UpdatedAt = now
		resp.Contract = *contract
		resp.InvoiceIDs = make([]snowflake.ID, 0, len(invoices))
		for _, invoice := range invoices {
			resp.InvoiceIDs = append(resp.InvoiceIDs, invoice.ID)
		}
		return nil
	})
	if err != nil {
		return contractdomain.ActivateResponse{}, err
	}

	s.log.Info("contract activated",
		zap.String("contract_id", resp.Contract.ID.String()),
		zap.Int("invoices", len(resp.InvoiceIDs)),
	)
	return resp, nil
}

func (s *Service) Close(ctx context.Context, id string) (contractdomain.Contract, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return contractdomain.Contract{}, contractdomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return contractdomain.Contract{}, contractdomain.ErrContractNotFound
	}

	var closed contractdomain.Contract
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		contract, err := loadContractForUpdate(ctx, tx, orgID, contractID)
		if err != nil {
			return err
		}
		if contract == nil {
			return contractdomain.ErrContractNotFound
		}

		now := s.clock.Now()
		if err := tx.WithContext(ctx).Exec(
			`UPDATE contracts SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
			contractdomain.ContractStatusClosed,
			now,
			orgID,
			contractID,
		).Error; err != nil {
			return err
		}
		contract.Status = contractdomain.ContractStatusClosed
		contract.UpdatedAt = now
		closed = *contract
		return nil
	})
	if err != nil {
		return contractdomain.Contract{}, err
	}
	return closed, nil
}

func loadContractForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*contractdomain.Contract, error) {
	query := `SELECT * FROM contracts WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var contract contractdomain.Contract
	if err := tx.WithContext(ctx).Raw(query, orgID, id).Scan(&contract).Error; err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, nil
	}
	return &contract, nil
}

func lockProperty(ctx context.Context, tx *gorm.DB, orgID, propertyID snowflake.ID) error {
	query := `SELECT id FROM properties WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	var id snowflake.ID
	if err := tx.WithContext(ctx).Raw(query, orgID, propertyID).Scan(&id).Error; err != nil {
		return err
	}
	if id == 0 {
		return contractdomain.ErrInvalidContract
	}
	return nil
}

func lockOrganization(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	query := `SELECT id FROM organizations WHERE id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	var id snowflake.ID
	return tx.WithContext(ctx).Raw(query, orgID).Scan(&id).Error
}

// invoiceNumberSeq returns the highest sequence ever issued for the
// organization. Deleted invoices must never free their numbers.
func invoiceNumberSeq(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (int64, error) {
	var last string
	if err := tx.WithContext(ctx).Raw(
		`SELECT invoice_number FROM invoices
		 WHERE org_id = ? AND invoice_number IS NOT NULL
		 ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC
		 LIMIT 1`,
		orgID,
	).Scan(&last).Error; err != nil {
		return 0, err
	}
	return invoicedomain.InvoiceNumberSeq(last), nil
}

func countOverlapping(ctx context.Context, tx *gorm.DB, contract *contractdomain.Contract) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM contracts
		 WHERE org_id = ? AND property_id = ? AND id <> ?
		   AND status IN (?, ?)
		   AND start_date <= ? AND end_date >= ?`,
		contract.OrgID,
		contract.PropertyID,
		contract.ID,
		contractdomain.ContractStatusActive,
		contractdomain.ContractStatusExpiring,
		contract.EndDate,
		contract.StartDate,
	).Scan(&count).Error
	return count, err
}
