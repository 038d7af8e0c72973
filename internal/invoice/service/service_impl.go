package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	"github.com/casaops/rentledger/internal/config"
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

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID       *snowflake.Node
	clock       clock.Clock
	billingCfg  *config.BillingConfigHolder
	invoicerepo repository.Repository[invoicedomain.Invoice]
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,
		clock: p.Clock,

		billingCfg:  p.BillingCfg,
		invoicerepo: repository.ProvideStore[invoicedomain.Invoice](p.DB),
	}
}

func (s *Service) Create(ctx context.Context, req invoicedomain.CreateInvoiceRequest) (invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrganization
	}

	contractID, err := snowflake.ParseString(strings.TrimSpace(req.ContractID))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	tenantID, err := snowflake.ParseString(strings.TrimSpace(req.TenantContactID))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}
	if req.IssueDate.IsZero() || req.DueDate.IsZero() || req.DueDate.Before(req.IssueDate) {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidInvoice
	}

	amounts := make([]int64, 0, len(req.Charges))
	for _, charge := range req.Charges {
		amounts = append(amounts, charge.Amount)
	}
	totals, err := billing.ComputeTotals(amounts, req.TaxAmount, req.OtherCharges, 0, false)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var invoice invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var propertyID snowflake.ID
		if err := tx.WithContext(ctx).Raw(
			`SELECT property_id FROM contracts WHERE org_id = ? AND id = ?`,
			orgID,
			contractID,
		).Scan(&propertyID).Error; err != nil {
			return err
		}
		if propertyID == 0 {
			return invoicedomain.ErrInvalidInvoice
		}

		if err := lockOrganization(ctx, tx, orgID); err != nil {
			return err
		}
		number, err := nextInvoiceNumber(ctx, tx, orgID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		invoice = invoicedomain.Invoice{
			ID:              s.genID.Generate(),
			OrgID:           orgID,
			ContractID:      contractID,
			PropertyID:      propertyID,
			TenantContactID: tenantID,
			InvoiceNumber:   &number,
			IssueDate:       req.IssueDate.UTC(),
			DueDate:         req.DueDate.UTC(),
			SubtotalAmount:  totals.Subtotal,
			TaxAmount:       req.TaxAmount,
			OtherCharges:    req.OtherCharges,
			TotalAmount:     totals.Total,
			Status:          billing.InvoiceStatusDraft,
			Metadata:        datatypes.JSONMap{},
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
			return err
		}

		for _, charge := range req.Charges {
			row := invoicedomain.InvoiceCharge{
				ID:          s.genID.Generate(),
				OrgID:       orgID,
				InvoiceID:   invoice.ID,
				Description: strings.TrimSpace(charge.Description),
				Amount:      charge.Amount,
				CreatedAt:   now,
			}
			if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.ListInvoiceResponse{}, invoicedomain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := &invoicedomain.Invoice{OrgID: orgID}
	if req.Status != nil {
		filter.Status = *req.Status
	}
	if req.ContractID != nil {
		filter.ContractID = *req.ContractID
	}
	if req.TenantID != nil {
		filter.TenantContactID = *req.TenantID
	}

	options := []option.QueryOption{
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
		option.ApplyPagination(req.Pagination),
	}
	if req.DueFrom != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.GTE,
			Value:    *req.DueFrom,
		}))
	}
	if req.DueTo != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "due_date",
			Operator: option.LTE,
			Value:    *req.DueTo,
		}))
	}
	if req.TotalMin != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "total_amount",
			Operator: option.GTE,
			Value:    *req.TotalMin,
		}))
	}
	if req.TotalMax != nil {
		options = append(options, option.ApplyOperator(option.Condition{
			Field:    "total_amount",
			Operator: option.LTE,
			Value:    *req.TotalMax,
		}))
	}

	items, err := s.invoicerepo.Find(ctx, filter, options...)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(invoice *invoicedomain.Invoice) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        invoice.ID.String(),
			CreatedAt: invoice.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	invoices := make([]invoicedomain.Invoice, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		invoices = append(invoices, *item)
	}

	return invoicedomain.ListInvoiceResponse{PageInfo: *pageInfo, Invoices: invoices}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	item, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: invoiceID, OrgID: orgID})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	if item == nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	return *item, nil
}

// Delete removes the invoice together with the charges and payments it
// owns.
func (s *Service) Delete(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.ErrInvoiceNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM payments WHERE org_id = ? AND invoice_id = ?`, orgID, invoiceID,
		).Error; err != nil {
			return err
		}
		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM invoice_charges WHERE org_id = ? AND invoice_id = ?`, orgID, invoiceID,
		).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`DELETE FROM invoices WHERE org_id = ? AND id = ?`, orgID, invoiceID,
		).Error
	})
}

func (s *Service) Issue(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvoiceNotFound
	}

	var issued invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		if invoice.Status != billing.InvoiceStatusDraft {
			return invoicedomain.ErrInvoiceNotDraft
		}

		now := s.clock.Now()
		status := billing.ResolveStatus(billing.InvoiceStatusIssued, invoice.TotalAmount, invoice.AmountPaid, invoice.DueDate, now)
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
			status,
			now,
			orgID,
			invoiceID,
		).Error; err != nil {
			return err
		}
		invoice.Status = status
		invoice.UpdatedAt = now
		issued = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return issued, nil
}

func (s *Service) AddCharge(ctx context.Context, invoiceID string, charge invoicedomain.ChargeInput) (invoicedomain.InvoiceCharge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.InvoiceCharge{}, invoicedomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return invoicedomain.InvoiceCharge{}, invoicedomain.ErrInvoiceNotFound
	}
	description := strings.TrimSpace(charge.Description)
	if description == "" || charge.Amount < 0 {
		return invoicedomain.InvoiceCharge{}, billing.ErrInvalidCharge
	}

	var row invoicedomain.InvoiceCharge
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		row = invoicedomain.InvoiceCharge{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   id,
			Description: description,
			Amount:      charge.Amount,
			CreatedAt:   s.clock.Now(),
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}

		_, err = s.recalculateLocked(ctx, tx, invoice)
		return err
	})
	if err != nil {
		return invoicedomain.InvoiceCharge{}, err
	}
	return row, nil
}

func (s *Service) RemoveCharge(ctx context.Context, chargeID string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(chargeID))
	if err != nil {
		return invoicedomain.ErrChargeNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var charge invoicedomain.InvoiceCharge
		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM invoice_charges WHERE org_id = ? AND id = ?`,
			orgID,
			id,
		).Scan(&charge).Error; err != nil {
			return err
		}
		if charge.ID == 0 {
			return invoicedomain.ErrChargeNotFound
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, charge.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM invoice_charges WHERE org_id = ? AND id = ?`,
			orgID,
			id,
		).Error; err != nil {
			return err
		}

		_, err = s.recalculateLocked(ctx, tx, invoice)
		return err
	})
}

func (s *Service) ListCharges(ctx context.Context, invoiceID string) ([]invoicedomain.InvoiceCharge, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, invoicedomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	var charges []invoicedomain.InvoiceCharge
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM invoice_charges WHERE org_id = ? AND invoice_id = ? ORDER BY created_at, id`,
		orgID,
		id,
	).Scan(&charges).Error; err != nil {
		return nil, err
	}
	return charges, nil
}

func (s *Service) Recalculate(ctx context.Context, invoiceID string) (invoicedomain.RecalculateResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.RecalculateResponse{}, invoicedomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return invoicedomain.RecalculateResponse{}, invoicedomain.ErrInvoiceNotFound
	}

	var resp invoicedomain.RecalculateResponse
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		resp, err = s.recalculateLocked(ctx, tx, invoice)
		return err
	})
	if err != nil {
		return invoicedomain.RecalculateResponse{}, err
	}
	return resp, nil
}

// recalculateLocked recomputes totals for an invoice already locked in
// the surrounding transaction, then re-resolves status so it never goes
// stale relative to the amounts.
func (s *Service) recalculateLocked(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) (invoicedomain.RecalculateResponse, error) {
	var amounts []int64
	if err := tx.WithContext(ctx).Raw(
		`SELECT amount FROM invoice_charges WHERE org_id = ? AND invoice_id = ? ORDER BY created_at, id`,
		invoice.OrgID,
		invoice.ID,
	).Scan(&amounts).Error; err != nil {
		return invoicedomain.RecalculateResponse{}, err
	}

	totals, err := billing.ComputeTotals(amounts, invoice.TaxAmount, invoice.OtherCharges, invoice.LateFeeAmount, false)
	if err != nil {
		return invoicedomain.RecalculateResponse{}, err
	}
	if totals.Total < invoice.AmountPaid {
		// Shrinking the total below what was already collected would
		// break the amount-paid invariant.
		return invoicedomain.RecalculateResponse{}, billing.ErrInvalidCharge
	}

	now := s.clock.Now()
	status := billing.ResolveStatus(invoice.Status, totals.Total, invoice.AmountPaid, invoice.DueDate, now)
	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET subtotal_amount = ?, total_amount = ?, status = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		totals.Subtotal,
		totals.Total,
		status,
		now,
		invoice.OrgID,
		invoice.ID,
	).Error; err != nil {
		return invoicedomain.RecalculateResponse{}, err
	}

	invoice.SubtotalAmount = totals.Subtotal
	invoice.TotalAmount = totals.Total
	invoice.Status = status
	return invoicedomain.RecalculateResponse{Subtotal: totals.Subtotal, Total: totals.Total}, nil
}

func (s *Service) ResolveStatus(ctx context.Context, invoiceID string, asOf time.Time, persist bool) (billing.InvoiceStatus, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return "", invoicedomain.ErrInvalidOrganization
	}

	id, err := snowflake.ParseString(strings.TrimSpace(invoiceID))
	if err != nil {
		return "", invoicedomain.ErrInvoiceNotFound
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}

	if !persist {
		item, err := s.invoicerepo.FindOne(ctx, &invoicedomain.Invoice{ID: id, OrgID: orgID})
		if err != nil {
			return "", err
		}
		if item == nil {
			return "", invoicedomain.ErrInvoiceNotFound
		}
		return billing.ResolveStatus(item.Status, item.TotalAmount, item.AmountPaid, item.DueDate, asOf), nil
	}

	var status billing.InvoiceStatus
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}

		status = billing.ResolveStatus(invoice.Status, invoice.TotalAmount, invoice.AmountPaid, invoice.DueDate, asOf)
		if status == invoice.Status {
			return nil
		}
		return tx.WithContext(ctx).Exec(
			`UPDATE invoices SET status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
			status,
			s.clock.Now(),
			orgID,
			id,
		).Error
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

func (s *Service) AgingReport(ctx context.Context, asOf time.Time) (invoicedomain.AgingReport, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return invoicedomain.AgingReport{}, invoicedomain.ErrInvalidOrganization
	}
	if asOf.IsZero() {
		asOf = s.clock.Now()
	}

	var rows []struct {
		DueDate     time.Time
		Outstanding int64
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT due_date, total_amount - amount_paid AS outstanding
		 FROM invoices
		 WHERE org_id = ?
		   AND status NOT IN (?, ?)
		   AND total_amount > amount_paid
		   AND due_date < ?`,
		orgID,
		billing.InvoiceStatusDraft,
		billing.InvoiceStatusPaid,
		asOf,
	).Scan(&rows).Error; err != nil {
		return invoicedomain.AgingReport{}, err
	}

	buckets := s.billingCfg.Get().AgingBuckets
	report := invoicedomain.AgingReport{AsOf: asOf}
	for _, bucket := range buckets {
		entry := invoicedomain.AgingReportEntry{Label: bucket.Label}
		for _, row := range rows {
			days := int(asOf.Sub(row.DueDate).Hours() / 24)
			if days < bucket.MinDays {
				continue
			}
			if bucket.MaxDays != nil && days > *bucket.MaxDays {
				continue
			}
			entry.Invoices++
			entry.Outstanding += row.Outstanding
		}
		report.Buckets = append(report.Buckets, entry)
	}

	return report, nil
}

func loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	query := `SELECT * FROM invoices WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var invoice invoicedomain.Invoice
	if err := tx.WithContext(ctx).Raw(query, orgID, id).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func lockOrganization(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) error {
	query := `SELECT id FROM organizations WHERE id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}
	var id snowflake.ID
	if err := tx.WithContext(ctx).Raw(query, orgID).Scan(&id).Error; err != nil {
		return err
	}
	return nil
}

// nextInvoiceNumber continues from the highest number ever issued, not
// the row count: deleting an invoice must never free its number for
// reuse under the (org_id, invoice_number) unique index.
func nextInvoiceNumber(ctx context.Context, tx *gorm.DB, orgID snowflake.ID) (string, error) {
	var last string
	if err := tx.WithContext(ctx).Raw(
		`SELECT invoice_number FROM invoices
		 WHERE org_id = ? AND invoice_number IS NOT NULL
		 ORDER BY LENGTH(invoice_number) DESC, invoice_number DESC
		 LIMIT 1`,
		orgID,
	).Scan(&last).Error; err != nil {
		return "", err
	}
	return invoicedomain.FormatInvoiceNumber(invoicedomain.InvoiceNumberSeq(last) + 1), nil
}
