package service

import (
	"context"
	"crypto/rand"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	"github.com/casaops/rentledger/internal/orgcontext"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	"github.com/casaops/rentledger/pkg/db/option"
	"github.com/casaops/rentledger/pkg/db/pagination"
	"github.com/casaops/rentledger/pkg/repository"
	"github.com/oklog/ulid/v2"
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

	paymentrepo repository.Repository[paymentdomain.Payment]
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("payment.service"),
		genID: p.GenID,
		clock: p.Clock,

		paymentrepo: repository.ProvideStore[paymentdomain.Payment](p.DB),
	}
}

func (s *Service) Record(ctx context.Context, req paymentdomain.RecordPaymentRequest) (paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidOrganization
	}

	invoiceID, err := snowflake.ParseString(strings.TrimSpace(req.InvoiceID))
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrInvoiceNotFound
	}
	if req.Amount <= 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidAmount
	}
	if !paymentdomain.ValidMethod(req.Method) {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidMethod
	}

	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = s.clock.Now()
	}

	var payment paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return paymentdomain.ErrInvoiceNotFound
		}
		if invoice.Status == billing.InvoiceStatusDraft {
			return paymentdomain.ErrInvoiceNotPayable
		}
		if req.Amount > invoice.BalanceDue() {
			return paymentdomain.ErrOverpayment
		}

		now := s.clock.Now()
		receiptRef := strings.TrimSpace(req.ReceiptRef)
		if receiptRef == "" {
			receiptRef = newReceiptRef(now)
		}
		payment = paymentdomain.Payment{
			ID:          s.genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			Amount:      req.Amount,
			PaymentDate: paymentDate.UTC(),
			Method:      req.Method,
			ReceiptRef:  receiptRef,
			Note:        strings.TrimSpace(req.Note),
			Metadata:    datatypes.JSONMap{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
			return err
		}

		return applyPaidAmount(ctx, tx, invoice, invoice.AmountPaid+req.Amount, now)
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}

	s.log.Info("payment recorded",
		zap.String("payment_id", payment.ID.String()),
		zap.String("invoice_id", invoiceID.String()),
		zap.Int64("amount", payment.Amount),
	)
	return payment, nil
}

func (s *Service) List(ctx context.Context, req paymentdomain.ListPaymentRequest) (paymentdomain.ListPaymentResponse, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ListPaymentResponse{}, paymentdomain.ErrInvalidOrganization
	}

	if req.PageSize <= 0 {
		req.PageSize = 50
	}

	filter := &paymentdomain.Payment{OrgID: orgID}
	if req.InvoiceID != nil {
		filter.InvoiceID = *req.InvoiceID
	}
	if req.Method != nil {
		filter.Method = *req.Method
	}

	items, err := s.paymentrepo.Find(ctx, filter,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Desc: true}),
		option.ApplyPagination(req.Pagination),
	)
	if err != nil {
		return paymentdomain.ListPaymentResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, req.PageSize, func(payment *paymentdomain.Payment) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        payment.ID.String(),
			CreatedAt: payment.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo.HasMore && len(items) > req.PageSize {
		items = items[:req.PageSize]
	}

	payments := make([]paymentdomain.Payment, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		payments = append(payments, *item)
	}

	return paymentdomain.ListPaymentResponse{PageInfo: *pageInfo, Payments: payments}, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidOrganization
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}

	item, err := s.paymentrepo.FindOne(ctx, &paymentdomain.Payment{ID: paymentID, OrgID: orgID})
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	if item == nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}

	return *item, nil
}

func (s *Service) Revise(ctx context.Context, id string, req paymentdomain.RevisePaymentRequest) (paymentdomain.Payment, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.Payment{}, paymentdomain.ErrInvalidOrganization
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return paymentdomain.Payment{}, paymentdomain.ErrPaymentNotFound
	}

	var revised paymentdomain.Payment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := loadPaymentForUpdate(ctx, tx, orgID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return paymentdomain.ErrInvoiceNotFound
		}

		newAmount := payment.Amount
		if req.Amount != nil {
			newAmount = *req.Amount
		}
		if newAmount <= 0 {
			return paymentdomain.ErrInvalidAmount
		}
		// The old amount is returned to the balance before the new one
		// is checked against it.
		available := invoice.BalanceDue() + payment.Amount
		if newAmount > available {
			return paymentdomain.ErrOverpayment
		}

		payment.Amount = newAmount
		if req.PaymentDate != nil {
			payment.PaymentDate = req.PaymentDate.UTC()
		}
		if req.Method != nil {
			if !paymentdomain.ValidMethod(*req.Method) {
				return paymentdomain.ErrInvalidMethod
			}
			payment.Method = *req.Method
		}
		if req.Note != nil {
			payment.Note = strings.TrimSpace(*req.Note)
		}

		now := s.clock.Now()
		payment.UpdatedAt = now
		if err := tx.WithContext(ctx).Save(payment).Error; err != nil {
			return err
		}

		paid, err := sumPayments(ctx, tx, orgID, invoice.ID)
		if err != nil {
			return err
		}
		if err := applyPaidAmount(ctx, tx, invoice, paid, now); err != nil {
			return err
		}

		revised = *payment
		return nil
	})
	if err != nil {
		return paymentdomain.Payment{}, err
	}
	return revised, nil
}

func (s *Service) Reverse(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return paymentdomain.ErrInvalidOrganization
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return paymentdomain.ErrPaymentNotFound
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payment, err := loadPaymentForUpdate(ctx, tx, orgID, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return paymentdomain.ErrPaymentNotFound
		}

		invoice, err := loadInvoiceForUpdate(ctx, tx, orgID, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return paymentdomain.ErrInvoiceNotFound
		}

		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM payments WHERE org_id = ? AND id = ?`,
			orgID,
			paymentID,
		).Error; err != nil {
			return err
		}

		paid, err := sumPayments(ctx, tx, orgID, invoice.ID)
		if err != nil {
			return err
		}
		return applyPaidAmount(ctx, tx, invoice, paid, s.clock.Now())
	})
}

// applyPaidAmount writes the new running total and re-resolves the
// invoice status from it. Status is always derived here, never assigned
// by the caller.
func applyPaidAmount(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, paid int64, now time.Time) error {
	if paid < 0 || paid > invoice.TotalAmount {
		return paymentdomain.ErrOverpayment
	}

	status := billing.ResolveStatus(invoice.Status, invoice.TotalAmount, paid, invoice.DueDate, now)
	if err := tx.WithContext(ctx).Exec(
		`UPDATE invoices SET amount_paid = ?, status = ?, updated_at = ? WHERE org_id = ? AND id = ?`,
		paid,
		status,
		now,
		invoice.OrgID,
		invoice.ID,
	).Error; err != nil {
		return err
	}

	invoice.AmountPaid = paid
	invoice.Status = status
	return nil
}

func sumPayments(ctx context.Context, tx *gorm.DB, orgID, invoiceID snowflake.ID) (int64, error) {
	var paid int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE org_id = ? AND invoice_id = ?`,
		orgID,
		invoiceID,
	).Scan(&paid).Error
	return paid, err
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

func loadPaymentForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*paymentdomain.Payment, error) {
	query := `SELECT * FROM payments WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var payment paymentdomain.Payment
	if err := tx.WithContext(ctx).Raw(query, orgID, id).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == 0 {
		return nil, nil
	}
	return &payment, nil
}

func newReceiptRef(now time.Time) string {
	return "RCPT-" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
