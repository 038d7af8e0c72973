package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	orgdomain "github.com/casaops/rentledger/internal/organization/domain"
	"github.com/casaops/rentledger/internal/orgcontext"
	paymentdomain "github.com/casaops/rentledger/internal/payment/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	svc   paymentdomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	ctx   context.Context
	orgID snowflake.ID
	node  *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
		&paymentdomain.Payment{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})

	orgID := node.Generate()
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Main", Slug: "main"}).Error)

	return &fixture{
		svc:   svc,
		db:    db,
		clock: fc,
		ctx:   orgcontext.WithOrgID(context.Background(), int64(orgID)),
		orgID: orgID,
		node:  node,
	}
}

func (f *fixture) seedInvoice(t *testing.T, total int64, due time.Time, status billing.InvoiceStatus) invoicedomain.Invoice {
	t.Helper()

	number := invoicedomain.FormatInvoiceNumber(time.Now().UnixNano() % 1000000)
	invoice := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		OrgID:           f.orgID,
		ContractID:      f.node.Generate(),
		PropertyID:      f.node.Generate(),
		TenantContactID: f.node.Generate(),
		InvoiceNumber:   &number,
		IssueDate:       due.AddDate(0, -1, 0),
		DueDate:         due,
		SubtotalAmount:  total,
		TotalAmount:     total,
		Status:          status,
		Metadata:        datatypes.JSONMap{},
	}
	require.NoError(t, f.db.Create(&invoice).Error)
	return invoice
}

func (f *fixture) invoiceState(t *testing.T, id snowflake.ID) invoicedomain.Invoice {
	t.Helper()

	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.Raw(
		`SELECT * FROM invoices WHERE org_id = ? AND id = ?`, f.orgID, id,
	).Scan(&invoice).Error)
	return invoice
}

func TestRecordPartialThenFullSettlement(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	_, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    900000,
		Method:    paymentdomain.MethodTransfer,
	})
	require.NoError(t, err)

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(900000), state.AmountPaid)
	require.Equal(t, billing.InvoiceStatusPartial, state.Status)

	_, err = f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    600000,
		Method:    paymentdomain.MethodCash,
	})
	require.NoError(t, err)

	state = f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(1500000), state.AmountPaid)
	require.Equal(t, billing.InvoiceStatusPaid, state.Status)
}

func TestRecordRejectsOverpayment(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	_, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    900000,
		Method:    paymentdomain.MethodTransfer,
	})
	require.NoError(t, err)

	_, err = f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    600001,
		Method:    paymentdomain.MethodTransfer,
	})
	require.ErrorIs(t, err, paymentdomain.ErrOverpayment)

	// The rejected payment left no trace.
	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(900000), state.AmountPaid)
	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM payments WHERE org_id = ? AND invoice_id = ?`,
		f.orgID, invoice.ID,
	).Scan(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestRecordRejectsDraftInvoice(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusDraft)

	_, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    100,
		Method:    paymentdomain.MethodCash,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)
}

func TestRecordValidatesInput(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	_, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    0,
		Method:    paymentdomain.MethodCash,
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	_, err = f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    100,
		Method:    "BARTER",
	})
	require.ErrorIs(t, err, paymentdomain.ErrInvalidMethod)
}

func TestReverseRestoresBalanceAndStatus(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	first, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    900000,
		Method:    paymentdomain.MethodTransfer,
	})
	require.NoError(t, err)

	second, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    600000,
		Method:    paymentdomain.MethodCash,
	})
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusPaid, f.invoiceState(t, invoice.ID).Status)

	require.NoError(t, f.svc.Reverse(f.ctx, second.ID.String()))

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(900000), state.AmountPaid)
	require.Equal(t, billing.InvoiceStatusPartial, state.Status)

	require.NoError(t, f.svc.Reverse(f.ctx, first.ID.String()))

	state = f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(0), state.AmountPaid)
	require.Equal(t, billing.InvoiceStatusIssued, state.Status)
}

func TestReverseAfterDueDateResolvesOverdue(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	payment, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    1500000,
		Method:    paymentdomain.MethodTransfer,
	})
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusPaid, f.invoiceState(t, invoice.ID).Status)

	// Clock is past due, so the reversal lands on OVERDUE rather than
	// the pre-payment ISSUED.
	require.NoError(t, f.svc.Reverse(f.ctx, payment.ID.String()))
	require.Equal(t, billing.InvoiceStatusOverdue, f.invoiceState(t, invoice.ID).Status)
}

func TestReviseReturnsOldAmountBeforeCheck(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	payment, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    1500000,
		Method:    paymentdomain.MethodTransfer,
	})
	require.NoError(t, err)

	// Full total is available again once the old amount is backed out.
	amount := int64(1000000)
	_, err = f.svc.Revise(f.ctx, payment.ID.String(), paymentdomain.RevisePaymentRequest{Amount: &amount})
	require.NoError(t, err)

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(1000000), state.AmountPaid)
	require.Equal(t, billing.InvoiceStatusPartial, state.Status)

	tooMuch := int64(1500001)
	_, err = f.svc.Revise(f.ctx, payment.ID.String(), paymentdomain.RevisePaymentRequest{Amount: &tooMuch})
	require.ErrorIs(t, err, paymentdomain.ErrOverpayment)
}

func TestRecordGeneratesReceiptRef(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	payment, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID: invoice.ID.String(),
		Amount:    500000,
		Method:    paymentdomain.MethodCheck,
	})
	require.NoError(t, err)
	require.Regexp(t, `^RCPT-[0-9A-HJKMNP-TV-Z]{26}$`, payment.ReceiptRef)
}

func TestRecordHonorsCallerReceiptRef(t *testing.T) {
	f := newFixture(t)
	invoice := f.seedInvoice(t, 1500000, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), billing.InvoiceStatusIssued)

	payment, err := f.svc.Record(f.ctx, paymentdomain.RecordPaymentRequest{
		InvoiceID:  invoice.ID.String(),
		Amount:     500000,
		Method:     paymentdomain.MethodTransfer,
		ReceiptRef: "BANK-2024-000417",
	})
	require.NoError(t, err)
	require.Equal(t, "BANK-2024-000417", payment.ReceiptRef)
}
