package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	"github.com/casaops/rentledger/internal/config"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
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
	svc   invoicedomain.Service
	db    *gorm.DB
	clock *clock.FakeClock
	ctx   context.Context
	orgID snowflake.ID
	node  *snowflake.Node

	contract contractdomain.Contract
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
		&contractdomain.Contract{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
		&paymentdomain.Payment{},
	))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	billingCfg, err := config.NewBillingConfigHolder()
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fc,
		BillingCfg: billingCfg,
	})

	orgID := node.Generate()
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Main", Slug: "main"}).Error)

	contract := contractdomain.Contract{
		ID:              node.Generate(),
		OrgID:           orgID,
		PropertyID:      node.Generate(),
		OwnerContactID:  node.Generate(),
		TenantContactID: node.Generate(),
		StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		RentAmount:      1500000,
		PaymentDay:      5,
		LateFeePolicy:   billing.FeePolicyNone,
		Status:          contractdomain.ContractStatusActive,
		Metadata:        datatypes.JSONMap{},
	}
	require.NoError(t, db.Create(&contract).Error)

	return &fixture{
		svc:      svc,
		db:       db,
		clock:    fc,
		ctx:      orgcontext.WithOrgID(context.Background(), int64(orgID)),
		orgID:    orgID,
		node:     node,
		contract: contract,
	}
}

func (f *fixture) createInvoice(t *testing.T, due time.Time, charges ...invoicedomain.ChargeInput) invoicedomain.Invoice {
	t.Helper()

	invoice, err := f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ContractID:      f.contract.ID.String(),
		TenantContactID: f.contract.TenantContactID.String(),
		IssueDate:       due.AddDate(0, -1, 0),
		DueDate:         due,
		Charges:         charges,
	})
	require.NoError(t, err)
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

func TestCreateComputesTotalsAndNumbersSequentially(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ContractID:      f.contract.ID.String(),
		TenantContactID: f.contract.TenantContactID.String(),
		IssueDate:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:         time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		TaxAmount:       5000,
		OtherCharges:    1000,
		Charges: []invoicedomain.ChargeInput{
			{Description: "Monthly rent", Amount: 100000},
			{Description: "Parking", Amount: 20000},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(120000), first.SubtotalAmount)
	require.Equal(t, int64(126000), first.TotalAmount)
	require.Equal(t, billing.InvoiceStatusDraft, first.Status)
	require.NotNil(t, first.InvoiceNumber)
	require.Equal(t, "INV-000001", *first.InvoiceNumber)

	second := f.createInvoice(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 100000})
	require.NotNil(t, second.InvoiceNumber)
	require.Equal(t, "INV-000002", *second.InvoiceNumber)

	charges, err := f.svc.ListCharges(f.ctx, first.ID.String())
	require.NoError(t, err)
	require.Len(t, charges, 2)
}

func TestCreateValidatesRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ContractID:      f.contract.ID.String(),
		TenantContactID: f.contract.TenantContactID.String(),
		IssueDate:       time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		DueDate:         time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, invoicedomain.ErrInvalidInvoice)

	_, err = f.svc.Create(f.ctx, invoicedomain.CreateInvoiceRequest{
		ContractID:      f.node.Generate().String(),
		TenantContactID: f.contract.TenantContactID.String(),
		IssueDate:       time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		DueDate:         time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, invoicedomain.ErrInvalidInvoice)
}

func TestIssueIsTheOnlyWayOutOfDraft(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 1500000})

	issued, err := f.svc.Issue(f.ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusIssued, issued.Status)

	_, err = f.svc.Issue(f.ctx, invoice.ID.String())
	require.ErrorIs(t, err, invoicedomain.ErrInvoiceNotDraft)
}

func TestIssuePastDueResolvesOverdueImmediately(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 1500000})

	issued, err := f.svc.Issue(f.ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusOverdue, issued.Status)
}

func TestAddChargeRecalculatesTotals(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 1500000})

	_, err := f.svc.AddCharge(f.ctx, invoice.ID.String(), invoicedomain.ChargeInput{
		Description: "Cleaning",
		Amount:      75000,
	})
	require.NoError(t, err)

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(1575000), state.SubtotalAmount)
	require.Equal(t, int64(1575000), state.TotalAmount)
}

func TestRemoveChargeCannotUndercutAmountPaid(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 1500000})

	charges, err := f.svc.ListCharges(f.ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, charges, 1)

	require.NoError(t, f.db.Exec(
		`UPDATE invoices SET amount_paid = ?, status = ? WHERE id = ?`,
		int64(1000000), billing.InvoiceStatusPartial, invoice.ID,
	).Error)

	err = f.svc.RemoveCharge(f.ctx, charges[0].ID.String())
	require.ErrorIs(t, err, billing.ErrInvalidCharge)

	// The rollback must restore the charge row.
	remaining, err := f.svc.ListCharges(f.ctx, invoice.ID.String())
	require.NoError(t, err)
	require.Len(t, remaining, 1)

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(1500000), state.TotalAmount)
}

func TestResolveStatusDryRunDoesNotPersist(t *testing.T) {
	f := newFixture(t)
	invoice := f.createInvoice(t, time.Date(2024, 4, 5, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 1500000})

	_, err := f.svc.Issue(f.ctx, invoice.ID.String())
	require.NoError(t, err)

	asOf := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	status, err := f.svc.ResolveStatus(f.ctx, invoice.ID.String(), asOf, false)
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusOverdue, status)
	require.Equal(t, billing.InvoiceStatusIssued, f.invoiceState(t, invoice.ID).Status)

	status, err = f.svc.ResolveStatus(f.ctx, invoice.ID.String(), asOf, true)
	require.NoError(t, err)
	require.Equal(t, billing.InvoiceStatusOverdue, status)
	require.Equal(t, billing.InvoiceStatusOverdue, f.invoiceState(t, invoice.ID).Status)
}

func TestAgingReportBucketsOutstandingBalances(t *testing.T) {
	f := newFixture(t)
	asOf := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	seed := func(due time.Time, total, paid int64, status billing.InvoiceStatus) {
		number := invoicedomain.FormatInvoiceNumber(int64(f.node.Generate()) % 1000000)
		require.NoError(t, f.db.Create(&invoicedomain.Invoice{
			ID:              f.node.Generate(),
			OrgID:           f.orgID,
			ContractID:      f.contract.ID,
			PropertyID:      f.contract.PropertyID,
			TenantContactID: f.contract.TenantContactID,
			InvoiceNumber:   &number,
			IssueDate:       due.AddDate(0, -1, 0),
			DueDate:         due,
			SubtotalAmount:  total,
			TotalAmount:     total,
			AmountPaid:      paid,
			Status:          status,
			Metadata:        datatypes.JSONMap{},
		}).Error)
	}

	seed(asOf.AddDate(0, 0, -10), 1000000, 0, billing.InvoiceStatusOverdue)
	seed(asOf.AddDate(0, 0, -45), 2000000, 500000, billing.InvoiceStatusOverdue)
	seed(asOf.AddDate(0, 0, -90), 3000000, 0, billing.InvoiceStatusOverdue)
	// Paid and draft invoices never show up in receivables.
	seed(asOf.AddDate(0, 0, -45), 1000000, 1000000, billing.InvoiceStatusPaid)
	seed(asOf.AddDate(0, 0, -45), 1000000, 0, billing.InvoiceStatusDraft)

	report, err := f.svc.AgingReport(f.ctx, asOf)
	require.NoError(t, err)
	require.Equal(t, asOf, report.AsOf)
	require.Len(t, report.Buckets, 3)

	require.Equal(t, "0-30", report.Buckets[0].Label)
	require.Equal(t, 1, report.Buckets[0].Invoices)
	require.Equal(t, int64(1000000), report.Buckets[0].Outstanding)

	require.Equal(t, "31-60", report.Buckets[1].Label)
	require.Equal(t, 1, report.Buckets[1].Invoices)
	require.Equal(t, int64(1500000), report.Buckets[1].Outstanding)

	require.Equal(t, "60+", report.Buckets[2].Label)
	require.Equal(t, 1, report.Buckets[2].Invoices)
	require.Equal(t, int64(3000000), report.Buckets[2].Outstanding)
}

func TestCreateAfterDeleteDoesNotReuseNumbers(t *testing.T) {
	f := newFixture(t)

	first := f.createInvoice(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 100000})
	f.createInvoice(t, time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 100000})

	require.NoError(t, f.svc.Delete(f.ctx, first.ID.String()))

	// INV-000001 is gone but stays burned; the next invoice continues
	// from the highest number ever issued.
	third := f.createInvoice(t, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC),
		invoicedomain.ChargeInput{Description: "Monthly rent", Amount: 100000})
	require.NotNil(t, third.InvoiceNumber)
	require.Equal(t, "INV-000003", *third.InvoiceNumber)
}
