package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	"github.com/casaops/rentledger/internal/clock"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	invoicedomain "github.com/casaops/rentledger/internal/invoice/domain"
	orgdomain "github.com/casaops/rentledger/internal/organization/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type fixture struct {
	sched *Scheduler
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	orgID snowflake.ID
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
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2024, 2, 10, 6, 0, 0, 0, time.UTC))
	sched, err := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})
	require.NoError(t, err)

	orgID := node.Generate()
	require.NoError(t, db.Create(&orgdomain.Organization{ID: orgID, Name: "Main", Slug: "main"}).Error)

	return &fixture{sched: sched, db: db, clock: fc, node: node, orgID: orgID}
}

func (f *fixture) seedContract(t *testing.T, policy billing.FeePolicy, value int64) contractdomain.Contract {
	t.Helper()

	contract := contractdomain.Contract{
		ID:              f.node.Generate(),
		OrgID:           f.orgID,
		PropertyID:      f.node.Generate(),
		OwnerContactID:  f.node.Generate(),
		TenantContactID: f.node.Generate(),
		StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		RentAmount:      1500000,
		PaymentDay:      5,
		LateFeePolicy:   policy,
		LateFeeValue:    value,
		Status:          contractdomain.ContractStatusActive,
		Metadata:        datatypes.JSONMap{},
	}
	require.NoError(t, f.db.Create(&contract).Error)
	return contract
}

func (f *fixture) seedInvoice(t *testing.T, contractID snowflake.ID, due time.Time, total, paid int64, status billing.InvoiceStatus) invoicedomain.Invoice {
	t.Helper()

	number := invoicedomain.FormatInvoiceNumber(int64(f.node.Generate()) % 1000000)
	invoice := invoicedomain.Invoice{
		ID:              f.node.Generate(),
		OrgID:           f.orgID,
		ContractID:      contractID,
		PropertyID:      f.node.Generate(),
		TenantContactID: f.node.Generate(),
		InvoiceNumber:   &number,
		IssueDate:       due.AddDate(0, -1, 0),
		DueDate:         due,
		SubtotalAmount:  total,
		TotalAmount:     total,
		AmountPaid:      paid,
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

func TestOverdueSweepAppliesPercentFeeOnce(t *testing.T) {
	f := newFixture(t)
	contract := f.seedContract(t, billing.FeePolicyPercent, 550) // 5.50% of rent
	invoice := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)

	require.NoError(t, f.sched.OverdueSweepJob(context.Background()))

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, billing.InvoiceStatusOverdue, state.Status)
	require.Equal(t, int64(82500), state.LateFeeAmount) // 5.50% of 1,500,000
	require.Equal(t, int64(1582500), state.TotalAmount)
	require.NotNil(t, state.LateFeeAppliedAt)

	// A second run a day later must not stack the fee.
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.sched.OverdueSweepJob(context.Background()))

	state = f.invoiceState(t, invoice.ID)
	require.Equal(t, int64(82500), state.LateFeeAmount)
	require.Equal(t, int64(1582500), state.TotalAmount)
}

func TestOverdueSweepFixedFee(t *testing.T) {
	f := newFixture(t)
	contract := f.seedContract(t, billing.FeePolicyFixed, 50000)
	invoice := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 900000, billing.InvoiceStatusPartial,
	)

	require.NoError(t, f.sched.OverdueSweepJob(context.Background()))

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, billing.InvoiceStatusOverdue, state.Status)
	require.Equal(t, int64(50000), state.LateFeeAmount)
	require.Equal(t, int64(1550000), state.TotalAmount)
	require.Equal(t, int64(900000), state.AmountPaid)
}

func TestOverdueSweepNonePolicyMarksEvaluated(t *testing.T) {
	f := newFixture(t)
	contract := f.seedContract(t, billing.FeePolicyNone, 0)
	invoice := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)

	require.NoError(t, f.sched.OverdueSweepJob(context.Background()))

	state := f.invoiceState(t, invoice.ID)
	require.Equal(t, billing.InvoiceStatusOverdue, state.Status)
	require.Equal(t, int64(0), state.LateFeeAmount)
	require.Equal(t, int64(1500000), state.TotalAmount)
	require.NotNil(t, state.LateFeeAppliedAt)
}

func TestOverdueSweepSkipsCurrentAndPaid(t *testing.T) {
	f := newFixture(t)
	contract := f.seedContract(t, billing.FeePolicyFixed, 50000)

	notDue := f.seedInvoice(t, contract.ID,
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)
	dueToday := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)
	paid := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 1500000, billing.InvoiceStatusPaid,
	)
	draft := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusDraft,
	)

	require.NoError(t, f.sched.OverdueSweepJob(context.Background()))

	require.Equal(t, billing.InvoiceStatusIssued, f.invoiceState(t, notDue.ID).Status)
	require.Equal(t, billing.InvoiceStatusIssued, f.invoiceState(t, dueToday.ID).Status)
	require.Equal(t, billing.InvoiceStatusPaid, f.invoiceState(t, paid.ID).Status)
	require.Equal(t, billing.InvoiceStatusDraft, f.invoiceState(t, draft.ID).Status)
}

func TestContractExpirySweep(t *testing.T) {
	f := newFixture(t)

	past := f.seedContract(t, billing.FeePolicyNone, 0)
	require.NoError(t, f.db.Exec(
		`UPDATE contracts SET end_date = ? WHERE id = ?`,
		time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), past.ID,
	).Error)

	soon := f.seedContract(t, billing.FeePolicyNone, 0)
	require.NoError(t, f.db.Exec(
		`UPDATE contracts SET end_date = ? WHERE id = ?`,
		time.Date(2024, 2, 25, 0, 0, 0, 0, time.UTC), soon.ID,
	).Error)

	distant := f.seedContract(t, billing.FeePolicyNone, 0)

	require.NoError(t, f.sched.ContractExpiryJob(context.Background()))

	var status contractdomain.ContractStatus
	require.NoError(t, f.db.Raw(`SELECT status FROM contracts WHERE id = ?`, past.ID).Scan(&status).Error)
	require.Equal(t, contractdomain.ContractStatusExpired, status)

	require.NoError(t, f.db.Raw(`SELECT status FROM contracts WHERE id = ?`, soon.ID).Scan(&status).Error)
	require.Equal(t, contractdomain.ContractStatusExpiring, status)

	require.NoError(t, f.db.Raw(`SELECT status FROM contracts WHERE id = ?`, distant.ID).Scan(&status).Error)
	require.Equal(t, contractdomain.ContractStatusActive, status)
}

func TestRunOnceRespectsEnabledJobs(t *testing.T) {
	f := newFixture(t)
	f.sched.cfg.EnabledJobs = []string{"contract_expiry"}

	contract := f.seedContract(t, billing.FeePolicyFixed, 50000)
	invoice := f.seedInvoice(t, contract.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)

	require.NoError(t, f.sched.RunOnce(context.Background()))

	// The disabled overdue sweep left the invoice alone.
	require.Equal(t, billing.InvoiceStatusIssued, f.invoiceState(t, invoice.ID).Status)
}

func TestOverdueSweepFailingInvoiceDoesNotStarveOthers(t *testing.T) {
	f := newFixture(t)
	poisoned := f.seedContract(t, billing.FeePolicy("weekly"), 100)
	healthy := f.seedContract(t, billing.FeePolicyFixed, 50000)

	// The failing invoice is due first, so it is ordered ahead of the
	// healthy one on every fetch.
	bad := f.seedInvoice(t, poisoned.ID,
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		1000000, 0, billing.InvoiceStatusIssued,
	)
	good := f.seedInvoice(t, healthy.ID,
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		1500000, 0, billing.InvoiceStatusIssued,
	)

	// BatchSize 1 would let the failing invoice occupy every batch.
	sched, err := New(Params{
		DB:     f.db,
		Log:    zap.NewNop(),
		GenID:  f.node,
		Clock:  f.clock,
		Config: Config{BatchSize: 1},
	})
	require.NoError(t, err)

	err = sched.OverdueSweepJob(context.Background())
	require.ErrorIs(t, err, billing.ErrInvalidPolicy)

	state := f.invoiceState(t, good.ID)
	require.Equal(t, billing.InvoiceStatusOverdue, state.Status)
	require.Equal(t, int64(1550000), state.TotalAmount)
	require.NotNil(t, state.LateFeeAppliedAt)

	state = f.invoiceState(t, bad.ID)
	require.Equal(t, int64(1000000), state.TotalAmount)
	require.Nil(t, state.LateFeeAppliedAt)
}
