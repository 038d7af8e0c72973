package service

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
	"github.com/casaops/rentledger/internal/orgcontext"
	propertydomain "github.com/casaops/rentledger/internal/property/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&orgdomain.Organization{},
		&propertydomain.Property{},
		&contractdomain.Contract{},
		&invoicedomain.Invoice{},
		&invoicedomain.InvoiceCharge{},
	))
	return db
}

type fixture struct {
	svc        contractdomain.Service
	db         *gorm.DB
	clock      *clock.FakeClock
	ctx        context.Context
	orgID      snowflake.ID
	propertyID snowflake.ID
	node       *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fc,
	})

	orgID := node.Generate()
	require.NoError(t, db.Create(&orgdomain.Organization{
		ID:   orgID,
		Name: "Main",
		Slug: "main",
	}).Error)

	propertyID := node.Generate()
	require.NoError(t, db.Create(&propertydomain.Property{
		ID:    propertyID,
		OrgID: orgID,
		Name:  "Unit 4B",
		Code:  "unit-4b",
	}).Error)

	return &fixture{
		svc:        svc,
		db:         db,
		clock:      fc,
		ctx:        orgcontext.WithOrgID(context.Background(), int64(orgID)),
		orgID:      orgID,
		propertyID: propertyID,
		node:       node,
	}
}

func (f *fixture) createContract(t *testing.T, start, end time.Time, paymentDay int) contractdomain.Contract {
	t.Helper()

	contract, err := f.svc.Create(f.ctx, contractdomain.CreateContractRequest{
		PropertyID:      f.propertyID.String(),
		OwnerContactID:  f.node.Generate().String(),
		TenantContactID: f.node.Generate().String(),
		StartDate:       start,
		EndDate:         end,
		RentAmount:      1500000,
		PaymentDay:      paymentDay,
		LateFeePolicy:   billing.FeePolicyNone,
	})
	require.NoError(t, err)
	return contract
}

func TestActivateGeneratesMonthlySchedule(t *testing.T) {
	f := newFixture(t)

	contract := f.createContract(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		5,
	)

	resp, err := f.svc.Activate(f.ctx, contract.ID.String())
	require.NoError(t, err)
	require.Equal(t, contractdomain.ContractStatusActive, resp.Contract.Status)
	require.Len(t, resp.InvoiceIDs, 3)

	var invoices []invoicedomain.Invoice
	require.NoError(t, f.db.Raw(
		`SELECT * FROM invoices WHERE org_id = ? AND contract_id = ? ORDER BY due_date`,
		f.orgID, contract.ID,
	).Scan(&invoices).Error)
	require.Len(t, invoices, 3)

	wantDue := []time.Time{
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
	}
	for i, invoice := range invoices {
		require.True(t, wantDue[i].Equal(invoice.DueDate), "invoice %d due date", i)
		require.Equal(t, int64(1500000), invoice.TotalAmount)
		require.Equal(t, int64(1500000), invoice.SubtotalAmount)
		require.Equal(t, int64(0), invoice.AmountPaid)
		require.Equal(t, billing.InvoiceStatusIssued, invoice.Status)
		require.NotNil(t, invoice.InvoiceNumber)
	}
	require.Equal(t, "INV-000001", *invoices[0].InvoiceNumber)

	// One rent charge per invoice.
	var chargeCount int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM invoice_charges WHERE org_id = ?`, f.orgID,
	).Scan(&chargeCount).Error)
	require.Equal(t, int64(3), chargeCount)
}

func TestActivateRequiresDraft(t *testing.T) {
	f := newFixture(t)

	contract := f.createContract(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		1,
	)

	_, err := f.svc.Activate(f.ctx, contract.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Activate(f.ctx, contract.ID.String())
	require.ErrorIs(t, err, contractdomain.ErrContractNotDraft)
}

func TestActivateRejectsOverlap(t *testing.T) {
	f := newFixture(t)

	first := f.createContract(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		1,
	)
	_, err := f.svc.Activate(f.ctx, first.ID.String())
	require.NoError(t, err)

	second := f.createContract(t,
		time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 5, 31, 0, 0, 0, 0, time.UTC),
		1,
	)
	_, err = f.svc.Activate(f.ctx, second.ID.String())
	require.ErrorIs(t, err, contractdomain.ErrOverlappingContract)

	// Nothing was written for the rejected activation.
	var count int64
	require.NoError(t, f.db.Raw(
		`SELECT COUNT(*) FROM invoices WHERE org_id = ? AND contract_id = ?`,
		f.orgID, second.ID,
	).Scan(&count).Error)
	require.Equal(t, int64(0), count)

	got, err := f.svc.GetByID(f.ctx, second.ID.String())
	require.NoError(t, err)
	require.Equal(t, contractdomain.ContractStatusDraft, got.Status)
}

func TestActivateAllowsAdjacentRanges(t *testing.T) {
	f := newFixture(t)

	first := f.createContract(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		1,
	)
	_, err := f.svc.Activate(f.ctx, first.ID.String())
	require.NoError(t, err)

	second := f.createContract(t,
		time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		1,
	)
	_, err = f.svc.Activate(f.ctx, second.ID.String())
	require.NoError(t, err)
}

func TestCreateValidatesTerms(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		req  contractdomain.CreateContractRequest
	}{
		{
			name: "payment day out of range",
			req: contractdomain.CreateContractRequest{
				PropertyID:      f.propertyID.String(),
				OwnerContactID:  f.node.Generate().String(),
				TenantContactID: f.node.Generate().String(),
				StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:         time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
				RentAmount:      1500000,
				PaymentDay:      31,
			},
		},
		{
			name: "end before start",
			req: contractdomain.CreateContractRequest{
				PropertyID:      f.propertyID.String(),
				OwnerContactID:  f.node.Generate().String(),
				TenantContactID: f.node.Generate().String(),
				StartDate:       time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
				EndDate:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				RentAmount:      1500000,
				PaymentDay:      1,
			},
		},
		{
			name: "zero rent",
			req: contractdomain.CreateContractRequest{
				PropertyID:      f.propertyID.String(),
				OwnerContactID:  f.node.Generate().String(),
				TenantContactID: f.node.Generate().String(),
				StartDate:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
				EndDate:         time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
				RentAmount:      0,
				PaymentDay:      1,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Create(f.ctx, tc.req)
			require.ErrorIs(t, err, contractdomain.ErrInvalidContract)
		})
	}
}

func TestUpdateFrozenAfterActivation(t *testing.T) {
	f := newFixture(t)

	contract := f.createContract(t,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
		5,
	)
	_, err := f.svc.Activate(f.ctx, contract.ID.String())
	require.NoError(t, err)

	rent := int64(1600000)
	_, err = f.svc.Update(f.ctx, contract.ID.String(), contractdomain.UpdateContractRequest{RentAmount: &rent})
	require.ErrorIs(t, err, contractdomain.ErrContractNotDraft)
}
