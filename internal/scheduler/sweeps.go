package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/billing"
	contractdomain "github.com/casaops/rentledger/internal/contract/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type workInvoice struct {
	ID               snowflake.ID
	OrgID            snowflake.ID
	ContractID       snowflake.ID
	DueDate          time.Time
	TotalAmount      int64
	AmountPaid       int64
	LateFeeAmount    int64
	Status           billing.InvoiceStatus
	LateFeeAppliedAt *time.Time
}

type workContract struct {
	ID            snowflake.ID
	OrgID         snowflake.ID
	EndDate       time.Time
	Status        contractdomain.ContractStatus
	RentAmount    int64
	LateFeePolicy billing.FeePolicy
	LateFeeValue  int64
}

// OverdueSweepJob walks past-due unpaid invoices in batches, flips them
// to OVERDUE and applies the contract's late fee. A failing invoice is
// recorded and skipped; it never aborts the rest of the batch.
func (s *Scheduler) OverdueSweepJob(ctx context.Context) error {
	now := s.clock.Now()
	var jobErr error
	var failed []snowflake.ID
	processed := 0

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		invoices, err := s.fetchOverdueCandidates(ctx, now, failed)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(invoices) == 0 {
			break
		}

		for _, invoice := range invoices {
			if err := s.processOverdueInvoice(ctx, invoice.OrgID, invoice.ID, now); err != nil {
				// A failed invoice keeps its NULL marker, so exclude it
				// from later fetches or it would occupy the batch until
				// the job times out.
				failed = append(failed, invoice.ID)
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("overdue sweep: invoice failed",
					zap.String("invoice_id", invoice.ID.String()),
					zap.String("org_id", invoice.OrgID.String()),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
	}

	if processed > 0 {
		sweepInvoicesProcessed.Add(float64(processed))
		s.log.Info("overdue sweep finished", zap.Int("processed", processed))
	}
	return jobErr
}

func (s *Scheduler) fetchOverdueCandidates(ctx context.Context, now time.Time, exclude []snowflake.ID) ([]workInvoice, error) {
	query := `SELECT id, org_id, contract_id, due_date, total_amount, amount_paid,
	                 late_fee_amount, status, late_fee_applied_at
	          FROM invoices
	          WHERE status IN (?, ?, ?)
	            AND due_date < ?
	            AND amount_paid < total_amount
	            AND late_fee_applied_at IS NULL`
	args := []interface{}{
		billing.InvoiceStatusIssued,
		billing.InvoiceStatusPartial,
		billing.InvoiceStatusOverdue,
		startOfDayUTC(now),
	}
	if len(exclude) > 0 {
		query += ` AND id NOT IN (?)`
		args = append(args, exclude)
	}
	query += ` ORDER BY due_date ASC, id ASC LIMIT ?`
	args = append(args, s.cfg.BatchSize)
	if s.db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var invoices []workInvoice
	err := s.db.WithContext(ctx).Raw(query, args...).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// processOverdueInvoice re-reads the invoice under a row lock so a
// payment landing between claim and write cannot be clobbered.
func (s *Scheduler) processOverdueInvoice(ctx context.Context, orgID, invoiceID snowflake.ID, now time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.lockInvoice(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return nil
		}
		if invoice.LateFeeAppliedAt != nil {
			return nil
		}
		status := billing.ResolveStatus(invoice.Status, invoice.TotalAmount, invoice.AmountPaid, invoice.DueDate, now)
		if status != billing.InvoiceStatusOverdue {
			return nil
		}

		contract, err := s.lockContract(ctx, tx, orgID, invoice.ContractID)
		if err != nil {
			return err
		}

		var fee int64
		if contract != nil {
			fee, err = billing.EvaluateLateFee(contract.LateFeePolicy, contract.LateFeeValue, contract.RentAmount)
			if err != nil {
				return err
			}
		}

		newTotal := invoice.TotalAmount + fee
		status = billing.ResolveStatus(invoice.Status, newTotal, invoice.AmountPaid, invoice.DueDate, now)

		// late_fee_applied_at marks the invoice as evaluated even when
		// the policy yields no fee, so the sweep never revisits it.
		return tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET late_fee_amount = late_fee_amount + ?,
			     total_amount = ?,
			     status = ?,
			     late_fee_applied_at = ?,
			     updated_at = ?
			 WHERE org_id = ? AND id = ?`,
			fee,
			newTotal,
			status,
			now,
			now,
			orgID,
			invoiceID,
		).Error
	})
}

// ContractExpiryJob ages active contracts: ones past their end date turn
// EXPIRED, ones inside the notice window turn EXPIRING.
func (s *Scheduler) ContractExpiryJob(ctx context.Context) error {
	now := s.clock.Now()
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		contracts, err := s.fetchExpiryCandidates(ctx, now)
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(contracts) == 0 {
			break
		}

		for _, contract := range contracts {
			next := contractdomain.ContractStatusExpiring
			if contract.EndDate.Before(now) {
				next = contractdomain.ContractStatusExpired
			}
			if err := s.transitionContract(ctx, contract, next, now); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.log.Warn("contract expiry sweep: contract failed",
					zap.String("contract_id", contract.ID.String()),
					zap.Error(err),
				)
			}
		}
	}

	return jobErr
}

func (s *Scheduler) fetchExpiryCandidates(ctx context.Context, now time.Time) ([]workContract, error) {
	query := `SELECT id, org_id, end_date, status, rent_amount, late_fee_policy, late_fee_value
	          FROM contracts
	          WHERE (status = ? AND end_date < ?)
	             OR (status = ? AND end_date < ?)
	          ORDER BY end_date ASC, id ASC
	          LIMIT ?`
	if s.db.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE SKIP LOCKED"
	}

	var contracts []workContract
	err := s.db.WithContext(ctx).Raw(query,
		contractdomain.ContractStatusExpiring,
		now,
		contractdomain.ContractStatusActive,
		now.Add(s.cfg.ExpiringWindow),
		s.cfg.BatchSize,
	).Scan(&contracts).Error
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

func (s *Scheduler) transitionContract(ctx context.Context, contract workContract, next contractdomain.ContractStatus, now time.Time) error {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE contracts
		 SET status = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		next,
		now,
		contract.OrgID,
		contract.ID,
		contract.Status,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("contract transitioned",
			zap.String("contract_id", contract.ID.String()),
			zap.String("from", string(contract.Status)),
			zap.String("to", string(next)),
		)
	}
	return nil
}

func (s *Scheduler) lockInvoice(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*workInvoice, error) {
	query := `SELECT id, org_id, contract_id, due_date, total_amount, amount_paid,
	                 late_fee_amount, status, late_fee_applied_at
	          FROM invoices WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var invoice workInvoice
	if err := tx.WithContext(ctx).Raw(query, orgID, id).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (s *Scheduler) lockContract(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*workContract, error) {
	query := `SELECT id, org_id, end_date, status, rent_amount, late_fee_policy, late_fee_value
	          FROM contracts WHERE org_id = ? AND id = ?`
	if tx.Dialector.Name() != "sqlite" {
		query += " FOR UPDATE"
	}

	var contract workContract
	if err := tx.WithContext(ctx).Raw(query, orgID, id).Scan(&contract).Error; err != nil {
		return nil, err
	}
	if contract.ID == 0 {
		return nil, nil
	}
	return &contract, nil
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
