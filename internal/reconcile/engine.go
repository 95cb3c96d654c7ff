package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
)

const maxWriteAttempts = 3

// Engine rebuilds shift aggregates from source records. Aggregates are
// always recomputed from zero; the engine never adjusts them incrementally,
// so a rerun over unchanged inputs writes the same numbers.
type Engine struct {
	repo store.Repository
}

func NewEngine(repo store.Repository) *Engine {
	return &Engine{repo: repo}
}

// Recalculate loads the shift's transactions and cash movements, recomputes
// the full aggregate block, and writes it back conditioned on the shift
// version read at the start. A concurrent writer triggers a fresh
// read-recompute-write round. If the transaction store cannot be read, no
// write happens and the stored aggregates stay as they were.
func (e *Engine) Recalculate(ctx context.Context, shiftID string) (*domain.Shift, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		shift, err := e.repo.GetShift(ctx, shiftID)
		if err != nil {
			return nil, err
		}

		txs, err := e.loadTransactions(ctx, shift)
		if err != nil {
			return nil, err
		}

		totals := ComputeTotals(*shift, txs)
		updated, err := e.repo.UpdateShiftTotals(ctx, shiftID, shift.Version, totals, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("recalculate shift %s: %w", shiftID, lastErr)
}

// loadTransactions resolves the shift's source transactions. The ref list
// on the shift is authoritative; when refs are missing from the transaction
// store or the list is empty, a time-window query over the shift's span
// fills the gaps.
func (e *Engine) loadTransactions(ctx context.Context, shift *domain.Shift) ([]domain.Transaction, error) {
	byID := make(map[string]domain.Transaction, len(shift.TransactionRefs))

	if len(shift.TransactionRefs) > 0 {
		found, err := e.repo.GetTransactionsByIDs(ctx, shift.TransactionRefs)
		if err != nil {
			return nil, fmt.Errorf("%w: load transactions for shift %s: %v", store.ErrDependency, shift.ID, err)
		}
		for id, tx := range found {
			byID[id] = tx
		}
	}

	if len(byID) < len(shift.TransactionRefs) || len(shift.TransactionRefs) == 0 {
		end := time.Now().UTC()
		if shift.EndTime != nil {
			end = *shift.EndTime
		}
		ranged, err := e.repo.QueryTransactions(ctx, shift.EmployeeID, shift.StartTime, end)
		if err != nil {
			return nil, fmt.Errorf("%w: query transactions for shift %s: %v", store.ErrDependency, shift.ID, err)
		}
		for _, tx := range ranged {
			if _, ok := byID[tx.ID]; !ok {
				byID[tx.ID] = tx
			}
		}
	}

	txs := make([]domain.Transaction, 0, len(byID))
	for _, tx := range byID {
		txs = append(txs, tx)
	}
	slices.SortFunc(txs, func(a, b domain.Transaction) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	})
	return txs, nil
}

// ComputeTotals folds transactions and cash movements into a fresh
// aggregate block. Each transaction lands in exactly one partition: a
// negative total reclassifies it as a refund even when the flag says sale.
func ComputeTotals(shift domain.Shift, txs []domain.Transaction) domain.ShiftTotals {
	var totals domain.ShiftTotals
	totals.TransactionCount = len(txs)

	for _, tx := range txs {
		if tx.Refund || tx.TotalCents < 0 {
			amount := tx.RefundAmountCents
			if amount <= 0 {
				amount = abs(tx.TotalCents)
			}
			totals.TotalRefundsCents += amount
			totals.TotalCashRefundsCents += cashPortion(tx, amount)
			continue
		}

		totals.GrossSalesCents += tx.TotalCents
		totals.TotalSalesCents += tx.TotalCents
		totals.TotalDiscountsCents += tx.DiscountCents
		addSaleBuckets(&totals, tx)
	}

	for _, movement := range shift.CashMovements {
		switch movement.Type {
		case domain.MovementPayIn:
			totals.TotalPaidInCents += movement.AmountCents
		case domain.MovementPayOut:
			totals.TotalPaidOutCents += movement.AmountCents
		}
	}

	totals.ExpectedCashCents = shift.StartingCashCents +
		totals.TotalCashSalesCents -
		totals.TotalCashRefundsCents +
		totals.TotalPaidInCents -
		totals.TotalPaidOutCents

	return totals
}

func addSaleBuckets(totals *domain.ShiftTotals, tx domain.Transaction) {
	if len(tx.Payments) == 0 {
		totals.TotalCashSalesCents += tx.TotalCents
		return
	}
	for _, line := range tx.Payments {
		switch domain.NormalizePaymentMethod(line.Method) {
		case domain.BucketCash:
			totals.TotalCashSalesCents += line.AmountCents
		case domain.BucketCard:
			totals.TotalCardSalesCents += line.AmountCents
		case domain.BucketBankTransfer:
			totals.TotalBankTransferSalesCents += line.AmountCents
		case domain.BucketCrypto:
			totals.TotalCryptoSalesCents += line.AmountCents
		default:
			totals.TotalOtherSalesCents += line.AmountCents
		}
	}
}

// cashPortion bounds the cash side of a refund by how much of the original
// payment was cash. A refund with no payment lines counts fully as cash.
func cashPortion(tx domain.Transaction, amount int64) int64 {
	if len(tx.Payments) == 0 {
		return amount
	}
	cashShare := int64(0)
	for _, line := range tx.Payments {
		if domain.NormalizePaymentMethod(line.Method) == domain.BucketCash {
			cashShare += abs(line.AmountCents)
		}
	}
	if cashShare < amount {
		return cashShare
	}
	return amount
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}
