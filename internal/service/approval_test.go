package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/reconcile"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
)

func openShiftWithSale(t *testing.T, svc *Service, ctx context.Context, employeeID, txID string, cents int64) domain.Shift {
	t.Helper()
	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: employeeID, StartingCashCents: 100_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ingestCashSale(t, svc, ctx, txID, employeeID, cents)
	return opened.Shift
}

func TestApprovePaymentChangeMovesTenderBuckets(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	shift := openShiftWithSale(t, svc, ctx, "emp-pc", "tx-pc-1", 70_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-pc-1",
		Kind:          domain.CorrectionKindPaymentChange,
		Reason:        "customer paid by card",
		NewMethod:     "card",
	})
	if err != nil {
		t.Fatalf("create correction: %v", err)
	}
	if created.Correction.OldMethod != domain.BucketCash {
		t.Fatalf("expected old method cash, got %s", created.Correction.OldMethod)
	}

	tx, err := repo.GetTransaction(ctx, "tx-pc-1")
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	if !tx.PendingCorrection {
		t.Fatalf("expected pending correction flag on transaction")
	}

	resolved, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Correction.Status != domain.CorrectionStatusApproved {
		t.Fatalf("expected approved, got %s", resolved.Correction.Status)
	}

	tx, err = repo.GetTransaction(ctx, "tx-pc-1")
	if err != nil {
		t.Fatalf("get tx after approve: %v", err)
	}
	if tx.PendingCorrection {
		t.Fatalf("expected pending flag cleared")
	}
	if len(tx.Payments) != 1 || tx.Payments[0].Method != "card" || tx.Payments[0].AmountCents != 70_00 {
		t.Fatalf("expected single card payment line, got %v", tx.Payments)
	}
	if len(tx.PaymentHistory) != 1 || tx.PaymentHistory[0].NewMethod != "card" {
		t.Fatalf("expected payment history entry, got %v", tx.PaymentHistory)
	}

	updated, err := repo.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if updated.TotalCashSalesCents != 0 {
		t.Fatalf("expected cash bucket drained, got %d", updated.TotalCashSalesCents)
	}
	if updated.TotalCardSalesCents != 70_00 {
		t.Fatalf("expected card bucket 7000, got %d", updated.TotalCardSalesCents)
	}
	if updated.ExpectedCashCents != 100_00 {
		t.Fatalf("expected drawer back to float 10000, got %d", updated.ExpectedCashCents)
	}
}

func TestApproveRefundUpdatesShiftAndBlocksDoubleRefund(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	shift := openShiftWithSale(t, svc, ctx, "emp-rf", "tx-rf-1", 90_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID:     "tx-rf-1",
		Kind:              domain.CorrectionKindRefund,
		Reason:            "damaged item",
		RefundAmountCents: 40_00,
	})
	if err != nil {
		t.Fatalf("create refund request: %v", err)
	}

	resolved, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"})
	if err != nil {
		t.Fatalf("resolve refund: %v", err)
	}
	if resolved.Correction.Status != domain.CorrectionStatusRefunded {
		t.Fatalf("expected refunded status, got %s", resolved.Correction.Status)
	}

	tx, err := repo.GetTransaction(ctx, "tx-rf-1")
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	if !tx.Refund || tx.RefundAmountCents != 40_00 {
		t.Fatalf("expected refund 4000 on transaction, got refund=%v amount=%d", tx.Refund, tx.RefundAmountCents)
	}
	if tx.RefundedBy != "admin" || tx.RefundedAt == nil {
		t.Fatalf("expected refund attribution, got by=%q at=%v", tx.RefundedBy, tx.RefundedAt)
	}

	updated, err := repo.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if updated.TotalRefundsCents != 40_00 {
		t.Fatalf("expected refunds 4000, got %d", updated.TotalRefundsCents)
	}
	if updated.TotalCashRefundsCents != 40_00 {
		t.Fatalf("expected cash refunds 4000, got %d", updated.TotalCashRefundsCents)
	}
	// 10000 float + 9000 cash sale - 4000 cash refund.
	if updated.ExpectedCashCents != 150_00 {
		t.Fatalf("expected drawer 15000, got %d", updated.ExpectedCashCents)
	}

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID:     "tx-rf-1",
		Kind:              domain.CorrectionKindRefund,
		Reason:            "again",
		RefundAmountCents: 10_00,
	}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second refund request, got %v", err)
	}
}

func TestDeclineLeavesTransactionUntouched(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	openShiftWithSale(t, svc, ctx, "emp-dc", "tx-dc-1", 30_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-dc-1",
		Kind:          domain.CorrectionKindPaymentChange,
		Reason:        "fat fingered tender",
		NewMethod:     "card",
	})
	if err != nil {
		t.Fatalf("create correction: %v", err)
	}

	resolved, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "decline"})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if resolved.Correction.Status != domain.CorrectionStatusDeclined {
		t.Fatalf("expected declined, got %s", resolved.Correction.Status)
	}

	tx, err := repo.GetTransaction(ctx, "tx-dc-1")
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	if tx.PendingCorrection {
		t.Fatalf("expected pending flag cleared after decline")
	}
	if len(tx.Payments) != 1 || tx.Payments[0].Method != domain.BucketCash {
		t.Fatalf("expected original cash payment kept, got %v", tx.Payments)
	}
}

func TestResolveCorrectionIsExclusive(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	openShiftWithSale(t, svc, ctx, "emp-ex", "tx-ex-1", 20_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-ex-1",
		Kind:          domain.CorrectionKindPaymentChange,
		Reason:        "tender swap",
		NewMethod:     "card",
	})
	if err != nil {
		t.Fatalf("create correction: %v", err)
	}

	if _, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if _, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "decline"}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on second resolve, got %v", err)
	}

	history, err := svc.ListCorrectionsForTransaction(ctx, "tx-ex-1")
	if err != nil {
		t.Fatalf("list corrections: %v", err)
	}
	if len(history.Corrections) != 1 || history.Corrections[0].Status != domain.CorrectionStatusApproved {
		t.Fatalf("expected one approved correction in history, got %v", history.Corrections)
	}
}

func TestResolveCorrectionRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	adminContext := adminCtx()

	openShiftWithSale(t, svc, adminContext, "emp-role", "tx-role-1", 10_00)

	created, err := svc.CreateCorrection(adminContext, domain.CorrectionCreateRequest{
		TransactionID: "tx-role-1",
		Kind:          domain.CorrectionKindPaymentChange,
		Reason:        "tender swap",
		NewMethod:     "card",
	})
	if err != nil {
		t.Fatalf("create correction: %v", err)
	}

	cashierCtx := WithActor(context.Background(), domain.Actor{Username: "cashier", Role: "cashier"})
	_, err = svc.ResolveCorrection(cashierCtx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"})
	if err == nil || !strings.Contains(err.Error(), "admin role required") {
		t.Fatalf("expected admin role error, got %v", err)
	}
}

func TestCreateCorrectionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	openShiftWithSale(t, svc, ctx, "emp-val", "tx-val-1", 25_00)

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-val-1",
		Kind:          "exchange",
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown kind, got %v", err)
	}

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-val-1",
		Kind:          domain.CorrectionKindPaymentChange,
	}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing new method, got %v", err)
	}

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID:     "tx-val-1",
		Kind:              domain.CorrectionKindRefund,
		RefundAmountCents: 0,
	}); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for zero refund, got %v", err)
	}

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID:     "tx-val-1",
		Kind:              domain.CorrectionKindRefund,
		RefundAmountCents: 26_00,
	}); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for oversized refund, got %v", err)
	}

	if _, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-missing",
		Kind:          domain.CorrectionKindRefund,
	}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for missing transaction, got %v", err)
	}
}

// flakyTxRepo fails a set number of UpdateTransaction calls, then delegates.
type flakyTxRepo struct {
	*memory.Store
	failuresLeft int
	calls        int
}

func (r *flakyTxRepo) UpdateTransaction(ctx context.Context, id string, patch domain.TransactionPatch) (*domain.Transaction, error) {
	r.calls++
	if r.failuresLeft > 0 {
		r.failuresLeft--
		return nil, store.ErrDependency
	}
	return r.Store.UpdateTransaction(ctx, id, patch)
}

func TestResolveRetriesTransactionPatchAfterClaim(t *testing.T) {
	repo := &flakyTxRepo{Store: memory.NewSeeded()}
	engine := reconcile.NewEngine(repo.Store)
	svc := New(repo, engine, cache.NoopShiftCache{}, 0, 0)
	ctx := adminCtx()

	openShiftWithSale(t, svc, ctx, "emp-flaky", "tx-flaky-1", 45_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID: "tx-flaky-1",
		Kind:          domain.CorrectionKindPaymentChange,
		Reason:        "tender swap",
		NewMethod:     "card",
	})
	if err != nil {
		t.Fatalf("create correction: %v", err)
	}

	// The request is claimed before the transaction is patched. The patch
	// must survive transient store failures or the approved request strands
	// an unpatched transaction.
	repo.failuresLeft = 2
	resolved, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"})
	if err != nil {
		t.Fatalf("resolve with flaky store: %v", err)
	}
	if resolved.Correction.Status != domain.CorrectionStatusApproved {
		t.Fatalf("expected approved, got %s", resolved.Correction.Status)
	}

	tx, err := repo.GetTransaction(ctx, "tx-flaky-1")
	if err != nil {
		t.Fatalf("get tx: %v", err)
	}
	if tx.PendingCorrection {
		t.Fatalf("expected pending flag cleared after retried patch")
	}
	if len(tx.Payments) != 1 || tx.Payments[0].Method != "card" {
		t.Fatalf("expected transaction patched to card, got %v", tx.Payments)
	}
}

func TestApprovalRecalculatesClosedShiftViaRefs(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	shift := openShiftWithSale(t, svc, ctx, "emp-late", "tx-late-1", 55_00)

	created, err := svc.CreateCorrection(ctx, domain.CorrectionCreateRequest{
		TransactionID:     "tx-late-1",
		Kind:              domain.CorrectionKindRefund,
		Reason:            "returned after close",
		RefundAmountCents: 55_00,
	})
	if err != nil {
		t.Fatalf("create refund request: %v", err)
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: shift.ID, ActualCashCents: 155_00}); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := svc.ResolveCorrection(ctx, created.Correction.ID, domain.CorrectionResolveRequest{Outcome: "approve"}); err != nil {
		t.Fatalf("resolve after close: %v", err)
	}

	updated, err := repo.GetShift(ctx, shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if updated.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected shift to stay closed, got %s", updated.Status)
	}
	if updated.TotalRefundsCents != 55_00 {
		t.Fatalf("expected refunds 5500 on closed shift, got %d", updated.TotalRefundsCents)
	}
	if updated.ExpectedCashCents != 100_00 {
		t.Fatalf("expected drawer expectation rebuilt to 10000, got %d", updated.ExpectedCashCents)
	}
	// Variance was frozen at close time; recalculation must not rewrite it.
	if updated.VarianceCents != 0 {
		t.Fatalf("expected variance to stay 0, got %d", updated.VarianceCents)
	}
}
