package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/reconcile"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	engine := reconcile.NewEngine(repo)
	return New(repo, engine, cache.NoopShiftCache{}, 0, 0), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func ingestCashSale(t *testing.T, svc *Service, ctx context.Context, id, employeeID string, cents int64) {
	t.Helper()
	total := cents
	_, err := svc.IngestTransaction(ctx, domain.RawTransaction{
		ID:            id,
		EmployeeID:    employeeID,
		TotalCents:    &total,
		PaymentMethod: "cash",
		OccurredAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ingest %s: %v", id, err)
	}
}

func TestOpenShiftIsIdempotentPerEmployee(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	first, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-1", StartingCashCents: 200_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if first.Shift.Status != domain.ShiftStatusActive {
		t.Fatalf("expected active shift, got %s", first.Shift.Status)
	}
	if first.Shift.ExpectedCashCents != 200_00 {
		t.Fatalf("expected cash 20000 at open, got %d", first.Shift.ExpectedCashCents)
	}

	second, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-1", StartingCashCents: 999_00})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if second.Shift.ID != first.Shift.ID {
		t.Fatalf("expected same shift on repeated open, got %s and %s", first.Shift.ID, second.Shift.ID)
	}
	if second.Shift.StartingCashCents != 200_00 {
		t.Fatalf("repeated open must not change starting cash, got %d", second.Shift.StartingCashCents)
	}
}

func TestOpenShiftValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "  "}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank employee, got %v", err)
	}
	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-1", StartingCashCents: -1}); !errors.Is(err, store.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount for negative float, got %v", err)
	}
}

func TestCloseShiftComputesVariance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-2", StartingCashCents: 200_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ingestCashSale(t, svc, ctx, "tx-close-1", "emp-2", 150_00)

	if _, err := svc.RecordCashMovement(ctx, opened.Shift.ID, domain.CashMovementRequest{
		Type:        domain.MovementPayOut,
		AmountCents: 30_00,
		Details:     "courier cod",
	}); err != nil {
		t.Fatalf("payout: %v", err)
	}

	closed, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ActualCashCents: 310_00})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Shift.Status != domain.ShiftStatusClosed {
		t.Fatalf("expected closed, got %s", closed.Shift.Status)
	}
	if closed.Shift.ExpectedCashCents != 320_00 {
		t.Fatalf("expected cash 32000, got %d", closed.Shift.ExpectedCashCents)
	}
	if closed.Shift.VarianceCents != -10_00 {
		t.Fatalf("expected variance -1000, got %d", closed.Shift.VarianceCents)
	}
	if closed.Shift.EndTime == nil {
		t.Fatalf("expected end time on closed shift")
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ActualCashCents: 310_00}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on double close, got %v", err)
	}
}

func TestRecordCashMovementValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-3", StartingCashCents: 100_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	cases := []struct {
		name string
		req  domain.CashMovementRequest
		want error
	}{
		{"bad type", domain.CashMovementRequest{Type: "withdrawal", AmountCents: 100, Details: "x"}, store.ErrInvalidInput},
		{"zero amount", domain.CashMovementRequest{Type: domain.MovementPayIn, AmountCents: 0, Details: "x"}, store.ErrInvalidAmount},
		{"negative amount", domain.CashMovementRequest{Type: domain.MovementPayOut, AmountCents: -5, Details: "x"}, store.ErrInvalidAmount},
		{"missing details", domain.CashMovementRequest{Type: domain.MovementPayIn, AmountCents: 100}, store.ErrInvalidInput},
	}
	for _, tc := range cases {
		if _, err := svc.RecordCashMovement(ctx, opened.Shift.ID, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ActualCashCents: 100_00}); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := svc.RecordCashMovement(ctx, opened.Shift.ID, domain.CashMovementRequest{
		Type:        domain.MovementPayIn,
		AmountCents: 100,
		Details:     "late float",
	}); !errors.Is(err, store.ErrInvalidState) {
		t.Fatalf("expected invalid state on closed shift, got %v", err)
	}
}

func TestIngestTransactionAttachesToActiveShift(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-4", StartingCashCents: 50_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	ingestCashSale(t, svc, ctx, "tx-attach-1", "emp-4", 25_00)

	shift, err := repo.GetShift(ctx, opened.Shift.ID)
	if err != nil {
		t.Fatalf("get shift: %v", err)
	}
	if len(shift.TransactionRefs) != 1 || shift.TransactionRefs[0] != "tx-attach-1" {
		t.Fatalf("expected attached ref, got %v", shift.TransactionRefs)
	}
	if shift.ExpectedCashCents != 75_00 {
		t.Fatalf("expected cash 7500 after sale, got %d", shift.ExpectedCashCents)
	}
	if shift.TransactionCount != 1 {
		t.Fatalf("expected transaction count 1, got %d", shift.TransactionCount)
	}
}

func TestIngestTransactionRejectsUnrecognizedMoney(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.IngestTransaction(adminCtx(), domain.RawTransaction{
		ID:         "tx-no-money",
		EmployeeID: "emp-5",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for missing money value, got %v", err)
	}
}

func TestEmployeeStatisticsFoldsStoredShifts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-6", StartingCashCents: 100_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	ingestCashSale(t, svc, ctx, "tx-stats-1", "emp-6", 60_00)
	// Count five short: variance -500.
	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: opened.Shift.ID, ActualCashCents: 155_00}); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-6", StartingCashCents: 80_00})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	ingestCashSale(t, svc, ctx, "tx-stats-2", "emp-6", 40_00)
	// Count five over: variance +500 offsets the first shift's shortage.
	if _, err := svc.CloseShift(ctx, domain.ShiftCloseRequest{ShiftID: second.Shift.ID, ActualCashCents: 125_00}); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-6", StartingCashCents: 50_00}); err != nil {
		t.Fatalf("third open: %v", err)
	}

	stats, err := svc.EmployeeStatistics(ctx, "emp-6")
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.ShiftCount != 3 {
		t.Fatalf("expected 3 shifts, got %d", stats.ShiftCount)
	}
	if stats.ActiveShiftCount != 1 {
		t.Fatalf("expected 1 active shift, got %d", stats.ActiveShiftCount)
	}
	if stats.TotalSalesCents != 100_00 {
		t.Fatalf("expected sales 10000, got %d", stats.TotalSalesCents)
	}
	// A net-zero total must not hide the offsetting miscounts.
	if stats.TotalVarianceCents != 0 {
		t.Fatalf("expected variance 0, got %d", stats.TotalVarianceCents)
	}
	if stats.ShiftsWithShortage != 1 {
		t.Fatalf("expected 1 shortage shift, got %d", stats.ShiftsWithShortage)
	}
	if stats.ShiftsWithSurplus != 1 {
		t.Fatalf("expected 1 surplus shift, got %d", stats.ShiftsWithSurplus)
	}
	if stats.TransactionCount != 2 {
		t.Fatalf("expected 2 transactions, got %d", stats.TransactionCount)
	}
}

// countingShiftCache records cache traffic so tests can observe hit behavior.
type countingShiftCache struct {
	mu      sync.Mutex
	entries map[string]*domain.Shift
	hits    int
	sets    int
}

func (c *countingShiftCache) Get(_ context.Context, employeeID string) (*domain.Shift, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	shift, ok := c.entries[employeeID]
	if ok {
		c.hits++
	}
	return shift, ok, nil
}

func (c *countingShiftCache) Set(_ context.Context, employeeID string, shift *domain.Shift, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]*domain.Shift)
	}
	c.entries[employeeID] = shift
	c.sets++
	return nil
}

func (c *countingShiftCache) Invalidate(_ context.Context, employeeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, employeeID)
	return nil
}

func TestGetActiveShiftUsesCacheAndInvalidatesOnWrite(t *testing.T) {
	repo := memory.NewSeeded()
	engine := reconcile.NewEngine(repo)
	shiftCache := &countingShiftCache{}
	svc := New(repo, engine, shiftCache, time.Minute, 3)
	ctx := adminCtx()

	opened, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-7", StartingCashCents: 40_00})
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if _, err := svc.GetActiveShift(ctx, "emp-7"); err != nil {
		t.Fatalf("first active lookup: %v", err)
	}
	if shiftCache.sets != 1 {
		t.Fatalf("expected 1 cache set, got %d", shiftCache.sets)
	}

	if _, err := svc.GetActiveShift(ctx, "emp-7"); err != nil {
		t.Fatalf("second active lookup: %v", err)
	}
	if shiftCache.hits != 1 {
		t.Fatalf("expected 1 cache hit, got %d", shiftCache.hits)
	}

	if _, err := svc.RecordCashMovement(ctx, opened.Shift.ID, domain.CashMovementRequest{
		Type:        domain.MovementPayIn,
		AmountCents: 10_00,
		Details:     "float top-up",
	}); err != nil {
		t.Fatalf("movement: %v", err)
	}

	resp, err := svc.GetActiveShift(ctx, "emp-7")
	if err != nil {
		t.Fatalf("post-write lookup: %v", err)
	}
	if resp.Shift.ExpectedCashCents != 50_00 {
		t.Fatalf("expected fresh snapshot 5000 after invalidation, got %d", resp.Shift.ExpectedCashCents)
	}
}

func TestListAuditLogsRecordsShiftActions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminCtx()

	if _, err := svc.OpenShift(ctx, domain.ShiftOpenRequest{EmployeeID: "emp-8", StartingCashCents: 10_00}); err != nil {
		t.Fatalf("open: %v", err)
	}

	logs, err := svc.ListAuditLogs(ctx, "", 50)
	if err != nil {
		t.Fatalf("audit logs: %v", err)
	}
	found := false
	for _, entry := range logs {
		if entry.Action == "shift_open" && entry.ActorUsername == "admin" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected shift_open audit entry, got %d entries", len(logs))
	}
}
