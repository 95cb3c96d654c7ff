package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tillbook/backend/internal/cache"
	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/reconcile"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const closeRetryAttempts = 3

type Service struct {
	repo          store.Repository
	engine        *reconcile.Engine
	shiftCache    cache.ShiftCache
	shiftCacheTTL time.Duration
	windowDays    int
}

func New(repo store.Repository, engine *reconcile.Engine, shiftCache cache.ShiftCache, shiftCacheTTL time.Duration, windowDays int) *Service {
	if shiftCache == nil {
		shiftCache = cache.NoopShiftCache{}
	}
	if shiftCacheTTL <= 0 {
		shiftCacheTTL = 15 * time.Second
	}
	if windowDays <= 0 {
		windowDays = 3
	}

	return &Service{
		repo:          repo,
		engine:        engine,
		shiftCache:    shiftCache,
		shiftCacheTTL: shiftCacheTTL,
		windowDays:    windowDays,
	}
}

// OpenShift opens a drawer shift for an employee. An employee with a shift
// already active gets that shift back unchanged, so retried open calls are
// harmless.
func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	req.EmployeeID = strings.TrimSpace(req.EmployeeID)
	req.EmployeeName = strings.TrimSpace(req.EmployeeName)
	if req.EmployeeID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: employee id required", store.ErrInvalidInput)
	}
	if req.StartingCashCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: starting cash must not be negative", store.ErrInvalidAmount)
	}

	if existing, err := s.repo.GetActiveShiftByEmployee(ctx, req.EmployeeID); err == nil {
		return domain.ShiftResponse{Shift: *existing}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.ShiftResponse{}, err
	}

	shift := domain.Shift{
		ID:                xid.New("shift"),
		EmployeeID:        req.EmployeeID,
		EmployeeName:      req.EmployeeName,
		Status:            domain.ShiftStatusActive,
		StartTime:         time.Now().UTC(),
		StartingCashCents: req.StartingCashCents,
	}
	shift.ExpectedCashCents = req.StartingCashCents

	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the race to a concurrent open for the same employee.
			if active, getErr := s.repo.GetActiveShiftByEmployee(ctx, req.EmployeeID); getErr == nil {
				return domain.ShiftResponse{Shift: *active}, nil
			}
		}
		return domain.ShiftResponse{}, err
	}

	s.invalidateShiftCache(ctx, req.EmployeeID)
	s.logAudit(ctx, "shift_open", "shift", saved.ID, fmt.Sprintf("employee=%s,starting_cash=%d", req.EmployeeID, req.StartingCashCents))

	return domain.ShiftResponse{Shift: *saved}, nil
}

// CloseShift recalculates the shift one last time, then freezes it with the
// counted cash and the variance against the freshly computed expectation.
// Aggregates stay on the closed shift for reporting.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	req.ShiftID = strings.TrimSpace(req.ShiftID)
	if req.ShiftID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: shift id required", store.ErrInvalidInput)
	}
	if req.ActualCashCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: actual cash must not be negative", store.ErrInvalidAmount)
	}

	var lastErr error
	for attempt := 0; attempt < closeRetryAttempts; attempt++ {
		shift, err := s.engine.Recalculate(ctx, req.ShiftID)
		if err != nil {
			return domain.ShiftResponse{}, err
		}
		if shift.Status != domain.ShiftStatusActive {
			return domain.ShiftResponse{}, fmt.Errorf("%w: shift already closed", store.ErrInvalidState)
		}

		variance := req.ActualCashCents - shift.ExpectedCashCents
		closed, err := s.repo.CloseShift(ctx, req.ShiftID, shift.Version, req.ActualCashCents, variance, req.Notes, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				lastErr = err
				continue
			}
			return domain.ShiftResponse{}, err
		}

		s.invalidateShiftCache(ctx, closed.EmployeeID)
		s.logAudit(ctx, "shift_close", "shift", closed.ID, fmt.Sprintf("actual_cash=%d,variance=%d", req.ActualCashCents, variance))
		return domain.ShiftResponse{Shift: *closed}, nil
	}
	return domain.ShiftResponse{}, fmt.Errorf("close shift %s: %w", req.ShiftID, lastErr)
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) GetActiveShift(ctx context.Context, employeeID string) (domain.ShiftResponse, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: employee id required", store.ErrInvalidInput)
	}

	if cached, ok, err := s.shiftCache.Get(ctx, employeeID); err == nil && ok {
		return domain.ShiftResponse{Shift: *cached}, nil
	}

	shift, err := s.repo.GetActiveShiftByEmployee(ctx, employeeID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	if err := s.shiftCache.Set(ctx, employeeID, shift, s.shiftCacheTTL); err != nil {
		log.Printf("[service] WARN: failed to cache active shift employee=%s: %v", employeeID, err)
	}
	return domain.ShiftResponse{Shift: *shift}, nil
}

func (s *Service) ListShiftsByEmployee(ctx context.Context, employeeID string, limit int) (domain.ShiftListResponse, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return domain.ShiftListResponse{}, fmt.Errorf("%w: employee id required", store.ErrInvalidInput)
	}
	if limit < 1 {
		limit = 50
	}
	shifts, err := s.repo.ListShiftsByEmployee(ctx, employeeID, limit)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	return domain.ShiftListResponse{Shifts: shifts}, nil
}

func (s *Service) ListShiftsByDateRange(ctx context.Context, from time.Time, to time.Time) (domain.ShiftListResponse, error) {
	if from.IsZero() || to.IsZero() || !from.Before(to) {
		return domain.ShiftListResponse{}, fmt.Errorf("%w: invalid date range", store.ErrInvalidInput)
	}
	shifts, err := s.repo.ListShiftsByDateRange(ctx, from, to)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	return domain.ShiftListResponse{Shifts: shifts}, nil
}

// RecordCashMovement appends a payin or payout to an active shift's ledger
// and recomputes the expected drawer amount.
func (s *Service) RecordCashMovement(ctx context.Context, shiftID string, req domain.CashMovementRequest) (domain.ShiftResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Details = strings.TrimSpace(req.Details)

	if shiftID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: shift id required", store.ErrInvalidInput)
	}
	if req.Type != domain.MovementPayIn && req.Type != domain.MovementPayOut {
		return domain.ShiftResponse{}, fmt.Errorf("%w: movement type must be payin or payout", store.ErrInvalidInput)
	}
	if req.AmountCents <= 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: movement amount must be positive", store.ErrInvalidAmount)
	}
	if req.Details == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: movement details required", store.ErrInvalidInput)
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	movement := domain.CashMovement{
		ID:          xid.New("mov"),
		Type:        req.Type,
		AmountCents: req.AmountCents,
		Details:     req.Details,
		RecordedBy:  actor.Username,
		RecordedAt:  time.Now().UTC(),
	}

	appended, err := s.repo.AppendCashMovement(ctx, shiftID, movement)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	shift, err := s.engine.Recalculate(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.invalidateShiftCache(ctx, appended.EmployeeID)
	s.logAudit(ctx, "cash_movement", "shift", shiftID, fmt.Sprintf("type=%s,amount=%d", req.Type, req.AmountCents))

	return domain.ShiftResponse{Shift: *shift}, nil
}

// RecalculateShift rebuilds a shift's aggregates on demand, for repair after
// upstream data fixes.
func (s *Service) RecalculateShift(ctx context.Context, shiftID string) (domain.ShiftResponse, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.ShiftResponse{}, fmt.Errorf("%w: shift id required", store.ErrInvalidInput)
	}

	shift, err := s.engine.Recalculate(ctx, shiftID)
	if err != nil {
		return domain.ShiftResponse{}, err
	}

	s.invalidateShiftCache(ctx, shift.EmployeeID)
	s.logAudit(ctx, "shift_recalculate", "shift", shiftID, fmt.Sprintf("expected_cash=%d,transactions=%d", shift.ExpectedCashCents, shift.TransactionCount))

	return domain.ShiftResponse{Shift: *shift}, nil
}

// IngestTransaction accepts a raw register payload, resolves its money
// fields into the canonical shape, stores it, and attributes it to the
// employee's active shift when one exists.
func (s *Service) IngestTransaction(ctx context.Context, raw domain.RawTransaction) (domain.TransactionResponse, error) {
	tx, ok := raw.Canonical()
	if !ok {
		return domain.TransactionResponse{}, fmt.Errorf("%w: no recognized money value", store.ErrInvalidInput)
	}
	tx.EmployeeID = strings.TrimSpace(tx.EmployeeID)
	if tx.EmployeeID == "" {
		return domain.TransactionResponse{}, fmt.Errorf("%w: employee id required", store.ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = time.Now().UTC()
	}

	saved, err := s.repo.IngestTransaction(ctx, tx)
	if err != nil {
		return domain.TransactionResponse{}, err
	}

	if active, err := s.repo.GetActiveShiftByEmployee(ctx, saved.EmployeeID); err == nil {
		if err := s.repo.AttachTransactionRef(ctx, active.ID, saved.ID); err != nil {
			log.Printf("[service] WARN: failed to attach transaction %s to shift %s: %v", saved.ID, active.ID, err)
		} else if _, err := s.engine.Recalculate(ctx, active.ID); err != nil {
			log.Printf("[service] WARN: failed to recalculate shift %s after ingest: %v", active.ID, err)
		}
		s.invalidateShiftCache(ctx, saved.EmployeeID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.TransactionResponse{}, err
	}

	s.logAudit(ctx, "transaction_ingest", "transaction", saved.ID, fmt.Sprintf("employee=%s,total=%d", saved.EmployeeID, saved.TotalCents))
	return domain.TransactionResponse{Transaction: *saved}, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (domain.TransactionResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.TransactionResponse{}, fmt.Errorf("%w: transaction id required", store.ErrInvalidInput)
	}
	tx, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return domain.TransactionResponse{}, err
	}
	return domain.TransactionResponse{Transaction: *tx}, nil
}

// EmployeeStatistics folds the employee's stored shifts into one summary.
// The fold reads whatever aggregates the shifts carry; it never recomputes
// them and the result is never cached.
func (s *Service) EmployeeStatistics(ctx context.Context, employeeID string) (domain.EmployeeStatistics, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return domain.EmployeeStatistics{}, fmt.Errorf("%w: employee id required", store.ErrInvalidInput)
	}

	shifts, err := s.repo.ListShiftsByEmployee(ctx, employeeID, 0)
	if err != nil {
		return domain.EmployeeStatistics{}, err
	}

	stats := domain.EmployeeStatistics{EmployeeID: employeeID}
	for _, shift := range shifts {
		stats.ShiftCount++
		if shift.Status == domain.ShiftStatusActive {
			stats.ActiveShiftCount++
		}
		stats.TotalSalesCents += shift.TotalSalesCents
		stats.TotalRefundsCents += shift.TotalRefundsCents
		stats.TotalPaidInCents += shift.TotalPaidInCents
		stats.TotalPaidOutCents += shift.TotalPaidOutCents
		stats.TransactionCount += shift.TransactionCount
		if shift.Status == domain.ShiftStatusClosed {
			stats.TotalVarianceCents += shift.VarianceCents
			if shift.VarianceCents < 0 {
				stats.ShiftsWithShortage++
			} else if shift.VarianceCents > 0 {
				stats.ShiftsWithSurplus++
			}
		}
	}
	return stats, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	day := time.Now().UTC()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid date", store.ErrInvalidInput)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) invalidateShiftCache(ctx context.Context, employeeID string) {
	if err := s.shiftCache.Invalidate(ctx, employeeID); err != nil {
		log.Printf("[service] WARN: failed to invalidate shift cache employee=%s: %v", employeeID, err)
	}
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
