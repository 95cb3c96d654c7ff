package cache

import (
	"context"
	"time"

	"tillbook/backend/internal/domain"
)

// ShiftCache holds short-lived snapshots of the active shift per employee.
// Every mutating shift operation invalidates the employee's entry, so a
// stale snapshot can only outlive a write by the delete round trip.
type ShiftCache interface {
	Get(ctx context.Context, employeeID string) (*domain.Shift, bool, error)
	Set(ctx context.Context, employeeID string, shift *domain.Shift, ttl time.Duration) error
	Invalidate(ctx context.Context, employeeID string) error
}

type NoopShiftCache struct{}

func (NoopShiftCache) Get(_ context.Context, _ string) (*domain.Shift, bool, error) {
	return nil, false, nil
}

func (NoopShiftCache) Set(_ context.Context, _ string, _ *domain.Shift, _ time.Duration) error {
	return nil
}

func (NoopShiftCache) Invalidate(_ context.Context, _ string) error {
	return nil
}
