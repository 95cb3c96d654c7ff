package store

import (
	"context"
	"errors"
	"time"

	"tillbook/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidState  = errors.New("invalid state")
	ErrConflict      = errors.New("conflict")
	ErrDependency    = errors.New("dependency failure")
)

type Repository interface {
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)
	GetActiveShiftByEmployee(ctx context.Context, employeeID string) (*domain.Shift, error)
	ListShiftsByEmployee(ctx context.Context, employeeID string, limit int) ([]domain.Shift, error)
	ListShiftsByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Shift, error)
	FindShiftsByTransactionRef(ctx context.Context, transactionID string) ([]domain.Shift, error)
	AppendCashMovement(ctx context.Context, shiftID string, movement domain.CashMovement) (*domain.Shift, error)
	AttachTransactionRef(ctx context.Context, shiftID string, transactionID string) error
	UpdateShiftTotals(ctx context.Context, shiftID string, version int64, totals domain.ShiftTotals, at time.Time) (*domain.Shift, error)
	CloseShift(ctx context.Context, shiftID string, version int64, actualCashCents int64, varianceCents int64, notes string, closedAt time.Time) (*domain.Shift, error)
	IngestTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error)
	GetTransactionsByIDs(ctx context.Context, ids []string) (map[string]domain.Transaction, error)
	QueryTransactions(ctx context.Context, employeeID string, from time.Time, to time.Time) ([]domain.Transaction, error)
	UpdateTransaction(ctx context.Context, transactionID string, patch domain.TransactionPatch) (*domain.Transaction, error)
	CreateCorrectionRequest(ctx context.Context, req domain.CorrectionRequest) (*domain.CorrectionRequest, error)
	GetCorrectionRequest(ctx context.Context, requestID string) (*domain.CorrectionRequest, error)
	ListPendingCorrectionRequests(ctx context.Context, limit int) ([]domain.CorrectionRequest, error)
	ListCorrectionRequestsByTransaction(ctx context.Context, transactionID string) ([]domain.CorrectionRequest, error)
	ResolveCorrectionRequest(ctx context.Context, requestID string, resolution domain.CorrectionResolution) (*domain.CorrectionRequest, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
