package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type Store struct {
	mu               sync.RWMutex
	shiftsByID       map[string]domain.Shift
	activeShiftByEmp map[string]string
	shiftsByTxRef    map[string][]string
	transactionsByID map[string]*domain.Transaction
	correctionsByID  map[string]domain.CorrectionRequest
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"cashier", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	return &Store{
		shiftsByID:       make(map[string]domain.Shift),
		activeShiftByEmp: make(map[string]string),
		shiftsByTxRef:    make(map[string][]string),
		transactionsByID: make(map[string]*domain.Transaction),
		correctionsByID:  make(map[string]domain.CorrectionRequest),
		auditLogs:        make([]domain.AuditLog, 0, 128),
		usersByUsername:  seedUsers(),
	}
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.activeShiftByEmp[shift.EmployeeID]; exists {
		return nil, store.ErrConflict
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.EndTime = nil
	shift.Version = 1
	if shift.CashMovements == nil {
		shift.CashMovements = []domain.CashMovement{}
	}
	if shift.TransactionRefs == nil {
		shift.TransactionRefs = []string{}
	}

	s.shiftsByID[shift.ID] = shift
	s.activeShiftByEmp[shift.EmployeeID] = shift.ID
	created := cloneShift(shift)
	return &created, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := cloneShift(shift)
	return &copyShift, nil
}

func (s *Store) GetActiveShiftByEmployee(_ context.Context, employeeID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.activeShiftByEmp[employeeID]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrNotFound
	}
	copyShift := cloneShift(shift)
	return &copyShift, nil
}

func (s *Store) ListShiftsByEmployee(_ context.Context, employeeID string, limit int) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 16)
	for _, shift := range s.shiftsByID {
		if shift.EmployeeID != employeeID {
			continue
		}
		result = append(result, cloneShift(shift))
	}
	sortShiftsNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListShiftsByDateRange(_ context.Context, from time.Time, to time.Time) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 16)
	for _, shift := range s.shiftsByID {
		if shift.StartTime.Before(from) || !shift.StartTime.Before(to) {
			continue
		}
		result = append(result, cloneShift(shift))
	}
	sortShiftsNewestFirst(result)
	return result, nil
}

func (s *Store) FindShiftsByTransactionRef(_ context.Context, transactionID string) ([]domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shift, 0, 1)
	for _, shiftID := range s.shiftsByTxRef[transactionID] {
		if shift, exists := s.shiftsByID[shiftID]; exists {
			result = append(result, cloneShift(shift))
		}
	}
	sortShiftsNewestFirst(result)
	return result, nil
}

func (s *Store) AppendCashMovement(_ context.Context, shiftID string, movement domain.CashMovement) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrInvalidState
	}
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.RecordedAt.IsZero() {
		movement.RecordedAt = time.Now().UTC()
	}

	shift.CashMovements = append(shift.CashMovements, movement)
	shift.Version++
	s.shiftsByID[shiftID] = shift
	updated := cloneShift(shift)
	return &updated, nil
}

func (s *Store) AttachTransactionRef(_ context.Context, shiftID string, transactionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return store.ErrNotFound
	}
	if slices.Contains(shift.TransactionRefs, transactionID) {
		return nil
	}

	shift.TransactionRefs = append(shift.TransactionRefs, transactionID)
	shift.Version++
	s.shiftsByID[shiftID] = shift
	s.shiftsByTxRef[transactionID] = append(s.shiftsByTxRef[transactionID], shiftID)
	return nil
}

func (s *Store) UpdateShiftTotals(_ context.Context, shiftID string, version int64, totals domain.ShiftTotals, at time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Version != version {
		return nil, store.ErrConflict
	}

	shift.ShiftTotals = totals
	shift.RecalculatedAt = &at
	shift.Version++
	s.shiftsByID[shiftID] = shift
	updated := cloneShift(shift)
	return &updated, nil
}

func (s *Store) CloseShift(_ context.Context, shiftID string, version int64, actualCashCents int64, varianceCents int64, notes string, closedAt time.Time) (*domain.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shift.Status != domain.ShiftStatusActive {
		return nil, store.ErrInvalidState
	}
	if shift.Version != version {
		return nil, store.ErrConflict
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	shift.Status = domain.ShiftStatusClosed
	shift.EndTime = &closedAt
	shift.ActualCashCents = actualCashCents
	shift.VarianceCents = varianceCents
	if strings.TrimSpace(notes) != "" {
		shift.Notes = notes
	}
	shift.Version++
	s.shiftsByID[shiftID] = shift
	delete(s.activeShiftByEmp, shift.EmployeeID)
	closed := cloneShift(shift)
	return &closed, nil
}

func (s *Store) IngestTransaction(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if strings.TrimSpace(tx.EmployeeID) == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = time.Now().UTC()
	}
	if existing, ok := s.transactionsByID[tx.ID]; ok {
		return cloneTransaction(existing), nil
	}

	saved := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = saved
	return cloneTransaction(saved), nil
}

func (s *Store) GetTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) GetTransactionsByIDs(_ context.Context, ids []string) (map[string]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Transaction, len(ids))
	for _, id := range ids {
		if tx, ok := s.transactionsByID[id]; ok {
			result[id] = *cloneTransaction(tx)
		}
	}
	return result, nil
}

func (s *Store) QueryTransactions(_ context.Context, employeeID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 32)
	for _, tx := range s.transactionsByID {
		if tx.EmployeeID != employeeID {
			continue
		}
		if tx.OccurredAt.Before(from) || tx.OccurredAt.After(to) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.OccurredAt.Equal(b.OccurredAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.OccurredAt.Before(b.OccurredAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) UpdateTransaction(_ context.Context, transactionID string, patch domain.TransactionPatch) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[transactionID]
	if !ok {
		return nil, store.ErrNotFound
	}

	if patch.Payments != nil {
		payments := make([]domain.PaymentLine, len(patch.Payments))
		copy(payments, patch.Payments)
		tx.Payments = payments
	}
	if patch.Refund != nil {
		tx.Refund = *patch.Refund
	}
	if patch.RefundAmountCents != nil {
		tx.RefundAmountCents = *patch.RefundAmountCents
	}
	if patch.RefundedBy != nil {
		tx.RefundedBy = *patch.RefundedBy
	}
	if patch.RefundedAt != nil {
		at := *patch.RefundedAt
		tx.RefundedAt = &at
	}
	if patch.PendingCorrection != nil {
		tx.PendingCorrection = *patch.PendingCorrection
	}
	if patch.AppendHistory != nil {
		tx.PaymentHistory = append(tx.PaymentHistory, *patch.AppendHistory)
	}

	return cloneTransaction(tx), nil
}

func (s *Store) CreateCorrectionRequest(_ context.Context, req domain.CorrectionRequest) (*domain.CorrectionRequest, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = xid.New("corr")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	req.Status = domain.CorrectionStatusPending
	req.ResolvedBy = ""
	req.ResolvedAt = nil

	s.correctionsByID[req.ID] = req
	created := req
	return &created, nil
}

func (s *Store) GetCorrectionRequest(_ context.Context, requestID string) (*domain.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, exists := s.correctionsByID[requestID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyReq := req
	return &copyReq, nil
}

func (s *Store) ListPendingCorrectionRequests(_ context.Context, limit int) ([]domain.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CorrectionRequest, 0, 16)
	for _, req := range s.correctionsByID {
		if req.Status != domain.CorrectionStatusPending {
			continue
		}
		result = append(result, req)
	}
	slices.SortFunc(result, func(a, b domain.CorrectionRequest) int {
		if a.RequestedAt.Equal(b.RequestedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.RequestedAt.Before(b.RequestedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCorrectionRequestsByTransaction(_ context.Context, transactionID string) ([]domain.CorrectionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CorrectionRequest, 0, 4)
	for _, req := range s.correctionsByID {
		if req.TransactionID != transactionID {
			continue
		}
		result = append(result, req)
	}
	slices.SortFunc(result, func(a, b domain.CorrectionRequest) int {
		if a.RequestedAt.Equal(b.RequestedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.RequestedAt.Before(b.RequestedAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

// ResolveCorrectionRequest transitions a request out of pending. The check
// and the write happen under one lock, so concurrent resolvers cannot both
// win.
func (s *Store) ResolveCorrectionRequest(_ context.Context, requestID string, resolution domain.CorrectionResolution) (*domain.CorrectionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.correctionsByID[requestID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if req.Status != domain.CorrectionStatusPending {
		return nil, store.ErrInvalidState
	}

	req.Status = resolution.Status
	req.ResolvedBy = resolution.ResolvedBy
	at := resolution.ResolvedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	req.ResolvedAt = &at
	if resolution.FinalMethod != "" {
		req.NewMethod = resolution.FinalMethod
	}
	if resolution.RefundAmountCents > 0 {
		req.RefundAmountCents = resolution.RefundAmountCents
	}

	s.correctionsByID[requestID] = req
	resolved := req
	return &resolved, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func sortShiftsNewestFirst(shifts []domain.Shift) {
	slices.SortFunc(shifts, func(a, b domain.Shift) int {
		if a.StartTime.Equal(b.StartTime) {
			return cmpString(b.ID, a.ID)
		}
		if a.StartTime.After(b.StartTime) {
			return -1
		}
		return 1
	})
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

func cloneShift(src domain.Shift) domain.Shift {
	dup := src
	movements := make([]domain.CashMovement, len(src.CashMovements))
	copy(movements, src.CashMovements)
	dup.CashMovements = movements
	refs := make([]string, len(src.TransactionRefs))
	copy(refs, src.TransactionRefs)
	dup.TransactionRefs = refs
	if src.EndTime != nil {
		end := *src.EndTime
		dup.EndTime = &end
	}
	if src.RecalculatedAt != nil {
		at := *src.RecalculatedAt
		dup.RecalculatedAt = &at
	}
	return dup
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	payments := make([]domain.PaymentLine, len(src.Payments))
	copy(payments, src.Payments)
	dup.Payments = payments
	history := make([]domain.PaymentChange, len(src.PaymentHistory))
	copy(history, src.PaymentHistory)
	dup.PaymentHistory = history
	if src.RefundedAt != nil {
		at := *src.RefundedAt
		dup.RefundedAt = &at
	}
	return &dup
}
