package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const shiftColumns = `
	id, employee_id, COALESCE(employee_name,''), status, start_time, end_time,
	starting_cash_cents, actual_cash_cents, variance_cents, COALESCE(notes,''),
	cash_movements, transaction_refs, totals, recalculated_at, version
`

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.EmployeeID) == "" {
		return nil, store.ErrInvalidInput
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

	movementsJSON, err := json.Marshal(shift.CashMovements)
	if err != nil {
		return nil, err
	}
	refsJSON, err := json.Marshal(shift.TransactionRefs)
	if err != nil {
		return nil, err
	}
	totalsJSON, err := json.Marshal(shift.ShiftTotals)
	if err != nil {
		return nil, err
	}

	// uq_shifts_active_employee (partial unique index on employee_id WHERE
	// status = 'active') enforces one active shift per employee.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shifts (
			id, employee_id, employee_name, status, start_time, end_time,
			starting_cash_cents, actual_cash_cents, variance_cents, notes,
			cash_movements, transaction_refs, totals, recalculated_at, version
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, shift.ID, shift.EmployeeID, shift.EmployeeName, shift.Status, shift.StartTime, nullTime(shift.EndTime),
		shift.StartingCashCents, shift.ActualCashCents, shift.VarianceCents, shift.Notes,
		movementsJSON, refsJSON, totalsJSON, nullTime(shift.RecalculatedAt), shift.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1
	`, shiftID)
	return scanShiftRow(row)
}

func (s *Store) GetActiveShiftByEmployee(ctx context.Context, employeeID string) (*domain.Shift, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE employee_id = $1 AND status = 'active'
	`, employeeID)
	return scanShiftRow(row)
}

func (s *Store) ListShiftsByEmployee(ctx context.Context, employeeID string, limit int) ([]domain.Shift, error) {
	if limit < 1 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE employee_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT $2
	`, employeeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShiftRows(rows)
}

func (s *Store) ListShiftsByDateRange(ctx context.Context, from time.Time, to time.Time) ([]domain.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE start_time >= $1 AND start_time < $2
		ORDER BY start_time DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShiftRows(rows)
}

func (s *Store) FindShiftsByTransactionRef(ctx context.Context, transactionID string) ([]domain.Shift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE transaction_refs @> jsonb_build_array($1::text)
		ORDER BY start_time DESC, id DESC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanShiftRows(rows)
}

func (s *Store) AppendCashMovement(ctx context.Context, shiftID string, movement domain.CashMovement) (*domain.Shift, error) {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.RecordedAt.IsZero() {
		movement.RecordedAt = time.Now().UTC()
	}
	movementJSON, err := json.Marshal(movement)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET cash_movements = cash_movements || jsonb_build_array($2::jsonb), version = version + 1
		WHERE id = $1 AND status = 'active'
		RETURNING `+shiftColumns+`
	`, shiftID, movementJSON)
	shift, err := scanShiftRow(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.shiftMissReason(ctx, shiftID, store.ErrInvalidState)
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) AttachTransactionRef(ctx context.Context, shiftID string, transactionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shifts
		SET transaction_refs = transaction_refs || jsonb_build_array($2::text), version = version + 1
		WHERE id = $1 AND NOT transaction_refs @> jsonb_build_array($2::text)
	`, shiftID, transactionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the shift does not exist or the ref is already attached.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shiftID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
	}
	return nil
}

func (s *Store) UpdateShiftTotals(ctx context.Context, shiftID string, version int64, totals domain.ShiftTotals, at time.Time) (*domain.Shift, error) {
	totalsJSON, err := json.Marshal(totals)
	if err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET totals = $3, recalculated_at = $4, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+shiftColumns+`
	`, shiftID, version, totalsJSON, at)
	shift, err := scanShiftRow(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, s.shiftMissReason(ctx, shiftID, store.ErrConflict)
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, version int64, actualCashCents int64, varianceCents int64, notes string, closedAt time.Time) (*domain.Shift, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE shifts
		SET status = 'closed', end_time = $5, actual_cash_cents = $3, variance_cents = $4,
			notes = CASE WHEN $6 <> '' THEN $6 ELSE notes END,
			version = version + 1
		WHERE id = $1 AND version = $2 AND status = 'active'
		RETURNING `+shiftColumns+`
	`, shiftID, version, actualCashCents, varianceCents, closedAt, strings.TrimSpace(notes))
	shift, err := scanShiftRow(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			var status string
			statusErr := s.db.QueryRowContext(ctx, `SELECT status FROM shifts WHERE id = $1`, shiftID).Scan(&status)
			if errors.Is(statusErr, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			if statusErr != nil {
				return nil, statusErr
			}
			if status != domain.ShiftStatusActive {
				return nil, store.ErrInvalidState
			}
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return shift, nil
}

// shiftMissReason maps a zero-row conditional update to the right sentinel:
// a missing shift is NotFound, anything else gets the caller's fallback.
func (s *Store) shiftMissReason(ctx context.Context, shiftID string, fallback error) error {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shiftID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return store.ErrNotFound
	}
	return fallback
}

const transactionColumns = `
	id, employee_id, total_cents, discount_cents, payments, refund,
	refund_amount_cents, COALESCE(refunded_by,''), refunded_at,
	pending_correction, payment_history, occurred_at
`

func (s *Store) IngestTransaction(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if strings.TrimSpace(tx.EmployeeID) == "" {
		return nil, store.ErrInvalidInput
	}
	if tx.ID == "" {
		tx.ID = xid.New("tx")
	}
	if tx.OccurredAt.IsZero() {
		tx.OccurredAt = time.Now().UTC()
	}
	if tx.Payments == nil {
		tx.Payments = []domain.PaymentLine{}
	}
	if tx.PaymentHistory == nil {
		tx.PaymentHistory = []domain.PaymentChange{}
	}

	paymentsJSON, err := json.Marshal(tx.Payments)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(tx.PaymentHistory)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, employee_id, total_cents, discount_cents, payments, refund,
			refund_amount_cents, refunded_by, refunded_at,
			pending_correction, payment_history, occurred_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO NOTHING
	`, tx.ID, tx.EmployeeID, tx.TotalCents, tx.DiscountCents, paymentsJSON, tx.Refund,
		tx.RefundAmountCents, tx.RefundedBy, nullTime(tx.RefundedAt),
		tx.PendingCorrection, historyJSON, tx.OccurredAt)
	if err != nil {
		return nil, err
	}

	return s.GetTransaction(ctx, tx.ID)
}

func (s *Store) GetTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
	`, transactionID)
	return scanTransactionRow(row)
}

func (s *Store) GetTransactionsByIDs(ctx context.Context, ids []string) (map[string]domain.Transaction, error) {
	result := make(map[string]domain.Transaction, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result[tx.ID] = *tx
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) QueryTransactions(ctx context.Context, employeeID string, from time.Time, to time.Time) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE employee_id = $1 AND occurred_at >= $2 AND occurred_at <= $3
		ORDER BY occurred_at ASC, id ASC
	`, employeeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Transaction, 0, 64)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) UpdateTransaction(ctx context.Context, transactionID string, patch domain.TransactionPatch) (*domain.Transaction, error) {
	dbTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	row := dbTx.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = $1
		FOR UPDATE
	`, transactionID)
	current, err := scanTransactionRow(row)
	if err != nil {
		return nil, err
	}

	if patch.Payments != nil {
		current.Payments = patch.Payments
	}
	if patch.Refund != nil {
		current.Refund = *patch.Refund
	}
	if patch.RefundAmountCents != nil {
		current.RefundAmountCents = *patch.RefundAmountCents
	}
	if patch.RefundedBy != nil {
		current.RefundedBy = *patch.RefundedBy
	}
	if patch.RefundedAt != nil {
		at := *patch.RefundedAt
		current.RefundedAt = &at
	}
	if patch.PendingCorrection != nil {
		current.PendingCorrection = *patch.PendingCorrection
	}
	if patch.AppendHistory != nil {
		current.PaymentHistory = append(current.PaymentHistory, *patch.AppendHistory)
	}

	paymentsJSON, err := json.Marshal(current.Payments)
	if err != nil {
		return nil, err
	}
	historyJSON, err := json.Marshal(current.PaymentHistory)
	if err != nil {
		return nil, err
	}

	_, err = dbTx.ExecContext(ctx, `
		UPDATE transactions
		SET payments = $2, refund = $3, refund_amount_cents = $4, refunded_by = $5,
			refunded_at = $6, pending_correction = $7, payment_history = $8
		WHERE id = $1
	`, transactionID, paymentsJSON, current.Refund, current.RefundAmountCents, current.RefundedBy,
		nullTime(current.RefundedAt), current.PendingCorrection, historyJSON)
	if err != nil {
		return nil, err
	}

	if err := dbTx.Commit(); err != nil {
		return nil, err
	}
	return current, nil
}

const correctionColumns = `
	id, transaction_id, kind, status, COALESCE(reason,''), COALESCE(old_method,''),
	COALESCE(new_method,''), refund_amount_cents, COALESCE(requested_by,''),
	requested_at, COALESCE(resolved_by,''), resolved_at
`

func (s *Store) CreateCorrectionRequest(ctx context.Context, req domain.CorrectionRequest) (*domain.CorrectionRequest, error) {
	if strings.TrimSpace(req.TransactionID) == "" {
		return nil, store.ErrInvalidInput
	}
	if req.ID == "" {
		req.ID = xid.New("corr")
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	req.Status = domain.CorrectionStatusPending
	req.ResolvedBy = ""
	req.ResolvedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO correction_requests (
			id, transaction_id, kind, status, reason, old_method, new_method,
			refund_amount_cents, requested_by, requested_at, resolved_by, resolved_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, req.ID, req.TransactionID, req.Kind, req.Status, req.Reason, req.OldMethod, req.NewMethod,
		req.RefundAmountCents, req.RequestedBy, req.RequestedAt, req.ResolvedBy, nullTime(req.ResolvedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	saved := req
	return &saved, nil
}

func (s *Store) GetCorrectionRequest(ctx context.Context, requestID string) (*domain.CorrectionRequest, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+correctionColumns+`
		FROM correction_requests
		WHERE id = $1
	`, requestID)
	return scanCorrectionRow(row)
}

func (s *Store) ListPendingCorrectionRequests(ctx context.Context, limit int) ([]domain.CorrectionRequest, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+correctionColumns+`
		FROM correction_requests
		WHERE status = 'pending'
		ORDER BY requested_at ASC, id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorrectionRows(rows)
}

func (s *Store) ListCorrectionRequestsByTransaction(ctx context.Context, transactionID string) ([]domain.CorrectionRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+correctionColumns+`
		FROM correction_requests
		WHERE transaction_id = $1
		ORDER BY requested_at ASC, id ASC
	`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCorrectionRows(rows)
}

func (s *Store) ResolveCorrectionRequest(ctx context.Context, requestID string, resolution domain.CorrectionResolution) (*domain.CorrectionRequest, error) {
	at := resolution.ResolvedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	// The status guard makes the pending -> resolved transition atomic;
	// concurrent resolvers race on it and exactly one row update wins.
	row := s.db.QueryRowContext(ctx, `
		UPDATE correction_requests
		SET status = $2, resolved_by = $3, resolved_at = $4,
			new_method = CASE WHEN $5 <> '' THEN $5 ELSE new_method END,
			refund_amount_cents = CASE WHEN $6 > 0 THEN $6 ELSE refund_amount_cents END
		WHERE id = $1 AND status = 'pending'
		RETURNING `+correctionColumns+`
	`, requestID, resolution.Status, resolution.ResolvedBy, at, strings.TrimSpace(resolution.FinalMethod), resolution.RefundAmountCents)
	resolved, err := scanCorrectionRow(row)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			var exists bool
			if checkErr := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM correction_requests WHERE id = $1)`, requestID).Scan(&exists); checkErr != nil {
				return nil, checkErr
			}
			if exists {
				return nil, store.ErrInvalidState
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return resolved, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, COALESCE(detail,''), created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(scanner rowScanner) (*domain.Shift, error) {
	var shift domain.Shift
	var endTime, recalculatedAt sql.NullTime
	var movementsRaw, refsRaw, totalsRaw []byte

	err := scanner.Scan(
		&shift.ID, &shift.EmployeeID, &shift.EmployeeName, &shift.Status, &shift.StartTime, &endTime,
		&shift.StartingCashCents, &shift.ActualCashCents, &shift.VarianceCents, &shift.Notes,
		&movementsRaw, &refsRaw, &totalsRaw, &recalculatedAt, &shift.Version,
	)
	if err != nil {
		return nil, err
	}

	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		end := endTime.Time.UTC()
		shift.EndTime = &end
	}
	if recalculatedAt.Valid {
		at := recalculatedAt.Time.UTC()
		shift.RecalculatedAt = &at
	}
	shift.CashMovements = []domain.CashMovement{}
	if len(movementsRaw) > 0 {
		if err := json.Unmarshal(movementsRaw, &shift.CashMovements); err != nil {
			return nil, err
		}
	}
	shift.TransactionRefs = []string{}
	if len(refsRaw) > 0 {
		if err := json.Unmarshal(refsRaw, &shift.TransactionRefs); err != nil {
			return nil, err
		}
	}
	if len(totalsRaw) > 0 {
		if err := json.Unmarshal(totalsRaw, &shift.ShiftTotals); err != nil {
			return nil, err
		}
	}
	return &shift, nil
}

func scanShiftRow(row *sql.Row) (*domain.Shift, error) {
	shift, err := scanShift(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func scanShiftRows(rows *sql.Rows) ([]domain.Shift, error) {
	result := make([]domain.Shift, 0, 16)
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *shift)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanTransaction(scanner rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var refundedAt sql.NullTime
	var paymentsRaw, historyRaw []byte

	err := scanner.Scan(
		&tx.ID, &tx.EmployeeID, &tx.TotalCents, &tx.DiscountCents, &paymentsRaw, &tx.Refund,
		&tx.RefundAmountCents, &tx.RefundedBy, &refundedAt,
		&tx.PendingCorrection, &historyRaw, &tx.OccurredAt,
	)
	if err != nil {
		return nil, err
	}

	tx.OccurredAt = tx.OccurredAt.UTC()
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		tx.RefundedAt = &at
	}
	tx.Payments = []domain.PaymentLine{}
	if len(paymentsRaw) > 0 {
		if err := json.Unmarshal(paymentsRaw, &tx.Payments); err != nil {
			return nil, err
		}
	}
	tx.PaymentHistory = []domain.PaymentChange{}
	if len(historyRaw) > 0 {
		if err := json.Unmarshal(historyRaw, &tx.PaymentHistory); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

func scanTransactionRow(row *sql.Row) (*domain.Transaction, error) {
	tx, err := scanTransaction(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return tx, nil
}

func scanCorrection(scanner rowScanner) (*domain.CorrectionRequest, error) {
	var req domain.CorrectionRequest
	var resolvedAt sql.NullTime

	err := scanner.Scan(
		&req.ID, &req.TransactionID, &req.Kind, &req.Status, &req.Reason, &req.OldMethod,
		&req.NewMethod, &req.RefundAmountCents, &req.RequestedBy,
		&req.RequestedAt, &req.ResolvedBy, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	req.RequestedAt = req.RequestedAt.UTC()
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		req.ResolvedAt = &at
	}
	return &req, nil
}

func scanCorrectionRow(row *sql.Row) (*domain.CorrectionRequest, error) {
	req, err := scanCorrection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return req, nil
}

func scanCorrectionRows(rows *sql.Rows) ([]domain.CorrectionRequest, error) {
	result := make([]domain.CorrectionRequest, 0, 16)
	for rows.Next() {
		req, err := scanCorrection(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
