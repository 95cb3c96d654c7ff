package domain

import "time"

type Shift struct {
	ID                string         `json:"id"`
	EmployeeID        string         `json:"employee_id"`
	EmployeeName      string         `json:"employee_name,omitempty"`
	Status            string         `json:"status"`
	StartTime         time.Time      `json:"start_time"`
	EndTime           *time.Time     `json:"end_time,omitempty"`
	StartingCashCents int64          `json:"starting_cash_cents"`
	ActualCashCents   int64          `json:"actual_cash_cents,omitempty"`
	VarianceCents     int64          `json:"variance_cents,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	CashMovements     []CashMovement `json:"cash_movements"`
	TransactionRefs   []string       `json:"transaction_refs"`
	ShiftTotals
	RecalculatedAt *time.Time `json:"recalculated_at,omitempty"`
	// Version guards conditional writes. Every successful shift update
	// increments it; a stale version loses the write.
	Version int64 `json:"version"`
}

// ShiftTotals is the aggregate block the reconciliation engine recomputes
// from scratch. It is never mutated incrementally.
type ShiftTotals struct {
	TotalSalesCents             int64 `json:"total_sales_cents"`
	GrossSalesCents             int64 `json:"gross_sales_cents"`
	TotalRefundsCents           int64 `json:"total_refunds_cents"`
	TotalDiscountsCents         int64 `json:"total_discounts_cents"`
	TotalCashSalesCents         int64 `json:"total_cash_sales_cents"`
	TotalCardSalesCents         int64 `json:"total_card_sales_cents"`
	TotalBankTransferSalesCents int64 `json:"total_bank_transfer_sales_cents"`
	TotalCryptoSalesCents       int64 `json:"total_crypto_sales_cents"`
	TotalOtherSalesCents        int64 `json:"total_other_sales_cents"`
	TotalCashRefundsCents       int64 `json:"total_cash_refunds_cents"`
	TotalPaidInCents            int64 `json:"total_paid_in_cents"`
	TotalPaidOutCents           int64 `json:"total_paid_out_cents"`
	ExpectedCashCents           int64 `json:"expected_cash_cents"`
	TransactionCount            int   `json:"transaction_count"`
}

// CashMovement is an append-only drawer ledger entry. Entries are never
// edited or removed once recorded.
type CashMovement struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	AmountCents int64     `json:"amount_cents"`
	Details     string    `json:"details"`
	RecordedBy  string    `json:"recorded_by"`
	RecordedAt  time.Time `json:"recorded_at"`
}

type ShiftOpenRequest struct {
	EmployeeID        string `json:"employee_id"`
	EmployeeName      string `json:"employee_name"`
	StartingCashCents int64  `json:"starting_cash_cents"`
}

type ShiftCloseRequest struct {
	ShiftID         string `json:"shift_id"`
	ActualCashCents int64  `json:"actual_cash_cents"`
	Notes           string `json:"notes"`
}

type CashMovementRequest struct {
	Type        string `json:"type"`
	AmountCents int64  `json:"amount_cents"`
	Details     string `json:"details"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

type ShiftListResponse struct {
	Shifts []Shift `json:"shifts"`
}

type PaymentLine struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

// PaymentChange is an append-only history entry recording an approved
// payment-method correction on a transaction.
type PaymentChange struct {
	OldMethod   string    `json:"old_method"`
	NewMethod   string    `json:"new_method"`
	RequestedBy string    `json:"requested_by"`
	ApprovedBy  string    `json:"approved_by"`
	ChangedAt   time.Time `json:"changed_at"`
}

type Transaction struct {
	ID                string          `json:"id"`
	EmployeeID        string          `json:"employee_id"`
	TotalCents        int64           `json:"total_cents"`
	DiscountCents     int64           `json:"discount_cents"`
	Payments          []PaymentLine   `json:"payments"`
	Refund            bool            `json:"refund"`
	RefundAmountCents int64           `json:"refund_amount_cents,omitempty"`
	RefundedBy        string          `json:"refunded_by,omitempty"`
	RefundedAt        *time.Time      `json:"refunded_at,omitempty"`
	PendingCorrection bool            `json:"pending_correction"`
	PaymentHistory    []PaymentChange `json:"payment_history,omitempty"`
	OccurredAt        time.Time       `json:"occurred_at"`
}

// TransactionPatch is a partial update applied by the approval workflow.
// Nil fields are left unchanged; AppendHistory appends, never replaces.
type TransactionPatch struct {
	Payments          []PaymentLine
	Refund            *bool
	RefundAmountCents *int64
	RefundedBy        *string
	RefundedAt        *time.Time
	PendingCorrection *bool
	AppendHistory     *PaymentChange
}

type TransactionResponse struct {
	Transaction Transaction `json:"transaction"`
}

type CorrectionRequest struct {
	ID                string     `json:"id"`
	TransactionID     string     `json:"transaction_id"`
	Kind              string     `json:"kind"`
	Status            string     `json:"status"`
	Reason            string     `json:"reason,omitempty"`
	OldMethod         string     `json:"old_method,omitempty"`
	NewMethod         string     `json:"new_method,omitempty"`
	RefundAmountCents int64      `json:"refund_amount_cents,omitempty"`
	RequestedBy       string     `json:"requested_by"`
	RequestedAt       time.Time  `json:"requested_at"`
	ResolvedBy        string     `json:"resolved_by,omitempty"`
	ResolvedAt        *time.Time `json:"resolved_at,omitempty"`
}

type CorrectionCreateRequest struct {
	TransactionID     string `json:"transaction_id"`
	Kind              string `json:"kind"`
	Reason            string `json:"reason"`
	NewMethod         string `json:"new_method,omitempty"`
	RefundAmountCents int64  `json:"refund_amount_cents,omitempty"`
}

type CorrectionResolveRequest struct {
	Outcome string `json:"outcome"`
	// FinalMethod lets the approver apply a different method than the one
	// requested. Empty means use the requested method.
	FinalMethod string `json:"final_method,omitempty"`
	ManagerPIN  string `json:"manager_pin"`
}

// CorrectionResolution is the store-level record of a resolution. The
// store applies it only while the request is still pending.
type CorrectionResolution struct {
	Status            string
	ResolvedBy        string
	ResolvedAt        time.Time
	FinalMethod       string
	RefundAmountCents int64
}

type CorrectionResponse struct {
	Correction CorrectionRequest `json:"correction"`
}

type CorrectionListResponse struct {
	Corrections []CorrectionRequest `json:"corrections"`
}

type EmployeeStatistics struct {
	EmployeeID         string `json:"employee_id"`
	ShiftCount         int    `json:"shift_count"`
	ActiveShiftCount   int    `json:"active_shift_count"`
	TotalSalesCents    int64  `json:"total_sales_cents"`
	TotalRefundsCents  int64  `json:"total_refunds_cents"`
	TotalPaidInCents   int64  `json:"total_paid_in_cents"`
	TotalPaidOutCents  int64  `json:"total_paid_out_cents"`
	TransactionCount   int    `json:"transaction_count"`
	TotalVarianceCents int64  `json:"total_variance_cents"`
	ShiftsWithShortage int    `json:"shifts_with_shortage"`
	ShiftsWithSurplus  int    `json:"shifts_with_surplus"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	RoleAdmin   = "admin"
	RoleCashier = "cashier"
)

const (
	ShiftStatusActive = "active"
	ShiftStatusClosed = "closed"
)

const (
	MovementPayIn  = "payin"
	MovementPayOut = "payout"
)

const (
	CorrectionKindPaymentChange = "payment_change"
	CorrectionKindRefund        = "refund"
)

const (
	CorrectionStatusPending  = "pending"
	CorrectionStatusApproved = "approved"
	CorrectionStatusDeclined = "declined"
	CorrectionStatusRefunded = "refunded"
)
