package domain

import (
	"math"
	"strings"
	"time"
)

const (
	BucketCash         = "cash"
	BucketCard         = "card"
	BucketBankTransfer = "bank_transfer"
	BucketCrypto       = "crypto"
	BucketOther        = "other"
)

// NormalizePaymentMethod maps a free-form payment method string from an
// upstream register onto one of the canonical buckets. Unknown and empty
// methods fall back to cash, the drawer default.
func NormalizePaymentMethod(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	switch {
	case m == "" || m == "cash" || m == "tunai":
		return BucketCash
	case strings.Contains(m, "transfer") || m == "bank" || m == "wire" || m == "sepa":
		return BucketBankTransfer
	case strings.Contains(m, "card") || strings.Contains(m, "credit") || strings.Contains(m, "debit") || m == "visa" || m == "mastercard" || m == "amex":
		return BucketCard
	case strings.Contains(m, "crypto") || strings.Contains(m, "coin") || m == "btc" || m == "eth" || m == "usdt":
		return BucketCrypto
	case strings.Contains(m, "wallet") || strings.Contains(m, "voucher") || strings.Contains(m, "gift") || m == "qris" || m == "cheque" || m == "check" || m == "other":
		return BucketOther
	default:
		return BucketCash
	}
}

// RawTransaction is the duck-typed payload accepted from upstream POS
// systems. Registers disagree on which field carries the money value, so
// every known variant is optional here and resolved exactly once at
// ingestion.
type RawTransaction struct {
	ID            string           `json:"id"`
	EmployeeID    string           `json:"employee_id"`
	TotalCents    *int64           `json:"total_cents,omitempty"`
	AmountCents   *int64           `json:"amount_cents,omitempty"`
	GrandCents    *int64           `json:"grand_total_cents,omitempty"`
	Total         *float64         `json:"total,omitempty"`
	Amount        *float64         `json:"amount,omitempty"`
	GrandTotal    *float64         `json:"grand_total,omitempty"`
	Value         *float64         `json:"value,omitempty"`
	DiscountCents *int64           `json:"discount_cents,omitempty"`
	Discount      *float64         `json:"discount,omitempty"`
	Payments      []RawPaymentLine `json:"payments,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Refund        bool             `json:"refund"`
	RefundAmount  *float64         `json:"refund_amount,omitempty"`
	RefundCents   *int64           `json:"refund_amount_cents,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

type RawPaymentLine struct {
	Method      string   `json:"method"`
	AmountCents *int64   `json:"amount_cents,omitempty"`
	Amount      *float64 `json:"amount,omitempty"`
}

func toCents(major float64) int64 {
	return int64(math.Round(major * 100))
}

// MoneyCents resolves the transaction total by fixed precedence:
// cent-denominated fields first, then major-unit fields. The first
// populated field wins; ok is false when none is set.
func (r RawTransaction) MoneyCents() (int64, bool) {
	for _, v := range []*int64{r.TotalCents, r.AmountCents, r.GrandCents} {
		if v != nil {
			return *v, true
		}
	}
	for _, v := range []*float64{r.Total, r.Amount, r.GrandTotal, r.Value} {
		if v != nil {
			return toCents(*v), true
		}
	}
	return 0, false
}

// Canonical converts a raw payload into the canonical Transaction shape.
// All money-field ambiguity is settled here; nothing downstream looks at
// raw fields again.
func (r RawTransaction) Canonical() (Transaction, bool) {
	total, ok := r.MoneyCents()
	if !ok {
		return Transaction{}, false
	}
	tx := Transaction{
		ID:         r.ID,
		EmployeeID: r.EmployeeID,
		TotalCents: total,
		Refund:     r.Refund,
		OccurredAt: r.OccurredAt,
	}
	if r.DiscountCents != nil {
		tx.DiscountCents = *r.DiscountCents
	} else if r.Discount != nil {
		tx.DiscountCents = toCents(*r.Discount)
	}
	if r.RefundCents != nil {
		tx.RefundAmountCents = *r.RefundCents
	} else if r.RefundAmount != nil {
		tx.RefundAmountCents = toCents(*r.RefundAmount)
	}
	for _, line := range r.Payments {
		amt := int64(0)
		switch {
		case line.AmountCents != nil:
			amt = *line.AmountCents
		case line.Amount != nil:
			amt = toCents(*line.Amount)
		}
		tx.Payments = append(tx.Payments, PaymentLine{Method: line.Method, AmountCents: amt})
	}
	if len(tx.Payments) == 0 && r.PaymentMethod != "" {
		tx.Payments = []PaymentLine{{Method: r.PaymentMethod, AmountCents: total}}
	}
	return tx, true
}
