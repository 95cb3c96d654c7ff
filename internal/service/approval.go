package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tillbook/backend/internal/domain"
	"tillbook/backend/internal/store"
	"tillbook/backend/internal/xid"
)

// CreateCorrection files a pending correction request against a stored
// transaction and flags the transaction so the register UI can show the
// pending state.
func (s *Service) CreateCorrection(ctx context.Context, req domain.CorrectionCreateRequest) (domain.CorrectionResponse, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	req.Kind = strings.ToLower(strings.TrimSpace(req.Kind))
	req.NewMethod = strings.TrimSpace(req.NewMethod)

	if req.TransactionID == "" {
		return domain.CorrectionResponse{}, fmt.Errorf("%w: transaction id required", store.ErrInvalidInput)
	}
	if req.Kind != domain.CorrectionKindPaymentChange && req.Kind != domain.CorrectionKindRefund {
		return domain.CorrectionResponse{}, fmt.Errorf("%w: kind must be payment_change or refund", store.ErrInvalidInput)
	}

	tx, err := s.repo.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return domain.CorrectionResponse{}, err
	}

	correction := domain.CorrectionRequest{
		ID:            xid.New("corr"),
		TransactionID: tx.ID,
		Kind:          req.Kind,
		Status:        domain.CorrectionStatusPending,
		Reason:        strings.TrimSpace(req.Reason),
		RequestedAt:   time.Now().UTC(),
	}
	if actor, ok := ActorFromContext(ctx); ok {
		correction.RequestedBy = actor.Username
	}

	switch req.Kind {
	case domain.CorrectionKindPaymentChange:
		if req.NewMethod == "" {
			return domain.CorrectionResponse{}, fmt.Errorf("%w: new payment method required", store.ErrInvalidInput)
		}
		correction.OldMethod = primaryMethod(*tx)
		correction.NewMethod = req.NewMethod
	case domain.CorrectionKindRefund:
		if tx.Refund {
			return domain.CorrectionResponse{}, fmt.Errorf("%w: transaction already refunded", store.ErrConflict)
		}
		if req.RefundAmountCents <= 0 {
			return domain.CorrectionResponse{}, fmt.Errorf("%w: refund amount must be positive", store.ErrInvalidAmount)
		}
		if req.RefundAmountCents > tx.TotalCents {
			return domain.CorrectionResponse{}, fmt.Errorf("%w: refund amount exceeds transaction total", store.ErrInvalidAmount)
		}
		correction.RefundAmountCents = req.RefundAmountCents
	}

	created, err := s.repo.CreateCorrectionRequest(ctx, correction)
	if err != nil {
		return domain.CorrectionResponse{}, err
	}

	pending := true
	if _, err := s.repo.UpdateTransaction(ctx, tx.ID, domain.TransactionPatch{PendingCorrection: &pending}); err != nil {
		log.Printf("[service] WARN: failed to flag pending correction tx=%s: %v", tx.ID, err)
	}

	s.logAudit(ctx, "correction_create", "correction", created.ID, fmt.Sprintf("kind=%s,tx=%s", created.Kind, created.TransactionID))
	return domain.CorrectionResponse{Correction: *created}, nil
}

// ListCorrectionsForTransaction returns the full correction history of one
// transaction, pending and resolved alike.
func (s *Service) ListCorrectionsForTransaction(ctx context.Context, transactionID string) (domain.CorrectionListResponse, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return domain.CorrectionListResponse{}, fmt.Errorf("%w: transaction id required", store.ErrInvalidInput)
	}
	corrections, err := s.repo.ListCorrectionRequestsByTransaction(ctx, transactionID)
	if err != nil {
		return domain.CorrectionListResponse{}, err
	}
	return domain.CorrectionListResponse{Corrections: corrections}, nil
}

func (s *Service) ListPendingCorrections(ctx context.Context, limit int) (domain.CorrectionListResponse, error) {
	if limit < 1 {
		limit = 100
	}
	corrections, err := s.repo.ListPendingCorrectionRequests(ctx, limit)
	if err != nil {
		return domain.CorrectionListResponse{}, err
	}
	return domain.CorrectionListResponse{Corrections: corrections}, nil
}

// ResolveCorrection settles a pending request exactly once. The store-side
// transition out of pending is conditional, so a second resolver observes
// an invalid state instead of a double apply. Approvals mutate the
// transaction and then trigger reconciliation of every shift that counts
// it.
func (s *Service) ResolveCorrection(ctx context.Context, requestID string, req domain.CorrectionResolveRequest) (domain.CorrectionResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CorrectionResponse{}, fmt.Errorf("admin role required")
	}

	requestID = strings.TrimSpace(requestID)
	outcome := strings.ToLower(strings.TrimSpace(req.Outcome))
	if requestID == "" {
		return domain.CorrectionResponse{}, fmt.Errorf("%w: request id required", store.ErrInvalidInput)
	}
	if outcome != "approve" && outcome != "decline" {
		return domain.CorrectionResponse{}, fmt.Errorf("%w: outcome must be approve or decline", store.ErrInvalidInput)
	}

	correction, err := s.repo.GetCorrectionRequest(ctx, requestID)
	if err != nil {
		return domain.CorrectionResponse{}, err
	}
	if correction.Status != domain.CorrectionStatusPending {
		return domain.CorrectionResponse{}, fmt.Errorf("%w: request already resolved", store.ErrInvalidState)
	}

	tx, err := s.repo.GetTransaction(ctx, correction.TransactionID)
	if err != nil {
		return domain.CorrectionResponse{}, err
	}

	now := time.Now().UTC()

	if outcome == "decline" {
		resolved, err := s.repo.ResolveCorrectionRequest(ctx, requestID, domain.CorrectionResolution{
			Status:     domain.CorrectionStatusDeclined,
			ResolvedBy: actor.Username,
			ResolvedAt: now,
		})
		if err != nil {
			return domain.CorrectionResponse{}, err
		}
		s.clearPendingFlag(ctx, tx.ID)
		s.logAudit(ctx, "correction_decline", "correction", resolved.ID, fmt.Sprintf("tx=%s", resolved.TransactionID))
		return domain.CorrectionResponse{Correction: *resolved}, nil
	}

	switch correction.Kind {
	case domain.CorrectionKindPaymentChange:
		finalMethod := strings.TrimSpace(req.FinalMethod)
		if finalMethod == "" {
			finalMethod = correction.NewMethod
		}

		resolved, err := s.repo.ResolveCorrectionRequest(ctx, requestID, domain.CorrectionResolution{
			Status:      domain.CorrectionStatusApproved,
			ResolvedBy:  actor.Username,
			ResolvedAt:  now,
			FinalMethod: finalMethod,
		})
		if err != nil {
			return domain.CorrectionResponse{}, err
		}

		pending := false
		if err := s.patchResolvedTransaction(ctx, resolved.ID, tx.ID, domain.TransactionPatch{
			Payments:          []domain.PaymentLine{{Method: finalMethod, AmountCents: tx.TotalCents}},
			PendingCorrection: &pending,
			AppendHistory: &domain.PaymentChange{
				OldMethod:   correction.OldMethod,
				NewMethod:   finalMethod,
				RequestedBy: correction.RequestedBy,
				ApprovedBy:  actor.Username,
				ChangedAt:   now,
			},
		}); err != nil {
			return domain.CorrectionResponse{}, err
		}

		s.recalculateShiftsForTransaction(ctx, *tx)
		s.logAudit(ctx, "correction_approve", "correction", resolved.ID, fmt.Sprintf("tx=%s,method=%s", resolved.TransactionID, finalMethod))
		return domain.CorrectionResponse{Correction: *resolved}, nil

	case domain.CorrectionKindRefund:
		if tx.Refund {
			return domain.CorrectionResponse{}, fmt.Errorf("%w: transaction already refunded", store.ErrConflict)
		}

		resolved, err := s.repo.ResolveCorrectionRequest(ctx, requestID, domain.CorrectionResolution{
			Status:            domain.CorrectionStatusRefunded,
			ResolvedBy:        actor.Username,
			ResolvedAt:        now,
			RefundAmountCents: correction.RefundAmountCents,
		})
		if err != nil {
			return domain.CorrectionResponse{}, err
		}

		refund := true
		pending := false
		refundedBy := actor.Username
		amount := correction.RefundAmountCents
		if err := s.patchResolvedTransaction(ctx, resolved.ID, tx.ID, domain.TransactionPatch{
			Refund:            &refund,
			RefundAmountCents: &amount,
			RefundedBy:        &refundedBy,
			RefundedAt:        &now,
			PendingCorrection: &pending,
		}); err != nil {
			return domain.CorrectionResponse{}, err
		}

		s.recalculateShiftsForTransaction(ctx, *tx)
		s.logAudit(ctx, "correction_refund", "correction", resolved.ID, fmt.Sprintf("tx=%s,amount=%d", resolved.TransactionID, amount))
		return domain.CorrectionResponse{Correction: *resolved}, nil
	}

	return domain.CorrectionResponse{}, fmt.Errorf("%w: unknown correction kind %s", store.ErrInvalidInput, correction.Kind)
}

// A resolution claims the request before it patches the transaction, so a
// patch that keeps failing strands an approved request with an unpatched
// transaction. Retry a few times before giving up.
const patchRetryAttempts = 3

// patchResolvedTransaction applies an approval's transaction patch,
// retrying transient store failures. On final failure it logs the stranded
// pair so an operator can reconcile the transaction by hand.
func (s *Service) patchResolvedTransaction(ctx context.Context, correctionID, transactionID string, patch domain.TransactionPatch) error {
	var lastErr error
	for attempt := 0; attempt < patchRetryAttempts; attempt++ {
		if _, err := s.repo.UpdateTransaction(ctx, transactionID, patch); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	log.Printf("[service] WARN: correction %s approved but transaction %s could not be patched after %d attempts, manual reconciliation required: %v",
		correctionID, transactionID, patchRetryAttempts, lastErr)
	return lastErr
}

// recalculateShiftsForTransaction finds every shift that counts the
// transaction and rebuilds its aggregates. Attribution prefers the stored
// ref list; when no shift carries the ref, a bounded date-window search
// around the transaction's own time finds the owning shift.
func (s *Service) recalculateShiftsForTransaction(ctx context.Context, tx domain.Transaction) {
	shifts, err := s.repo.FindShiftsByTransactionRef(ctx, tx.ID)
	if err != nil {
		log.Printf("[service] WARN: failed to find shifts for tx=%s: %v", tx.ID, err)
		return
	}

	if len(shifts) == 0 {
		window := time.Duration(s.windowDays) * 24 * time.Hour
		candidates, err := s.repo.ListShiftsByDateRange(ctx, tx.OccurredAt.Add(-window), tx.OccurredAt.Add(window))
		if err != nil {
			log.Printf("[service] WARN: window search failed for tx=%s: %v", tx.ID, err)
			return
		}
		for _, candidate := range candidates {
			if candidate.EmployeeID != tx.EmployeeID {
				continue
			}
			end := time.Now().UTC()
			if candidate.EndTime != nil {
				end = *candidate.EndTime
			}
			if tx.OccurredAt.Before(candidate.StartTime) || tx.OccurredAt.After(end) {
				continue
			}
			shifts = append(shifts, candidate)
		}
	}

	for _, shift := range shifts {
		if _, err := s.engine.Recalculate(ctx, shift.ID); err != nil {
			if errors.Is(err, store.ErrDependency) {
				log.Printf("[service] WARN: reconciliation skipped for shift %s: %v", shift.ID, err)
				continue
			}
			log.Printf("[service] WARN: failed to recalculate shift %s: %v", shift.ID, err)
			continue
		}
		s.invalidateShiftCache(ctx, shift.EmployeeID)
	}
}

func (s *Service) clearPendingFlag(ctx context.Context, transactionID string) {
	pending := false
	if _, err := s.repo.UpdateTransaction(ctx, transactionID, domain.TransactionPatch{PendingCorrection: &pending}); err != nil {
		log.Printf("[service] WARN: failed to clear pending correction tx=%s: %v", transactionID, err)
	}
}

func primaryMethod(tx domain.Transaction) string {
	best := ""
	bestAmount := int64(-1)
	for _, line := range tx.Payments {
		if line.AmountCents > bestAmount {
			best = line.Method
			bestAmount = line.AmountCents
		}
	}
	if best == "" {
		return domain.BucketCash
	}
	return best
}
