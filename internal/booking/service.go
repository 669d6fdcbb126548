package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/config"
	"github.com/docpoint/booking-engine/internal/payment"
	redisclient "github.com/docpoint/booking-engine/internal/redis"
)

const (
	EventHoldCreated      = "HOLD_CREATED"
	EventConfirmed        = "APPOINTMENT_CONFIRMED"
	EventCancelled        = "APPOINTMENT_CANCELLED"
	EventHoldExpired      = "HOLD_EXPIRED"
	EventVisitCompleted   = "VISIT_COMPLETED"
	EventPaymentInitiated = "PAYMENT_INITIATED"
	EventPaymentFailed    = "PAYMENT_FAILED"
	EventRefundRequested  = "REFUND_REQUESTED"
)

var (
	ErrSlotBeingBooked    = errors.New("slot is currently being booked, please retry")
	ErrUnauthorized       = errors.New("principal is not allowed to perform this operation")
	ErrInvalidTransition  = errors.New("appointment is not in an eligible state for this transition")
	ErrHoldExpired        = errors.New("hold expired before payment completed")
	ErrPaymentFailed      = errors.New("payment failed")
	ErrPaymentPending     = errors.New("payment has not completed yet")
	ErrSlotInPast         = errors.New("slot start must be in the future")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

const (
	maxStorageAttempts = 3
	storageBackoffBase = 100 * time.Millisecond
)

// Service is the appointment lifecycle engine. It owns every status
// transition; nothing else writes appointments.
type Service struct {
	repo   Repository
	locker redisclient.Locker
	pay    *payment.Coordinator
	cfg    config.Config
	log    *zap.Logger
}

func NewService(repo Repository, locker redisclient.Locker, pay *payment.Coordinator, cfg config.Config, log *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		pay:    pay,
		cfg:    cfg,
		log:    log,
	}
}

// CreateBookingResult carries the holding appointment plus what the client
// needs to finish paying.
type CreateBookingResult struct {
	Appointment         *Appointment
	PaymentRef          string
	PaymentClientSecret string
}

// CreateBooking is the patient self-service path: hold the slot, then open a
// payment flow. The slot stays reserved through the holding status itself for
// HoldTTL; no lock is held while the patient pays.
func (s *Service) CreateBooking(ctx context.Context, pr auth.Principal, details PatientDetails, slot SlotKey) (*CreateBookingResult, error) {
	if err := validateSlot(slot); err != nil {
		return nil, err
	}

	appt, err := s.holdSlot(ctx, HoldDraft{
		PatientID:     pr.ID,
		CreatedBy:     pr.ID,
		Details:       details,
		Slot:          slot,
		HoldExpiresAt: time.Now().Add(s.cfg.HoldTTL),
	})
	if err != nil {
		return nil, err
	}

	attempt, secret, err := s.pay.Initiate(ctx, appt.ID, s.cfg.BookingFeeCents)
	if err != nil {
		// Without a payment flow the hold can never confirm; release it now
		// instead of waiting for the sweep.
		if _, relErr := s.repo.Finalize(ctx, appt.ID, StatusHolding, StatusCancelled, nil); relErr != nil && !errors.Is(relErr, ErrStaleStatus) {
			s.log.Error("failed to release hold after payment initiation failure",
				zap.String("appointment_id", appt.ID.String()), zap.Error(relErr))
		}
		if errors.Is(err, payment.ErrDeclined) {
			return nil, ErrPaymentFailed
		}
		return nil, fmt.Errorf("initiate payment: %w", err)
	}

	s.logEvent(ctx, appt.ID, EventPaymentInitiated, map[string]any{
		"gateway_ref":  attempt.GatewayRef,
		"amount_cents": attempt.AmountCents,
	})

	return &CreateBookingResult{
		Appointment:         appt,
		PaymentRef:          attempt.GatewayRef,
		PaymentClientSecret: secret,
	}, nil
}

// CreateDirectBooking is the staff path: hold and immediately confirm with no
// payment attempt. Payment for staff bookings is handled at the desk.
func (s *Service) CreateDirectBooking(ctx context.Context, pr auth.Principal, patientID uuid.UUID, details PatientDetails, slot SlotKey) (*Appointment, error) {
	if !pr.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	if patientID == uuid.Nil {
		patientID = pr.ID
	}

	appt, err := s.holdSlot(ctx, HoldDraft{
		PatientID:     patientID,
		CreatedBy:     pr.ID,
		Details:       details,
		Slot:          slot,
		HoldExpiresAt: time.Now().Add(s.cfg.HoldTTL),
	})
	if err != nil {
		return nil, err
	}

	confirmed, err := s.finalize(ctx, appt.ID, StatusHolding, StatusConfirmed, nil)
	if err != nil {
		return nil, fmt.Errorf("confirm direct booking: %w", err)
	}

	s.logEvent(ctx, confirmed.ID, EventConfirmed, map[string]any{
		"path":       "direct",
		"created_by": pr.ID.String(),
	})

	return confirmed, nil
}

// ConfirmPayment moves a holding appointment to confirmed once the gateway
// reports capture for the given ref. Duplicate reports collapse on the
// finalize compare-and-set.
func (s *Service) ConfirmPayment(ctx context.Context, pr auth.Principal, appointmentID uuid.UUID, gatewayRef string) (*Appointment, error) {
	appt, err := s.getByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(pr, appt); err != nil {
		return nil, err
	}

	// Duplicate notification after a successful confirm.
	if appt.Status == StatusConfirmed && appt.PaymentRef != nil && *appt.PaymentRef == gatewayRef {
		return appt, nil
	}

	if appt.HoldExpired(time.Now()) {
		if _, updErr := s.repo.Finalize(ctx, appt.ID, StatusHolding, StatusCancelled, nil); updErr != nil && !errors.Is(updErr, ErrStaleStatus) {
			s.log.Error("failed to cancel expired hold during confirm",
				zap.String("appointment_id", appt.ID.String()), zap.Error(updErr))
		}
		s.logEvent(ctx, appt.ID, EventHoldExpired, map[string]any{"reason": "confirm_after_expiry"})
		return nil, ErrHoldExpired
	}

	if appt.Status != StatusHolding {
		return nil, ErrInvalidTransition
	}

	outcome, attempt, err := s.pay.Resolve(ctx, gatewayRef)
	if err != nil {
		if errors.Is(err, payment.ErrAttemptNotFound) {
			return nil, payment.ErrAttemptNotFound
		}
		return nil, fmt.Errorf("resolve payment: %w", err)
	}
	if attempt.AppointmentID != appt.ID {
		// Ref belongs to some other appointment; treat as unknown.
		return nil, payment.ErrAttemptNotFound
	}

	switch outcome {
	case payment.OutcomeCaptured:
		ref := attempt.GatewayRef
		confirmed, err := s.finalize(ctx, appt.ID, StatusHolding, StatusConfirmed, &ref)
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, confirmed.ID, EventConfirmed, map[string]any{
			"path":        "payment",
			"gateway_ref": ref,
		})
		return confirmed, nil

	case payment.OutcomeFailed:
		if _, err := s.finalize(ctx, appt.ID, StatusHolding, StatusCancelled, nil); err != nil {
			s.log.Error("failed to cancel after payment failure",
				zap.String("appointment_id", appt.ID.String()), zap.Error(err))
		}
		s.logEvent(ctx, appt.ID, EventPaymentFailed, map[string]any{"gateway_ref": gatewayRef})
		return nil, ErrPaymentFailed

	default:
		return nil, ErrPaymentPending
	}
}

// Cancel transitions holding or confirmed to cancelled and frees the slot.
// Paid appointments get a best-effort refund.
func (s *Service) Cancel(ctx context.Context, pr auth.Principal, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.getByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(pr, appt); err != nil {
		return nil, err
	}

	if appt.Status != StatusHolding && appt.Status != StatusConfirmed {
		return nil, ErrInvalidTransition
	}

	cancelled, err := s.finalize(ctx, appt.ID, appt.Status, StatusCancelled, nil)
	if err != nil {
		return nil, err
	}

	if cancelled.PaymentRef != nil {
		if refundErr := s.pay.Refund(ctx, *cancelled.PaymentRef); refundErr != nil {
			s.log.Error("refund failed, needs manual follow-up",
				zap.String("appointment_id", cancelled.ID.String()),
				zap.String("gateway_ref", *cancelled.PaymentRef),
				zap.Error(refundErr))
		} else {
			s.logEvent(ctx, cancelled.ID, EventRefundRequested, map[string]any{
				"gateway_ref": *cancelled.PaymentRef,
			})
		}
	}

	s.logEvent(ctx, cancelled.ID, EventCancelled, map[string]any{
		"cancelled_by": pr.ID.String(),
		"role":         string(pr.Role),
	})

	return cancelled, nil
}

// Get returns a single appointment, owner or admin only.
func (s *Service) Get(ctx context.Context, pr auth.Principal, appointmentID uuid.UUID) (*Appointment, error) {
	appt, err := s.getByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwnerOrAdmin(pr, appt); err != nil {
		return nil, err
	}
	return appt, nil
}

// ListMine returns the principal's own appointments, date ascending.
func (s *Service) ListMine(ctx context.Context, pr auth.Principal) ([]Appointment, error) {
	var result []Appointment
	err := s.withStorageRetry(ctx, func() error {
		var err error
		result, err = s.repo.ListByPatient(ctx, pr.ID)
		return err
	})
	return result, err
}

// ListAll is the admin roster view with optional patient filtering.
func (s *Service) ListAll(ctx context.Context, pr auth.Principal, filter ListFilter) ([]Appointment, error) {
	if !pr.IsAdmin() {
		return nil, ErrUnauthorized
	}
	var result []Appointment
	err := s.withStorageRetry(ctx, func() error {
		var err error
		result, err = s.repo.ListAll(ctx, filter)
		return err
	})
	return result, err
}

// ExpireStaleHolds is called by the sweep worker. Each candidate is
// transitioned with a compare-and-set so a concurrent confirm wins cleanly.
func (s *Service) ExpireStaleHolds(ctx context.Context) (int, error) {
	now := time.Now()
	stale, err := s.repo.FindStaleHolds(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find stale holds: %w", err)
	}

	expired := 0
	for _, appt := range stale {
		_, err := s.repo.Finalize(ctx, appt.ID, StatusHolding, StatusCancelled, nil)
		if err != nil {
			if !errors.Is(err, ErrStaleStatus) && !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error("failed to expire hold",
					zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			}
			continue
		}
		expired++
		s.logEvent(ctx, appt.ID, EventHoldExpired, map[string]any{"reason": "sweep"})
	}

	return expired, nil
}

// CompleteElapsed marks confirmed appointments whose slot has fully passed as
// completed. Informational; the slot stays historically consumed.
func (s *Service) CompleteElapsed(ctx context.Context) (int, error) {
	now := time.Now()
	elapsed, err := s.repo.FindElapsedConfirmed(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("find elapsed confirmed: %w", err)
	}

	completed := 0
	for _, appt := range elapsed {
		_, err := s.repo.Finalize(ctx, appt.ID, StatusConfirmed, StatusCompleted, nil)
		if err != nil {
			if !errors.Is(err, ErrStaleStatus) && !errors.Is(err, ErrAppointmentNotFound) {
				s.log.Error("failed to complete appointment",
					zap.String("appointment_id", appt.ID.String()), zap.Error(err))
			}
			continue
		}
		completed++
		s.logEvent(ctx, appt.ID, EventVisitCompleted, map[string]any{})
	}

	return completed, nil
}

// internals

func (s *Service) holdSlot(ctx context.Context, draft HoldDraft) (*Appointment, error) {
	var created *Appointment

	err := s.locker.WithSlotLock(ctx, draft.Slot.String(), func(lockCtx context.Context) error {
		return s.withStorageRetry(lockCtx, func() error {
			appt, err := s.repo.TryHold(lockCtx, draft)
			if err != nil {
				return err
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventHoldCreated, map[string]any{
		"slot":            created.Slot.String(),
		"patient_id":      created.PatientID.String(),
		"hold_expires_at": created.HoldExpiresAt,
	})

	return created, nil
}

// finalize wraps the repository CAS and treats a replay of an already-applied
// transition as success, so duplicate finalize calls converge on one state.
func (s *Service) finalize(ctx context.Context, id uuid.UUID, from, to Status, paymentRef *string) (*Appointment, error) {
	var result *Appointment
	err := s.withStorageRetry(ctx, func() error {
		appt, err := s.repo.Finalize(ctx, id, from, to, paymentRef)
		if err != nil {
			if errors.Is(err, ErrStaleStatus) && appt != nil && appt.Status == to {
				result = appt
				return nil
			}
			return err
		}
		result = appt
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return nil, ErrInvalidTransition
		}
		return nil, err
	}
	return result, nil
}

func (s *Service) getByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var appt *Appointment
	err := s.withStorageRetry(ctx, func() error {
		var err error
		appt, err = s.repo.GetByID(ctx, id)
		return err
	})
	return appt, err
}

// withStorageRetry retries transient storage failures with bounded backoff.
// Domain outcomes (conflicts, not-found, stale CAS) are never retried.
func (s *Service) withStorageRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxStorageAttempts; i++ {
		err = fn()
		if err == nil || !isRetryable(err) {
			return err
		}

		backoff := storageBackoffBase * time.Duration(1<<i)
		s.log.Warn("storage call failed, backing off",
			zap.Int("attempt", i+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func isRetryable(err error) bool {
	switch {
	case errors.Is(err, ErrSlotTaken),
		errors.Is(err, ErrStaleStatus),
		errors.Is(err, ErrAppointmentNotFound),
		errors.Is(err, payment.ErrAttemptNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func requireOwnerOrAdmin(pr auth.Principal, appt *Appointment) error {
	if pr.IsAdmin() || appt.PatientID == pr.ID {
		return nil
	}
	return ErrUnauthorized
}

func validateSlot(slot SlotKey) error {
	if !slot.Start.After(time.Now()) {
		return ErrSlotInPast
	}
	return nil
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event payload",
			zap.String("event_type", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     time.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Warn("failed to insert event log",
			zap.String("event_type", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err))
	}
}
