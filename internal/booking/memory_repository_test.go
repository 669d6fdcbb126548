package booking_test

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpoint/booking-engine/internal/booking"
	"github.com/docpoint/booking-engine/internal/payment"
)

// memRepo is an in-memory booking.Repository with the same conflict and
// compare-and-set semantics as the Postgres implementation.
type memRepo struct {
	mu       sync.Mutex
	appts    map[uuid.UUID]*booking.Appointment
	attempts map[uuid.UUID]*payment.Attempt
	events   []booking.EventLog
}

func newMemRepo() *memRepo {
	return &memRepo{
		appts:    make(map[uuid.UUID]*booking.Appointment),
		attempts: make(map[uuid.UUID]*payment.Attempt),
	}
}

func (r *memRepo) TryHold(_ context.Context, draft booking.HoldDraft) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.appts {
		if a.Status.Occupies() && a.Slot == draft.Slot {
			return nil, booking.ErrSlotTaken
		}
	}

	now := time.Now()
	exp := draft.HoldExpiresAt
	appt := &booking.Appointment{
		ID:            uuid.New(),
		PatientID:     draft.PatientID,
		CreatedBy:     draft.CreatedBy,
		Details:       draft.Details,
		Slot:          draft.Slot,
		Status:        booking.StatusHolding,
		HoldExpiresAt: &exp,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.appts[appt.ID] = appt
	return copyAppt(appt), nil
}

func (r *memRepo) Finalize(_ context.Context, id uuid.UUID, from, to booking.Status, paymentRef *string) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if appt.Status != from {
		return copyAppt(appt), booking.ErrStaleStatus
	}

	now := time.Now()
	appt.Status = to
	appt.UpdatedAt = now
	if paymentRef != nil {
		ref := *paymentRef
		appt.PaymentRef = &ref
	}
	switch to {
	case booking.StatusConfirmed:
		appt.ConfirmedAt = &now
	case booking.StatusCancelled:
		appt.CancelledAt = &now
	}
	return copyAppt(appt), nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	appt, ok := r.appts[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return copyAppt(appt), nil
}

func (r *memRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Appointment
	for _, a := range r.appts {
		if a.PatientID == patientID {
			out = append(out, *copyAppt(a))
		}
	}
	return out, nil
}

func (r *memRepo) ListAll(_ context.Context, filter booking.ListFilter) ([]booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Appointment
	for _, a := range r.appts {
		if filter.PatientID != nil && a.PatientID != *filter.PatientID {
			continue
		}
		if filter.PatientName != "" &&
			!strings.Contains(strings.ToLower(a.Details.Name), strings.ToLower(filter.PatientName)) {
			continue
		}
		out = append(out, *copyAppt(a))
	}
	return out, nil
}

func (r *memRepo) FindStaleHolds(_ context.Context, now time.Time) ([]booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Appointment
	for _, a := range r.appts {
		if a.Status == booking.StatusHolding && a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now) {
			out = append(out, *copyAppt(a))
		}
	}
	return out, nil
}

func (r *memRepo) FindElapsedConfirmed(_ context.Context, now time.Time) ([]booking.Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []booking.Appointment
	for _, a := range r.appts {
		if a.Status == booking.StatusConfirmed && a.Slot.End().Before(now) {
			out = append(out, *copyAppt(a))
		}
	}
	return out, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev booking.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) CreateAttempt(_ context.Context, a payment.Attempt) (*payment.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := a
	r.attempts[a.ID] = &stored
	return copyAttempt(&stored), nil
}

func (r *memRepo) SetAttemptStatus(_ context.Context, id uuid.UUID, from, to payment.AttemptStatus) (*payment.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.attempts[id]
	if !ok || a.Status != from {
		return nil, payment.ErrAttemptNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return copyAttempt(a), nil
}

func (r *memRepo) AttemptByRef(_ context.Context, gatewayRef string) (*payment.Attempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.attempts {
		if a.GatewayRef == gatewayRef {
			return copyAttempt(a), nil
		}
	}
	return nil, payment.ErrAttemptNotFound
}

func (r *memRepo) eventTypes(appointmentID uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for _, ev := range r.events {
		if ev.AppointmentID != nil && *ev.AppointmentID == appointmentID {
			out = append(out, ev.EventType)
		}
	}
	return out
}

func copyAppt(a *booking.Appointment) *booking.Appointment {
	c := *a
	if a.PaymentRef != nil {
		v := *a.PaymentRef
		c.PaymentRef = &v
	}
	if a.HoldExpiresAt != nil {
		v := *a.HoldExpiresAt
		c.HoldExpiresAt = &v
	}
	if a.ConfirmedAt != nil {
		v := *a.ConfirmedAt
		c.ConfirmedAt = &v
	}
	if a.CancelledAt != nil {
		v := *a.CancelledAt
		c.CancelledAt = &v
	}
	return &c
}

func copyAttempt(a *payment.Attempt) *payment.Attempt {
	c := *a
	return &c
}
