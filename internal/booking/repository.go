package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/docpoint/booking-engine/internal/payment"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrSlotTaken is the normal outcome of losing a TryHold race; it is not
	// a fault.
	ErrSlotTaken = errors.New("slot already held or confirmed")

	// ErrStaleStatus is returned by Finalize when the row is no longer in the
	// expected source state. The caller decides whether that is an idempotent
	// replay or a real invalid transition.
	ErrStaleStatus = errors.New("appointment not in expected status")
)

// Repository contains all DB interactions needed by the lifecycle engine.
// It also embeds the payment attempt store consumed by the coordinator.
type Repository interface {
	payment.Store

	// TryHold atomically inserts a holding appointment for the draft's slot
	// key. The partial unique index on the occupying set makes concurrent
	// calls on the same key yield exactly one success; losers get
	// ErrSlotTaken.
	TryHold(ctx context.Context, draft HoldDraft) (*Appointment, error)

	// Finalize is a compare-and-set status transition. When the row exists
	// but is not in `from` anymore it returns the current row together with
	// ErrStaleStatus.
	Finalize(ctx context.Context, id uuid.UUID, from, to Status, paymentRef *string) (*Appointment, error)

	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	ListAll(ctx context.Context, filter ListFilter) ([]Appointment, error)

	// Sweep candidates for the background worker.
	FindStaleHolds(ctx context.Context, now time.Time) ([]Appointment, error)
	FindElapsedConfirmed(ctx context.Context, now time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
