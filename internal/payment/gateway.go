package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomePending  Outcome = "pending"
	OutcomeCaptured Outcome = "captured"
	OutcomeFailed   Outcome = "failed"
)

type AttemptStatus string

const (
	AttemptInitiated AttemptStatus = "initiated"
	AttemptCaptured  AttemptStatus = "captured"
	AttemptFailed    AttemptStatus = "failed"
)

// Attempt records one payment authorization flow against the gateway.
// Owned by the coordinator; the lifecycle engine only reads it.
type Attempt struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	AmountCents   int64
	Status        AttemptStatus
	GatewayRef    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrAttemptNotFound = errors.New("payment attempt not found")

	// ErrDeclined is a gateway-declared terminal failure (card declined and
	// the like). Never retried.
	ErrDeclined = errors.New("payment declined by gateway")

	// ErrGatewayUnavailable marks transient gateway trouble worth a bounded
	// retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Gateway abstracts the external payment authority.
type Gateway interface {
	// CreateIntent opens a payment flow for the given amount and returns the
	// gateway reference plus the client secret the UI needs to collect the
	// payment.
	CreateIntent(ctx context.Context, amountCents int64, currency string, appointmentID uuid.UUID) (ref, clientSecret string, err error)

	// RetrieveOutcome polls the gateway for the final disposition of a flow.
	RetrieveOutcome(ctx context.Context, ref string) (Outcome, error)

	// Refund reverses a captured flow.
	Refund(ctx context.Context, ref string) error
}

// Store persists payment attempts. Implemented by the booking repository so
// attempts commit against the same database as appointments.
type Store interface {
	CreateAttempt(ctx context.Context, a Attempt) (*Attempt, error)

	// SetAttemptStatus is a compare-and-set; zero rows matched returns
	// ErrAttemptNotFound wrapped with the current state unavailable.
	SetAttemptStatus(ctx context.Context, id uuid.UUID, from, to AttemptStatus) (*Attempt, error)

	AttemptByRef(ctx context.Context, gatewayRef string) (*Attempt, error)
}
