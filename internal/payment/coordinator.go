package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxGatewayAttempts = 3
	retryBaseBackoff   = 200 * time.Millisecond
)

// Coordinator brokers authorization and capture with the external gateway
// and keeps the attempt ledger consistent with what the gateway reported.
type Coordinator struct {
	store    Store
	gw       Gateway
	log      *zap.Logger
	currency string
}

func NewCoordinator(store Store, gw Gateway, log *zap.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		gw:       gw,
		log:      log,
		currency: "usd",
	}
}

// Initiate opens a gateway flow for an appointment and records the attempt.
// Transient gateway errors are retried with backoff; declines are terminal
// and surface immediately.
func (c *Coordinator) Initiate(ctx context.Context, appointmentID uuid.UUID, amountCents int64) (*Attempt, string, error) {
	var (
		ref    string
		secret string
	)

	err := c.withGatewayRetry(ctx, "create_intent", func() error {
		var err error
		ref, secret, err = c.gw.CreateIntent(ctx, amountCents, c.currency, appointmentID)
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("initiate payment: %w", err)
	}

	attempt, err := c.store.CreateAttempt(ctx, Attempt{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		AmountCents:   amountCents,
		Status:        AttemptInitiated,
		GatewayRef:    ref,
	})
	if err != nil {
		return nil, "", fmt.Errorf("record payment attempt: %w", err)
	}

	return attempt, secret, nil
}

// Resolve fetches the final disposition for a gateway ref and transitions the
// attempt exactly once. Duplicate notifications for the same ref return the
// recorded outcome without a second transition.
func (c *Coordinator) Resolve(ctx context.Context, gatewayRef string) (Outcome, *Attempt, error) {
	attempt, err := c.store.AttemptByRef(ctx, gatewayRef)
	if err != nil {
		return OutcomePending, nil, err
	}

	// Already settled: idempotent replay.
	switch attempt.Status {
	case AttemptCaptured:
		return OutcomeCaptured, attempt, nil
	case AttemptFailed:
		return OutcomeFailed, attempt, nil
	}

	var outcome Outcome
	err = c.withGatewayRetry(ctx, "retrieve_outcome", func() error {
		var err error
		outcome, err = c.gw.RetrieveOutcome(ctx, gatewayRef)
		return err
	})
	if err != nil {
		return OutcomePending, attempt, fmt.Errorf("retrieve outcome: %w", err)
	}

	switch outcome {
	case OutcomeCaptured:
		attempt, err = c.settle(ctx, attempt, AttemptCaptured)
	case OutcomeFailed:
		attempt, err = c.settle(ctx, attempt, AttemptFailed)
	default:
		// Still pending at the gateway; leave the attempt untouched.
	}
	if err != nil {
		return OutcomePending, attempt, err
	}

	return outcome, attempt, nil
}

// Refund reverses a captured flow. Best effort from the caller's point of
// view; transient errors are retried here.
func (c *Coordinator) Refund(ctx context.Context, gatewayRef string) error {
	return c.withGatewayRetry(ctx, "refund", func() error {
		return c.gw.Refund(ctx, gatewayRef)
	})
}

func (c *Coordinator) settle(ctx context.Context, attempt *Attempt, to AttemptStatus) (*Attempt, error) {
	updated, err := c.store.SetAttemptStatus(ctx, attempt.ID, AttemptInitiated, to)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			// Lost the settle race to a concurrent resolve; reread.
			return c.store.AttemptByRef(ctx, attempt.GatewayRef)
		}
		return attempt, err
	}
	return updated, nil
}

func (c *Coordinator) withGatewayRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for i := 0; i < maxGatewayAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrGatewayUnavailable) {
			return err
		}

		backoff := retryBaseBackoff * time.Duration(1<<i)
		c.log.Warn("gateway call failed, backing off",
			zap.String("op", op),
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
	return err
}
