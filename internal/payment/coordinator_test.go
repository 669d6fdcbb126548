package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/docpoint/booking-engine/internal/payment"
)

type memStore struct {
	mu       sync.Mutex
	attempts map[uuid.UUID]*payment.Attempt
}

func newMemStore() *memStore {
	return &memStore{attempts: make(map[uuid.UUID]*payment.Attempt)}
}

func (s *memStore) CreateAttempt(_ context.Context, a payment.Attempt) (*payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	stored := a
	s.attempts[a.ID] = &stored
	out := stored
	return &out, nil
}

func (s *memStore) SetAttemptStatus(_ context.Context, id uuid.UUID, from, to payment.AttemptStatus) (*payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok || a.Status != from {
		return nil, payment.ErrAttemptNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	out := *a
	return &out, nil
}

func (s *memStore) AttemptByRef(_ context.Context, gatewayRef string) (*payment.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.attempts {
		if a.GatewayRef == gatewayRef {
			out := *a
			return &out, nil
		}
	}
	return nil, payment.ErrAttemptNotFound
}

// scriptedGateway fails each operation a configured number of times before
// answering, so retry behavior can be observed.
type scriptedGateway struct {
	mu sync.Mutex

	createErrs   []error
	createCalls  int
	outcome      payment.Outcome
	outcomeErrs  []error
	outcomeCalls int
	refundErrs   []error
	refundCalls  int
}

func (g *scriptedGateway) CreateIntent(_ context.Context, _ int64, _ string, appointmentID uuid.UUID) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.createCalls++
	if len(g.createErrs) > 0 {
		err := g.createErrs[0]
		g.createErrs = g.createErrs[1:]
		return "", "", err
	}
	ref := "pi_test_" + appointmentID.String()[:8]
	return ref, ref + "_secret", nil
}

func (g *scriptedGateway) RetrieveOutcome(_ context.Context, _ string) (payment.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.outcomeCalls++
	if len(g.outcomeErrs) > 0 {
		err := g.outcomeErrs[0]
		g.outcomeErrs = g.outcomeErrs[1:]
		return payment.OutcomePending, err
	}
	return g.outcome, nil
}

func (g *scriptedGateway) Refund(_ context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.refundCalls++
	if len(g.refundErrs) > 0 {
		err := g.refundErrs[0]
		g.refundErrs = g.refundErrs[1:]
		return err
	}
	return nil
}

func TestCoordinatorInitiate(t *testing.T) {
	ctx := context.Background()

	t.Run("records the attempt", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{outcome: payment.OutcomeCaptured}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		apptID := uuid.New()

		attempt, secret, err := c.Initiate(ctx, apptID, 5000)
		require.NoError(t, err)

		assert.Equal(t, apptID, attempt.AppointmentID)
		assert.Equal(t, int64(5000), attempt.AmountCents)
		assert.Equal(t, payment.AttemptInitiated, attempt.Status)
		assert.NotEmpty(t, attempt.GatewayRef)
		assert.NotEmpty(t, secret)

		stored, err := store.AttemptByRef(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, attempt.ID, stored.ID)
	})

	t.Run("retries transient gateway failures", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{
			createErrs: []error{payment.ErrGatewayUnavailable, payment.ErrGatewayUnavailable},
			outcome:    payment.OutcomeCaptured,
		}
		c := payment.NewCoordinator(store, gw, zap.NewNop())

		_, _, err := c.Initiate(ctx, uuid.New(), 5000)
		require.NoError(t, err)
		assert.Equal(t, 3, gw.createCalls)
	})

	t.Run("gives up after bounded retries", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{
			createErrs: []error{
				payment.ErrGatewayUnavailable,
				payment.ErrGatewayUnavailable,
				payment.ErrGatewayUnavailable,
			},
		}
		c := payment.NewCoordinator(store, gw, zap.NewNop())

		_, _, err := c.Initiate(ctx, uuid.New(), 5000)
		assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
		assert.Equal(t, 3, gw.createCalls)
		assert.Empty(t, store.attempts)
	})

	t.Run("declines are terminal, never retried", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{
			createErrs: []error{payment.ErrDeclined, payment.ErrDeclined},
		}
		c := payment.NewCoordinator(store, gw, zap.NewNop())

		_, _, err := c.Initiate(ctx, uuid.New(), 5000)
		assert.ErrorIs(t, err, payment.ErrDeclined)
		assert.Equal(t, 1, gw.createCalls)
	})
}

func TestCoordinatorResolve(t *testing.T) {
	ctx := context.Background()

	initiate := func(t *testing.T, c *payment.Coordinator) *payment.Attempt {
		t.Helper()
		attempt, _, err := c.Initiate(ctx, uuid.New(), 5000)
		require.NoError(t, err)
		return attempt
	}

	t.Run("captured outcome settles the attempt", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{outcome: payment.OutcomeCaptured}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		attempt := initiate(t, c)

		outcome, settled, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomeCaptured, outcome)
		assert.Equal(t, payment.AttemptCaptured, settled.Status)
	})

	t.Run("settled attempt replays without asking the gateway again", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{outcome: payment.OutcomeCaptured}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		attempt := initiate(t, c)

		_, _, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		callsAfterFirst := gw.outcomeCalls

		outcome, settled, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomeCaptured, outcome)
		assert.Equal(t, payment.AttemptCaptured, settled.Status)
		assert.Equal(t, callsAfterFirst, gw.outcomeCalls)
	})

	t.Run("failed outcome settles as failed", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{outcome: payment.OutcomeFailed}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		attempt := initiate(t, c)

		outcome, settled, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomeFailed, outcome)
		assert.Equal(t, payment.AttemptFailed, settled.Status)
	})

	t.Run("pending outcome leaves the attempt open", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{outcome: payment.OutcomePending}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		attempt := initiate(t, c)

		outcome, open, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomePending, outcome)
		assert.Equal(t, payment.AttemptInitiated, open.Status)
	})

	t.Run("unknown ref", func(t *testing.T) {
		c := payment.NewCoordinator(newMemStore(), &scriptedGateway{}, zap.NewNop())

		_, _, err := c.Resolve(ctx, "pi_nope")
		assert.ErrorIs(t, err, payment.ErrAttemptNotFound)
	})

	t.Run("transient retrieve failures are retried", func(t *testing.T) {
		store := newMemStore()
		gw := &scriptedGateway{
			outcome:     payment.OutcomeCaptured,
			outcomeErrs: []error{payment.ErrGatewayUnavailable},
		}
		c := payment.NewCoordinator(store, gw, zap.NewNop())
		attempt := initiate(t, c)

		outcome, _, err := c.Resolve(ctx, attempt.GatewayRef)
		require.NoError(t, err)
		assert.Equal(t, payment.OutcomeCaptured, outcome)
		assert.Equal(t, 2, gw.outcomeCalls)
	})
}

func TestCoordinatorRefund(t *testing.T) {
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		gw := &scriptedGateway{refundErrs: []error{payment.ErrGatewayUnavailable}}
		c := payment.NewCoordinator(newMemStore(), gw, zap.NewNop())

		err := c.Refund(ctx, "pi_test")
		require.NoError(t, err)
		assert.Equal(t, 2, gw.refundCalls)
	})

	t.Run("surfaces terminal failures", func(t *testing.T) {
		gw := &scriptedGateway{refundErrs: []error{payment.ErrDeclined}}
		c := payment.NewCoordinator(newMemStore(), gw, zap.NewNop())

		err := c.Refund(ctx, "pi_test")
		assert.ErrorIs(t, err, payment.ErrDeclined)
		assert.Equal(t, 1, gw.refundCalls)
	})
}
