package payment

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// FakeGateway stands in for Stripe when no API key is configured (dev and
// simulation runs). Every intent captures unless the appointment metadata
// asks otherwise via the declineNext toggle.
type FakeGateway struct {
	mu          sync.Mutex
	seq         int
	declineNext bool
	refunded    map[string]bool
}

func NewFakeGateway() *FakeGateway {
	return &FakeGateway{refunded: make(map[string]bool)}
}

// DeclineNext makes the next retrieved outcome a terminal failure.
func (g *FakeGateway) DeclineNext() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.declineNext = true
}

func (g *FakeGateway) CreateIntent(_ context.Context, _ int64, _ string, appointmentID uuid.UUID) (string, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++

	ref := fmt.Sprintf("pi_fake_%s_%d", appointmentID.String()[:8], g.seq)
	if g.declineNext {
		ref += "_declined"
		g.declineNext = false
	}
	return ref, ref + "_secret", nil
}

func (g *FakeGateway) RetrieveOutcome(_ context.Context, ref string) (Outcome, error) {
	if strings.HasSuffix(ref, "_declined") {
		return OutcomeFailed, nil
	}
	return OutcomeCaptured, nil
}

func (g *FakeGateway) Refund(_ context.Context, ref string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunded[ref] = true
	return nil
}

// Refunded reports whether a ref was refunded; test hook.
func (g *FakeGateway) Refunded(ref string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refunded[ref]
}
