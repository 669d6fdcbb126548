package booking_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/docpoint/booking-engine/internal/booking"
)

func TestNewSlotKey(t *testing.T) {
	t.Run("defaults the resource and normalizes the start", func(t *testing.T) {
		loc := time.FixedZone("IST", 5*3600+1800)
		start := time.Date(2026, 9, 14, 14, 30, 45, 123, loc)

		key := booking.NewSlotKey(uuid.Nil, start)

		assert.Equal(t, booking.DefaultResourceID, key.ResourceID)
		assert.Equal(t, time.UTC, key.Start.Location())
		assert.Zero(t, key.Start.Second())
		assert.Zero(t, key.Start.Nanosecond())
		assert.Equal(t, key.Start.Add(time.Hour), key.End())
	})

	t.Run("equal wall-clock instants collide regardless of zone", func(t *testing.T) {
		rid := uuid.New()
		utc := time.Date(2026, 9, 14, 9, 0, 0, 0, time.UTC)
		est := utc.In(time.FixedZone("EST", -5*3600))

		assert.Equal(t, booking.NewSlotKey(rid, utc), booking.NewSlotKey(rid, est))
	})
}

func TestStatusOccupies(t *testing.T) {
	assert.True(t, booking.StatusHolding.Occupies())
	assert.True(t, booking.StatusConfirmed.Occupies())
	assert.False(t, booking.StatusCancelled.Occupies())
	assert.False(t, booking.StatusCompleted.Occupies())
}

func TestHoldExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	holding := &booking.Appointment{Status: booking.StatusHolding, HoldExpiresAt: &past}
	assert.True(t, holding.HoldExpired(now))

	live := &booking.Appointment{Status: booking.StatusHolding, HoldExpiresAt: &future}
	assert.False(t, live.HoldExpired(now))

	confirmed := &booking.Appointment{Status: booking.StatusConfirmed, HoldExpiresAt: &past}
	assert.False(t, confirmed.HoldExpired(now))
}
