package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	// StatusHolding and StatusConfirmed occupy a slot key; the other two are
	// terminal with respect to slot occupancy.
	StatusHolding   Status = "holding"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Occupies() bool {
	return s == StatusHolding || s == StatusConfirmed
}

// SlotDuration is fixed: one appointment consumes one hour of the calendar.
const SlotDuration = time.Hour

// DefaultResourceID is the shared clinic calendar used when no per-doctor
// resource is modeled.
var DefaultResourceID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// SlotKey identifies the contended resource-time unit.
type SlotKey struct {
	ResourceID uuid.UUID
	Start      time.Time
}

func NewSlotKey(resourceID uuid.UUID, start time.Time) SlotKey {
	if resourceID == uuid.Nil {
		resourceID = DefaultResourceID
	}
	return SlotKey{
		ResourceID: resourceID,
		Start:      start.UTC().Truncate(time.Minute),
	}
}

func (k SlotKey) End() time.Time {
	return k.Start.Add(SlotDuration)
}

// String is the canonical form used for the Redis lock key.
func (k SlotKey) String() string {
	return fmt.Sprintf("%s|%s", k.ResourceID, k.Start.Format(time.RFC3339))
}

type PatientDetails struct {
	Name    string
	Age     int
	Gender  string
	Phone   string
	Address string
}

type Appointment struct {
	ID            uuid.UUID
	PatientID     uuid.UUID
	CreatedBy     uuid.UUID
	Details       PatientDetails
	Slot          SlotKey
	Status        Status
	PaymentRef    *string
	HoldExpiresAt *time.Time
	ConfirmedAt   *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HoldExpired reports whether a holding appointment has outlived its hold.
func (a *Appointment) HoldExpired(now time.Time) bool {
	return a.Status == StatusHolding && a.HoldExpiresAt != nil && a.HoldExpiresAt.Before(now)
}

// HoldDraft is what TryHold persists when the slot turns out to be free.
type HoldDraft struct {
	PatientID     uuid.UUID
	CreatedBy     uuid.UUID
	Details       PatientDetails
	Slot          SlotKey
	HoldExpiresAt time.Time
}

type ListFilter struct {
	PatientID   *uuid.UUID
	PatientName string // case-insensitive substring match
	Limit       int
	Offset      int
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
