package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/docpoint/booking-engine/internal/booking"
)

type PatientDetailsPayload struct {
	Name    string `json:"name" validate:"required,min=1,max=120"`
	Age     int    `json:"age" validate:"gte=0,lte=130"`
	Gender  string `json:"gender" validate:"required,oneof=Male Female Other"`
	Phone   string `json:"phone" validate:"required,min=5,max=20"`
	Address string `json:"address" validate:"required,min=1,max=500"`
}

type CreateBookingRequest struct {
	Details    PatientDetailsPayload `json:"patient_details" validate:"required"`
	ResourceID string                `json:"resource_id,omitempty" validate:"omitempty,uuid"`
	SlotStart  time.Time             `json:"slot_start" validate:"required"`
}

type CreateDirectBookingRequest struct {
	PatientID  string                `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	Details    PatientDetailsPayload `json:"patient_details" validate:"required"`
	ResourceID string                `json:"resource_id,omitempty" validate:"omitempty,uuid"`
	SlotStart  time.Time             `json:"slot_start" validate:"required"`
}

type ConfirmPaymentRequest struct {
	PaymentRef string `json:"payment_ref" validate:"required"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	PatientName   string     `json:"patient_name"`
	ResourceID    uuid.UUID  `json:"resource_id"`
	SlotStart     time.Time  `json:"slot_start"`
	SlotEnd       time.Time  `json:"slot_end"`
	Status        string     `json:"status"`
	PaymentRef    *string    `json:"payment_ref,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type CreateBookingResponse struct {
	Appointment         AppointmentResponse `json:"appointment"`
	PaymentRef          string              `json:"payment_ref"`
	PaymentClientSecret string              `json:"payment_client_secret"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		PatientID:     a.PatientID,
		PatientName:   a.Details.Name,
		ResourceID:    a.Slot.ResourceID,
		SlotStart:     a.Slot.Start,
		SlotEnd:       a.Slot.End(),
		Status:        string(a.Status),
		PaymentRef:    a.PaymentRef,
		HoldExpiresAt: a.HoldExpiresAt,
		CreatedAt:     a.CreatedAt,
	}
}

func toAppointmentList(appts []booking.Appointment) ListAppointmentsResponse {
	out := ListAppointmentsResponse{Appointments: make([]AppointmentResponse, 0, len(appts))}
	for i := range appts {
		out.Appointments = append(out.Appointments, toAppointmentResponse(&appts[i]))
	}
	return out
}
