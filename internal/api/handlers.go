package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docpoint/booking-engine/internal/auth"
	"github.com/docpoint/booking-engine/internal/booking"
	"github.com/docpoint/booking-engine/internal/payment"
)

func createBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		var req CreateBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validateRequest(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		slot, ok := parseSlot(w, req.ResourceID, req.SlotStart)
		if !ok {
			return
		}

		result, err := svc.CreateBooking(r.Context(), principal, toDetails(req.Details), slot)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreateBookingResponse{
			Appointment:         toAppointmentResponse(result.Appointment),
			PaymentRef:          result.PaymentRef,
			PaymentClientSecret: result.PaymentClientSecret,
		})
	}
}

func createDirectBookingHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		var req CreateDirectBookingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validateRequest(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		slot, ok := parseSlot(w, req.ResourceID, req.SlotStart)
		if !ok {
			return
		}

		var patientID uuid.UUID
		if req.PatientID != "" {
			var err error
			patientID, err = uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
		}

		appt, err := svc.CreateDirectBooking(r.Context(), principal, patientID, toDetails(req.Details), slot)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func confirmPaymentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req ConfirmPaymentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validateRequest(req); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}

		appt, err := svc.ConfirmPayment(r.Context(), principal, id, req.PaymentRef)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), principal, id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), principal, id)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listMineHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		appts, err := svc.ListMine(r.Context(), principal)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

func listAllHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mustPrincipal(w, r)
		if !ok {
			return
		}

		filter := booking.ListFilter{
			PatientName: r.URL.Query().Get("patient_name"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			filter.Limit, _ = strconv.Atoi(raw)
		}
		if raw := r.URL.Query().Get("offset"); raw != "" {
			filter.Offset, _ = strconv.Atoi(raw)
		}
		if raw := r.URL.Query().Get("patient_id"); raw != "" {
			pid, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			filter.PatientID = &pid
		}

		appts, err := svc.ListAll(r.Context(), principal, filter)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentList(appts))
	}
}

// helpers

func mustPrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, err := auth.PrincipalFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "missing_principal", "request is not authenticated")
		return auth.Principal{}, false
	}
	return principal, true
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := uuid.Parse(idStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func parseSlot(w http.ResponseWriter, resourceID string, start time.Time) (booking.SlotKey, bool) {
	rid := uuid.Nil
	if resourceID != "" {
		var err error
		rid, err = uuid.Parse(resourceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_resource_id", "resource_id must be a valid UUID")
			return booking.SlotKey{}, false
		}
	}
	if start.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_slot_start", "slot_start is required")
		return booking.SlotKey{}, false
	}
	return booking.NewSlotKey(rid, start), true
}

func toDetails(p PatientDetailsPayload) booking.PatientDetails {
	return booking.PatientDetails{
		Name:    p.Name,
		Age:     p.Age,
		Gender:  p.Gender,
		Phone:   p.Phone,
		Address: p.Address,
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "slot already has a holding or confirmed appointment")
	case errors.Is(err, booking.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	case errors.Is(err, booking.ErrSlotInPast):
		writeError(w, http.StatusBadRequest, "slot_in_past", err.Error())
	case errors.Is(err, booking.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "unauthorized", "not allowed for this principal")
	case errors.Is(err, booking.ErrAppointmentNotFound),
		errors.Is(err, payment.ErrAttemptNotFound):
		writeError(w, http.StatusNotFound, "not_found", "appointment or payment attempt unknown")
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusGone, "hold_expired", err.Error())
	case errors.Is(err, booking.ErrPaymentFailed):
		writeError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
	case errors.Is(err, booking.ErrPaymentPending):
		writeError(w, http.StatusConflict, "payment_pending", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, booking.ErrStorageUnavailable):
		writeError(w, http.StatusServiceUnavailable, "storage_unavailable", "temporarily unable to serve the request")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
