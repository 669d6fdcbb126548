package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validPayload() PatientDetailsPayload {
	return PatientDetailsPayload{
		Name:    "Ada Lovelace",
		Age:     36,
		Gender:  "Female",
		Phone:   "+15550100",
		Address: "12 Clinic Road",
	}
}

func TestValidateCreateBookingRequest(t *testing.T) {
	base := func() CreateBookingRequest {
		return CreateBookingRequest{
			Details:   validPayload(),
			SlotStart: time.Now().Add(24 * time.Hour),
		}
	}

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validateRequest(base()))
	})

	t.Run("newborn age is allowed", func(t *testing.T) {
		req := base()
		req.Details.Age = 0
		assert.NoError(t, validateRequest(req))
	})

	cases := []struct {
		name   string
		mutate func(*CreateBookingRequest)
	}{
		{"missing name", func(r *CreateBookingRequest) { r.Details.Name = "" }},
		{"negative age", func(r *CreateBookingRequest) { r.Details.Age = -1 }},
		{"implausible age", func(r *CreateBookingRequest) { r.Details.Age = 200 }},
		{"unknown gender", func(r *CreateBookingRequest) { r.Details.Gender = "Robot" }},
		{"short phone", func(r *CreateBookingRequest) { r.Details.Phone = "12" }},
		{"missing address", func(r *CreateBookingRequest) { r.Details.Address = "" }},
		{"bad resource id", func(r *CreateBookingRequest) { r.ResourceID = "not-a-uuid" }},
		{"missing slot start", func(r *CreateBookingRequest) { r.SlotStart = time.Time{} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base()
			tc.mutate(&req)
			assert.Error(t, validateRequest(req))
		})
	}
}

func TestValidateConfirmPaymentRequest(t *testing.T) {
	assert.NoError(t, validateRequest(ConfirmPaymentRequest{PaymentRef: "pi_123"}))
	assert.Error(t, validateRequest(ConfirmPaymentRequest{}))
}
