package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// StripeGateway drives Stripe PaymentIntents. The package-level API key must
// be set once at process start (stripe.Key = ...).
type StripeGateway struct{}

func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amountCents int64, currency string, appointmentID uuid.UUID) (string, string, error) {
	params := &stripe.PaymentIntentParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"appointment_id": appointmentID.String(),
			},
		},
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}

	pi, err := paymentintent.New(params)
	if err != nil {
		return "", "", classifyStripeError(err)
	}

	return pi.ID, pi.ClientSecret, nil
}

func (g *StripeGateway) RetrieveOutcome(ctx context.Context, ref string) (Outcome, error) {
	pi, err := paymentintent.Get(ref, &stripe.PaymentIntentParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return OutcomePending, classifyStripeError(err)
	}

	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return OutcomeCaptured, nil
	case stripe.PaymentIntentStatusCanceled:
		return OutcomeFailed, nil
	default:
		// requires_payment_method, requires_confirmation, processing, ...
		return OutcomePending, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, ref string) error {
	_, err := refund.New(&stripe.RefundParams{
		Params:        stripe.Params{Context: ctx},
		PaymentIntent: stripe.String(ref),
	})
	if err != nil {
		return classifyStripeError(err)
	}
	return nil
}

// classifyStripeError separates transient gateway trouble from terminal
// declines so the coordinator retries the right things.
func classifyStripeError(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%s: %w", sErr.Code, ErrDeclined)
		}
		if sErr.HTTPStatusCode >= http.StatusInternalServerError ||
			sErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("stripe %d: %w", sErr.HTTPStatusCode, ErrGatewayUnavailable)
		}
		return err
	}
	// Network-level failures come back as plain errors
	return fmt.Errorf("%v: %w", err, ErrGatewayUnavailable)
}
