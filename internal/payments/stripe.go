package payments

import (
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient implements the lifecycle payment collaborator with manual
// capture: funds are held at assignment, captured at completion, released
// on cancellation.
type StripeClient struct{}

// NewStripeClient initializes stripe with the STRIPE_API_KEY env var.
func NewStripeClient() *StripeClient {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeClient{}
}

// Hold creates a manual-capture PaymentIntent for the estimated fare.
// XAF is a zero-decimal currency so the amount is passed as-is.
func (s *StripeClient) Hold(amountXAF int64, requestID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountXAF),
		Currency:      stripe.String("xaf"),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.AddMetadata("request_id", requestID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

// Release cancels the hold.
func (s *StripeClient) Release(holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
