package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProvider implements Provider on Stripe PaymentIntents
type StripeProvider struct {
	intents stripeIntentAPI
}

// NewStripeProvider creates a Stripe provider for the given secret key
func NewStripeProvider(apiKey string) (*StripeProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("stripe: api key is required")
	}
	sc := client.New(apiKey, nil)
	return &StripeProvider{intents: sc.PaymentIntents}, nil
}

func newStripeProviderWithAPI(api stripeIntentAPI) *StripeProvider {
	return &StripeProvider{intents: api}
}

// Name implements Provider
func (p *StripeProvider) Name() string {
	return "stripe"
}

// CreateIntent implements Provider
func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	pi, err := p.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

// Confirm implements Provider. Card declines come back as *DeclineError.
func (p *StripeProvider) Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(req.PaymentMethodID),
	}
	params.Context = ctx
	if req.ReturnURL != "" {
		params.ReturnURL = stripe.String(req.ReturnURL)
	}
	if req.Billing.Email != "" {
		params.ReceiptEmail = stripe.String(req.Billing.Email)
	}
	if req.Billing.Name != "" {
		params.Shipping = &stripe.ShippingDetailsParams{
			Name:  stripe.String(req.Billing.Name),
			Phone: optionalString(req.Billing.Phone),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(req.Billing.Line1),
				Line2:      optionalString(req.Billing.Line2),
				City:       optionalString(req.Billing.City),
				State:      optionalString(req.Billing.State),
				PostalCode: optionalString(req.Billing.PostalCode),
				Country:    optionalString(req.Billing.Country),
			},
		}
	}

	pi, err := p.intents.Confirm(req.IntentID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return ConfirmResult{}, &DeclineError{Code: declineCode(stripeErr), Message: stripeErr.Msg}
		}
		return ConfirmResult{}, fmt.Errorf("stripe: confirm payment intent: %w", err)
	}

	intent := intentFromStripe(pi)
	if pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
		msg := intent.FailureMessage
		if msg == "" {
			msg = "payment method was not accepted"
		}
		code := ""
		if pi.LastPaymentError != nil {
			code = declineCode(pi.LastPaymentError)
		}
		return ConfirmResult{}, &DeclineError{Code: code, Message: msg}
	}

	result := ConfirmResult{Intent: intent}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		result.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return result, nil
}

// RetrieveIntent implements Provider
func (p *StripeProvider) RetrieveIntent(ctx context.Context, clientSecret string) (Intent, error) {
	id := IntentIDFromClientSecret(clientSecret)
	if id == "" {
		return Intent{}, errors.New("stripe: client secret is required")
	}

	params := &stripe.PaymentIntentParams{ClientSecret: stripe.String(clientSecret)}
	params.Context = ctx

	pi, err := p.intents.Get(id, params)
	if err != nil {
		return Intent{}, fmt.Errorf("stripe: retrieve payment intent: %w", err)
	}
	return intentFromStripe(pi), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	if pi == nil {
		return Intent{}
	}
	intent := Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       mapStripeStatus(pi.Status),
	}
	if pi.LastPaymentError != nil {
		intent.FailureMessage = pi.LastPaymentError.Msg
	}
	return intent
}

func mapStripeStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusProcessing:
		return StatusProcessing
	case stripe.PaymentIntentStatusRequiresAction:
		return StatusRequiresAction
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		return StatusFailed
	default:
		return StatusRequiresConfirmation
	}
}

func declineCode(err *stripe.Error) string {
	if err.DeclineCode != "" {
		return string(err.DeclineCode)
	}
	return string(err.Code)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return stripe.String(s)
}
