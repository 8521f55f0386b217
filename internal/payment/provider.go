package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Status is the provider-neutral state of a payment intent
type Status string

// Intent statuses
const (
	StatusRequiresConfirmation Status = "requires_confirmation"
	StatusRequiresAction       Status = "requires_action"
	StatusProcessing           Status = "processing"
	StatusSucceeded            Status = "succeeded"
	StatusFailed               Status = "failed"
	StatusCanceled             Status = "canceled"
)

// Intent is a single attempted charge
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       Status `json:"status"`
	// FailureMessage carries the provider's last error, if any.
	FailureMessage string `json:"failure_message,omitempty"`
}

// IntentRequest asks the provider for a new intent. Amount is in minor units.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	IdempotencyKey string
}

// BillingDetails identifies the payer
type BillingDetails struct {
	Name       string
	Email      string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// ConfirmRequest confirms an intent with a payment method
type ConfirmRequest struct {
	IntentID        string
	ClientSecret    string
	Amount          int64
	Currency        string
	PaymentMethodID string
	Billing         BillingDetails
	ReturnURL       string
}

// ConfirmResult is the outcome of a confirmation that was not declined
type ConfirmResult struct {
	Intent      Intent
	RedirectURL string
}

// Provider is the external payment service
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Confirm(ctx context.Context, req ConfirmRequest) (ConfirmResult, error)
	RetrieveIntent(ctx context.Context, clientSecret string) (Intent, error)
}

// DeclineError reports a payment the provider refused
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("payment declined: %s", e.Message)
	}
	return fmt.Sprintf("payment declined (%s): %s", e.Code, e.Message)
}

// zero-decimal currencies charge in whole units
var currencyExponents = map[string]int32{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "idr": 0, "jpy": 0, "kmf": 0, "krw": 0,
	"mga": 0, "pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0, "xof": 0, "xpf": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// CurrencyExponent returns the number of minor-unit digits of currency
func CurrencyExponent(currency string) int32 {
	if exp, ok := currencyExponents[strings.ToLower(currency)]; ok {
		return exp
	}
	return 2
}

// ToMinorUnits converts a major-unit amount to the provider's integer
// representation. It rounds half away from zero and never returns less
// than minimum.
func ToMinorUnits(amount decimal.Decimal, currency string, minimum int64) int64 {
	minor := amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
	if minor < minimum {
		return minimum
	}
	return minor
}

// IntentIDFromClientSecret extracts the intent id from a client secret of
// the form <id>_secret_<nonce>. Secrets without the marker are their own id.
func IntentIDFromClientSecret(secret string) string {
	if idx := strings.Index(secret, "_secret_"); idx > 0 {
		return secret[:idx]
	}
	return secret
}
