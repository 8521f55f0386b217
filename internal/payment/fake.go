package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Payment method ids understood by FakeProvider
const (
	FakeMethodSucceed  = "pm_card_visa"
	FakeMethodDecline  = "pm_card_chargeDeclined"
	FakeMethodRedirect = "pm_redirect"
)

// FakeProvider is an in-memory Provider for local development and tests.
// Redirect payments stay in requires_action until CompleteRedirect is called.
type FakeProvider struct {
	mu      sync.Mutex
	seq     int
	intents map[string]Intent

	// CreateErr and RetrieveErr, when set, are returned by the matching call.
	CreateErr   error
	RetrieveErr error

	// OnConfirm, when set, runs before each confirmation is applied.
	OnConfirm func()

	Confirmations  int
	IntentRequests []IntentRequest
}

// NewFakeProvider creates an empty fake provider
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{intents: make(map[string]Intent)}
}

// Name implements Provider
func (f *FakeProvider) Name() string {
	return "fake"
}

// CreateIntent implements Provider
func (f *FakeProvider) CreateIntent(_ context.Context, req IntentRequest) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateErr != nil {
		return Intent{}, f.CreateErr
	}

	f.IntentRequests = append(f.IntentRequests, req)
	f.seq++
	id := fmt.Sprintf("pi_fake_%d", f.seq)
	intent := Intent{
		ID:           id,
		ClientSecret: fmt.Sprintf("%s_secret_%d", id, f.seq),
		Amount:       req.Amount,
		Currency:     req.Currency,
		Status:       StatusRequiresConfirmation,
	}
	f.intents[id] = intent
	return intent, nil
}

// Confirm implements Provider
func (f *FakeProvider) Confirm(_ context.Context, req ConfirmRequest) (ConfirmResult, error) {
	if f.OnConfirm != nil {
		f.OnConfirm()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	intent, ok := f.intents[req.IntentID]
	if !ok {
		return ConfirmResult{}, fmt.Errorf("fake: no such intent %s", req.IntentID)
	}
	f.Confirmations++

	switch req.PaymentMethodID {
	case FakeMethodDecline:
		intent.Status = StatusFailed
		intent.FailureMessage = "Your card was declined."
		f.intents[intent.ID] = intent
		return ConfirmResult{}, &DeclineError{Code: "card_declined", Message: intent.FailureMessage}
	case FakeMethodRedirect:
		intent.Status = StatusRequiresAction
		f.intents[intent.ID] = intent
		return ConfirmResult{
			Intent:      intent,
			RedirectURL: fmt.Sprintf("https://fake-provider.local/authorize/%s", intent.ID),
		}, nil
	default:
		intent.Status = StatusSucceeded
		f.intents[intent.ID] = intent
		return ConfirmResult{Intent: intent}, nil
	}
}

// RetrieveIntent implements Provider
func (f *FakeProvider) RetrieveIntent(_ context.Context, clientSecret string) (Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.RetrieveErr != nil {
		return Intent{}, f.RetrieveErr
	}
	intent, ok := f.intents[IntentIDFromClientSecret(clientSecret)]
	if !ok || intent.ClientSecret != clientSecret {
		return Intent{}, errors.New("fake: no intent matches client secret")
	}
	return intent, nil
}

// CompleteRedirect finishes a redirect payment with the given status
func (f *FakeProvider) CompleteRedirect(intentID string, status Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if intent, ok := f.intents[intentID]; ok {
		intent.Status = status
		f.intents[intentID] = intent
	}
}
