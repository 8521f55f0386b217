package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/storage"
	"storefront/internal/util"

	"go.uber.org/zap"
)

const defaultAddressLabel = "Home"

// AddressBook persists saved addresses and resolves provinces.
// FindProvince returns nil, nil for an unknown province.
type AddressBook interface {
	ListAddresses(ctx context.Context, userID int64) ([]models.Address, error)
	CreateAddress(ctx context.Context, address *models.Address) error
	FindProvince(ctx context.Context, name string) (*models.Province, error)
}

// CheckoutState is the per-session checkout progress
type CheckoutState struct {
	Step   models.CheckoutStep `json:"step"`
	UserID *int64              `json:"user_id,omitempty"`
	Email  string              `json:"email,omitempty"`
	Name   string              `json:"name,omitempty"`

	GuestInfo *models.GuestInfo `json:"guest_info,omitempty"`
	// NewAddress is set when the address step takes a new address
	// rather than a saved one. Guests are always in this mode.
	NewAddress bool                 `json:"new_address"`
	Address    *models.AddressInput `json:"address,omitempty"`
	AddressID  *int64               `json:"address_id,omitempty"`
	Selected   *models.Address      `json:"selected_address,omitempty"`

	OrderID  *int64    `json:"order_id,omitempty"`
	OpenedAt time.Time `json:"opened_at"`
}

// IsGuest reports whether the checkout belongs to an anonymous customer
func (s CheckoutState) IsGuest() bool {
	return s.UserID == nil
}

// AddressSubmission is the address step input: a saved address id or a
// new address
type AddressSubmission struct {
	AddressID *int64               `json:"address_id,omitempty"`
	Address   *models.AddressInput `json:"address,omitempty"`
}

// CheckoutFlow drives the guest_info, address, payment, success steps
type CheckoutFlow struct {
	storage   storage.Storage
	carts     *cart.Store
	addresses AddressBook
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewCheckoutFlow creates a new checkout flow
func NewCheckoutFlow(s storage.Storage, carts *cart.Store, addresses AddressBook, ttl time.Duration) *CheckoutFlow {
	return &CheckoutFlow{
		storage:   s,
		carts:     carts,
		addresses: addresses,
		ttl:       ttl,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

// CheckoutKey returns the storage key of a session checkout
func CheckoutKey(sessionID string) string {
	return fmt.Sprintf("checkout:%s", sessionID)
}

// Open starts a fresh checkout. Signed-in customers start at the address
// step, guests at guest_info. Earlier progress is discarded.
func (f *CheckoutFlow) Open(ctx context.Context, sessionID string, customer *models.Customer) (CheckoutState, error) {
	ctx, span := util.StartSessionSpan(ctx, "CheckoutFlow.Open", sessionID)
	defer span.End()

	if f.carts.Load(ctx, sessionID).IsEmpty() {
		return CheckoutState{}, ErrEmptyCart
	}

	state := CheckoutState{Step: models.StepGuestInfo, OpenedAt: f.now().UTC()}
	if customer != nil {
		id := customer.UserID
		state.UserID = &id
		state.Email = customer.Email
		state.Name = customer.Name
		state.Step = models.StepAddress
	}

	if err := f.save(ctx, sessionID, state); err != nil {
		return CheckoutState{}, err
	}
	util.CheckoutTransitionsTotal.WithLabelValues(string(state.Step)).Inc()
	return state, nil
}

// Get returns the current checkout of a session
func (f *CheckoutFlow) Get(ctx context.Context, sessionID string) (CheckoutState, error) {
	raw, err := f.storage.Get(ctx, CheckoutKey(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return CheckoutState{}, ErrCheckoutNotOpen
	}
	if err != nil {
		return CheckoutState{}, fmt.Errorf("failed to load checkout: %w", err)
	}

	var state CheckoutState
	if err := json.Unmarshal(raw, &state); err != nil {
		f.logger.Warn("Discarding unreadable checkout state",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return CheckoutState{}, ErrCheckoutNotOpen
	}
	return state, nil
}

// SubmitGuestInfo records guest contact details and moves to the address step
func (f *CheckoutFlow) SubmitGuestInfo(ctx context.Context, sessionID string, info models.GuestInfo) (CheckoutState, error) {
	state, err := f.expect(ctx, sessionID, models.StepGuestInfo)
	if err != nil {
		return state, err
	}

	info.Name = strings.TrimSpace(info.Name)
	info.Email = strings.TrimSpace(info.Email)
	info.Phone = strings.TrimSpace(info.Phone)
	if err := validateStruct(info); err != nil {
		return state, err
	}

	state.GuestInfo = &info
	state.NewAddress = true
	if state.Address == nil {
		state.Address = &models.AddressInput{FullName: info.Name, Phone: info.Phone}
	}
	if state.Address.Label == "" {
		state.Address.Label = defaultAddressLabel
	}

	return f.advance(ctx, sessionID, state, models.StepAddress)
}

// SubmitAddress resolves the delivery address and moves to the payment
// step. Nothing is advanced on a validation or persistence failure.
func (f *CheckoutFlow) SubmitAddress(ctx context.Context, sessionID string, sub AddressSubmission) (CheckoutState, error) {
	ctx, span := util.StartSessionSpan(ctx, "CheckoutFlow.SubmitAddress", sessionID)
	defer span.End()

	state, err := f.expect(ctx, sessionID, models.StepAddress)
	if err != nil {
		return state, err
	}

	switch {
	case state.IsGuest():
		if sub.Address == nil {
			return state, fieldError("address", "is required")
		}
		input, err := f.resolveInput(ctx, *sub.Address)
		if err != nil {
			return state, err
		}
		state.Address = &input
		state.NewAddress = true

	case sub.AddressID != nil && sub.Address == nil:
		selected, err := f.findSaved(ctx, *state.UserID, *sub.AddressID)
		if err != nil {
			return state, err
		}
		state.AddressID = &selected.ID
		state.Selected = selected
		state.NewAddress = false

	case sub.Address != nil:
		input, err := f.resolveInput(ctx, *sub.Address)
		if err != nil {
			return state, err
		}
		address := &models.Address{
			UserID:     *state.UserID,
			Label:      input.Label,
			FullName:   input.FullName,
			Phone:      input.Phone,
			Street:     input.Street,
			City:       input.City,
			ProvinceID: input.ProvinceID,
			PostalCode: input.PostalCode,
			Country:    input.Country,
		}
		if err := f.addresses.CreateAddress(ctx, address); err != nil {
			f.logger.Error("Failed to save checkout address",
				zap.String("session_id", sessionID),
				zap.Int64("user_id", *state.UserID),
				zap.Error(err))
			return state, fmt.Errorf("%w: %v", ErrAddressSave, err)
		}

		state.Address = &input
		state.AddressID = &address.ID
		state.Selected = address
		state.NewAddress = true

	default:
		return state, fieldError("address_id", "select a saved address or enter a new one")
	}

	return f.advance(ctx, sessionID, state, models.StepPayment)
}

// Back moves one step backwards without clearing entered data
func (f *CheckoutFlow) Back(ctx context.Context, sessionID string) (CheckoutState, error) {
	state, err := f.Get(ctx, sessionID)
	if err != nil {
		return state, err
	}

	switch state.Step {
	case models.StepPayment:
		return f.advance(ctx, sessionID, state, models.StepAddress)
	case models.StepAddress:
		if state.IsGuest() {
			return f.advance(ctx, sessionID, state, models.StepGuestInfo)
		}
	}
	return state, ErrNoPreviousStep
}

// MarkSucceeded moves a checkout at the payment step to success
func (f *CheckoutFlow) MarkSucceeded(ctx context.Context, sessionID string, orderID int64) (CheckoutState, error) {
	state, err := f.Get(ctx, sessionID)
	if err != nil {
		return state, err
	}
	if state.Step == models.StepSuccess {
		return state, nil
	}
	if state.Step != models.StepPayment {
		return state, ErrStepMismatch
	}

	state.OrderID = &orderID
	return f.advance(ctx, sessionID, state, models.StepSuccess)
}

// ListAddresses returns the saved addresses of a signed-in customer
func (f *CheckoutFlow) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	addresses, err := f.addresses.ListAddresses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}

func (f *CheckoutFlow) expect(ctx context.Context, sessionID string, step models.CheckoutStep) (CheckoutState, error) {
	state, err := f.Get(ctx, sessionID)
	if err != nil {
		return state, err
	}
	if state.Step != step {
		return state, ErrStepMismatch
	}
	return state, nil
}

func (f *CheckoutFlow) advance(ctx context.Context, sessionID string, state CheckoutState, to models.CheckoutStep) (CheckoutState, error) {
	from := state.Step
	state.Step = to
	if err := f.save(ctx, sessionID, state); err != nil {
		state.Step = from
		return state, err
	}

	util.CheckoutTransitionsTotal.WithLabelValues(string(to)).Inc()
	f.logger.Info("Checkout step changed",
		zap.String("session_id", sessionID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return state, nil
}

func (f *CheckoutFlow) save(ctx context.Context, sessionID string, state CheckoutState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode checkout: %w", err)
	}
	if err := f.storage.Set(ctx, CheckoutKey(sessionID), raw, f.ttl); err != nil {
		return fmt.Errorf("failed to save checkout: %w", err)
	}
	return nil
}

func (f *CheckoutFlow) resolveInput(ctx context.Context, input models.AddressInput) (models.AddressInput, error) {
	input = trimAddress(input)
	if err := validateStruct(input); err != nil {
		return input, err
	}

	province, err := f.addresses.FindProvince(ctx, input.Province)
	if err != nil {
		return input, fmt.Errorf("failed to resolve province: %w", err)
	}
	if province == nil {
		return input, fieldError("province", "is not a known province")
	}
	input.ProvinceID = province.ID
	if input.Label == "" {
		input.Label = defaultAddressLabel
	}
	return input, nil
}

func (f *CheckoutFlow) findSaved(ctx context.Context, userID, addressID int64) (*models.Address, error) {
	addresses, err := f.ListAddresses(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range addresses {
		if addresses[i].ID == addressID {
			return &addresses[i], nil
		}
	}
	return nil, fieldError("address_id", "is not one of your saved addresses")
}

func trimAddress(in models.AddressInput) models.AddressInput {
	in.Label = strings.TrimSpace(in.Label)
	in.FullName = strings.TrimSpace(in.FullName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Street = strings.TrimSpace(in.Street)
	in.City = strings.TrimSpace(in.City)
	in.Province = strings.TrimSpace(in.Province)
	in.PostalCode = strings.TrimSpace(in.PostalCode)
	in.Country = strings.TrimSpace(in.Country)
	return in
}
