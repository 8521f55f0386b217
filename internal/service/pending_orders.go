package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/storage"
)

// PendingOrders is the single-slot PendingOrder store of each session.
// Saving overwrites whatever an abandoned attempt left behind; callers
// check for a captured payment first.
type PendingOrders struct {
	storage storage.Storage
	ttl     time.Duration
}

// NewPendingOrders creates a pending order store
func NewPendingOrders(s storage.Storage, ttl time.Duration) *PendingOrders {
	return &PendingOrders{storage: s, ttl: ttl}
}

// PendingOrderKey returns the storage key of a session pending order
func PendingOrderKey(sessionID string) string {
	return fmt.Sprintf("pending_order:%s", sessionID)
}

// Save writes the pending order of a session
func (p *PendingOrders) Save(ctx context.Context, sessionID string, order *models.PendingOrder) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode pending order: %w", err)
	}
	if err := p.storage.Set(ctx, PendingOrderKey(sessionID), raw, p.ttl); err != nil {
		return fmt.Errorf("failed to save pending order: %w", err)
	}
	return nil
}

// Retain rewrites the pending order of a session without expiry. It is
// used once money is captured, so the record outlives the normal slot TTL
// until the order is recorded or handled manually.
func (p *PendingOrders) Retain(ctx context.Context, sessionID string, order *models.PendingOrder) error {
	raw, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("failed to encode pending order: %w", err)
	}
	if err := p.storage.Set(ctx, PendingOrderKey(sessionID), raw, 0); err != nil {
		return fmt.Errorf("failed to retain pending order: %w", err)
	}
	return nil
}

// Load returns the pending order of a session, or nil when there is none
func (p *PendingOrders) Load(ctx context.Context, sessionID string) (*models.PendingOrder, error) {
	raw, err := p.storage.Get(ctx, PendingOrderKey(sessionID))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pending order: %w", err)
	}

	var order models.PendingOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("failed to decode pending order: %w", err)
	}
	return &order, nil
}

// Remove deletes the pending order of a session
func (p *PendingOrders) Remove(ctx context.Context, sessionID string) error {
	return p.storage.Remove(ctx, PendingOrderKey(sessionID))
}
