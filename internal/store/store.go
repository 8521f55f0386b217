package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the tables the service needs if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// GetActiveTaxRate returns the active tax rate, or nil when none is active
func (s *Store) GetActiveTaxRate(ctx context.Context) (*models.TaxRate, error) {
	var rate models.TaxRate
	err := s.db.GetContext(ctx, &rate,
		"SELECT id, name, rate, active FROM tax_rates WHERE active ORDER BY id DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rate, nil
}

// GetActiveShippingTiers returns the shipping tiers ordered by lower bound
func (s *Store) GetActiveShippingTiers(ctx context.Context) ([]models.ShippingTier, error) {
	var tiers []models.ShippingTier
	err := s.db.SelectContext(ctx, &tiers,
		"SELECT id, min_price, max_price, percentage_rate FROM shipping_rates WHERE active ORDER BY min_price, id")
	return tiers, err
}

// GetCouponByCode retrieves a coupon by its code, or nil when none matches
func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := s.db.GetContext(ctx, &coupon, "SELECT * FROM coupons WHERE code = $1", code)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}

// RecordCouponUsage increments a coupon's usage count and marks the event
// processed in one transaction
func (s *Store) RecordCouponUsage(ctx context.Context, eventID string, couponID int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, models.EventTypeCouponUsed)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE coupons SET usage_count = usage_count + 1 WHERE id = $1", couponID); err != nil {
		return fmt.Errorf("failed to increment coupon usage: %w", err)
	}

	return tx.Commit()
}

// ListAddresses returns the saved addresses of a user, newest first
func (s *Store) ListAddresses(ctx context.Context, userID int64) ([]models.Address, error) {
	addresses := []models.Address{}
	err := s.db.SelectContext(ctx, &addresses,
		"SELECT * FROM addresses WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	return addresses, err
}

// CreateAddress saves an address and fills in its id
func (s *Store) CreateAddress(ctx context.Context, address *models.Address) error {
	query := `
		INSERT INTO addresses (user_id, label, full_name, phone, street, city, province_id, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	return s.db.QueryRowxContext(ctx, query,
		address.UserID, address.Label, address.FullName, address.Phone, address.Street,
		address.City, address.ProvinceID, address.PostalCode, address.Country,
	).Scan(&address.ID, &address.CreatedAt)
}

// FindProvince resolves a province by name or code, ignoring case
func (s *Store) FindProvince(ctx context.Context, name string) (*models.Province, error) {
	name = strings.TrimSpace(name)
	var province models.Province
	err := s.db.GetContext(ctx, &province,
		"SELECT id, code, name FROM provinces WHERE LOWER(name) = LOWER($1) OR LOWER(code) = LOWER($1) LIMIT 1", name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &province, nil
}
