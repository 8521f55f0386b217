package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/storage"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func product(id int64, price string, itemType models.ItemType) models.CartItem {
	return models.CartItem{
		ProductID: id,
		Name:      "Product",
		Price:     dec(price),
		Type:      itemType,
	}
}

func newCarts(t *testing.T) (*cart.Store, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	return cart.NewStore(mem, time.Hour), mem
}

type fakeCoupons struct {
	mu      sync.Mutex
	coupons map[string]*models.Coupon
	err     error
	lookups int
}

func newFakeCoupons(coupons ...*models.Coupon) *fakeCoupons {
	f := &fakeCoupons{coupons: make(map[string]*models.Coupon)}
	for _, c := range coupons {
		f.coupons[c.Code] = c
	}
	return f
}

func (f *fakeCoupons) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.coupons[code]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func fixedCoupon(id int64, code, value, minCart string) *models.Coupon {
	return &models.Coupon{
		ID:            id,
		Code:          code,
		DiscountType:  models.DiscountTypeFixed,
		DiscountValue: dec(value),
		MinCartValue:  dec(minCart),
		Active:        true,
	}
}

func percentCoupon(id int64, code, value, minCart string) *models.Coupon {
	c := fixedCoupon(id, code, value, minCart)
	c.DiscountType = models.DiscountTypePercentage
	return c
}

type fakeFees struct {
	tax      *models.TaxRate
	tiers    []models.ShippingTier
	taxErr   error
	tierErr  error
	onLookup func()
}

func (f *fakeFees) GetActiveTaxRate(context.Context) (*models.TaxRate, error) {
	if f.onLookup != nil {
		f.onLookup()
	}
	return f.tax, f.taxErr
}

func (f *fakeFees) GetActiveShippingTiers(context.Context) ([]models.ShippingTier, error) {
	return f.tiers, f.tierErr
}

type fakeAddressBook struct {
	mu        sync.Mutex
	addresses map[int64][]models.Address
	provinces map[string]models.Province
	nextID    int64
	createErr error
	created   int
}

func newFakeAddressBook() *fakeAddressBook {
	return &fakeAddressBook{
		addresses: make(map[int64][]models.Address),
		provinces: map[string]models.Province{
			"ontario": {ID: 7, Code: "ON", Name: "Ontario"},
			"quebec":  {ID: 8, Code: "QC", Name: "Quebec"},
		},
		nextID: 100,
	}
}

func (f *fakeAddressBook) ListAddresses(_ context.Context, userID int64) ([]models.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Address(nil), f.addresses[userID]...), nil
}

func (f *fakeAddressBook) CreateAddress(_ context.Context, address *models.Address) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	f.created++
	address.ID = f.nextID
	f.addresses[address.UserID] = append(f.addresses[address.UserID], *address)
	return nil
}

func (f *fakeAddressBook) FindProvince(_ context.Context, name string) (*models.Province, error) {
	p, ok := f.provinces[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func guestAddress() *models.AddressInput {
	return &models.AddressInput{
		FullName:   "Ada Lovelace",
		Phone:      "+1 555 0100",
		Street:     "1 Main St",
		City:       "Toronto",
		Province:   "Ontario",
		PostalCode: "M5V 1A1",
		Country:    "CA",
	}
}

// fakeOrderRepo is an in-memory OrderRepository
type fakeOrderRepo struct {
	mu        sync.Mutex
	orders    map[int64]*models.Order
	items     map[int64][]models.OrderItem
	nextID    int64
	createErr error
	lookupErr error
	creates   int
}

func newFakeOrderRepo() *fakeOrderRepo {
	return &fakeOrderRepo{
		orders: make(map[int64]*models.Order),
		items:  make(map[int64][]models.OrderItem),
	}
}

func (r *fakeOrderRepo) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookupErr != nil {
		return nil, r.lookupErr
	}
	for _, o := range r.orders {
		if o.IdempotencyKey == key {
			copied := *o
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeOrderRepo) CreateOrderWithItems(_ context.Context, order *models.Order, items []models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.creates++
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	order.ID = r.nextID
	order.CreatedAt = t0
	order.UpdatedAt = t0
	for i := range items {
		items[i].ID = int64(i + 1)
		items[i].OrderID = order.ID
	}
	copied := *order
	r.orders[order.ID] = &copied
	r.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (r *fakeOrderRepo) GetOrderByID(_ context.Context, id int64) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, nil
	}
	copied := *o
	return &copied, nil
}

func (r *fakeOrderRepo) GetOrderItemsByOrderID(_ context.Context, orderID int64) ([]models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderItem(nil), r.items[orderID]...), nil
}

func (r *fakeOrderRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.orders)
}

type fakePublisher struct {
	mu         sync.Mutex
	placed     []*models.OrderPlacedEvent
	couponUsed []*models.CouponUsedEvent
	err        error
}

func (p *fakePublisher) PublishOrderPlaced(_ context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.placed = append(p.placed, event)
	return nil
}

func (p *fakePublisher) PublishCouponUsed(_ context.Context, event *models.CouponUsedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.couponUsed = append(p.couponUsed, event)
	return nil
}

type fakeUsageStore struct {
	mu        sync.Mutex
	processed map[string]bool
	usage     map[int64]int
	err       error
}

func newFakeUsageStore() *fakeUsageStore {
	return &fakeUsageStore{processed: make(map[string]bool), usage: make(map[int64]int)}
}

func (s *fakeUsageStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processed[eventID], nil
}

func (s *fakeUsageStore) RecordCouponUsage(_ context.Context, eventID string, couponID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.processed[eventID] = true
	s.usage[couponID]++
	return nil
}

// ttlRecorder remembers the ttl of the last write to each key
type ttlRecorder struct {
	*storage.Memory
	mu   sync.Mutex
	ttls map[string]time.Duration
}

func newTTLRecorder(mem *storage.Memory) *ttlRecorder {
	return &ttlRecorder{Memory: mem, ttls: make(map[string]time.Duration)}
}

func (r *ttlRecorder) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	r.mu.Lock()
	r.ttls[key] = ttl
	r.mu.Unlock()
	return r.Memory.Set(ctx, key, value, ttl)
}

func (r *ttlRecorder) ttl(key string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ttl, ok := r.ttls[key]
	return ttl, ok
}

// recordingGuard remembers the ttls a guard was called with
type recordingGuard struct {
	storage.Guard
	mu       sync.Mutex
	reserved map[string]time.Duration
	complete map[string]time.Duration
}

func newRecordingGuard(g storage.Guard) *recordingGuard {
	return &recordingGuard{
		Guard:    g,
		reserved: make(map[string]time.Duration),
		complete: make(map[string]time.Duration),
	}
}

func (g *recordingGuard) Reserve(ctx context.Context, key string, ttl time.Duration) (storage.Reservation, error) {
	g.mu.Lock()
	g.reserved[key] = ttl
	g.mu.Unlock()
	return g.Guard.Reserve(ctx, key, ttl)
}

func (g *recordingGuard) Complete(ctx context.Context, key string, result []byte, ttl time.Duration) error {
	g.mu.Lock()
	g.complete[key] = ttl
	g.mu.Unlock()
	return g.Guard.Complete(ctx, key, result, ttl)
}
