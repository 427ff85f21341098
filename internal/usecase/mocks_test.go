// File: internal/usecase/mocks_test.go
package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"practice-entitlement-engine/internal/domain"
	"practice-entitlement-engine/internal/domain/model"
	"practice-entitlement-engine/internal/domain/ports/adapter"
	"practice-entitlement-engine/internal/domain/ports/repository"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// fakeTxManager runs callbacks inline. WithTenantLock serializes per tenant
// with a mutex, mirroring the advisory-lock behavior closely enough for
// unit tests.
type fakeTxManager struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newFakeTxManager() *fakeTxManager {
	return &fakeTxManager{locks: make(map[int64]*sync.Mutex)}
}

func (m *fakeTxManager) WithTx(ctx context.Context, opts pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, repository.NoTX)
}

func (m *fakeTxManager) WithTenantLock(ctx context.Context, tenantID int64, fn func(ctx context.Context, tx repository.Tx) error) error {
	m.mu.Lock()
	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	m.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	return fn(ctx, repository.NoTX)
}

// memSubscriptionRepo is an in-memory SubscriptionRepository keyed by tenant.
type memSubscriptionRepo struct {
	mu      sync.RWMutex
	store   map[int64]*model.Subscription
	nextID  int64
	saveErr error
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{store: make(map[int64]*model.Subscription)}
}

func (m *memSubscriptionRepo) put(sub *model.Subscription) *model.Subscription {
	cp := *sub
	m.mu.Lock()
	if cp.ID == 0 {
		m.nextID++
		cp.ID = m.nextID
	}
	m.store[cp.TenantID] = &cp
	m.mu.Unlock()
	sub.ID = cp.ID
	return &cp
}

func (m *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.put(sub)
	return nil
}

func (m *memSubscriptionRepo) FindByTenant(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.store[tenantID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) FindBySubscriptionRef(ctx context.Context, tx repository.Tx, ref string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.SubscriptionRef != nil && *s.SubscriptionRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) FindByCustomerRef(ctx context.Context, tx repository.Tx, ref string) (*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.store {
		if s.CustomerRef != nil && *s.CustomerRef == ref {
			cp := *s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memSubscriptionRepo) ListDueForDeletion(ctx context.Context, tx repository.Tx, now time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.DeletionType != nil && *s.DeletionType == model.DeletionScheduled &&
			s.DeletionScheduledFor != nil && !s.DeletionScheduledFor.After(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].DeletionScheduledFor.Before(*out[j].DeletionScheduledFor)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSubscriptionRepo) ListPaying(ctx context.Context, tx repository.Tx, before time.Time, limit int) ([]*model.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.Subscription
	for _, s := range m.store {
		if s.Status.Healthy() && s.Tier != model.TierFree && s.SubscriptionRef != nil &&
			(s.CurrentPeriodEnd == nil || !s.CurrentPeriodEnd.After(before)) {
			cp := *s
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memSubscriptionRepo) ResetExpiredQuotaWindows(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.store {
		if s.QuotaDailyResetAt != nil && !s.QuotaDailyResetAt.After(now) {
			s.QuotaUsedToday = 0
			n++
		}
		if s.QuotaHourlyResetAt != nil && !s.QuotaHourlyResetAt.After(now) {
			s.QuotaUsedThisHour = 0
			n++
		}
	}
	return n, nil
}

func (m *memSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[model.Status]int)
	for _, s := range m.store {
		counts[s.Status]++
	}
	return counts, nil
}

func (m *memSubscriptionRepo) Delete(ctx context.Context, tx repository.Tx, tenantID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, tenantID)
	return nil
}

// memRoutineRepo is an in-memory RoutineRepository.
type memRoutineRepo struct {
	mu     sync.RWMutex
	store  map[int64]*model.Routine
	nextID int64
}

func newMemRoutineRepo() *memRoutineRepo {
	return &memRoutineRepo{store: make(map[int64]*model.Routine)}
}

func (m *memRoutineRepo) Save(ctx context.Context, tx repository.Tx, r *model.Routine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		m.nextID++
		r.ID = m.nextID
	}
	cp := *r
	m.store[r.ID] = &cp
	return nil
}

func (m *memRoutineRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRoutineRepo) MostRecent(ctx context.Context, tx repository.Tx, tenantID int64) (*model.Routine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *model.Routine
	for _, r := range m.store {
		if r.TenantID != tenantID {
			continue
		}
		if best == nil || r.CreatedAt.After(best.CreatedAt) ||
			(r.CreatedAt.Equal(best.CreatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

// memTenantRepo is an in-memory TenantRepository.
type memTenantRepo struct {
	mu          sync.RWMutex
	store       map[int64]*model.TenantIdentity
	purged      []int64
	purgeCounts model.PurgeCounts
}

func newMemTenantRepo() *memTenantRepo {
	return &memTenantRepo{store: make(map[int64]*model.TenantIdentity)}
}

func (m *memTenantRepo) FindByID(ctx context.Context, tx repository.Tx, id int64) (*model.TenantIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTenantRepo) ListInactiveSince(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.TenantIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.TenantIdentity
	for _, t := range m.store {
		if t.InactivityOptOut || t.LastActiveAt == nil || t.LastActiveAt.After(cutoff) {
			continue
		}
		if t.LastInactivityEmailSent != nil && t.LastInactivityEmailSent.After(cutoff) {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memTenantRepo) MarkInactivityEmailSent(ctx context.Context, tx repository.Tx, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.store[id]; ok {
		t.LastInactivityEmailSent = &at
	}
	return nil
}

func (m *memTenantRepo) PurgeTenantData(ctx context.Context, tx repository.Tx, tenantID int64) (model.PurgeCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, tenantID)
	return m.purgeCounts, nil
}

func (m *memTenantRepo) Delete(ctx context.Context, tx repository.Tx, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, id)
	return nil
}

// mockBillingProvider records calls; behavior is overridable per test via
// the function fields.
type mockBillingProvider struct {
	mu sync.Mutex

	GetSubscriptionFunc func(ctx context.Context, ref string) (*adapter.ProviderSubscription, error)

	checkouts     []string // price refs
	canceledRefs  []string
	cancelAtEnd   map[string]bool
	priceUpdates  []string
	refunds       map[string]int64
	lastPaymentID string

	checkoutErr error
	cancelErr   error
	refundErr   error
	setCancelAt error
}

func newMockBillingProvider() *mockBillingProvider {
	return &mockBillingProvider{
		cancelAtEnd: make(map[string]bool),
		refunds:     make(map[string]int64),
	}
}

func (m *mockBillingProvider) CreateCheckoutSession(ctx context.Context, tenantID int64, customerRef, priceRef, successURL, cancelURL string) (*adapter.CheckoutSession, error) {
	if m.checkoutErr != nil {
		return nil, m.checkoutErr
	}
	m.mu.Lock()
	m.checkouts = append(m.checkouts, priceRef)
	m.mu.Unlock()
	return &adapter.CheckoutSession{ID: "cs_test", URL: "https://checkout.example/" + priceRef}, nil
}

func (m *mockBillingProvider) CreatePortalSession(ctx context.Context, customerRef, returnURL string) (*adapter.PortalSession, error) {
	return &adapter.PortalSession{URL: "https://portal.example/" + customerRef}, nil
}

func (m *mockBillingProvider) GetSubscription(ctx context.Context, ref string) (*adapter.ProviderSubscription, error) {
	if m.GetSubscriptionFunc != nil {
		return m.GetSubscriptionFunc(ctx, ref)
	}
	return &adapter.ProviderSubscription{SubscriptionRef: ref, Status: model.StatusActive}, nil
}

func (m *mockBillingProvider) UpdateSubscriptionPrice(ctx context.Context, subRef, itemRef, priceRef string) error {
	m.mu.Lock()
	m.priceUpdates = append(m.priceUpdates, priceRef)
	m.mu.Unlock()
	return nil
}

func (m *mockBillingProvider) SetCancelAtPeriodEnd(ctx context.Context, ref string, cancel bool) error {
	if m.setCancelAt != nil {
		return m.setCancelAt
	}
	m.mu.Lock()
	m.cancelAtEnd[ref] = cancel
	m.mu.Unlock()
	return nil
}

func (m *mockBillingProvider) CancelSubscription(ctx context.Context, ref string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.mu.Lock()
	m.canceledRefs = append(m.canceledRefs, ref)
	m.mu.Unlock()
	return nil
}

func (m *mockBillingProvider) LastPayment(ctx context.Context, customerRef string) (*adapter.Payment, error) {
	return &adapter.Payment{AmountCents: 2700, Currency: "usd", PaidAt: time.Now()}, nil
}

func (m *mockBillingProvider) Refund(ctx context.Context, customerRef, subscriptionRef string, amountCents int64) error {
	if m.refundErr != nil {
		return m.refundErr
	}
	key := customerRef
	if key == "" {
		key = subscriptionRef
	}
	m.mu.Lock()
	m.refunds[key] += amountCents
	m.mu.Unlock()
	return nil
}

// mockNotifier records outbound notifications.
type mockNotifier struct {
	mu         sync.Mutex
	scheduled  []string // emails
	farewells  []string
	welcomes   []string
	inactivity []string
	sendErr    error
}

func (m *mockNotifier) SendDeletionScheduled(ctx context.Context, email, username string, deleteAt time.Time) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.scheduled = append(m.scheduled, email)
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) SendFarewell(ctx context.Context, email, username string, refundCents int64) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.farewells = append(m.farewells, email)
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) SendWelcomeBack(ctx context.Context, email, username string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.welcomes = append(m.welcomes, email)
	m.mu.Unlock()
	return nil
}

func (m *mockNotifier) SendInactivityReminder(ctx context.Context, email, username string, lastActive time.Time) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.mu.Lock()
	m.inactivity = append(m.inactivity, email)
	m.mu.Unlock()
	return nil
}

// mockAnalytics records captured events and erased persons.
type mockAnalytics struct {
	mu      sync.Mutex
	events  []string
	deleted []int64
}

func (m *mockAnalytics) Capture(ctx context.Context, tenantID int64, event string, props map[string]any) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
}

func (m *mockAnalytics) DeletePerson(ctx context.Context, tenantID int64) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, tenantID)
	m.mu.Unlock()
	return nil
}

// mockLocker hands the lock to the first caller until unlocked.
type mockLocker struct {
	mu     sync.Mutex
	held   map[string]string
	denied bool
}

func newMockLocker() *mockLocker {
	return &mockLocker{held: make(map[string]string)}
}

func (m *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denied {
		return "", domain.ErrLockNotAcquired
	}
	if _, taken := m.held[key]; taken {
		return "", domain.ErrLockNotAcquired
	}
	m.held[key] = "token"
	return "token", nil
}

func (m *mockLocker) Unlock(ctx context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, key)
	return nil
}

// memDedup is an in-memory ProcessedEventCache.
type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemDedup() *memDedup {
	return &memDedup{seen: make(map[string]bool)}
}

func (m *memDedup) Seen(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[id], nil
}

func (m *memDedup) Mark(ctx context.Context, id string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[id] = true
	return nil
}

// testCatalog covers the paid tiers with monthly price refs.
func testCatalog() *model.PriceCatalog {
	tiers := []model.Tier{model.TierBasic, model.TierTheGoods, model.TierMoreGoods, model.TierTheMost}
	var points []model.PricePoint
	for _, t := range tiers {
		limits := model.Limits(t, false)
		points = append(points, model.PricePoint{
			PriceRef:    "price_" + string(t) + "_monthly",
			Tier:        t,
			Interval:    model.IntervalMonth,
			AmountCents: limits.MonthlyPriceCents,
		})
		points = append(points, model.PricePoint{
			PriceRef:    "price_" + string(t) + "_yearly",
			Tier:        t,
			Interval:    model.IntervalYear,
			AmountCents: limits.YearlyPriceCents,
		})
	}
	return model.NewPriceCatalog(points)
}

func ptrStr(s string) *string      { return &s }
func ptrTime(t time.Time) *time.Time { return &t }
