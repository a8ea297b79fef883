//go:build !integration

package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/domain/ports/repository"
)

// memPaymentRepo is a small in-memory implementation used by unit tests.
// UpdateStatusIfPending performs the same compare-and-set the Postgres
// repo does, under a mutex, so concurrency tests are meaningful.
type memPaymentRepo struct {
	mu    sync.Mutex
	store map[string]*model.Payment
	// hasSub lets ListCompletedWithoutSubscription see the grant table.
	hasSub func(paymentID string) bool
}

func newMemPaymentRepo() *memPaymentRepo {
	return &memPaymentRepo{store: make(map[string]*model.Payment)}
}

func (m *memPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.store[p.ID] = &cp
	return nil
}

func (m *memPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPaymentRepo) FindByExternalID(ctx context.Context, tx repository.Tx, externalID string) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.store {
		if p.ExternalID == externalID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memPaymentRepo) SetExternalID(ctx context.Context, tx repository.Tx, id, externalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.ExternalID = externalID
	return nil
}

func (m *memPaymentRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, id string, status model.PaymentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.store[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m *memPaymentRepo) FindPendingByAmountSince(ctx context.Context, tx repository.Tx, amount int64, since time.Time) (*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var candidates []*model.Payment
	for _, p := range m.store {
		if p.Status == model.PaymentStatusPending && p.Amount == amount && !p.CreatedAt.Before(since) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, domain.ErrNotFound
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.After(candidates[j].CreatedAt) })
	cp := *candidates[0]
	return &cp, nil
}

func (m *memPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memPaymentRepo) ListCompletedWithoutSubscription(ctx context.Context, tx repository.Tx, limit int) ([]*model.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Payment
	for _, p := range m.store {
		if p.Status != model.PaymentStatusCompleted {
			continue
		}
		if m.hasSub != nil && m.hasSub(p.ID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *memPaymentRepo) SumByPeriod(ctx context.Context, tx repository.Tx, period string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum int64
	for _, p := range m.store {
		if p.Status == model.PaymentStatusCompleted {
			sum += p.Amount
		}
	}
	return sum, nil
}

// memSubscriptionRepo enforces the same one-grant-per-payment uniqueness
// the Postgres unique index does.
type memSubscriptionRepo struct {
	mu        sync.Mutex
	byPayment map[string]*model.Subscription
}

func newMemSubscriptionRepo() *memSubscriptionRepo {
	return &memSubscriptionRepo{byPayment: make(map[string]*model.Subscription)}
}

func (m *memSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byPayment[s.PaymentID]; exists {
		return domain.ErrAlreadyExists
	}
	cp := *s
	m.byPayment[s.PaymentID] = &cp
	return nil
}

func (m *memSubscriptionRepo) FindByPaymentID(ctx context.Context, tx repository.Tx, paymentID string) (*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byPayment[paymentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Subscription
	for _, s := range m.byPayment {
		if s.UserID == userID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) CountActiveByPlan(ctx context.Context, tx repository.Tx) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int)
	now := time.Now()
	for _, s := range m.byPayment {
		if s.ExpiresAt.After(now) {
			out[s.PlanID]++
		}
	}
	return out, nil
}

func (m *memSubscriptionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byPayment)
}

type memPlanRepo struct {
	plans     map[string]model.Plan
	overrides map[string]int64
}

func newMemPlanRepo(plans ...model.Plan) *memPlanRepo {
	r := &memPlanRepo{plans: make(map[string]model.Plan), overrides: make(map[string]int64)}
	for _, p := range plans {
		r.plans[p.ID] = p
	}
	return r
}

func (m *memPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, domain.ErrInvalidPlan
	}
	if price, ok := m.overrides[id]; ok {
		p.Price = price
	}
	return &p, nil
}

func (m *memPlanRepo) ListAll(ctx context.Context, tx repository.Tx) ([]*model.Plan, error) {
	var out []*model.Plan
	for id := range m.plans {
		p, _ := m.FindByID(ctx, tx, id)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (m *memPlanRepo) PriceOverride(ctx context.Context, tx repository.Tx, planID string) (int64, error) {
	price, ok := m.overrides[planID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return price, nil
}

func (m *memPlanRepo) SetPriceOverride(ctx context.Context, tx repository.Tx, planID string, price int64) error {
	if _, ok := m.plans[planID]; !ok {
		return domain.ErrInvalidPlan
	}
	m.overrides[planID] = price
	return nil
}

type memPromocodeRepo struct {
	mu    sync.Mutex
	store map[string]*model.Promocode
}

func newMemPromocodeRepo() *memPromocodeRepo {
	return &memPromocodeRepo{store: make(map[string]*model.Promocode)}
}

func (m *memPromocodeRepo) Save(ctx context.Context, tx repository.Tx, pc *model.Promocode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *pc
	cp.Code = model.NormalizeCode(pc.Code)
	m.store[cp.Code] = &cp
	return nil
}

func (m *memPromocodeRepo) FindByCode(ctx context.Context, tx repository.Tx, code string) (*model.Promocode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.store[model.NormalizeCode(code)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *pc
	return &cp, nil
}

func (m *memPromocodeRepo) IncrementUses(ctx context.Context, tx repository.Tx, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pc, ok := m.store[model.NormalizeCode(code)]
	if !ok {
		return domain.ErrInvalidPromocode
	}
	if pc.MaxUses > 0 && pc.CurrentUses >= pc.MaxUses {
		return domain.ErrInvalidPromocode
	}
	pc.CurrentUses++
	return nil
}

func (m *memPromocodeRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.Promocode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Promocode
	for _, pc := range m.store {
		if pc.Active {
			cp := *pc
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memUserRepo struct {
	mu    sync.Mutex
	store map[string]*model.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{store: make(map[string]*model.User)}
}

func (m *memUserRepo) EnsureExists(ctx context.Context, tx repository.Tx, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.store[u.ID]; ok {
		return nil
	}
	cp := *u
	m.store[u.ID] = &cp
	return nil
}

func (m *memUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.store[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.store), nil
}

// nopTxManager runs the callback without a transaction; the mem repos
// are already atomic per call.
type nopTxManager struct{}

func (nopTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	return fn(ctx, nil)
}

// fakeGateway is a CheckoutGateway with pluggable behavior per test.
type fakeGateway struct {
	name               string
	CreateCheckoutFunc func(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (adapter.Checkout, error)
	QueryStatusFunc    func(ctx context.Context, externalID string) (adapter.ProviderStatus, error)
	CaptureFunc        func(ctx context.Context, externalID string) error

	mu       sync.Mutex
	captured []string
}

func (f *fakeGateway) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}

func (f *fakeGateway) CreateCheckout(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (adapter.Checkout, error) {
	if f.CreateCheckoutFunc != nil {
		return f.CreateCheckoutFunc(ctx, orderID, amount, description, returnURL, meta)
	}
	return adapter.Checkout{URL: "https://pay.example/" + orderID, ExternalID: "ext-" + orderID}, nil
}

func (f *fakeGateway) QueryStatus(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
	if f.QueryStatusFunc != nil {
		return f.QueryStatusFunc(ctx, externalID)
	}
	return "", domain.ErrUnsupported
}

func (f *fakeGateway) Capture(ctx context.Context, externalID string) error {
	f.mu.Lock()
	f.captured = append(f.captured, externalID)
	f.mu.Unlock()
	if f.CaptureFunc != nil {
		return f.CaptureFunc(ctx, externalID)
	}
	return nil
}

func (f *fakeGateway) VerifySignature(rawBody []byte, signature string) bool { return true }

// fakeProvisioner counts calls so exactly-once tests can assert on them.
type fakeProvisioner struct {
	mu               sync.Mutex
	calls            int
	CreateClientFunc func(ctx context.Context, subscriberID string, validityDays int) (string, error)
}

func (f *fakeProvisioner) CreateClient(ctx context.Context, subscriberID string, validityDays int) (string, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.CreateClientFunc != nil {
		return f.CreateClientFunc(ctx, subscriberID, validityDays)
	}
	return "vless://key@host:443#" + subscriberID, nil
}

func (f *fakeProvisioner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
