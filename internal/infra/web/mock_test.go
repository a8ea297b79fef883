//go:build !integration

package web

import (
	"context"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/usecase"
)

type mockOrderUC struct {
	CreateFunc            func(ctx context.Context, userID, planID, promocode string) (*model.Payment, error)
	BeginCheckoutFunc     func(ctx context.Context, orderID string) (string, error)
	CompleteFunc          func(ctx context.Context, ref usecase.CompletionRef) (*model.Subscription, error)
	FailFunc              func(ctx context.Context, orderID string) error
	FailByExternalIDFunc  func(ctx context.Context, externalID string) error
	StatusFunc            func(ctx context.Context, orderID string) (*usecase.OrderView, error)
	ListSubscriptionsFunc func(ctx context.Context, userID string) ([]*model.Subscription, error)
}

var _ usecase.OrderUseCase = (*mockOrderUC)(nil)

func (m *mockOrderUC) Create(ctx context.Context, userID, planID, promocode string) (*model.Payment, error) {
	return m.CreateFunc(ctx, userID, planID, promocode)
}

func (m *mockOrderUC) BeginCheckout(ctx context.Context, orderID string) (string, error) {
	return m.BeginCheckoutFunc(ctx, orderID)
}

func (m *mockOrderUC) Complete(ctx context.Context, ref usecase.CompletionRef) (*model.Subscription, error) {
	return m.CompleteFunc(ctx, ref)
}

func (m *mockOrderUC) Fail(ctx context.Context, orderID string) error {
	return m.FailFunc(ctx, orderID)
}

func (m *mockOrderUC) FailByExternalID(ctx context.Context, externalID string) error {
	if m.FailByExternalIDFunc != nil {
		return m.FailByExternalIDFunc(ctx, externalID)
	}
	return nil
}

func (m *mockOrderUC) Status(ctx context.Context, orderID string) (*usecase.OrderView, error) {
	return m.StatusFunc(ctx, orderID)
}

func (m *mockOrderUC) ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if m.ListSubscriptionsFunc != nil {
		return m.ListSubscriptionsFunc(ctx, userID)
	}
	return nil, nil
}

type mockPlanUC struct {
	ListFunc     func(ctx context.Context) ([]*model.Plan, error)
	GetFunc      func(ctx context.Context, id string) (*model.Plan, error)
	SetPriceFunc func(ctx context.Context, id string, price int64) error
}

var _ usecase.PlanUseCase = (*mockPlanUC)(nil)

func (m *mockPlanUC) List(ctx context.Context) ([]*model.Plan, error) { return m.ListFunc(ctx) }
func (m *mockPlanUC) Get(ctx context.Context, id string) (*model.Plan, error) {
	return m.GetFunc(ctx, id)
}
func (m *mockPlanUC) SetPrice(ctx context.Context, id string, price int64) error {
	return m.SetPriceFunc(ctx, id, price)
}

type mockPromocodeUC struct {
	PreviewFunc func(ctx context.Context, code string, amount int64) (*usecase.DiscountPreview, error)
	CreateFunc  func(ctx context.Context, pc *model.Promocode) error
}

var _ usecase.PromocodeUseCase = (*mockPromocodeUC)(nil)

func (m *mockPromocodeUC) Preview(ctx context.Context, code string, amount int64) (*usecase.DiscountPreview, error) {
	return m.PreviewFunc(ctx, code, amount)
}

func (m *mockPromocodeUC) Create(ctx context.Context, pc *model.Promocode) error {
	return m.CreateFunc(ctx, pc)
}

func (m *mockPromocodeUC) ListActive(ctx context.Context) ([]*model.Promocode, error) {
	return nil, nil
}

type mockStatsUC struct {
	OverviewFunc func(ctx context.Context) (*usecase.Stats, error)
}

var _ usecase.StatsUseCase = (*mockStatsUC)(nil)

func (m *mockStatsUC) Overview(ctx context.Context) (*usecase.Stats, error) {
	return m.OverviewFunc(ctx)
}

// mockGateway verifies everything unless told otherwise.
type mockGateway struct {
	name       string
	VerifyFunc func(rawBody []byte, signature string) bool
}

var _ adapter.CheckoutGateway = (*mockGateway)(nil)

func (m *mockGateway) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockGateway) CreateCheckout(ctx context.Context, orderID string, amount int64, description, returnURL string, meta map[string]string) (adapter.Checkout, error) {
	return adapter.Checkout{URL: "https://pay.example/" + orderID}, nil
}

func (m *mockGateway) QueryStatus(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
	return "", domain.ErrUnsupported
}

func (m *mockGateway) Capture(ctx context.Context, externalID string) error { return nil }

func (m *mockGateway) VerifySignature(rawBody []byte, signature string) bool {
	if m.VerifyFunc != nil {
		return m.VerifyFunc(rawBody, signature)
	}
	return true
}
