//go:build !integration

package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
)

type orderFixture struct {
	payments    *memPaymentRepo
	subs        *memSubscriptionRepo
	plans       *memPlanRepo
	promos      *memPromocodeRepo
	users       *memUserRepo
	gateway     *fakeGateway
	provisioner *fakeProvisioner
	uc          *orderUC
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{
		payments: newMemPaymentRepo(),
		subs:     newMemSubscriptionRepo(),
		plans: newMemPlanRepo(
			model.Plan{ID: "start", Name: "Старт", Price: 9900, DurationDays: 30},
			model.Plan{ID: "premium", Name: "Премиум", Price: 19900, DurationDays: 90},
		),
		promos:      newMemPromocodeRepo(),
		users:       newMemUserRepo(),
		gateway:     &fakeGateway{},
		provisioner: &fakeProvisioner{},
	}
	f.uc = NewOrderUseCase(
		f.payments, f.subs, f.plans, f.promos, f.users, nopTxManager{},
		f.gateway, f.provisioner,
		time.Hour, "https://store.example", zerolog.Nop(),
	)
	return f
}

func TestOrderCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("full price without promocode", func(t *testing.T) {
		f := newOrderFixture(t)
		p, err := f.uc.Create(ctx, "tg_42", "premium", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if p.Amount != 19900 || p.OriginalAmount != 0 || p.Promocode != "" {
			t.Fatalf("unexpected payment %+v", p)
		}
		if p.Status != model.PaymentStatusPending {
			t.Fatalf("status = %s, want pending", p.Status)
		}
		if _, err := f.users.FindByID(ctx, nil, "tg_42"); err != nil {
			t.Fatalf("user not ensured: %v", err)
		}
	})

	t.Run("percentage promocode keeps kopeck precision", func(t *testing.T) {
		f := newOrderFixture(t)
		f.promos.Save(ctx, nil, &model.Promocode{
			ID: "pc1", Code: "SAVE10", Type: model.DiscountPercentage, Value: 10, Active: true,
		})
		p, err := f.uc.Create(ctx, "tg_42", "premium", "save10")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		// 199.00 at 10% off is 179.10
		if p.Amount != 17910 {
			t.Fatalf("amount = %d, want 17910", p.Amount)
		}
		if p.OriginalAmount != 19900 || p.Promocode != "SAVE10" {
			t.Fatalf("discount bookkeeping wrong: %+v", p)
		}
	})

	t.Run("expired promocode charges full price", func(t *testing.T) {
		f := newOrderFixture(t)
		past := time.Now().Add(-time.Hour)
		f.promos.Save(ctx, nil, &model.Promocode{
			ID: "pc2", Code: "OLD", Type: model.DiscountPercentage, Value: 50, Active: true, ExpiresAt: &past,
		})
		p, err := f.uc.Create(ctx, "tg_42", "premium", "OLD")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if p.Amount != 19900 || p.Promocode != "" {
			t.Fatalf("expired code must not discount: %+v", p)
		}
	})

	t.Run("unknown promocode charges full price", func(t *testing.T) {
		f := newOrderFixture(t)
		p, err := f.uc.Create(ctx, "tg_42", "start", "NOPE")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if p.Amount != 9900 {
			t.Fatalf("amount = %d, want 9900", p.Amount)
		}
	})

	t.Run("unknown plan rejected", func(t *testing.T) {
		f := newOrderFixture(t)
		if _, err := f.uc.Create(ctx, "tg_42", "gold", ""); !errors.Is(err, domain.ErrInvalidPlan) {
			t.Fatalf("err = %v, want ErrInvalidPlan", err)
		}
	})

	t.Run("price override applies", func(t *testing.T) {
		f := newOrderFixture(t)
		f.plans.SetPriceOverride(ctx, nil, "premium", 14900)
		p, err := f.uc.Create(ctx, "tg_42", "premium", "")
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if p.Amount != 14900 {
			t.Fatalf("amount = %d, want overridden 14900", p.Amount)
		}
	})
}

func TestBeginCheckout(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	p, err := f.uc.Create(ctx, "tg_42", "premium", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	url, err := f.uc.BeginCheckout(ctx, p.ID)
	if err != nil {
		t.Fatalf("BeginCheckout: %v", err)
	}
	if url != "https://pay.example/"+p.ID {
		t.Fatalf("unexpected checkout url %q", url)
	}

	stored, _ := f.payments.FindByID(ctx, nil, p.ID)
	if stored.ExternalID != "ext-"+p.ID {
		t.Fatalf("external id not recorded: %q", stored.ExternalID)
	}
}

func TestCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "")

	first, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID})
	if err != nil {
		t.Fatalf("first Complete: %v", err)
	}
	second, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID})
	if err != nil {
		t.Fatalf("duplicate Complete: %v", err)
	}

	if first.ID != second.ID {
		t.Fatalf("duplicate completion returned a different subscription: %s vs %s", first.ID, second.ID)
	}
	if n := f.provisioner.callCount(); n != 1 {
		t.Fatalf("provisioner called %d times, want 1", n)
	}
	if n := f.subs.count(); n != 1 {
		t.Fatalf("%d subscriptions exist, want 1", n)
	}
}

func TestCompleteConcurrent(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "")

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		// Losers may observe the winner mid-provisioning; that surfaces as
		// ErrProvisioningPending and resolves on any later call.
		if err != nil && !errors.Is(err, domain.ErrProvisioningPending) {
			t.Fatalf("unexpected error from concurrent Complete: %v", err)
		}
	}
	if n := f.subs.count(); n != 1 {
		t.Fatalf("%d subscriptions exist after %d concurrent completions, want 1", n, workers)
	}
	if n := f.provisioner.callCount(); n != 1 {
		t.Fatalf("provisioner called %d times, want exactly 1", n)
	}
}

func TestStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()

	t.Run("fail after complete is ignored", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		if err := f.uc.Fail(ctx, p.ID); err != nil {
			t.Fatalf("Fail on completed order must be a no-op, got %v", err)
		}
		stored, _ := f.payments.FindByID(ctx, nil, p.ID)
		if stored.Status != model.PaymentStatusCompleted {
			t.Fatalf("status = %s, completed must never be demoted", stored.Status)
		}
	})

	t.Run("complete after fail is rejected", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		if err := f.uc.Fail(ctx, p.ID); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); !errors.Is(err, domain.ErrOrderAlreadyFailed) {
			t.Fatalf("err = %v, want ErrOrderAlreadyFailed", err)
		}
		if n := f.provisioner.callCount(); n != 0 {
			t.Fatalf("provisioner called for a failed order")
		}
	})

	t.Run("duplicate fail is idempotent", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		if err := f.uc.Fail(ctx, p.ID); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if err := f.uc.Fail(ctx, p.ID); err != nil {
			t.Fatalf("second Fail: %v", err)
		}
	})
}

func TestProvisioningFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	var failFirst sync.Once
	f.provisioner.CreateClientFunc = func(ctx context.Context, subscriberID string, days int) (string, error) {
		var failed bool
		failFirst.Do(func() { failed = true })
		if failed {
			return "", errors.New("xray panel down")
		}
		return "vless://key@host:443#" + subscriberID, nil
	}

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "")

	if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); !errors.Is(err, domain.ErrProvisioningPending) {
		t.Fatalf("err = %v, want ErrProvisioningPending", err)
	}

	// The paid order keeps its completed status while the grant is missing.
	stored, _ := f.payments.FindByID(ctx, nil, p.ID)
	if stored.Status != model.PaymentStatusCompleted {
		t.Fatalf("status = %s, want completed", stored.Status)
	}
	if n := f.subs.count(); n != 0 {
		t.Fatalf("grant created despite provisioner failure")
	}

	// Any later delivery of the same signal heals it.
	sub, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID})
	if err != nil {
		t.Fatalf("retry Complete: %v", err)
	}
	if sub == nil || sub.PaymentID != p.ID {
		t.Fatalf("unexpected subscription %+v", sub)
	}
	if n := f.provisioner.callCount(); n != 2 {
		t.Fatalf("provisioner called %d times, want 2", n)
	}
}

// The retry path must stay single-flight in-process: once one retry is
// provisioning, concurrent duplicates of the same signal wait and then
// observe the grant instead of minting a second credential.
func TestProvisionRetrySingleFlight(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	var failFirst sync.Once
	f.provisioner.CreateClientFunc = func(ctx context.Context, subscriberID string, days int) (string, error) {
		var failed bool
		failFirst.Do(func() { failed = true })
		if failed {
			return "", errors.New("xray panel down")
		}
		return "vless://key@host:443#" + subscriberID, nil
	}

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
	if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); !errors.Is(err, domain.ErrProvisioningPending) {
		t.Fatalf("err = %v, want ErrProvisioningPending", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil && !errors.Is(err, domain.ErrProvisioningPending) {
			t.Fatalf("unexpected error from concurrent retry: %v", err)
		}
	}
	if n := f.subs.count(); n != 1 {
		t.Fatalf("%d subscriptions exist, want 1", n)
	}
	// One failed attempt plus exactly one successful retry.
	if n := f.provisioner.callCount(); n != 2 {
		t.Fatalf("provisioner called %d times, want 2", n)
	}
}

// A completed premium order must surface its credential with the plan's
// full validity window through the status projection, and a duplicate
// delivery must return the very same grant, not a re-dated one.
func TestGrantCarriesValidityWindow(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	p, err := f.uc.Create(ctx, "tg_42", "premium", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := f.uc.BeginCheckout(ctx, p.ID); err != nil {
		t.Fatalf("BeginCheckout: %v", err)
	}

	// Webhook-style settlement referencing the provider's payment id.
	before := time.Now()
	if _, err := f.uc.Complete(ctx, CompletionRef{ExternalID: "ext-" + p.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	view, err := f.uc.Status(ctx, p.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if view.Payment.Status != model.PaymentStatusCompleted || view.Subscription == nil {
		t.Fatalf("projection incomplete: %+v", view)
	}
	sub := view.Subscription
	if sub.VlessLink != "vless://key@host:443#tg_42" {
		t.Fatalf("credential = %q", sub.VlessLink)
	}

	// Premium runs 90 days; the expiry must land on now+90d.
	want := before.Add(90 * 24 * time.Hour)
	if sub.ExpiresAt.Before(want) || sub.ExpiresAt.After(want.Add(time.Minute)) {
		t.Fatalf("ExpiresAt = %v, want about %v", sub.ExpiresAt, want)
	}
	if sub.Expired(time.Now()) {
		t.Fatal("fresh grant reports expired")
	}

	dup, err := f.uc.Complete(ctx, CompletionRef{ExternalID: "ext-" + p.ID})
	if err != nil {
		t.Fatalf("duplicate Complete: %v", err)
	}
	if dup.ID != sub.ID || !dup.ExpiresAt.Equal(sub.ExpiresAt) {
		t.Fatalf("duplicate delivery changed the grant: %+v vs %+v", dup, sub)
	}
}

func TestFallbackMatchByAmount(t *testing.T) {
	ctx := context.Background()

	t.Run("newest pending with exact amount wins", func(t *testing.T) {
		f := newOrderFixture(t)
		older, _ := f.uc.Create(ctx, "tg_1", "premium", "")
		// Force distinct creation times; ULIDs alone do not order map reads.
		f.payments.mu.Lock()
		f.payments.store[older.ID].CreatedAt = time.Now().Add(-10 * time.Minute)
		f.payments.mu.Unlock()
		newer, _ := f.uc.Create(ctx, "tg_2", "premium", "")

		sub, err := f.uc.Complete(ctx, CompletionRef{Amount: 19900})
		if err != nil {
			t.Fatalf("Complete by amount: %v", err)
		}
		if sub.UserID != "tg_2" {
			t.Fatalf("matched user %s, want the newer order's tg_2", sub.UserID)
		}
		storedOlder, _ := f.payments.FindByID(ctx, nil, older.ID)
		if storedOlder.Status != model.PaymentStatusPending {
			t.Fatalf("older order touched: %s", storedOlder.Status)
		}
		storedNewer, _ := f.payments.FindByID(ctx, nil, newer.ID)
		if storedNewer.Status != model.PaymentStatusCompleted {
			t.Fatalf("newer order not completed: %s", storedNewer.Status)
		}
	})

	t.Run("no order inside the window", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_1", "premium", "")
		f.payments.mu.Lock()
		f.payments.store[p.ID].CreatedAt = time.Now().Add(-2 * time.Hour)
		f.payments.mu.Unlock()

		if _, err := f.uc.Complete(ctx, CompletionRef{Amount: 19900}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound for stale order", err)
		}
	})

	t.Run("amount mismatch", func(t *testing.T) {
		f := newOrderFixture(t)
		f.uc.Create(ctx, "tg_1", "premium", "")
		if _, err := f.uc.Complete(ctx, CompletionRef{Amount: 9900}); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound for wrong amount", err)
		}
	})

	t.Run("empty reference rejected", func(t *testing.T) {
		f := newOrderFixture(t)
		if _, err := f.uc.Complete(ctx, CompletionRef{}); !errors.Is(err, domain.ErrInvalidArgument) {
			t.Fatalf("err = %v, want ErrInvalidArgument", err)
		}
	})
}

func TestCompleteByExternalID(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
	if _, err := f.uc.BeginCheckout(ctx, p.ID); err != nil {
		t.Fatalf("BeginCheckout: %v", err)
	}

	sub, err := f.uc.Complete(ctx, CompletionRef{ExternalID: "ext-" + p.ID})
	if err != nil {
		t.Fatalf("Complete by external id: %v", err)
	}
	if sub.PaymentID != p.ID {
		t.Fatalf("wrong order matched: %s", sub.PaymentID)
	}
}

func TestPromocodeUsesCountedOnCompletion(t *testing.T) {
	ctx := context.Background()
	f := newOrderFixture(t)
	f.promos.Save(ctx, nil, &model.Promocode{
		ID: "pc1", Code: "SAVE10", Type: model.DiscountPercentage, Value: 10, Active: true, MaxUses: 5,
	})

	p, _ := f.uc.Create(ctx, "tg_42", "premium", "SAVE10")
	if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	// Duplicate delivery must not double-count.
	if _, err := f.uc.Complete(ctx, CompletionRef{OrderID: p.ID}); err != nil {
		t.Fatalf("duplicate Complete: %v", err)
	}

	pc, _ := f.promos.FindByCode(ctx, nil, "SAVE10")
	if pc.CurrentUses != 1 {
		t.Fatalf("uses = %d, want 1", pc.CurrentUses)
	}
}

func TestStatusConsultsProviderLive(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeded settles the order", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		f.uc.BeginCheckout(ctx, p.ID)
		f.gateway.QueryStatusFunc = func(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
			return adapter.ProviderStatusSucceeded, nil
		}

		view, err := f.uc.Status(ctx, p.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Payment.Status != model.PaymentStatusCompleted {
			t.Fatalf("status = %s, want completed", view.Payment.Status)
		}
		if view.Subscription == nil {
			t.Fatal("status view missing the provisioned subscription")
		}
	})

	t.Run("awaiting capture triggers capture then settles", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		f.uc.BeginCheckout(ctx, p.ID)
		f.gateway.QueryStatusFunc = func(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
			return adapter.ProviderStatusAwaitingCapture, nil
		}

		view, err := f.uc.Status(ctx, p.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Payment.Status != model.PaymentStatusCompleted {
			t.Fatalf("status = %s, want completed", view.Payment.Status)
		}
		if len(f.gateway.captured) != 1 {
			t.Fatalf("capture called %d times, want 1", len(f.gateway.captured))
		}
	})

	t.Run("canceled fails the order", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		f.uc.BeginCheckout(ctx, p.ID)
		f.gateway.QueryStatusFunc = func(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
			return adapter.ProviderStatusCanceled, nil
		}

		view, err := f.uc.Status(ctx, p.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Payment.Status != model.PaymentStatusFailed {
			t.Fatalf("status = %s, want failed", view.Payment.Status)
		}
	})

	t.Run("query error reports stored state", func(t *testing.T) {
		f := newOrderFixture(t)
		p, _ := f.uc.Create(ctx, "tg_42", "premium", "")
		f.uc.BeginCheckout(ctx, p.ID)
		f.gateway.QueryStatusFunc = func(ctx context.Context, externalID string) (adapter.ProviderStatus, error) {
			return "", domain.ErrGatewayUnavailable
		}

		view, err := f.uc.Status(ctx, p.ID)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if view.Payment.Status != model.PaymentStatusPending {
			t.Fatalf("status = %s, want pending preserved", view.Payment.Status)
		}
	})
}
