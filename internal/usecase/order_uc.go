package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/domain/ports/repository"
	"vpn-subscription-store/internal/infra/metrics"
)

// Compile-time check
var _ OrderUseCase = (*orderUC)(nil)

// CompletionRef identifies the order a provider notification refers to.
// Resolution precedence: OrderID, then ExternalID, then Amount matched
// against recent pending orders (the Robokassa path, which echoes
// nothing of ours back).
type CompletionRef struct {
	OrderID    string
	ExternalID string
	Amount     int64 // kopecks; used only when both ids are empty
}

// OrderView is the read model the status endpoint serves.
type OrderView struct {
	Payment      *model.Payment
	Subscription *model.Subscription // nil until provisioned
}

type OrderUseCase interface {
	// Create records a pending order for the plan at today's price, with an
	// optional promocode applied. Invalid codes are ignored, not fatal.
	Create(ctx context.Context, userID, planID, promocode string) (*model.Payment, error)
	// BeginCheckout opens a hosted checkout session for a pending order and
	// returns the redirect URL.
	BeginCheckout(ctx context.Context, orderID string) (string, error)
	// Complete drives the order to completed and provisions the subscription
	// exactly once. Safe to call any number of times from any signal path
	// (webhook, poll, redirect, reconciler).
	Complete(ctx context.Context, ref CompletionRef) (*model.Subscription, error)
	// Fail drives a pending order to failed. Terminal orders are untouched.
	Fail(ctx context.Context, orderID string) error
	// FailByExternalID is Fail keyed by the provider's payment id, for
	// cancellation webhooks.
	FailByExternalID(ctx context.Context, externalID string) error
	// Status reports the order plus its subscription when provisioned. For
	// pending orders with a queryable gateway it consults the provider live
	// and settles the order when the provider already knows the outcome.
	Status(ctx context.Context, orderID string) (*OrderView, error)
	// ListSubscriptions returns the user's provisioned subscriptions.
	ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error)
}

type orderUC struct {
	payments    repository.PaymentRepository
	subs        repository.SubscriptionRepository
	plans       repository.PlanRepository
	promos      repository.PromocodeRepository
	users       repository.UserRepository
	txm         repository.TransactionManager
	gateway     adapter.CheckoutGateway
	provisioner adapter.Provisioner

	fallbackWindow time.Duration
	frontBase      string
	log            zerolog.Logger

	// provisionMu holds one mutex per in-flight payment id so concurrent
	// deliveries inside this process never double-call the provisioner.
	// Across processes the unique grant index is the backstop.
	provisionMu sync.Map
}

func NewOrderUseCase(
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	plans repository.PlanRepository,
	promos repository.PromocodeRepository,
	users repository.UserRepository,
	txm repository.TransactionManager,
	gateway adapter.CheckoutGateway,
	provisioner adapter.Provisioner,
	fallbackWindow time.Duration,
	frontBase string,
	log zerolog.Logger,
) *orderUC {
	if fallbackWindow <= 0 {
		fallbackWindow = time.Hour
	}
	return &orderUC{
		payments:       payments,
		subs:           subs,
		plans:          plans,
		promos:         promos,
		users:          users,
		txm:            txm,
		gateway:        gateway,
		provisioner:    provisioner,
		fallbackWindow: fallbackWindow,
		frontBase:      frontBase,
		log:            log.With().Str("component", "order_uc").Logger(),
	}
}

func (u *orderUC) Create(ctx context.Context, userID, planID, promocode string) (*model.Payment, error) {
	if userID == "" || planID == "" {
		return nil, domain.ErrInvalidArgument
	}
	plan, err := u.plans.FindByID(ctx, nil, planID)
	if err != nil {
		return nil, err
	}

	amount := plan.Price
	originalAmount := int64(0)
	appliedCode := ""
	if promocode != "" {
		pc, err := u.promos.FindByCode(ctx, nil, promocode)
		if err == nil {
			err = pc.Validate(amount, time.Now())
			if err == nil {
				if discounted := pc.Apply(amount); discounted != amount {
					originalAmount = amount
					amount = discounted
					appliedCode = pc.Code
				}
			}
		}
		// An unknown or expired code charges full price; the purchase
		// goes through either way.
		if err != nil {
			u.log.Debug().Str("code", model.NormalizeCode(promocode)).Err(err).Msg("promocode rejected, charging full price")
		}
	}
	if amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}

	now := time.Now()
	p := &model.Payment{
		ID:             ulid.Make().String(),
		UserID:         userID,
		PlanID:         plan.ID,
		Provider:       u.gateway.Name(),
		Amount:         amount,
		OriginalAmount: originalAmount,
		Promocode:      appliedCode,
		Status:         model.PaymentStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = u.txm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		if err := u.users.EnsureExists(ctx, tx, model.NewUser(userID)); err != nil {
			return err
		}
		return u.payments.Save(ctx, tx, p)
	})
	if err != nil {
		return nil, err
	}

	metrics.IncPayment(p.Provider, string(p.Status))
	u.log.Info().Str("payment_id", p.ID).Str("plan", p.PlanID).Int64("amount", p.Amount).Msg("order created")
	return p, nil
}

func (u *orderUC) BeginCheckout(ctx context.Context, orderID string) (string, error) {
	p, err := u.payments.FindByID(ctx, nil, orderID)
	if err != nil {
		return "", err
	}
	if p.Status != model.PaymentStatusPending {
		return "", domain.ErrOrderAlreadyFailed
	}

	plan, err := u.plans.FindByID(ctx, nil, p.PlanID)
	if err != nil {
		return "", err
	}

	returnURL := u.frontBase + "/checkout/success?paymentId=" + p.ID
	co, err := u.gateway.CreateCheckout(ctx, p.ID, p.Amount, "Подписка "+plan.Name, returnURL, map[string]string{"user_id": p.UserID})
	if err != nil {
		return "", err
	}
	if co.ExternalID != "" {
		if err := u.payments.SetExternalID(ctx, nil, p.ID, co.ExternalID); err != nil {
			return "", err
		}
	}
	return co.URL, nil
}

// Complete is idempotent and race-safe. The compare-and-set transition to
// completed elects exactly one winner among concurrent deliveries; the
// winner provisions, everyone else observes. A completed order with no
// subscription yet means an earlier provisioning attempt died, so any
// later call retries it.
func (u *orderUC) Complete(ctx context.Context, ref CompletionRef) (*model.Subscription, error) {
	p, err := u.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case model.PaymentStatusFailed:
		return nil, domain.ErrOrderAlreadyFailed
	case model.PaymentStatusCompleted:
		return u.ensureProvisioned(ctx, p)
	}

	won, err := u.payments.UpdateStatusIfPending(ctx, nil, p.ID, model.PaymentStatusCompleted)
	if err != nil {
		return nil, err
	}
	if !won {
		// Someone else moved the order first. Re-read to learn where it
		// landed.
		p, err = u.payments.FindByID(ctx, nil, p.ID)
		if err != nil {
			return nil, err
		}
		if p.Status == model.PaymentStatusFailed {
			return nil, domain.ErrOrderAlreadyFailed
		}
		return u.ensureProvisioned(ctx, p)
	}

	p.Status = model.PaymentStatusCompleted
	metrics.IncPayment(p.Provider, string(model.PaymentStatusCompleted))
	metrics.AddPaymentRevenue(p.Provider, p.Amount)
	u.log.Info().Str("payment_id", p.ID).Str("provider", p.Provider).Msg("order completed")

	if p.Promocode != "" {
		if err := u.promos.IncrementUses(ctx, nil, p.Promocode); err != nil {
			// Bookkeeping only; the paid order always proceeds.
			u.log.Warn().Str("payment_id", p.ID).Str("code", p.Promocode).Err(err).Msg("promocode use not counted")
		}
	}

	return u.ensureProvisioned(ctx, p)
}

// ensureProvisioned returns the order's subscription, creating it when the
// order is completed but the grant does not exist yet. The unique index on
// the payment back-reference makes the create race-safe: a concurrent
// winner surfaces as ErrAlreadyExists and we return their row.
func (u *orderUC) ensureProvisioned(ctx context.Context, p *model.Payment) (*model.Subscription, error) {
	mu := u.lockProvision(p.ID)
	defer func() {
		u.provisionMu.Delete(p.ID)
		mu.Unlock()
	}()

	sub, err := u.subs.FindByPaymentID(ctx, nil, p.ID)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	plan, err := u.plans.FindByID(ctx, nil, p.PlanID)
	if err != nil {
		return nil, err
	}

	link, err := u.provisioner.CreateClient(ctx, p.UserID, plan.DurationDays)
	if err != nil {
		// The order stays completed; the reconciler (or the next duplicate
		// notification) retries provisioning.
		u.log.Error().Str("payment_id", p.ID).Err(err).Msg("provisioning failed, will retry")
		metrics.IncProvisionRetry()
		return nil, domain.ErrProvisioningPending
	}

	sub, err = model.NewSubscription(uuid.NewString(), p.UserID, p, plan, link)
	if err != nil {
		return nil, err
	}
	if err := u.subs.Save(ctx, nil, sub); err != nil {
		if errors.Is(err, domain.ErrAlreadyExists) {
			return u.subs.FindByPaymentID(ctx, nil, p.ID)
		}
		return nil, err
	}

	metrics.IncSubscriptionGranted(sub.PlanID)
	u.log.Info().Str("payment_id", p.ID).Str("subscription_id", sub.ID).Msg("subscription provisioned")
	return sub, nil
}

// lockProvision acquires the per-payment provisioning mutex. The holder
// removes the map entry before unlocking, so a woken waiter may hold a
// mutex that is no longer the one in the map; it must re-check and go
// around, or two callers could provision the same payment concurrently.
func (u *orderUC) lockProvision(id string) *sync.Mutex {
	for {
		cur, _ := u.provisionMu.LoadOrStore(id, &sync.Mutex{})
		mu := cur.(*sync.Mutex)
		mu.Lock()
		if got, ok := u.provisionMu.Load(id); ok && got == cur {
			return mu
		}
		mu.Unlock()
	}
}

func (u *orderUC) Fail(ctx context.Context, orderID string) error {
	won, err := u.payments.UpdateStatusIfPending(ctx, nil, orderID, model.PaymentStatusFailed)
	if err != nil {
		return err
	}
	if !won {
		// Terminal already. A completed order is never demoted; a failed
		// one needs no second write.
		p, err := u.payments.FindByID(ctx, nil, orderID)
		if err != nil {
			return err
		}
		if p.Status == model.PaymentStatusCompleted {
			u.log.Warn().Str("payment_id", orderID).Msg("fail signal for completed order ignored")
		}
		return nil
	}
	metrics.IncPayment(u.gateway.Name(), string(model.PaymentStatusFailed))
	u.log.Info().Str("payment_id", orderID).Msg("order failed")
	return nil
}

func (u *orderUC) FailByExternalID(ctx context.Context, externalID string) error {
	p, err := u.payments.FindByExternalID(ctx, nil, externalID)
	if err != nil {
		return err
	}
	return u.Fail(ctx, p.ID)
}

func (u *orderUC) Status(ctx context.Context, orderID string) (*OrderView, error) {
	p, err := u.payments.FindByID(ctx, nil, orderID)
	if err != nil {
		return nil, err
	}

	if p.Status == model.PaymentStatusPending && p.ExternalID != "" {
		status, qerr := u.gateway.QueryStatus(ctx, p.ExternalID)
		switch {
		case qerr == nil && status.Paid():
			if status == adapter.ProviderStatusAwaitingCapture {
				if cerr := u.gateway.Capture(ctx, p.ExternalID); cerr != nil && !errors.Is(cerr, domain.ErrUnsupported) {
					u.log.Warn().Str("payment_id", p.ID).Err(cerr).Msg("capture failed")
				}
			}
			if _, cerr := u.Complete(ctx, CompletionRef{OrderID: p.ID}); cerr != nil && !errors.Is(cerr, domain.ErrProvisioningPending) {
				return nil, cerr
			}
			p, err = u.payments.FindByID(ctx, nil, p.ID)
			if err != nil {
				return nil, err
			}
		case qerr == nil && status == adapter.ProviderStatusCanceled:
			if ferr := u.Fail(ctx, p.ID); ferr != nil {
				return nil, ferr
			}
			p.Status = model.PaymentStatusFailed
		case qerr != nil && !errors.Is(qerr, domain.ErrUnsupported):
			// Provider unreachable; report what the ledger knows.
			u.log.Warn().Str("payment_id", p.ID).Err(qerr).Msg("live status query failed")
		}
	}

	view := &OrderView{Payment: p}
	if p.Status == model.PaymentStatusCompleted {
		sub, serr := u.subs.FindByPaymentID(ctx, nil, p.ID)
		if serr == nil {
			view.Subscription = sub
		} else if !errors.Is(serr, domain.ErrNotFound) {
			return nil, serr
		}
	}
	return view, nil
}

func (u *orderUC) ListSubscriptions(ctx context.Context, userID string) ([]*model.Subscription, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return u.subs.ListByUser(ctx, nil, userID)
}

// resolve maps a completion reference onto a stored order.
func (u *orderUC) resolve(ctx context.Context, ref CompletionRef) (*model.Payment, error) {
	switch {
	case ref.OrderID != "":
		return u.payments.FindByID(ctx, nil, ref.OrderID)
	case ref.ExternalID != "":
		return u.payments.FindByExternalID(ctx, nil, ref.ExternalID)
	case ref.Amount > 0:
		p, err := u.payments.FindPendingByAmountSince(ctx, nil, ref.Amount, time.Now().Add(-u.fallbackWindow))
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				metrics.IncFallbackMatch(u.gateway.Name(), false)
			}
			return nil, err
		}
		metrics.IncFallbackMatch(u.gateway.Name(), true)
		u.log.Info().Str("payment_id", p.ID).Int64("amount", ref.Amount).Msg("order matched by amount within window")
		return p, nil
	default:
		return nil, domain.ErrInvalidArgument
	}
}
