package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/domain/ports/adapter"
	"vpn-subscription-store/internal/domain/ports/repository"
	"vpn-subscription-store/internal/infra/metrics"
	"vpn-subscription-store/internal/usecase"
)

// PaymentReconciler is the safety net under the webhook and redirect
// paths. Each sweep it does two things:
//
//  1. Stale pending orders are re-queried at the provider and settled
//     (completed or failed) when the provider already knows the outcome.
//     Providers without a query API are skipped; their orders expire.
//  2. Completed orders with no subscription (a provisioning attempt died
//     mid-flight) get their provisioning retried.
//
// Every step goes through OrderUseCase.Complete, so all its idempotency
// guarantees apply here too.
type PaymentReconciler struct {
	orders     usecase.OrderUseCase
	payments   repository.PaymentRepository
	gateway    adapter.CheckoutGateway
	interval   time.Duration // how often to sweep
	staleAfter time.Duration // how old a pending order must be to re-query
	batchSize  int
	log        zerolog.Logger
}

func NewPaymentReconciler(
	orders usecase.OrderUseCase,
	payments repository.PaymentRepository,
	gateway adapter.CheckoutGateway,
	interval, staleAfter time.Duration,
	batchSize int,
	log zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	return &PaymentReconciler{
		orders:     orders,
		payments:   payments,
		gateway:    gateway,
		interval:   interval,
		staleAfter: staleAfter,
		batchSize:  batchSize,
		log:        log.With().Str("component", "payment_reconciler").Logger(),
	}
}

func (w *PaymentReconciler) Start(ctx context.Context) {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.tick(ctx)
		}
	}
}

func (w *PaymentReconciler) tick(ctx context.Context) {
	metrics.IncReconcilerSweep()
	w.sweepStalePending(ctx)
	w.sweepUnprovisioned(ctx)
}

func (w *PaymentReconciler) sweepStalePending(ctx context.Context) {
	cutoff := time.Now().Add(-w.staleAfter)
	pending, err := w.payments.ListPendingOlderThan(ctx, nil, cutoff, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale pending failed")
		return
	}
	for _, p := range pending {
		if p.ExternalID == "" {
			// Nothing to query the provider with; the order stays pending
			// until a callback or the fallback matcher claims it.
			continue
		}
		status, err := w.gateway.QueryStatus(ctx, p.ExternalID)
		if err != nil {
			if !errors.Is(err, domain.ErrUnsupported) {
				w.log.Warn().Str("payment_id", p.ID).Err(err).Msg("status query failed")
			}
			continue
		}
		switch {
		case status.Paid():
			if status == adapter.ProviderStatusAwaitingCapture {
				if err := w.gateway.Capture(ctx, p.ExternalID); err != nil && !errors.Is(err, domain.ErrUnsupported) {
					w.log.Warn().Str("payment_id", p.ID).Err(err).Msg("capture failed")
				}
			}
			if _, err := w.orders.Complete(ctx, usecase.CompletionRef{OrderID: p.ID}); err != nil && !errors.Is(err, domain.ErrProvisioningPending) {
				w.log.Error().Str("payment_id", p.ID).Err(err).Msg("reconcile complete failed")
				continue
			}
			metrics.IncReconcilerResolved("completed")
			w.log.Info().Str("payment_id", p.ID).Msg("stale order reconciled as completed")
		case status == adapter.ProviderStatusCanceled:
			if err := w.orders.Fail(ctx, p.ID); err != nil {
				w.log.Error().Str("payment_id", p.ID).Err(err).Msg("reconcile fail failed")
				continue
			}
			metrics.IncReconcilerResolved("failed")
			w.log.Info().Str("payment_id", p.ID).Msg("stale order reconciled as failed")
		}
	}
}

func (w *PaymentReconciler) sweepUnprovisioned(ctx context.Context) {
	orphans, err := w.payments.ListCompletedWithoutSubscription(ctx, nil, w.batchSize)
	if err != nil {
		w.log.Error().Err(err).Msg("list unprovisioned failed")
		return
	}
	for _, p := range orphans {
		if p.Status != model.PaymentStatusCompleted {
			continue
		}
		if _, err := w.orders.Complete(ctx, usecase.CompletionRef{OrderID: p.ID}); err != nil {
			if !errors.Is(err, domain.ErrProvisioningPending) {
				w.log.Error().Str("payment_id", p.ID).Err(err).Msg("provisioning retry failed")
			}
			continue
		}
		metrics.IncReconcilerResolved("provisioned")
		w.log.Info().Str("payment_id", p.ID).Msg("missing subscription provisioned")
	}
}
