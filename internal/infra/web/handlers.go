package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vpn-subscription-store/internal/domain"
	"vpn-subscription-store/internal/domain/model"
	"vpn-subscription-store/internal/infra/metrics"
	pay "vpn-subscription-store/internal/infra/payment"
	red "vpn-subscription-store/internal/infra/redis"
	"vpn-subscription-store/internal/infra/worker"
	"vpn-subscription-store/internal/usecase"
)

const (
	checkoutRateLimit  = 5
	checkoutRateWindow = time.Minute
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---- storefront ----

type planResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Price        int64  `json:"price"` // kopecks
	PriceRub     string `json:"price_rub"`
	DurationDays int    `json:"duration_days"`
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.plans.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list plans")
		return
	}
	out := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse{
			ID:           p.ID,
			Name:         p.Name,
			Price:        p.Price,
			PriceRub:     model.FormatRub(p.Price),
			DurationDays: p.DurationDays,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"plans": out})
}

type validatePromocodeRequest struct {
	Code   string `json:"code"`
	Amount int64  `json:"amount"` // kopecks
}

func (s *Server) handleValidatePromocode(w http.ResponseWriter, r *http.Request) {
	var req validatePromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	prev, err := s.promos.Preview(r.Context(), req.Code, req.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidPromocode) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"valid": false})
			return
		}
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "code and amount are required")
			return
		}
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
		"promocode": map[string]interface{}{
			"code":            prev.Code,
			"original_amount": prev.OriginalAmount,
			"final_amount":    prev.FinalAmount,
			"discount":        prev.Discount,
		},
	})
}

// ---- subscriber API ----

type createOrderRequest struct {
	PlanID    string `json:"plan_id"`
	Promocode string `json:"promocode"`
}

type orderResponse struct {
	PaymentID      string `json:"payment_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	OriginalAmount int64  `json:"original_amount,omitempty"`
	Promocode      string `json:"promocode,omitempty"`
	CheckoutURL    string `json:"checkout_url,omitempty"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	if s.limiter != nil {
		ok, err := s.limiter.Allow(r.Context(), red.CheckoutKey(userID), checkoutRateLimit, checkoutRateWindow)
		if err != nil {
			// Redis down must not block purchases.
			s.log.Warn().Err(err).Msg("rate limiter unavailable")
		} else if !ok {
			writeError(w, http.StatusTooManyRequests, "too many checkout attempts, try later")
			return
		}
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.orders.Create(r.Context(), userID, req.PlanID, req.Promocode)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPlan):
			writeError(w, http.StatusBadRequest, "invalid plan")
		case errors.Is(err, domain.ErrInvalidArgument):
			writeError(w, http.StatusBadRequest, "plan_id is required")
		default:
			writeError(w, http.StatusInternalServerError, "failed to create order")
		}
		return
	}

	// The storefront expects one round trip: order plus the redirect URL.
	url, err := s.orders.BeginCheckout(r.Context(), p.ID)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
		}
		return
	}
	writeJSON(w, http.StatusCreated, orderResponse{
		PaymentID:      p.ID,
		Status:         string(p.Status),
		Amount:         p.Amount,
		OriginalAmount: p.OriginalAmount,
		Promocode:      p.Promocode,
		CheckoutURL:    url,
	})
}

// ownOrder loads the order's view and enforces that it belongs to the
// authenticated subscriber.
func (s *Server) ownOrder(w http.ResponseWriter, r *http.Request) (*usecase.OrderView, bool) {
	view, err := s.orders.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
		} else {
			writeError(w, http.StatusInternalServerError, "failed to load order")
		}
		return nil, false
	}
	if view.Payment.UserID != UserID(r.Context()) {
		writeError(w, http.StatusNotFound, "order not found")
		return nil, false
	}
	return view, true
}

func (s *Server) handleBeginCheckout(w http.ResponseWriter, r *http.Request) {
	view, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	url, err := s.orders.BeginCheckout(r.Context(), view.Payment.ID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderAlreadyFailed):
			writeError(w, http.StatusConflict, "order is not pending")
		case errors.Is(err, domain.ErrGatewayUnavailable):
			writeError(w, http.StatusBadGateway, "payment provider unavailable")
		default:
			writeError(w, http.StatusInternalServerError, "failed to start checkout")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payment_url": url})
}

type subscriptionResponse struct {
	ID        string    `json:"id"`
	PlanID    string    `json:"plan_id"`
	VlessLink string    `json:"vless_link"`
	ExpiresAt time.Time `json:"expires_at"`
	Active    bool      `json:"active"`
}

func (s *Server) handleOrderStatus(w http.ResponseWriter, r *http.Request) {
	view, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	resp := map[string]interface{}{
		"payment_id": view.Payment.ID,
		"status":     string(view.Payment.Status),
		"amount":     view.Payment.Amount,
	}
	if view.Subscription != nil {
		resp["subscription"] = subscriptionResponse{
			ID:        view.Subscription.ID,
			PlanID:    view.Subscription.PlanID,
			VlessLink: view.Subscription.VlessLink,
			ExpiresAt: view.Subscription.ExpiresAt,
			Active:    !view.Subscription.Expired(time.Now()),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.orders.ListSubscriptions(r.Context(), UserID(r.Context()))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}
	now := time.Now()
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subscriptionResponse{
			ID:        sub.ID,
			PlanID:    sub.PlanID,
			VlessLink: sub.VlessLink,
			ExpiresAt: sub.ExpiresAt,
			Active:    !sub.Expired(now),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": out})
}

// ---- provider notifications ----

type yooKassaNotification struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

// handleYooKassaWebhook authenticates the notification body and hands the
// settlement work to the worker pool so the provider gets its ack without
// waiting on the provisioner. Duplicate deliveries are harmless; Complete
// is idempotent.
func (s *Server) handleYooKassaWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		writeError(w, http.StatusBadRequest, "empty request body")
		return
	}

	signature := r.Header.Get("X-Yookassa-Signature")
	if signature == "" {
		signature = r.Header.Get("Signature")
	}
	if !s.gateway.VerifySignature(body, signature) {
		metrics.IncWebhookSignatureFailure(s.gateway.Name())
		s.log.Warn().Str("provider", s.gateway.Name()).Msg("webhook signature rejected")
		writeError(w, http.StatusForbidden, "invalid signature")
		return
	}

	var n yooKassaNotification
	if err := json.Unmarshal(body, &n); err != nil || n.Object.ID == "" {
		writeError(w, http.StatusBadRequest, "invalid notification")
		return
	}

	externalID := n.Object.ID
	switch n.Event {
	case "payment.succeeded":
		s.submit(func(ctx context.Context) error {
			_, err := s.orders.Complete(ctx, usecase.CompletionRef{ExternalID: externalID})
			return ignorePending(err)
		})
	case "payment.waiting_for_capture":
		s.submit(func(ctx context.Context) error {
			if err := s.gateway.Capture(ctx, externalID); err != nil && !errors.Is(err, domain.ErrUnsupported) {
				return err
			}
			_, err := s.orders.Complete(ctx, usecase.CompletionRef{ExternalID: externalID})
			return ignorePending(err)
		})
	case "payment.canceled":
		s.submit(func(ctx context.Context) error {
			return s.orders.FailByExternalID(ctx, externalID)
		})
	default:
		s.log.Debug().Str("event", n.Event).Msg("webhook event ignored")
	}

	// The provider retries anything that is not acknowledged; once the body
	// is authenticated and parsed, always ack.
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// handleRobokassaCallback is the ResultURL endpoint. Robokassa retries
// until it sees the literal "OK", so that is the answer for every
// authenticated request, found order or not.
func (s *Server) handleRobokassaCallback(w http.ResponseWriter, r *http.Request) {
	outSum, invID, signature := callbackParams(r)
	if outSum == "" || signature == "" {
		http.Error(w, "missing parameters", http.StatusBadRequest)
		return
	}

	canonical := pay.CanonicalCallback(outSum, invID)
	if !s.gateway.VerifySignature([]byte(canonical), signature) {
		metrics.IncWebhookSignatureFailure(s.gateway.Name())
		s.log.Warn().Str("provider", s.gateway.Name()).Msg("callback signature rejected")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	amount, err := parseOutSum(outSum)
	if err != nil {
		http.Error(w, "invalid OutSum", http.StatusBadRequest)
		return
	}

	s.submit(func(ctx context.Context) error {
		_, err := s.orders.Complete(ctx, usecase.CompletionRef{Amount: amount})
		if errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Int64("amount", amount).Msg("callback matched no order")
			return nil
		}
		return ignorePending(err)
	})

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

// successVerifier is implemented by gateways whose browser success
// redirect carries its own signature (Robokassa, with Password_1).
type successVerifier interface {
	VerifySuccessSignature(canonical, signature string) bool
}

// handlePaymentSuccess is the browser return leg. It settles the order
// when the redirect is authentic, then sends the user to the storefront
// result page. The ResultURL callback remains the primary signal; this
// path only narrows the gap when the callback is delayed.
func (s *Server) handlePaymentSuccess(w http.ResponseWriter, r *http.Request) {
	outSum, invID, signature := callbackParams(r)

	v, ok := s.gateway.(successVerifier)
	if ok && outSum != "" && signature != "" && v.VerifySuccessSignature(pay.CanonicalCallback(outSum, invID), signature) {
		if amount, err := parseOutSum(outSum); err == nil {
			if _, err := s.orders.Complete(r.Context(), usecase.CompletionRef{Amount: amount}); err != nil &&
				!errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrProvisioningPending) {
				s.log.Error().Err(err).Msg("success redirect completion failed")
			}
		}
	}

	http.Redirect(w, r, s.frontBase+"/checkout/success", http.StatusSeeOther)
}

// handlePaymentFail marks the referenced order failed and bounces the
// user to the retry page. Unsigned, so it only ever moves pending to
// failed, which the user could also achieve by abandoning checkout.
func (s *Server) handlePaymentFail(w http.ResponseWriter, r *http.Request) {
	if id := r.URL.Query().Get("paymentId"); id != "" {
		if err := s.orders.Fail(r.Context(), id); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.log.Warn().Str("payment_id", id).Err(err).Msg("fail redirect not applied")
		}
	}
	http.Redirect(w, r, s.frontBase+"/checkout/fail", http.StatusSeeOther)
}

// ---- admin ----

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Overview(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"users":          st.Users,
		"active_by_plan": st.ActiveByPlan,
		"revenue": map[string]int64{
			"day":   st.RevenueDay,
			"week":  st.RevenueWeek,
			"month": st.RevenueMonth,
		},
	})
}

type setPriceRequest struct {
	Price int64 `json:"price"` // kopecks
}

func (s *Server) handleSetPlanPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := s.plans.SetPrice(r.Context(), chi.URLParam(r, "id"), req.Price)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPlan):
			writeError(w, http.StatusNotFound, "unknown plan")
		case errors.Is(err, domain.ErrInvalidAmount):
			writeError(w, http.StatusBadRequest, "price must be positive")
		default:
			writeError(w, http.StatusInternalServerError, "failed to set price")
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createPromocodeRequest struct {
	Code      string     `json:"code"`
	Type      string     `json:"type"` // percentage|fixed
	Value     int64      `json:"value"`
	MinAmount int64      `json:"min_amount"`
	MaxUses   int        `json:"max_uses"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (s *Server) handleCreatePromocode(w http.ResponseWriter, r *http.Request) {
	var req createPromocodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pc := &model.Promocode{
		Code:      req.Code,
		Type:      model.DiscountType(req.Type),
		Value:     req.Value,
		MinAmount: req.MinAmount,
		MaxUses:   req.MaxUses,
		ExpiresAt: req.ExpiresAt,
		Active:    true,
	}
	if err := s.promos.Create(r.Context(), pc); err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, "invalid promocode definition")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create promocode")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"code": pc.Code})
}

// ---- helpers ----

func callbackParams(r *http.Request) (outSum, invID, signature string) {
	if r.Method == http.MethodPost {
		r.ParseForm()
		return r.PostFormValue("OutSum"), r.PostFormValue("InvId"), r.PostFormValue("SignatureValue")
	}
	q := r.URL.Query()
	return q.Get("OutSum"), q.Get("InvId"), q.Get("SignatureValue")
}

// parseOutSum converts the provider's decimal rubles ("199" or "199.00")
// to kopecks.
func parseOutSum(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	return int64(math.Round(f * 100)), nil
}

func ignorePending(err error) error {
	if errors.Is(err, domain.ErrProvisioningPending) {
		return nil
	}
	return err
}

// submit hands a task to the worker pool, falling back to inline
// execution when the pool is saturated or absent (tests).
func (s *Server) submit(task worker.Task) {
	if s.pool == nil {
		if err := task(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("inline task failed")
		}
		return
	}
	if err := s.pool.Submit(task); err != nil {
		s.log.Warn().Err(err).Msg("worker pool rejected task, running inline")
		if err := task(context.Background()); err != nil {
			s.log.Error().Err(err).Msg("inline task failed")
		}
	}
}
