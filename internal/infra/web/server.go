package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vpn-subscription-store/internal/config"
	"vpn-subscription-store/internal/domain/ports/adapter"
	red "vpn-subscription-store/internal/infra/redis"
	"vpn-subscription-store/internal/infra/worker"
	"vpn-subscription-store/internal/usecase"
)

// Server owns the public HTTP surface: storefront API, provider
// notification endpoints and the admin API.
type Server struct {
	orders  usecase.OrderUseCase
	plans   usecase.PlanUseCase
	promos  usecase.PromocodeUseCase
	stats   usecase.StatsUseCase
	gateway adapter.CheckoutGateway

	pool    *worker.Pool
	limiter *red.RateLimiter

	jwtSecret string
	frontBase string
	dev       bool

	httpServer *http.Server
	log        zerolog.Logger
}

func NewServer(
	cfg *config.Config,
	orders usecase.OrderUseCase,
	plans usecase.PlanUseCase,
	promos usecase.PromocodeUseCase,
	stats usecase.StatsUseCase,
	gateway adapter.CheckoutGateway,
	pool *worker.Pool,
	limiter *red.RateLimiter,
	log zerolog.Logger,
) *Server {
	s := &Server{
		orders:    orders,
		plans:     plans,
		promos:    promos,
		stats:     stats,
		gateway:   gateway,
		pool:      pool,
		limiter:   limiter,
		jwtSecret: cfg.Server.JWTSecret,
		frontBase: cfg.Server.FrontBase,
		dev:       cfg.Runtime.Dev,
		log:       log.With().Str("component", "web").Logger(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi mux. Exposed separately so tests can drive it
// with httptest without binding a port.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// public storefront
		r.Get("/plans", s.handleListPlans)
		r.Post("/promocodes/validate", s.handleValidatePromocode)

		// provider notification channels; authenticated by signature, not JWT
		r.Post("/payment/webhook", s.handleYooKassaWebhook)
		r.Post("/payment/callback", s.handleRobokassaCallback)
		r.Get("/payment/callback", s.handleRobokassaCallback)
		r.Get("/payment/success", s.handlePaymentSuccess)
		r.Get("/payment/fail", s.handlePaymentFail)

		// subscriber API
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/orders", s.handleCreateOrder)
			r.Post("/orders/{id}/checkout", s.handleBeginCheckout)
			r.Get("/orders/{id}/status", s.handleOrderStatus)
			r.Get("/subscriptions", s.handleListSubscriptions)
		})

		// admin API
		r.Group(func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Get("/admin/stats", s.handleStats)
			r.Put("/admin/plans/{id}/price", s.handleSetPlanPrice)
			r.Post("/admin/promocodes", s.handleCreatePromocode)
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
