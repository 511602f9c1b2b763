package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/so2vaso3-web/passve-sub001/internal/api/handler"
	"github.com/so2vaso3-web/passve-sub001/internal/api/middleware"
	"github.com/so2vaso3-web/passve-sub001/internal/api/spec"
	"github.com/so2vaso3-web/passve-sub001/internal/config"
	"github.com/so2vaso3-web/passve-sub001/internal/domain"
	"github.com/so2vaso3-web/passve-sub001/internal/idempotency"
	"github.com/so2vaso3-web/passve-sub001/internal/service"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services bundles what the HTTP layer calls into.
type Services struct {
	Settlement     *service.SettlementService
	Wallets        *service.WalletService
	Webhooks       *service.WebhookService
	Reconciliation *service.ReconciliationService
}

type Router struct {
	cfg    *config.Config
	logger *zap.Logger
	store  handler.Pinger
	idem   *idempotency.Store
	redis  redis.Cmdable
	svc    Services
}

func NewRouter(cfg *config.Config, logger *zap.Logger, store handler.Pinger, idem *idempotency.Store, redis redis.Cmdable, svc Services) *Router {
	return &Router{cfg: cfg, logger: logger, store: store, idem: idem, redis: redis, svc: svc}
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.store, api.redis)
	ticketHandler := handler.NewTicketHandler(api.svc.Settlement, api.svc.Wallets)
	walletHandler := handler.NewWalletHandler(api.svc.Wallets)
	adminHandler := handler.NewAdminHandler(api.svc.Settlement, api.svc.Reconciliation)
	webhookHandler := handler.NewWebhookHandler(api.svc.Webhooks)

	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/openapi.yaml", spec.OpenAPIHandler())
	r.Get("/docs/*", httpSwagger.Handler(httpSwagger.URL("/openapi.yaml")))

	// Gateway callbacks authenticate with the HMAC signature, not a JWT.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Post("/v1/webhooks/payment", webhookHandler.HandlePaymentWebhook)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))
		r.Use(middleware.IdempotencyMiddleware(api.idem, api.logger))

		r.Route("/v1/tickets/{id}", func(r chi.Router) {
			r.Get("/", ticketHandler.Get)
			r.Post("/buy", ticketHandler.Buy)
			r.Post("/confirm", ticketHandler.Confirm)
			r.Post("/cancel", ticketHandler.Cancel)
			r.Get("/code", ticketHandler.Code)
			r.Post("/code", ticketHandler.DeliverCode)
			r.Get("/transactions", ticketHandler.Transactions)
		})

		r.Route("/v1/wallet", func(r chi.Router) {
			r.Get("/", walletHandler.Get)
			r.Get("/transactions", walletHandler.Transactions)
			r.Post("/deposits", walletHandler.Deposit)
			r.Post("/withdrawals", walletHandler.Withdraw)
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Post("/tickets/{id}/moderate", ticketHandler.Moderate)
			r.Post("/tickets/{id}/force-sell", ticketHandler.ForceSell)
			r.Post("/tickets/{id}/cancel", ticketHandler.Cancel)
			r.Post("/wallets/{userID}/adjust", walletHandler.AdjustBalance)
			r.Post("/withdrawals/{id}/approve", walletHandler.ApproveWithdrawal)
			r.Post("/withdrawals/{id}/reject", walletHandler.RejectWithdrawal)
			r.Post("/deposits/confirm-batch", walletHandler.ConfirmPendingDeposits)
			r.Post("/sweeps/settle-delivered", adminHandler.SettleDelivered)
			r.Post("/sweeps/release-holds", adminHandler.ReleaseHolds)
			r.Post("/sweeps/expire-listings", adminHandler.ExpireListings)
			r.Get("/reconciliation", adminHandler.Reconciliation)
		})
	})

	return r
}
