// Package handler exposes the shipment, wallet and plan operations over
// HTTP. It is the only layer that maps domain errors to status codes.
package handler

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
	"github.com/xenking/cargo-orchestrator/internal/domain/plan"
	"github.com/xenking/cargo-orchestrator/internal/domain/shipment"
	"github.com/xenking/cargo-orchestrator/internal/domain/wallet"
	"github.com/xenking/cargo-orchestrator/pkg/httpmiddleware"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// CreateLimit throttles shipment creation per customer. A zero Max
	// disables it.
	CreateLimit httpmiddleware.RateLimitConfig
}

// Deps are the domain services behind the API.
type Deps struct {
	Orchestrator *shipment.Orchestrator
	Canceller    *shipment.Canceller
	Ledger       *wallet.Ledger
	Plans        *plan.Service
	Auth         *auth.Authenticator
}

// Handler serves the JSON API.
type Handler struct {
	cfg       Config
	orch      *shipment.Orchestrator
	canceller *shipment.Canceller
	ledger    *wallet.Ledger
	plans     *plan.Service
	auth      *auth.Authenticator
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg Config, d Deps) *Handler {
	return &Handler{
		cfg:       cfg,
		orch:      d.Orchestrator,
		canceller: d.Canceller,
		ledger:    d.Ledger,
		plans:     d.Plans,
		auth:      d.Auth,
	}
}

// Register mounts the API under /api. ctx bounds the rate limiter's
// background cleanup.
func (h *Handler) Register(ctx context.Context, r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(h.authenticate)

	// Orders
	api.HandleFunc("/quotes", h.Quote).Methods(http.MethodPost)
	api.HandleFunc("/orders", h.CreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}", h.GetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/quotes", h.QuoteOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/cancel", h.CancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/{id}/shipment", h.GetShipment).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/tracking", h.Track).Methods(http.MethodGet)

	// Shipments
	var create http.Handler = http.HandlerFunc(h.CreateShipment)
	if h.cfg.CreateLimit.Max > 0 {
		limit := h.cfg.CreateLimit
		limit.KeyFunc = customerKey
		create = httpmiddleware.RateLimitWithCleanup(ctx, limit)(create)
	}
	api.Handle("/shipments", create).Methods(http.MethodPost)

	// Wallet
	api.HandleFunc("/wallet", h.GetWallet).Methods(http.MethodGet)

	// Administration
	admin := api.NewRoute().Subrouter()
	admin.Use(requireAdmin)
	admin.HandleFunc("/wallets/{customerId}", h.GetCustomerWallet).Methods(http.MethodGet)
	admin.HandleFunc("/plans", h.ListPlans).Methods(http.MethodGet)
	admin.HandleFunc("/plans/{customerId}", h.AssignPlan).Methods(http.MethodPut)
}
