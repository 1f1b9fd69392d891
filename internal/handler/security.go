package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cargo-orchestrator/internal/domain/auth"
)

const apiKeyHeader = "X-API-Key"

type principalKey struct{}

func principalFrom(ctx context.Context) *auth.APIKeyInfo {
	k, _ := ctx.Value(principalKey{}).(*auth.APIKeyInfo)
	return k
}

// apiKey reads the key from X-API-Key or an "ApiKey" authorization header.
func apiKey(r *http.Request) string {
	if k := r.Header.Get(apiKeyHeader); k != "" {
		return k
	}
	scheme, key, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "ApiKey") {
		return strings.TrimSpace(key)
	}
	return ""
}

// authenticate resolves the caller's API key to a customer and stores it in
// the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		info, err := h.auth.Authenticate(ctx, apiKey(r))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				zctx.From(ctx).Error("Authenticate API key", zap.Error(err))
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", nil)
			return
		}

		ctx = zctx.With(ctx, zap.String("api_key", info.ID), zap.String("customer_id", info.CustomerID))
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, principalKey{}, info)))
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p := principalFrom(r.Context()); p == nil || !p.Has(auth.ScopeAdmin) {
			writeError(w, http.StatusForbidden, "admin scope required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// customerKey keys the shipment rate limit by customer.
func customerKey(r *http.Request) string {
	if p := principalFrom(r.Context()); p != nil {
		if p.CustomerID != "" {
			return "customer:" + p.CustomerID
		}
		return "key:" + p.ID
	}
	return r.RemoteAddr
}

// scope returns the customer whose orders the caller may touch. Admin keys
// without a customer may touch every order and get "".
func scope(ctx context.Context) string {
	p := principalFrom(ctx)
	if p.CustomerID == "" && p.Has(auth.ScopeAdmin) {
		return ""
	}
	return p.CustomerID
}
