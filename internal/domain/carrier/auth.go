package carrier

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/cargo-orchestrator/internal/domain/pricing"
)

// WithToken runs call with a carrier token. If the carrier rejects the
// token, the token is invalidated and call runs once more with a fresh one.
func WithToken[T any](ctx context.Context, auth AuthProvider, call func(ctx context.Context, token string) (T, error)) (T, error) {
	var zero T

	token, err := auth.Token(ctx)
	if err != nil {
		return zero, errors.Wrap(err, "carrier token")
	}

	res, err := call(ctx, token)
	if !errors.Is(err, ErrUnauthorized) {
		return res, err
	}

	auth.Invalidate()
	token, err = auth.Token(ctx)
	if err != nil {
		return zero, errors.Wrap(err, "refresh carrier token")
	}
	return call(ctx, token)
}

// RateFeed adapts a Gateway to pricing.RateSource.
type RateFeed struct {
	Gateway Gateway
	Auth    AuthProvider
}

var _ pricing.RateSource = RateFeed{}

// Charges implements pricing.RateSource.
func (f RateFeed) Charges(ctx context.Context, req pricing.QuoteRequest) ([]pricing.ServiceCharges, error) {
	return WithToken(ctx, f.Auth, func(ctx context.Context, token string) ([]pricing.ServiceCharges, error) {
		return f.Gateway.Charges(ctx, token, req)
	})
}
