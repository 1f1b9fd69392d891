package shiprocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/cargo-orchestrator/internal/domain/carrier"
)

const defaultTokenTTL = time.Hour

// TokenSource exchanges a long-lived refresh token for access tokens and
// caches them until they expire or are invalidated. Concurrent refreshes
// are collapsed into one request.
type TokenSource struct {
	client  *Client
	refresh string
	ttl     time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

var _ carrier.AuthProvider = (*TokenSource)(nil)

// NewTokenSource creates a TokenSource. A zero ttl uses one hour.
func NewTokenSource(client *Client, refreshToken string, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenSource{
		client:  client,
		refresh: refreshToken,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Token returns a cached access token or fetches a new one.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cached(); ok {
		return tok, nil
	}

	v, err, _ := s.group.Do("refresh", func() (any, error) {
		if tok, ok := s.cached(); ok {
			return tok, nil
		}
		// The refresh outlives any single caller.
		return s.fetch(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) cached() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" || !s.now().Before(s.expires) {
		return "", false
	}
	return s.token, true
}

// Invalidate drops the cached token.
func (s *TokenSource) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expires = time.Time{}
}

func (s *TokenSource) fetch(ctx context.Context) (string, error) {
	const op = "refresh token"

	if s.refresh == "" {
		return "", &carrier.Error{Op: op, Err: errors.New("no refresh token configured")}
	}

	body, err := s.client.do(ctx, op, http.MethodPost, s.client.cfg.BaseURL+refreshPath, "", encodeRefresh(s.refresh))
	if err != nil {
		return "", err
	}

	var access string
	if err := jx.DecodeBytes(body).Obj(func(d *jx.Decoder, key string) error {
		if key != "access" {
			return d.Skip()
		}
		v, err := readString(d)
		access = v
		return err
	}); err != nil {
		return "", &carrier.Error{Op: op, Payload: body, Err: errors.Wrap(err, "decode")}
	}
	if access == "" {
		return "", &carrier.Error{Op: op, Payload: body, Err: errors.New("response has no access token")}
	}

	s.mu.Lock()
	s.token = access
	s.expires = s.now().Add(s.ttl)
	s.mu.Unlock()

	zctx.From(ctx).Info("Carrier token refreshed", zap.Duration("ttl", s.ttl))
	return access, nil
}
