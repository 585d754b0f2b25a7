// Package billing talks to the App Store Connect API. It shares the rate
// limiter and token cache with the push client.
package billing

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"timersync/backend/internal/apns"
	"timersync/backend/internal/ratelimit"
)

const (
	BaseURL  = "https://api.appstoreconnect.apple.com/v1"
	audience = "appstoreconnect-v1"
)

var (
	ErrRateLimited = errors.New("app store connect rate limit exceeded")
	ErrAuth        = errors.New("app store connect authentication failed")
)

// RequestError carries a non-success response that is neither 401 nor 429.
type RequestError struct {
	Status int
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("app store connect request failed: status %d", e.Status)
}

type Config struct {
	KeyID       string
	IssuerID    string
	Key         *ecdsa.PrivateKey
	MaxRequests int
	Window      time.Duration
	TokenTTL    time.Duration
	TokenBuffer time.Duration
	Timeout     time.Duration
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = 200
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = 20 * time.Minute
	}
	if c.TokenBuffer <= 0 {
		c.TokenBuffer = 5 * time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *ratelimit.Limiter
	tokens     *ratelimit.TokenCache
	logger     *slog.Logger
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) { c.httpClient = httpClient }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Key == nil || cfg.KeyID == "" || cfg.IssuerID == "" {
		return nil, errors.New("billing: key, key id and issuer id are required")
	}
	cfg = cfg.withDefaults()

	generate := apns.ProviderTokenGenerator(cfg.Key, cfg.KeyID, cfg.IssuerID, cfg.TokenTTL, jwt.MapClaims{
		"aud": audience,
		"sub": cfg.KeyID,
	})
	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    BaseURL,
		limiter:    ratelimit.NewLimiter(cfg.Window, cfg.MaxRequests, cfg.Now),
		tokens:     ratelimit.NewTokenCache(generate, cfg.TokenBuffer, cfg.Now),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetSubscriptionProduct looks up subscriptions by their store product ID and
// returns the raw JSON:API document.
func (c *Client) GetSubscriptionProduct(ctx context.Context, productID string) (json.RawMessage, error) {
	query := url.Values{}
	query.Set("filter[productId]", productID)
	return c.get(ctx, "/subscriptions?"+query.Encode())
}

func (c *Client) RateLimitStatus() ratelimit.Status {
	return c.limiter.Status()
}

func (c *Client) get(ctx context.Context, endpoint string) (json.RawMessage, error) {
	if err := c.limiter.CheckAndConsume(); err != nil {
		return nil, err
	}
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("app store connect request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("app store connect rate limited", "endpoint", endpoint)
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		c.tokens.Invalidate(token)
		c.logger.Error("app store connect rejected token", "endpoint", endpoint)
		return nil, ErrAuth
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		c.logger.Error("app store connect error", "endpoint", endpoint, "status", resp.StatusCode)
		return nil, &RequestError{Status: resp.StatusCode, Body: string(body)}
	}
	return json.RawMessage(body), nil
}
