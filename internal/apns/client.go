// Package apns sends live activity pushes over HTTP/2 using token based
// provider authentication.
package apns

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"timersync/backend/internal/model"
	"timersync/backend/internal/ratelimit"
)

const (
	ProductionURL  = "https://api.push.apple.com"
	DevelopmentURL = "https://api.development.push.apple.com"

	liveActivitySuffix = ".push-type.liveactivity"
)

type Config struct {
	KeyID       string
	TeamID      string
	Key         *ecdsa.PrivateKey
	Topic       string
	Environment string
	TokenTTL    time.Duration
	TokenBuffer time.Duration
	Now         func() time.Time
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	topic      string
	tokens     *ratelimit.TokenCache
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP/2 transport and endpoint.
func WithHTTPClient(httpClient *http.Client, baseURL string) Option {
	return func(c *Client) {
		c.httpClient = httpClient
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Key == nil || cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, errors.New("apns: key, key id and team id are required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("apns: topic is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = time.Hour
	}
	if cfg.TokenBuffer <= 0 {
		cfg.TokenBuffer = 5 * time.Minute
	}

	baseURL := ProductionURL
	if cfg.Environment == model.EnvironmentDevelopment {
		baseURL = DevelopmentURL
	}

	c := &Client{
		httpClient: &http.Client{Transport: &http2.Transport{}},
		baseURL:    baseURL,
		topic:      LiveActivityTopic(cfg.Topic),
		tokens: ratelimit.NewTokenCache(
			ProviderTokenGenerator(cfg.Key, cfg.KeyID, cfg.TeamID, cfg.TokenTTL, nil),
			cfg.TokenBuffer,
			cfg.Now,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// LiveActivityTopic appends the live activity push type suffix to a bundle id.
func LiveActivityTopic(bundleID string) string {
	if strings.HasSuffix(bundleID, liveActivitySuffix) {
		return bundleID
	}
	return bundleID + liveActivitySuffix
}

type Notification struct {
	DeviceToken string
	Topic       string
	Priority    int
	Expiration  time.Time
	Payload     []byte
}

type Response struct {
	StatusCode int
	APNsID     string
}

type errorBody struct {
	Reason    string `json:"reason"`
	Timestamp int64  `json:"timestamp"`
}

// Send posts one notification. A rejected provider token is dropped from the
// cache before the error is returned so the next attempt signs a fresh one.
func (c *Client) Send(ctx context.Context, n Notification) (Response, error) {
	token, err := c.tokens.Get(ctx)
	if err != nil {
		return Response{}, err
	}

	topic := c.topic
	if n.Topic != "" {
		topic = LiveActivityTopic(n.Topic)
	}

	url := fmt.Sprintf("%s/3/device/%s", c.baseURL, n.DeviceToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(n.Payload))
	if err != nil {
		return Response{}, fmt.Errorf("build apns request: %w", err)
	}
	req.Header.Set("authorization", "bearer "+token)
	req.Header.Set("apns-push-type", "liveactivity")
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-priority", strconv.Itoa(n.Priority))
	expiration := int64(0)
	if !n.Expiration.IsZero() {
		expiration = n.Expiration.Unix()
	}
	req.Header.Set("apns-expiration", strconv.FormatInt(expiration, 10))
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("send apns request: %w", err)
	}
	defer resp.Body.Close()

	result := Response{StatusCode: resp.StatusCode, APNsID: resp.Header.Get("apns-id")}
	if resp.StatusCode == http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return result, nil
	}

	apnsErr := &Error{Status: resp.StatusCode, APNsID: result.APNsID}
	var body errorBody
	if raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil && len(raw) > 0 {
		if json.Unmarshal(raw, &body) == nil {
			apnsErr.Reason = body.Reason
			if body.Timestamp > 0 {
				apnsErr.Timestamp = time.UnixMilli(body.Timestamp).UTC()
			}
		}
	}
	if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
		if seconds, convErr := strconv.Atoi(retryAfter); convErr == nil && seconds > 0 {
			apnsErr.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	if apnsErr.IsAuth() {
		c.tokens.Invalidate(token)
	}
	return result, apnsErr
}
