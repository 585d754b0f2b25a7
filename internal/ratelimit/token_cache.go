package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Generator signs a fresh token valid from now.
type Generator func(ctx context.Context, now time.Time) (Token, error)

// TokenCache serves a signed token until it is within buffer of its expiry.
// Readers never take a lock; concurrent misses share a single generation.
type TokenCache struct {
	generate Generator
	buffer   time.Duration
	now      func() time.Time

	current atomic.Pointer[Token]
	group   singleflight.Group
}

func NewTokenCache(generate Generator, buffer time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{generate: generate, buffer: buffer, now: now}
}

func (c *TokenCache) Get(ctx context.Context) (string, error) {
	if token := c.current.Load(); token != nil && c.fresh(token) {
		return token.Value, nil
	}

	value, err, _ := c.group.Do("token", func() (interface{}, error) {
		if token := c.current.Load(); token != nil && c.fresh(token) {
			return token.Value, nil
		}
		token, err := c.generate(ctx, c.now())
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		if token.Value == "" {
			return "", errors.New("generate token: empty token")
		}
		c.current.Store(&token)
		return token.Value, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

// Invalidate drops the cached token only if it is still the one the caller
// saw rejected, so a token refreshed concurrently survives.
func (c *TokenCache) Invalidate(value string) {
	token := c.current.Load()
	if token == nil || token.Value != value {
		return
	}
	c.current.CompareAndSwap(token, nil)
}

// fresh holds through the instant the buffer begins.
func (c *TokenCache) fresh(token *Token) bool {
	return !c.now().After(token.ExpiresAt.Add(-c.buffer))
}
