package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"timersync/backend/internal/ratelimit"
)

// LoadKey reads a .p8 signing key from disk.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return ParseKey(raw)
}

func ParseKey(raw []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("signing key is not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("signing key is not an ECDSA key")
	}
	return key, nil
}

// ProviderTokenGenerator signs ES256 provider tokens. Extra claims are merged
// into the token, which lets the billing client reuse it with its audience.
func ProviderTokenGenerator(key *ecdsa.PrivateKey, keyID, issuer string, ttl time.Duration, extra jwt.MapClaims) ratelimit.Generator {
	return func(ctx context.Context, now time.Time) (ratelimit.Token, error) {
		claims := jwt.MapClaims{
			"iss": issuer,
			"iat": now.Unix(),
		}
		for k, v := range extra {
			claims[k] = v
		}
		expiresAt := now.Add(ttl)
		if _, ok := extra["aud"]; ok {
			claims["exp"] = expiresAt.Unix()
		}

		token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		token.Header["kid"] = keyID
		signed, err := token.SignedString(key)
		if err != nil {
			return ratelimit.Token{}, fmt.Errorf("sign provider token: %w", err)
		}
		return ratelimit.Token{Value: signed, ExpiresAt: expiresAt}, nil
	}
}
