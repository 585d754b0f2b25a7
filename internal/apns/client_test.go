package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	key := newKey(t)
	client, err := NewClient(Config{
		KeyID:  "KEY123",
		TeamID: "TEAM456",
		Key:    key,
		Topic:  "com.example.timer",
	}, WithHTTPClient(server.Client(), server.URL))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, key
}

func TestSendSetsLiveActivityHeaders(t *testing.T) {
	var got *http.Request
	var body string
	client, key := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.Header().Set("apns-id", "abc-123")
		w.WriteHeader(http.StatusOK)
	})

	resp, err := client.Send(context.Background(), Notification{
		DeviceToken: "devicetoken",
		Priority:    10,
		Payload:     []byte(`{"aps":{}}`),
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if resp.APNsID != "abc-123" {
		t.Fatalf("unexpected apns id %q", resp.APNsID)
	}
	if got.URL.Path != "/3/device/devicetoken" {
		t.Fatalf("unexpected path %s", got.URL.Path)
	}
	if got.Header.Get("apns-topic") != "com.example.timer.push-type.liveactivity" {
		t.Fatalf("unexpected topic %s", got.Header.Get("apns-topic"))
	}
	if got.Header.Get("apns-push-type") != "liveactivity" || got.Header.Get("apns-priority") != "10" {
		t.Fatalf("unexpected headers %v", got.Header)
	}
	if body != `{"aps":{}}` {
		t.Fatalf("unexpected body %s", body)
	}

	raw := strings.TrimPrefix(got.Header.Get("authorization"), "bearer ")
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil || !token.Valid {
		t.Fatalf("provider token invalid: %v", err)
	}
	if token.Header["kid"] != "KEY123" {
		t.Fatalf("unexpected kid %v", token.Header["kid"])
	}
	if iss, _ := token.Claims.GetIssuer(); iss != "TEAM456" {
		t.Fatalf("unexpected issuer %s", iss)
	}
}

func TestSendMapsErrorsAndInvalidatesRejectedToken(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	status := http.StatusForbidden
	reason := ReasonExpiredProviderToken

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		tokens = append(tokens, r.Header.Get("authorization"))
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"reason":"`+reason+`"}`)
	})

	_, err := client.Send(context.Background(), Notification{DeviceToken: "t", Priority: 5})
	var apnsErr *Error
	if !errors.As(err, &apnsErr) || !apnsErr.IsAuth() {
		t.Fatalf("expected auth error, got %v", err)
	}

	status, reason = http.StatusGone, ReasonUnregistered
	_, err = client.Send(context.Background(), Notification{DeviceToken: "t", Priority: 5})
	if !errors.As(err, &apnsErr) || !apnsErr.IsGone() {
		t.Fatalf("expected gone error, got %v", err)
	}

	if tokens[0] == tokens[1] {
		t.Fatal("rejected provider token was reused")
	}
}

func TestSendParsesRetryAfter(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"reason":"TooManyRequests"}`)
	})

	_, err := client.Send(context.Background(), Notification{DeviceToken: "t"})
	var apnsErr *Error
	if !errors.As(err, &apnsErr) || !apnsErr.IsRateLimited() {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if apnsErr.RetryAfter != 7*time.Second {
		t.Fatalf("expected 7s retry-after, got %s", apnsErr.RetryAfter)
	}
}

func TestParseKeyRoundTrip(t *testing.T) {
	key := newKey(t)
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	raw := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	parsed, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	if !parsed.Equal(key) {
		t.Fatal("parsed key differs")
	}
	if _, err := ParseKey([]byte("not a key")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestLiveActivityTopicIsIdempotent(t *testing.T) {
	once := LiveActivityTopic("com.example.timer")
	if LiveActivityTopic(once) != once {
		t.Fatalf("suffix applied twice: %s", LiveActivityTopic(once))
	}
}
