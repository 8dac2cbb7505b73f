package apns

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func TestTokenCacheReusesUntilRefreshWindow(t *testing.T) {
	key := testKey(t)
	c := NewTokenCache("KID123", "TEAM42", key, DefaultTokenTTL)
	clock := time.Date(2024, 3, 4, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	first, err := c.Token()
	require.NoError(t, err)

	clock = clock.Add(DefaultTokenTTL - refreshMargin - time.Second)
	second, err := c.Token()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	clock = clock.Add(2 * time.Second)
	third, err := c.Token()
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	parsed, err := jwt.Parse(third, func(tok *jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	require.NoError(t, err)
	assert.Equal(t, "KID123", parsed.Header["kid"])
	iss, err := parsed.Claims.GetIssuer()
	require.NoError(t, err)
	assert.Equal(t, "TEAM42", iss)
}

func TestTokenCacheConcurrentAccess(t *testing.T) {
	c := NewTokenCache("KID", "TEAM", testKey(t), 40*time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := c.Token()
			assert.NoError(t, err)
			assert.NotEmpty(t, tok)
		}()
	}
	wg.Wait()
}

func TestSendCriticalPayload(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		body    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("authorization")
		assert.Equal(t, "com.example.wellness", r.Header.Get("apns-topic"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("apns-id", "apns-1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(NewTokenCache("KID", "TEAM", testKey(t), time.Hour), "com.example.wellness", false)
	c.push.Host = srv.URL
	c.push.HTTPClient = srv.Client()

	id, err := c.Send(context.Background(), Notification{
		DeviceToken:  "abc",
		Title:        "Ana missed a check-in",
		Body:         "48 hours",
		Category:     "WELLNESS_ALERT",
		Interruption: InterruptionCritical,
		Data:         map[string]string{"alert_id": "a1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "apns-1", id)
	assert.Equal(t, "/3/device/abc", gotPath)
	assert.True(t, strings.HasPrefix(gotAuth, "bearer "))
	assert.Equal(t, "a1", body["alert_id"])

	a := body["aps"].(map[string]any)
	assert.Equal(t, "critical", a["interruption-level"])
	sound := a["sound"].(map[string]any)
	assert.Equal(t, float64(1), sound["critical"])
}

func TestSendReportsReasonAndInvalidatesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"reason":"ExpiredProviderToken"}`))
	}))
	defer srv.Close()

	tokens := NewTokenCache("KID", "TEAM", testKey(t), time.Hour)
	c := New(tokens, "topic", false)
	c.push.Host = srv.URL
	c.push.HTTPClient = srv.Client()

	_, err := c.Send(context.Background(), Notification{DeviceToken: "abc", Title: "t", Body: "b"})
	var apnsErr *Error
	require.ErrorAs(t, err, &apnsErr)
	assert.Equal(t, http.StatusForbidden, apnsErr.StatusCode)
	assert.Equal(t, "ExpiredProviderToken", apnsErr.Reason)

	tokens.mu.RLock()
	defer tokens.mu.RUnlock()
	assert.True(t, tokens.issuedAt.IsZero())
}

func TestNewTokenCacheCapsTTL(t *testing.T) {
	assert.Equal(t, DefaultTokenTTL, NewTokenCache("KID", "TEAM", testKey(t), 3*time.Hour).ttl)
	assert.Equal(t, 30*time.Minute, NewTokenCache("KID", "TEAM", testKey(t), 30*time.Minute).ttl)
}
