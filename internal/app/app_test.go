package app

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thecalistalife/review-service/internal/config"
	"github.com/thecalistalife/review-service/internal/ledger"
)

type stubLedger struct{}

func (stubLedger) HasQualifyingOrder(context.Context, string, string) (bool, error) {
	return true, nil
}

func TestNewOrderLedger(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	projection := stubLedger{}

	t.Run("projection", func(t *testing.T) {
		got, err := NewOrderLedger(&config.Config{OrderLedgerBackend: config.LedgerProjection}, projection, logger)
		require.NoError(t, err)
		assert.Equal(t, projection, got)
	})

	t.Run("http", func(t *testing.T) {
		got, err := NewOrderLedger(&config.Config{
			OrderLedgerBackend: config.LedgerHTTP,
			OrderServiceURL:    "http://order:8004/",
			OrderMaxPages:      5,
			VerifyTimeoutMs:    500,
			CBFailureRatio:     0.5,
			CBMinRequests:      5,
		}, projection, logger)
		require.NoError(t, err)
		assert.IsType(t, &ledger.HTTPLedger{}, got)
	})

	t.Run("supabase", func(t *testing.T) {
		got, err := NewOrderLedger(&config.Config{
			OrderLedgerBackend: config.LedgerSupabase,
			SupabaseURL:        "https://proj.supabase.co",
			SupabaseKey:        "service-key",
		}, projection, logger)
		require.NoError(t, err)
		assert.IsType(t, &ledger.SupabaseLedger{}, got)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewOrderLedger(&config.Config{OrderLedgerBackend: "ftp"}, projection, logger)
		assert.ErrorContains(t, err, "unknown order ledger backend")
	})
}

func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	body, err := json.Marshal(map[string]any{"keys": []map[string]string{{
		"kty": "RSA",
		"kid": kid,
		"alg": "RS256",
		"use": "sig",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}})
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewTokenValidator(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	t.Run("none", func(t *testing.T) {
		validate, jwks, err := NewTokenValidator(&config.Config{}, logger)
		require.NoError(t, err)
		assert.Nil(t, validate)
		assert.Nil(t, jwks)
	})

	t.Run("hmac", func(t *testing.T) {
		validate, jwks, err := NewTokenValidator(&config.Config{JWTSecret: "secret"}, logger)
		require.NoError(t, err)
		require.NotNil(t, validate)
		assert.Nil(t, jwks)
	})

	t.Run("jwks", func(t *testing.T) {
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		srv := jwksServer(t, "key-1", &priv.PublicKey)

		validate, jwks, err := NewTokenValidator(&config.Config{AuthJWKSURL: srv.URL, JWTSecret: "ignored"}, logger)
		require.NoError(t, err)
		require.NotNil(t, jwks)
		defer jwks.EndBackground()

		token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
			"sub": "user-9", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
		})
		token.Header["kid"] = "key-1"
		raw, err := token.SignedString(priv)
		require.NoError(t, err)

		claims, err := validate(raw)
		require.NoError(t, err)
		assert.Equal(t, "user-9", claims.UserID)
		assert.Equal(t, "admin", claims.Role)
	})
}
