package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrustedRealIP(t *testing.T) {
	var seen string
	h := TrustedRealIP([]string{"10.0.0.0/8", "bogus"}, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = r.RemoteAddr }))

	cases := []struct {
		name   string
		remote string
		header string
		value  string
		want   string
	}{
		{"trusted proxy forwards", "10.1.2.3:4444", "X-Forwarded-For", "203.0.113.7, 10.1.2.3", "203.0.113.7"},
		{"trusted proxy real ip", "10.1.2.3:4444", "X-Real-IP", "203.0.113.8", "203.0.113.8"},
		{"untrusted client spoofs", "198.51.100.9:5555", "X-Forwarded-For", "203.0.113.7", "198.51.100.9:5555"},
		{"untrusted client real ip", "198.51.100.9:5555", "X-Real-IP", "203.0.113.8", "198.51.100.9:5555"},
		{"trusted proxy without header", "10.1.2.3:4444", "", "", "10.1.2.3:4444"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			assert.Equal(t, tc.want, seen)
		})
	}
}

func TestTrustedRealIP_NoProxiesIgnoresHeaders(t *testing.T) {
	var seen string
	h := TrustedRealIP(nil, slog.New(slog.DiscardHandler))(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { seen = r.RemoteAddr }))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "127.0.0.1:9000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "127.0.0.1:9000", seen)
}
