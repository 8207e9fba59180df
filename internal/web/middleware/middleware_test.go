package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/daviddyess/iptoasn/internal/config"
)

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		headers map[string]string
		want    string
	}{
		{
			name:    "no trusted proxies ignores headers",
			remote:  "203.0.113.7:5000",
			headers: map[string]string{"X-Real-IP": "8.8.8.8"},
			want:    "203.0.113.7:5000",
		},
		{
			name:    "trusted proxy X-Real-IP",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:5000",
			headers: map[string]string{"X-Real-IP": "8.8.8.8"},
			want:    "8.8.8.8",
		},
		{
			name:    "trusted proxy X-Forwarded-For takes first hop",
			trusted: []string{"10.0.0.0/8"},
			remote:  "10.1.2.3:5000",
			headers: map[string]string{"X-Forwarded-For": "2001:db8::1, 10.9.9.9"},
			want:    "2001:db8::1",
		},
		{
			name:    "single address entry",
			trusted: []string{"127.0.0.1"},
			remote:  "127.0.0.1:40000",
			headers: map[string]string{"X-Real-IP": "1.1.1.1"},
			want:    "1.1.1.1",
		},
		{
			name:    "untrusted remote ignores headers",
			trusted: []string{"10.0.0.0/8"},
			remote:  "192.0.2.1:5000",
			headers: map[string]string{"X-Real-IP": "8.8.8.8"},
			want:    "192.0.2.1:5000",
		},
		{
			name:    "invalid header keeps remote",
			trusted: []string{"10.0.0.0/8", "not-a-cidr"},
			remote:  "10.1.2.3:5000",
			headers: map[string]string{"X-Real-IP": "garbage"},
			want:    "10.1.2.3:5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("RemoteAddr = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := &config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}

	tests := []struct {
		name   string
		cfg    *config.SecurityConfig
		header string
		value  string
		want   int
	}{
		{"disabled passes", &config.SecurityConfig{}, "", "", http.StatusOK},
		{"missing key", cfg, "", "", http.StatusUnauthorized},
		{"wrong key", cfg, "X-API-Key", "nope", http.StatusForbidden},
		{"valid header key", cfg, "X-API-Key", "k2", http.StatusOK},
		{"valid bearer key", cfg, "Authorization", "Bearer k1", http.StatusOK},
		{"required without keys", &config.SecurityConfig{RequireAPIKey: true}, "X-API-Key", "k1", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := APIKeyAuth(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
