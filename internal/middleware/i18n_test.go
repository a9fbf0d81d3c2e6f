package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		country string
		want    string
	}{
		{name: "x-locale wins over accept-language", headers: map[string]string{"X-Locale": "id", "Accept-Language": "en-US"}, want: "id"},
		{name: "regional accept-language", headers: map[string]string{"Accept-Language": "id-ID,en;q=0.8"}, want: "id"},
		{name: "quality ordering", headers: map[string]string{"Accept-Language": "en;q=0.3, id;q=0.9"}, want: "id"},
		{name: "english", headers: map[string]string{"Accept-Language": "en-GB"}, want: "en"},
		{name: "unsupported language uses country", headers: map[string]string{"Accept-Language": "ja-JP"}, country: "ID", want: "id"},
		{name: "indonesian caller without headers", country: "ID", want: "id"},
		{name: "other country uses fallback", country: "US", want: "en"},
		{name: "garbage header ignored", headers: map[string]string{"X-Locale": ";;;"}, want: "en"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := detectLocale(req, "en", tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		lookup  CountryLookup
		want    string
	}{
		{
			name:    "cdn header first",
			headers: map[string]string{"CF-IPCountry": "id", "X-Country-Code": "us"},
			want:    "ID",
		},
		{
			name:    "unknown cdn country falls through",
			headers: map[string]string{"CF-IPCountry": "XX"},
			lookup:  func(string) (string, error) { return "sg", nil },
			want:    "SG",
		},
		{
			name: "lookup receives forwarded ip",
			headers: map[string]string{"X-Forwarded-For": "203.0.113.4, 10.0.0.1"},
			lookup: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					return "", errors.New("unexpected ip " + ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name:   "lookup error",
			lookup: func(string) (string, error) { return "", errors.New("boom") },
		},
		{name: "nothing known"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveCountry(req, tc.lookup); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	handler := I18N("en", func(string) (string, error) { return "id", nil })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if locale != "id" || country != "ID" {
		t.Fatalf("locale=%q country=%q, want id/ID", locale, country)
	}
}
