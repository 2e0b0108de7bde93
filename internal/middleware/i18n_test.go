package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetectLocale(t *testing.T) {
	tests := []struct {
		name     string
		xLocale  string
		accept   string
		fallback string
		country  string
		want     string
	}{
		{name: "x-locale wins over country", xLocale: "ID", country: "US", want: "id"},
		{name: "x-locale region is dropped", xLocale: "pt-BR", want: "pt"},
		{name: "x-locale script and region are dropped", xLocale: "zh-Hant-TW", want: "zh"},
		{name: "unparseable x-locale is english", xLocale: "12345", fallback: "de", want: "en"},
		{name: "accept-language first tag", accept: "fr-FR,fr;q=0.9,en;q=0.5", want: "fr"},
		{name: "accept-language ordered by weight", accept: "en;q=0.3,de-AT;q=0.9,ja;q=0.6", want: "de"},
		{name: "unparseable accept-language uses fallback", accept: "12345", fallback: "es", want: "es"},
		{name: "unparseable accept-language without fallback", accept: "12345", want: "en"},
		{name: "indonesian country", country: "ID", want: "id"},
		{name: "other country is english", country: "JP", want: "en"},
		{name: "configured fallback", fallback: "es", want: "es"},
		{name: "default", want: "en"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.xLocale != "" {
				req.Header.Set("X-Locale", tc.xLocale)
			}
			if tc.accept != "" {
				req.Header.Set("Accept-Language", tc.accept)
			}
			if got := detectLocale(req, tc.fallback, tc.country); got != tc.want {
				t.Fatalf("detectLocale() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLocaleRegion(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "en-AU", want: "AU"},
		{in: "zh-Hant-TW", want: "TW"},
		{in: "es-419", want: "419"},
		{in: "fr", want: ""},
		{in: "sr-Latn", want: ""},
		{in: "de;q=0.9,pt-BR;q=0.8", want: "BR"},
		{in: "en;q=0.2,fr-CA;q=0.7", want: "CA"},
		{in: "12345", want: ""},
	}
	for _, tc := range tests {
		if got := localeRegion(tc.in); got != tc.want {
			t.Fatalf("localeRegion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestResolveCountry(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		resolver CountryLookup
		want     string
	}{
		{
			name:    "header precedence",
			headers: map[string]string{"X-Country-Code": "us", "CF-IPCountry": "id"},
			want:    "US",
		},
		{
			name:    "cloudflare header",
			headers: map[string]string{"CF-IPCountry": "sg"},
			want:    "SG",
		},
		{
			name:    "x-locale region",
			headers: map[string]string{"X-Locale": "en-AU", "Accept-Language": "fr-CA"},
			want:    "AU",
		},
		{
			name:    "heaviest accept-language region",
			headers: map[string]string{"Accept-Language": "en-GB;q=0.4,ko-KR;q=0.8"},
			want:    "KR",
		},
		{
			name:    "bare indonesian locale",
			headers: map[string]string{"Accept-Language": "id;q=0.8"},
			want:    "ID",
		},
		{
			name:    "bare locale defers to lookup",
			headers: map[string]string{"Accept-Language": "ja"},
			resolver: func(ip string) (string, error) {
				return "jp", nil
			},
			want: "JP",
		},
		{
			name: "lookup receives client ip",
			resolver: func(ip string) (string, error) {
				if ip != "203.0.113.4" {
					return "", errors.New("unexpected ip " + ip)
				}
				return "my", nil
			},
			want: "MY",
		},
		{
			name:    "forwarded ip is preferred",
			headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"},
			resolver: func(ip string) (string, error) {
				if ip != "198.51.100.7" {
					return "", errors.New("unexpected ip " + ip)
				}
				return "nz", nil
			},
			want: "NZ",
		},
		{
			name: "lookup error returns empty",
			resolver: func(ip string) (string, error) {
				return "", errors.New("boom")
			},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "203.0.113.4:80"
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			if got := ResolveCountry(req, tc.resolver); got != tc.want {
				t.Fatalf("ResolveCountry() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestI18NStoresLocaleAndCountry(t *testing.T) {
	var locale, country string
	h := I18N("en", nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale = LocaleFromContext(r.Context())
		country = CountryFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "it;q=0.5,pt-BR;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if locale != "pt" {
		t.Fatalf("locale = %q, want pt", locale)
	}
	if country != "BR" {
		t.Fatalf("country = %q, want BR", country)
	}
}

func TestLocaleFromContext(t *testing.T) {
	ctx := context.Background()
	if got := LocaleFromContext(ctx); got != "en" {
		t.Fatalf("LocaleFromContext() default = %q, want %q", got, "en")
	}
	if got := CountryFromContext(ctx); got != "" {
		t.Fatalf("CountryFromContext() default = %q, want empty", got)
	}
	ctx = context.WithValue(ctx, LocaleKey, "fr")
	if got := LocaleFromContext(ctx); got != "fr" {
		t.Fatalf("LocaleFromContext() with value = %q, want %q", got, "fr")
	}
}
