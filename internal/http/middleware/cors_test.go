package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsRequest(t *testing.T, mw func(http.Handler) http.Handler, method, origin, preflightMethod string) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(method, "/admin/dashboard/prac-1", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflightMethod != "" {
		req.Header.Set("Access-Control-Request-Method", preflightMethod)
	}
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)
	return rec, reached
}

func TestCORSOriginAllowlist(t *testing.T) {
	mw := CORS([]string{"https://admin.ashgrovepsych.example"})

	tests := []struct {
		name      string
		origin    string
		wantAllow string
	}{
		{"listed origin echoed", "https://admin.ashgrovepsych.example", "https://admin.ashgrovepsych.example"},
		{"unknown origin gets nothing", "https://evil.example", ""},
		{"no origin header gets nothing", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, reached := corsRequest(t, mw, http.MethodGet, tt.origin, "")
			if !reached {
				t.Fatal("expected request to reach the handler")
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestCORSWildcardEchoesAnyOrigin(t *testing.T) {
	mw := CORS([]string{"*"})
	rec, _ := corsRequest(t, mw, http.MethodGet, "https://anywhere.example", "")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example" {
		t.Errorf("Allow-Origin = %q, want echoed origin", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	mw := CORS([]string{"https://admin.ashgrovepsych.example"})
	rec, reached := corsRequest(t, mw, http.MethodOptions, "https://admin.ashgrovepsych.example", "POST")
	if reached {
		t.Fatal("preflight must not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("expected Allow-Methods on preflight response")
	}
}
