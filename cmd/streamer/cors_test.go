package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCorsMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		origin     string
		method     string
		handler    http.HandlerFunc
		wantCode   int
		wantOrigin string
		wantVary   string
	}{
		{
			name:   "success",
			method: http.MethodGet,
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"status":"ok"}`))
			},
			wantCode:   http.StatusOK,
			wantOrigin: "*",
		},
		{
			name:   "error response",
			method: http.MethodPost,
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "not found", http.StatusNotFound)
			},
			wantCode:   http.StatusNotFound,
			wantOrigin: "*",
		},
		{
			name:   "preflight",
			origin: "http://controller.local",
			method: http.MethodOptions,
			handler: func(w http.ResponseWriter, r *http.Request) {
				t.Error("handler should not be called for OPTIONS preflight")
			},
			wantCode:   http.StatusNoContent,
			wantOrigin: "http://controller.local",
			wantVary:   "Origin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			corsMiddleware(tt.origin, tt.handler).ServeHTTP(rec, httptest.NewRequest(tt.method, "/status", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := rec.Header().Get("Access-Control-Allow-Methods"); got != corsMethods {
				t.Errorf("Access-Control-Allow-Methods = %q, want %q", got, corsMethods)
			}
			if got := rec.Header().Get("Vary"); got != tt.wantVary {
				t.Errorf("Vary = %q, want %q", got, tt.wantVary)
			}
		})
	}
}
