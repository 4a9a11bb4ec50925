package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/calcoach/internal/table"
)

func newTestRouter(svc TableServiceInterface) http.Handler {
	return NewRouter(&RouterDeps{
		CORSAllowedOrigins: []string{"http://localhost:5173"},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("calcoach_http_status_total 1\n"))
		}),
		DB:           &mockPinger{},
		TableService: svc,
		Chat:         &mockDispatcher{},
		Sessions:     &mockSessions{},
	})
}

func TestRouter_Routes(t *testing.T) {
	router := newTestRouter(&mockTableService{})

	tests := []struct {
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{http.MethodGet, "/", "", http.StatusOK},
		{http.MethodGet, "/health", "", http.StatusOK},
		{http.MethodGet, "/metrics", "", http.StatusOK},
		{http.MethodGet, "/api/tables", "", http.StatusOK},
		{http.MethodGet, "/api/data/tasks", "", http.StatusOK},
		{http.MethodPost, "/api/data/tasks", `{"title":"x"}`, http.StatusCreated},
		{http.MethodPut, "/api/data/tasks/abc", `{"title":"y"}`, http.StatusOK},
		{http.MethodDelete, "/api/data/tasks/abc", "", http.StatusOK},
		{http.MethodPost, "/api/chat", `{"message":"hi"}`, http.StatusOK},
		{http.MethodPost, "/api/chat/sessions", "", http.StatusCreated},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
		{http.MethodPatch, "/api/data/tasks/abc", `{}`, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestRouter_MetricsRouteOptional(t *testing.T) {
	router := NewRouter(&RouterDeps{
		TableService: &mockTableService{},
		Chat:         &mockDispatcher{},
		Sessions:     &mockSessions{},
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	router := newTestRouter(&mockTableService{})

	req := httptest.NewRequest(http.MethodOptions, "/api/data/tasks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestRouter_SecurityHeadersAndRequestID(t *testing.T) {
	router := newTestRouter(&mockTableService{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tables", nil))

	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
}

func TestRouter_PanicIsRecovered(t *testing.T) {
	svc := &mockTableService{
		readFn: func(ctx context.Context, name string) (*table.ReadResult, error) {
			panic("boom")
		},
	}

	w := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/data/tasks", nil))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}
