package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"milenio/internal/auth"
	"milenio/internal/handlers"
	"milenio/internal/logging"
)

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	srv := New(":0", logging.Discard(), Handlers{}, "")
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	srv.SetDependencies(Dependencies{Store: stubPinger{err: errors.New("down")}})
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with store down, got %d", rec.Code)
	}

	srv.SetDependencies(Dependencies{Store: stubPinger{}, Redis: stubPinger{err: errors.New("down")}})
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with only redis down, got %d", rec.Code)
	}
}

func TestBasePath(t *testing.T) {
	srv := New(":0", logging.Discard(), Handlers{}, "milenio/")
	if srv.basePath != "/milenio" {
		t.Fatalf("unexpected base path %q", srv.basePath)
	}
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/milenio/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 under base path, got %d", rec.Code)
	}
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/healthz"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/milenioX/healthz"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for sibling prefix, got %d", rec.Code)
	}
}

func TestRoutesRequireAuth(t *testing.T) {
	api := handlers.NewAPI(handlers.APIDependencies{}, logging.Discard())
	srv := New(":0", logging.Discard(), Handlers{
		API:  api,
		Auth: auth.NewMiddleware(nil, logging.Discard()),
	}, "")

	for _, path := range []string{"/api/payments/pix", "/api/purchase-token", "/api/cashout", "/api/rounds", "/api/support"} {
		if rec := serve(srv.httpServer.Handler, http.MethodPost, path); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: expected auth middleware to refuse, got %d", path, rec.Code)
		}
	}
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/api/cashout"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for wrong method, got %d", rec.Code)
	}
}

func TestWebhookRoutes(t *testing.T) {
	called := 0
	hook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	})
	srv := New(":0", logging.Discard(), Handlers{PixWebhook: hook, TelegramWebhook: hook}, "")

	serve(srv.httpServer.Handler, http.MethodPost, "/webhook/pix")
	serve(srv.httpServer.Handler, http.MethodPost, "/webhook/telegram")
	if called != 2 {
		t.Fatalf("expected both webhooks routed, got %d", called)
	}
	if rec := serve(srv.httpServer.Handler, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics endpoint, got %d", rec.Code)
	}
}
