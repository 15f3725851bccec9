package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexhub/anthropic-gateway/internal/config"
	"github.com/cortexhub/anthropic-gateway/internal/gatewayerr"
	"github.com/cortexhub/anthropic-gateway/internal/protocol"
)

var errBoom = errors.New("boom")

func newBackgroundCtx() context.Context { return context.Background() }

func TestLayer_ExecuteHTTP_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("Authorization = %q, want Bearer key-1", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	provider := &config.Provider{Name: "p", Protocol: "openai-compatible", BaseURL: srv.URL}
	rotator := NewKeyRotator("p", []string{"key-1"}, StrategyRoundRobin, time.Minute)
	layer := NewLayer(provider, protocol.AuthBearer, rotator, 5*time.Second, "gpt-test")

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	body, err := layer.execute(newBackgroundCtx(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
}

func TestLayer_ExecuteHTTP_RateLimitReportsKeyCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	provider := &config.Provider{Name: "p", Protocol: "openai-compatible", BaseURL: srv.URL}
	rotator := NewKeyRotator("p", []string{"key-1", "key-2"}, StrategyRoundRobin, time.Minute)
	layer := NewLayer(provider, protocol.AuthBearer, rotator, 5*time.Second, "gpt-test")

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	_, err := layer.execute(newBackgroundCtx(), req)
	if err == nil {
		t.Fatal("expected an error on 429")
	}
	gerr, ok := err.(*gatewayerr.Error)
	if !ok {
		t.Fatalf("expected *gatewayerr.Error, got %T", err)
	}
	if gerr.Kind != gatewayerr.KindRateLimit {
		t.Errorf("Kind = %s, want rate_limit", gerr.Kind)
	}

	k, pickErr := rotator.Pick()
	if pickErr != nil || k != "key-2" {
		t.Errorf("rotator should have moved past cooling key-1, got %q, %v", k, pickErr)
	}
}

func TestLayer_ExecuteHTTP_ServerErrorClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"boom"}`))
	}))
	defer srv.Close()

	provider := &config.Provider{Name: "p", Protocol: "openai-compatible", BaseURL: srv.URL}
	rotator := NewKeyRotator("p", []string{"key-1"}, StrategyRoundRobin, time.Minute)
	layer := NewLayer(provider, protocol.AuthBearer, rotator, 5*time.Second, "gpt-test")

	req, _ := http.NewRequest(http.MethodPost, srv.URL, nil)
	_, err := layer.execute(newBackgroundCtx(), req)
	gerr, ok := err.(*gatewayerr.Error)
	if !ok {
		t.Fatalf("expected *gatewayerr.Error, got %T", err)
	}
	if gerr.Kind != gatewayerr.KindUpstreamServer {
		t.Errorf("Kind = %s, want upstream_server", gerr.Kind)
	}
	if gerr.UpstreamStatusCode != http.StatusBadGateway {
		t.Errorf("UpstreamStatusCode = %d, want 502", gerr.UpstreamStatusCode)
	}
}

func TestAttachAuth_QueryParamStyle(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://example.test/v1beta/models/x:generateContent", nil)
	attachAuth(req, protocol.AuthAPIKeyQueryParam, "secret")
	if got := req.URL.Query().Get("key"); got != "secret" {
		t.Errorf("key query param = %q, want secret", got)
	}
}

func TestClassifyHTTPFailure_AuthStatusesMapToAuthKind(t *testing.T) {
	for _, status := range []int{401, 403} {
		gerr := classifyHTTPFailure("server", status, errBoom)
		if gerr.Kind != gatewayerr.KindAuth {
			t.Errorf("status %d: Kind = %s, want auth", status, gerr.Kind)
		}
	}
}

func TestClassifyHTTPFailure_TerminalStatusesPropagateOriginalCode(t *testing.T) {
	for _, status := range []int{400, 404, 413, 414, 415} {
		gerr := classifyHTTPFailure("server", status, errBoom)
		if gerr.Kind != gatewayerr.KindUpstreamClient {
			t.Errorf("status %d: Kind = %s, want upstream_client", status, gerr.Kind)
		}
		if gerr.HTTPStatus() != status {
			t.Errorf("status %d: HTTPStatus() = %d, want %d unchanged", status, gerr.HTTPStatus(), status)
		}
		if !gerr.IsTerminal() {
			t.Errorf("status %d: expected IsTerminal() true", status)
		}
	}
}
