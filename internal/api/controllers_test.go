package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"mcp-core/internal/mcp"
	"mcp-core/internal/monitor"
	"mcp-core/internal/queue"
	"mcp-core/pkg/db"
)

type envelope struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	ID      string `json:"id"`
}

func newTestAPIServer(t *testing.T, opts Options) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("db.New: %v", err)
	}
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	core := mcp.New(mcp.Config{NodeID: "api-test", ProcessorInterval: time.Millisecond}, mcp.Deps{
		Queues: queue.NewManager(100),
		Store:  database,
	}, zerolog.Nop())
	ctx := context.Background()
	if err := core.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	opts.DB = database
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewSystemMetrics()
	}
	if opts.Collectors == nil {
		opts.Collectors = monitor.NewCollectors()
	}
	server := NewServer(core, opts, zerolog.Nop())
	httpServer := httptest.NewServer(server.Router)

	t.Cleanup(func() {
		httpServer.Close()
		_ = core.Stop(ctx)
		_ = database.Close()
	})
	return httpServer
}

func doRequest(t *testing.T, method, url, contentType, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func doJSON(t *testing.T, method, url string, payload any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&buf).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	return doRequest(t, method, url, "application/json", buf.String(), out)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealth(t *testing.T) {
	srv := newTestAPIServer(t, Options{})
	var body map[string]string
	if status := doRequest(t, http.MethodGet, srv.URL+"/health", "", "", &body); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestTradingViewWebhookLifecycle(t *testing.T) {
	srv := newTestAPIServer(t, Options{})

	var accepted envelope
	status := doRequest(t, http.MethodPost, srv.URL+"/webhook/tradingview", "text/plain",
		`{"ticker":"EURUSD","action":"sell","entry":"1.0825","stop":1.0875,"target":1.0725}`, &accepted)
	if status != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%+v)", status, accepted)
	}
	if accepted.Status != "success" || accepted.ID == "" {
		t.Fatalf("unexpected envelope %+v", accepted)
	}

	signalURL := srv.URL + "/api/signals/" + accepted.ID
	waitFor(t, "signal processed", func() bool {
		return doRequest(t, http.MethodGet, signalURL, "", "", nil) == http.StatusOK
	})

	var view struct {
		Symbol     string `json:"symbol"`
		Side       string `json:"side"`
		StopLoss   string `json:"stopLoss"`
		TakeProfit string `json:"takeProfit"`
		Status     string `json:"status"`
	}
	doRequest(t, http.MethodGet, signalURL, "", "", &view)
	if view.Symbol != "EURUSD" || view.Side != "sell" || view.StopLoss != "1.0875" || view.TakeProfit != "1.0725" {
		t.Errorf("unexpected signal %+v", view)
	}

	var list struct {
		Count int `json:"count"`
	}
	doRequest(t, http.MethodGet, srv.URL+"/api/signals", "", "", &list)
	if list.Count != 1 {
		t.Errorf("expected 1 active signal, got %d", list.Count)
	}

	var updated envelope
	if status := doJSON(t, http.MethodPost, signalURL+"/status", map[string]any{"status": "tp_hit", "pnl": 100}, &updated); status != http.StatusOK {
		t.Fatalf("status update: expected 200, got %d (%+v)", status, updated)
	}
	if status := doJSON(t, http.MethodPost, signalURL+"/status", map[string]any{"status": "active"}, nil); status != http.StatusConflict {
		t.Errorf("terminal signal: expected 409, got %d", status)
	}

	doRequest(t, http.MethodGet, srv.URL+"/api/signals?status=tp_hit", "", "", &list)
	if list.Count != 1 {
		t.Errorf("expected 1 stored tp_hit signal, got %d", list.Count)
	}
}

func TestWebhookRejectsBadInput(t *testing.T) {
	srv := newTestAPIServer(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"not json", "buy BTC now"},
		{"array", `[1,2]`},
		{"missing symbol", `{"side":"buy","entry":1}`},
		{"bad side", `{"symbol":"BTCUSDT","side":"hold"}`},
		{"bad price", `{"symbol":"BTCUSDT","side":"buy","entry":"abc"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body envelope
			status := doRequest(t, http.MethodPost, srv.URL+"/webhook/tradingview", "application/json", tt.body, &body)
			if status != http.StatusBadRequest || body.Status != "error" {
				t.Errorf("expected 400 error, got %d %+v", status, body)
			}
		})
	}
}

func TestPostMessage(t *testing.T) {
	srv := newTestAPIServer(t, Options{})

	var body envelope
	status := doJSON(t, http.MethodPost, srv.URL+"/api/messages", map[string]any{
		"type": "price_update",
		"data": map[string]any{"symbol": "btcusdt", "price": 65000.5},
	}, &body)
	if status != http.StatusAccepted || body.ID == "" || !strings.Contains(body.Message, "market_data") {
		t.Fatalf("unexpected response %d %+v", status, body)
	}

	if status := doJSON(t, http.MethodPost, srv.URL+"/api/messages", map[string]any{"data": 1}, nil); status != http.StatusBadRequest {
		t.Errorf("missing type: expected 400, got %d", status)
	}
}

func TestUnknownSignal(t *testing.T) {
	srv := newTestAPIServer(t, Options{})
	if status := doRequest(t, http.MethodGet, srv.URL+"/api/signals/nope", "", "", nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/signals/nope/status", map[string]any{"status": "cancelled"}, nil); status != http.StatusNotFound {
		t.Errorf("expected 404, got %d", status)
	}
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/signals/nope/status", map[string]any{"status": "bogus"}, nil); status != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", status)
	}
}

func TestRoutingWithoutRouter(t *testing.T) {
	srv := newTestAPIServer(t, Options{})
	status := doJSON(t, http.MethodPost, srv.URL+"/api/routing", map[string]any{"signalId": "s", "userId": "u"}, nil)
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", status)
	}
	status = doJSON(t, http.MethodPost, srv.URL+"/api/routing", map[string]any{"signalId": "s", "userId": "u", "strategy": "random"}, nil)
	if status != http.StatusBadRequest {
		t.Errorf("unknown strategy: expected 400, got %d", status)
	}
}

func TestStatusAndQueues(t *testing.T) {
	srv := newTestAPIServer(t, Options{})

	var st mcp.Status
	if status := doRequest(t, http.MethodGet, srv.URL+"/api/status", "", "", &st); status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}
	if !st.Running || st.NodeID != "api-test" || len(st.Queues) != 5 {
		t.Errorf("unexpected status %+v", st)
	}

	var queues struct {
		Queues []queue.Stats `json:"queues"`
	}
	doRequest(t, http.MethodGet, srv.URL+"/api/queues", "", "", &queues)
	if len(queues.Queues) != 5 {
		t.Errorf("expected 5 queues, got %d", len(queues.Queues))
	}

	var body envelope
	if status := doJSON(t, http.MethodPost, srv.URL+"/api/system/persist", nil, &body); status != http.StatusAccepted {
		t.Errorf("system command: expected 202, got %d", status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestAPIServer(t, Options{})
	doRequest(t, http.MethodGet, srv.URL+"/health", "", "", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	text, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(text), `mcp_http_requests_total{method="GET",route="/health",status="200"}`) {
		t.Errorf("expected http request series in metrics output")
	}
}

func TestRateLimit(t *testing.T) {
	srv := newTestAPIServer(t, Options{RatePerSecond: 0.001, Burst: 2})
	for i := 0; i < 2; i++ {
		if status := doRequest(t, http.MethodGet, srv.URL+"/health", "", "", nil); status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, status)
		}
	}
	var body envelope
	if status := doRequest(t, http.MethodGet, srv.URL+"/health", "", "", &body); status != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", status)
	}
}
