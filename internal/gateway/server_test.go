package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rgodfrey/mockfeed/internal/config"
	"github.com/rgodfrey/mockfeed/internal/manager"
	"github.com/rgodfrey/mockfeed/internal/model"
)

func newTestServer(t *testing.T) (*Server, *manager.Manager) {
	t.Helper()
	m, err := manager.New(manager.Config{
		Mode:           config.ModeMock,
		DataDir:        t.TempDir(),
		UpdateInterval: 50 * time.Millisecond,
	}, nil)
	if err != nil {
		t.Fatalf("manager.New failed: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return NewServer(0, m, nil), m
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body unparseable: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
	if body["mock_mode"] != true {
		t.Errorf("mock_mode = %v, want true", body["mock_mode"])
	}
}

func TestWatchlistEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	// Empty to start.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200", rec.Code)
	}
	var got struct {
		Watchlist []string `json:"watchlist"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Watchlist) != 0 {
		t.Errorf("initial watchlist = %v, want empty", got.Watchlist)
	}

	// Add twice; collapses to one entry.
	for i := 0; i < 2; i++ {
		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/watchlist", strings.NewReader(`{"symbol":"AAPL"}`))
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("POST status = %d, want 200", rec.Code)
		}
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist", nil))
	json.Unmarshal(rec.Body.Bytes(), &got)
	if len(got.Watchlist) != 1 || got.Watchlist[0] != "AAPL" {
		t.Errorf("watchlist = %v, want [AAPL]", got.Watchlist)
	}
}

func TestAddWatchlist_EmptySymbol(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/watchlist", strings.NewReader(`{"symbol":""}`))
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestQuotesEndpoint(t *testing.T) {
	s, m := newTestServer(t)

	// No rows yet.
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/AAPL", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got struct {
		Symbol string `json:"symbol"`
		Count  int    `json:"count"`
	}
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Symbol != "AAPL" || got.Count != 0 {
		t.Errorf("got %+v, want symbol AAPL count 0", got)
	}

	// With streaming running, rows appear.
	ctx := context.Background()
	m.AddSymbol("AAPL")
	if err := m.StartStreaming(ctx); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	defer m.StopStreaming(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quotes/AAPL", nil))
		json.Unmarshal(rec.Body.Bytes(), &got)
		if got.Count > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no quotes via API within 3s")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["streaming"] != false {
		t.Errorf("streaming = %v, want false", body["streaming"])
	}
	if _, ok := body["engine"]; !ok {
		t.Error("response missing engine stats")
	}
}

func TestWebSocketPush(t *testing.T) {
	s, m := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("ws dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the client before streaming starts.
	deadline := time.Now().Add(2 * time.Second)
	for s.hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("hub never registered the client")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ctx := context.Background()
	m.AddSymbol("AAPL")
	if err := m.StartStreaming(ctx); err != nil {
		t.Fatalf("StartStreaming failed: %v", err)
	}
	defer m.StopStreaming(ctx)

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("no pushed envelope within 3s: %v", err)
	}

	var env model.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("pushed payload unparseable: %v", err)
	}
	if env.Data[0].Service != model.ServiceLevelOneEquities {
		t.Errorf("service = %q, want %q", env.Data[0].Service, model.ServiceLevelOneEquities)
	}
}
