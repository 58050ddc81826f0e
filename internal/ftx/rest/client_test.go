package rest

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"ftx-arb-bot/internal/ratelimit"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := New(server.URL+"/api", "test-key", "test-secret", "sub account", 5*time.Second, ratelimit.New(100, time.Second), zap.NewNop())
	client.nowMillis = func() int64 { return 1700000000000 }
	return client, server
}

func TestAuthGetSignsRequest(t *testing.T) {
	var got *http.Request
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		w.Write([]byte(`{"success":true,"result":{"marginFraction":0.1}}`))
	}))

	info, err := client.AccountInfo(context.Background())
	if err != nil {
		t.Fatalf("account info: %v", err)
	}
	if info.MarginFraction != 0.1 {
		t.Fatalf("expected margin fraction 0.1, got %v", info.MarginFraction)
	}
	if got.Header.Get("FTX-KEY") != "test-key" {
		t.Fatalf("missing key header")
	}
	if got.Header.Get("FTX-TS") != "1700000000000" {
		t.Fatalf("unexpected ts header %q", got.Header.Get("FTX-TS"))
	}
	if got.Header.Get("FTX-SUBACCOUNT") != url.QueryEscape("sub account") {
		t.Fatalf("unexpected subaccount header %q", got.Header.Get("FTX-SUBACCOUNT"))
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("1700000000000GET/api/account"))
	if want := hex.EncodeToString(mac.Sum(nil)); got.Header.Get("FTX-SIGN") != want {
		t.Fatalf("signature mismatch: got %q want %q", got.Header.Get("FTX-SIGN"), want)
	}
}

func TestAuthPostSignsBody(t *testing.T) {
	var gotSign string
	var gotBody []byte
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("FTX-SIGN")
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{"success":true,"result":{"id":42,"clientId":"abc"}}`))
	}))

	order, err := client.PlaceOrder(context.Background(), OrderRequest{
		Market: "BTC/USD",
		Side:   "buy",
		Size:   0.01,
		Type:   "market",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if order.ID != 42 {
		t.Fatalf("expected order id 42, got %d", order.ID)
	}
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte("1700000000000POST/api/orders"))
	mac.Write(gotBody)
	if want := hex.EncodeToString(mac.Sum(nil)); gotSign != want {
		t.Fatalf("signature mismatch over body")
	}
}

func TestEnvelopeErrorBecomesExchangeError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"Not logged in"}`))
	}))

	_, err := client.ListPositions(context.Background())
	var exchangeErr *ExchangeError
	if !errors.As(err, &exchangeErr) {
		t.Fatalf("expected ExchangeError, got %v", err)
	}
	if exchangeErr.Message != "Not logged in" {
		t.Fatalf("unexpected message %q", exchangeErr.Message)
	}
}

func TestTimeRangedEndpointsCarryPageParams(t *testing.T) {
	var gotQuery url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"success":true,"result":[]}`))
	}))

	start := time.Unix(1700000000, 0)
	end := time.Unix(1700007200, 0)
	if _, err := client.ListFundingPayments(context.Background(), start, end); err != nil {
		t.Fatalf("funding payments: %v", err)
	}
	if gotQuery.Get("start_time") != "1700000000" {
		t.Fatalf("unexpected start_time %q", gotQuery.Get("start_time"))
	}
	if gotQuery.Get("end_time") != "1700007200" {
		t.Fatalf("unexpected end_time %q", gotQuery.Get("end_time"))
	}
}

func TestPublicGetSkipsAuthHeaders(t *testing.T) {
	var got http.Header
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"success":true,"result":[]}`))
	}))

	if _, err := client.ListMarkets(context.Background()); err != nil {
		t.Fatalf("list markets: %v", err)
	}
	if got.Get("FTX-KEY") != "" || got.Get("FTX-SIGN") != "" {
		t.Fatalf("public request must not carry auth headers")
	}
}
