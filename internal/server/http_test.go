package server_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"MarginView/internal/book"
	"MarginView/internal/gateway"
	"MarginView/internal/observability"
	"MarginView/internal/recorder"
	"MarginView/internal/risk"
	"MarginView/internal/schema"
	"MarginView/internal/server"
	"MarginView/internal/syncer"
	"MarginView/internal/view"
)

var (
	marketKey = solana.PublicKey{0x03}
	bidsKey   = solana.PublicKey{0x05}
	asksKey   = solana.PublicKey{0x06}
	ownerKey  = solana.MustPublicKeyFromBase58("8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR3")
)

// stubGateway answers every read with fixed, minimal ledger state.
type stubGateway struct {
	market *schema.Market
	slab   *book.Slab
}

func newStubGateway(t *testing.T) *stubGateway {
	t.Helper()
	data := make([]byte, 72)
	binary.LittleEndian.PutUint64(data[0:], schema.TagAsks)
	slab, err := book.DecodeSlab(data)
	if err != nil {
		t.Fatalf("fixture slab: %v", err)
	}
	return &stubGateway{
		market: &schema.Market{
			Orderbook:             solana.PublicKey{0x04},
			PriceOracle:           solana.PublicKey{0x07},
			OverCollateralPercent: 10,
		},
		slab: slab,
	}
}

func (g *stubGateway) FetchAccount(context.Context, solana.PublicKey) ([]byte, error) {
	return nil, gateway.ErrNotFound
}

func (g *stubGateway) FetchMarket(context.Context, solana.PublicKey) (*schema.Market, error) {
	return g.market, nil
}

func (g *stubGateway) FetchOraclePrice(context.Context, solana.PublicKey, schema.OracleType) (int64, error) {
	return 100, nil
}

func (g *stubGateway) FetchOrderbookHeader(context.Context, solana.PublicKey) (*schema.OrderbookHeader, error) {
	return &schema.OrderbookHeader{Tag: schema.TagMarket, Bids: bidsKey, Asks: asksKey}, nil
}

func (g *stubGateway) FetchSlab(context.Context, solana.PublicKey) (*book.Slab, error) {
	return g.slab, nil
}

func (g *stubGateway) SubscribeAccountChange(context.Context, solana.PublicKey, func()) (func(), error) {
	return func() {}, nil
}

func (g *stubGateway) SubmitInstructions(context.Context, []solana.Instruction) (solana.Signature, error) {
	return solana.Signature{0x01}, nil
}

func testServer(t *testing.T) (*server.Server, *view.Store, *observability.HealthChecker) {
	t.Helper()
	gw := newStubGateway(t)
	store := view.NewStore(gw, risk.NewEngine(360000), marketKey, 16, zerolog.Nop(), nil, view.Options{})
	reg := syncer.NewRegistry(time.Hour, zerolog.Nop(), nil)
	builder := &gateway.InstructionBuilder{
		ProgramID: solana.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111"),
		Market:    marketKey,
	}
	svc := view.NewService(store, reg, gw, builder, ownerKey, recorder.Noop{}, zerolog.Nop(), nil)
	t.Cleanup(svc.Close)

	health := observability.NewHealthChecker()
	srv := server.New(":0", svc, health, context.Background(), zerolog.Nop(), nil)
	return srv, store, health
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body did not parse: %v (%s)", err, rec.Body.String())
	}
	return body.Error.Code
}

// ============================================================================
// Test: routing and error mapping
// ============================================================================

func TestBook_PendingThenReady(t *testing.T) {
	srv, store, _ := testServer(t)

	rec := get(t, srv.Handler(), "/v1/markets/book")
	if rec.Code != http.StatusServiceUnavailable || errorCode(t, rec) != "pending" {
		t.Fatalf("before refresh: got %d %s", rec.Code, rec.Body.String())
	}

	if err := store.RefreshBook(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	rec = get(t, srv.Handler(), "/v1/markets/book")
	if rec.Code != http.StatusOK {
		t.Fatalf("after refresh: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestBook_BadLevelsParam(t *testing.T) {
	srv, store, _ := testServer(t)
	if err := store.RefreshBook(context.Background()); err != nil {
		t.Fatal(err)
	}

	rec := get(t, srv.Handler(), "/v1/markets/book?levels=zero")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "bad_request" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAccount_InvalidOwnerKey(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := get(t, srv.Handler(), "/v1/accounts/not-base58/risk")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "bad_request" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAccount_WatchStartsLazily(t *testing.T) {
	srv, _, _ := testServer(t)

	// First hit starts the watch; the view may still be pending or may have
	// completed its initial refresh, but it must never be "not watched".
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec := get(t, srv.Handler(), "/v1/accounts/"+ownerKey.String())
		if rec.Code == http.StatusOK {
			var v view.AccountView
			if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
				t.Fatalf("body did not parse: %v", err)
			}
			if v.Exists {
				t.Error("stub ledger has no account, view must say so")
			}
			return
		}
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
		if time.Now().After(deadline) {
			t.Fatal("view never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSubmit_UnknownKindRejected(t *testing.T) {
	srv, _, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/instructions/rug_pull", strings.NewReader(`{}`))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "bad_request" {
		t.Errorf("got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSubmit_NewOrderAccepted(t *testing.T) {
	srv, _, _ := testServer(t)

	body := `{"side":"lend","interest_rate":250,"qty":1000}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/instructions/new_order", strings.NewReader(body))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("body did not parse: %v", err)
	}
	if resp["signature"] == "" {
		t.Error("signature missing from response")
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv, _, health := testServer(t)

	if rec := get(t, srv.Handler(), "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz: got %d", rec.Code)
	}
	if rec := get(t, srv.Handler(), "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz before ready: got %d", rec.Code)
	}
	health.SetReady(true)
	if rec := get(t, srv.Handler(), "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz after ready: got %d", rec.Code)
	}
}
