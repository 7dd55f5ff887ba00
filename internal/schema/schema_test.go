package schema_test

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	"MarginView/internal/schema"
)

var (
	owner  = solana.MustPublicKeyFromBase58("4fYNw3dojWmQ4dXtSGE9epjRGy9pFSx62YypT7avPYvA")
	market = solana.MustPublicKeyFromBase58("8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR3")
)

// ============================================================================
// Test: UserAccount codec
// ============================================================================

func TestUserAccount_RoundTrip(t *testing.T) {
	in := &schema.UserAccount{
		Owner:          owner,
		Market:         market,
		BaseFree:       11,
		BaseLocked:     22,
		BaseOpenLend:   33,
		BaseOpenBorrow: 44,
		QuoteTotal:     55,
		OpenOrdersCnt:  2,
		OpenDebtsCnt:   1,
	}
	in.OpenOrders[0] = schema.OrderID{Hi: 7, Lo: 9}
	in.OpenOrders[1] = schema.OrderID{Hi: 7, Lo: 10}
	in.OpenDebts[0] = 42

	out, err := schema.DecodeUserAccount(schema.EncodeUserAccount(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}

func TestUserAccount_Truncated(t *testing.T) {
	data := schema.EncodeUserAccount(&schema.UserAccount{Owner: owner})
	_, err := schema.DecodeUserAccount(data[:len(data)-1])

	var trunc *schema.TruncatedError
	if !errors.As(err, &trunc) {
		t.Fatalf("got %v, want TruncatedError", err)
	}
	if trunc.Record != "UserAccount" {
		t.Errorf("record: got %q, want UserAccount", trunc.Record)
	}
}

func TestUserAccount_BadDiscriminator(t *testing.T) {
	data := schema.EncodeUserAccount(&schema.UserAccount{Owner: owner})
	data[0] ^= 0xff
	if _, err := schema.DecodeUserAccount(data); !errors.Is(err, schema.ErrBadDiscriminator) {
		t.Errorf("got %v, want ErrBadDiscriminator", err)
	}
}

func TestUserAccount_LiveSetsClampToCapacity(t *testing.T) {
	ua := &schema.UserAccount{OpenOrdersCnt: 200, OpenDebtsCnt: 200}
	if n := len(ua.LiveOrders()); n != schema.UserOpenOrdersCap {
		t.Errorf("live orders: got %d, want %d", n, schema.UserOpenOrdersCap)
	}
	if n := len(ua.LiveDebts()); n != schema.UserOpenDebtsCap {
		t.Errorf("live debts: got %d, want %d", n, schema.UserOpenDebtsCap)
	}
}

// ============================================================================
// Test: OrderID
// ============================================================================

func TestOrderID_String(t *testing.T) {
	id := schema.OrderID{Hi: 1, Lo: 5}
	// 2^64 + 5
	want := "18446744073709551621"
	if got := id.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestOrderID_PriceIsHighBits(t *testing.T) {
	id := schema.OrderID{Hi: 1234, Lo: 999}
	if id.Price() != 1234 {
		t.Errorf("got %d, want 1234", id.Price())
	}
}

func TestOrderID_MarshalJSON(t *testing.T) {
	b, err := schema.OrderID{Hi: 0, Lo: 17}.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(b) != `"17"` {
		t.Errorf("got %s, want \"17\"", b)
	}
}

// ============================================================================
// Test: Market codec
// ============================================================================

func TestMarket_RoundTrip(t *testing.T) {
	in := &schema.Market{
		BaseMint:              owner,
		QuoteMint:             market,
		PriceOracle:           owner,
		Orderbook:             market,
		Admin:                 owner,
		OverCollateralPercent: 10,
		SignerBump:            254,
		OracleType:            schema.OraclePyth,
	}
	in.Debts[0] = schema.Debt{Lender: owner, Borrower: market, Timestamp: 1_700_000_000, InterestRate: 10, Qty: 20}
	in.Debts[255] = schema.Debt{Lender: market, Borrower: owner, Timestamp: 1_700_000_100, Qty: 5, LiquidQty: 1}

	out, err := schema.DecodeMarket(schema.EncodeMarket(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch")
	}
}

func TestMarket_WrongLength(t *testing.T) {
	_, err := schema.DecodeMarket(make([]byte, 100))
	var trunc *schema.TruncatedError
	if !errors.As(err, &trunc) {
		t.Fatalf("got %v, want TruncatedError", err)
	}
}

func TestStubPrice_RoundTrip(t *testing.T) {
	in := &schema.StubPrice{Price: 100, Conf: 3}
	out, err := schema.DecodeStubPrice(schema.EncodeStubPrice(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

// ============================================================================
// Test: OrderbookHeader codec
// ============================================================================

func TestOrderbookHeader_RoundTrip(t *testing.T) {
	in := &schema.OrderbookHeader{
		Tag:              schema.TagMarket,
		CallerAuthority:  owner,
		EventQueue:       market,
		Bids:             owner,
		Asks:             market,
		CallbackInfoLen:  32,
		CallbackIDLen:    32,
		MinBaseOrderSize: 1,
		TickSize:         1,
	}
	out, err := schema.DecodeOrderbookHeader(schema.EncodeOrderbookHeader(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", out, in)
	}
}
