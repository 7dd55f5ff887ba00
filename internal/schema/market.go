package schema

import (
	"bytes"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// OracleType tags how the market's price account must be interpreted.
// Unrecognized types fail closed: the client refuses to derive a price
// rather than guess.
type OracleType uint8

const (
	OracleStub OracleType = iota
	OraclePyth
)

func (t OracleType) String() string {
	switch t {
	case OracleStub:
		return "stub"
	case OraclePyth:
		return "pyth"
	default:
		return "unknown"
	}
}

const (
	// MarketDebtSlots is the fixed debt table size; slots are reused after
	// settlement, so a slot index alone says nothing about liveness.
	MarketDebtSlots = 256

	debtSize   = 32 + 32 + 8 + 8 + 8 + 8
	marketSize = 8 + 7*32 + MarketDebtSlots*debtSize + 1 + 1 + 1 + 5

	stubPriceSize = 8 + 8 + 8
)

var (
	marketDiscriminator    = anchorAccountDiscriminator("LexMarket")
	stubPriceDiscriminator = anchorAccountDiscriminator("StubPrice")
)

// Debt is one slot of the market's debt table. Qty and LiquidQty form the
// accrual checkpoint together with Timestamp: interest accrues on Qty from
// Timestamp until the program next settles, and LiquidQty is what
// liquidation already recovered since that checkpoint.
type Debt struct {
	Lender       solana.PublicKey
	Borrower     solana.PublicKey
	Timestamp    int64
	InterestRate uint64
	Qty          uint64
	LiquidQty    uint64
}

// IsEmpty reports whether the slot is vacant (program convention: zero qty).
func (d *Debt) IsEmpty() bool { return d.Qty == 0 }

// Market is the lex market header plus its debt table.
type Market struct {
	BaseMint    solana.PublicKey
	QuoteMint   solana.PublicKey
	BaseVault   solana.PublicKey
	QuoteVault  solana.PublicKey
	PriceOracle solana.PublicKey
	Orderbook   solana.PublicKey
	Admin       solana.PublicKey

	Debts [MarketDebtSlots]Debt

	OverCollateralPercent uint8
	SignerBump            uint8
	OracleType            OracleType
}

// DecodeMarket validates and decodes raw lex market bytes.
func DecodeMarket(data []byte) (*Market, error) {
	if err := checkLen("LexMarket", data, marketSize); err != nil {
		return nil, err
	}
	if !bytes.Equal(data[:8], marketDiscriminator[:]) {
		return nil, ErrBadDiscriminator
	}

	m := &Market{}
	off := 8
	off += copy(m.BaseMint[:], data[off:off+32])
	off += copy(m.QuoteMint[:], data[off:off+32])
	off += copy(m.BaseVault[:], data[off:off+32])
	off += copy(m.QuoteVault[:], data[off:off+32])
	off += copy(m.PriceOracle[:], data[off:off+32])
	off += copy(m.Orderbook[:], data[off:off+32])
	off += copy(m.Admin[:], data[off:off+32])

	for i := 0; i < MarketDebtSlots; i++ {
		d := &m.Debts[i]
		off += copy(d.Lender[:], data[off:off+32])
		off += copy(d.Borrower[:], data[off:off+32])
		d.Timestamp = int64(binary.LittleEndian.Uint64(data[off:]))
		d.InterestRate = binary.LittleEndian.Uint64(data[off+8:])
		d.Qty = binary.LittleEndian.Uint64(data[off+16:])
		d.LiquidQty = binary.LittleEndian.Uint64(data[off+24:])
		off += 32
	}

	m.OverCollateralPercent = data[off]
	m.SignerBump = data[off+1]
	m.OracleType = OracleType(data[off+2])

	return m, nil
}

// EncodeMarket serializes a market to the wire layout, for tests/fixtures.
func EncodeMarket(m *Market) []byte {
	data := make([]byte, marketSize)
	copy(data[:8], marketDiscriminator[:])
	off := 8
	off += copy(data[off:], m.BaseMint[:])
	off += copy(data[off:], m.QuoteMint[:])
	off += copy(data[off:], m.BaseVault[:])
	off += copy(data[off:], m.QuoteVault[:])
	off += copy(data[off:], m.PriceOracle[:])
	off += copy(data[off:], m.Orderbook[:])
	off += copy(data[off:], m.Admin[:])

	for i := 0; i < MarketDebtSlots; i++ {
		d := &m.Debts[i]
		off += copy(data[off:], d.Lender[:])
		off += copy(data[off:], d.Borrower[:])
		binary.LittleEndian.PutUint64(data[off:], uint64(d.Timestamp))
		binary.LittleEndian.PutUint64(data[off+8:], d.InterestRate)
		binary.LittleEndian.PutUint64(data[off+16:], d.Qty)
		binary.LittleEndian.PutUint64(data[off+24:], d.LiquidQty)
		off += 32
	}

	data[off] = m.OverCollateralPercent
	data[off+1] = m.SignerBump
	data[off+2] = byte(m.OracleType)
	return data
}

// StubPrice is the fixed-price oracle account payload.
type StubPrice struct {
	Price int64
	Conf  uint64
}

// DecodeStubPrice validates and decodes a stub oracle account.
func DecodeStubPrice(data []byte) (*StubPrice, error) {
	if err := checkLen("StubPrice", data, stubPriceSize); err != nil {
		return nil, err
	}
	if !bytes.Equal(data[:8], stubPriceDiscriminator[:]) {
		return nil, ErrBadDiscriminator
	}
	return &StubPrice{
		Price: int64(binary.LittleEndian.Uint64(data[8:])),
		Conf:  binary.LittleEndian.Uint64(data[16:]),
	}, nil
}

// EncodeStubPrice serializes a stub oracle account, for tests/fixtures.
func EncodeStubPrice(p *StubPrice) []byte {
	data := make([]byte, stubPriceSize)
	copy(data[:8], stubPriceDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:], uint64(p.Price))
	binary.LittleEndian.PutUint64(data[16:], p.Conf)
	return data
}
