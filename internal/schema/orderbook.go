package schema

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// OrderbookHeader is the order book's market-state account. It is maintained
// by the external orderbook program; the client only needs it to locate the
// two slabs and the event queue, and to sanity-check order sizing for
// instruction building.
type OrderbookHeader struct {
	Tag             uint64
	CallerAuthority solana.PublicKey
	EventQueue      solana.PublicKey
	Bids            solana.PublicKey
	Asks            solana.PublicKey
	CallbackInfoLen uint64
	CallbackIDLen   uint64
	MinBaseOrderSize uint64
	TickSize        uint64
}

const orderbookHeaderSize = 8 + 4*32 + 4*8

// Account tags used by the orderbook program. Only the ones the client
// inspects are named.
const (
	TagMarket uint64 = 2
	TagBids   uint64 = 4
	TagAsks   uint64 = 5
)

// DecodeOrderbookHeader validates and decodes the orderbook market state.
func DecodeOrderbookHeader(data []byte) (*OrderbookHeader, error) {
	if err := checkLen("OrderbookHeader", data, orderbookHeaderSize); err != nil {
		return nil, err
	}

	h := &OrderbookHeader{}
	h.Tag = binary.LittleEndian.Uint64(data)
	off := 8
	off += copy(h.CallerAuthority[:], data[off:off+32])
	off += copy(h.EventQueue[:], data[off:off+32])
	off += copy(h.Bids[:], data[off:off+32])
	off += copy(h.Asks[:], data[off:off+32])
	h.CallbackInfoLen = binary.LittleEndian.Uint64(data[off:])
	h.CallbackIDLen = binary.LittleEndian.Uint64(data[off+8:])
	h.MinBaseOrderSize = binary.LittleEndian.Uint64(data[off+16:])
	h.TickSize = binary.LittleEndian.Uint64(data[off+24:])
	return h, nil
}

// EncodeOrderbookHeader serializes the header, for tests/fixtures.
func EncodeOrderbookHeader(h *OrderbookHeader) []byte {
	data := make([]byte, orderbookHeaderSize)
	binary.LittleEndian.PutUint64(data, h.Tag)
	off := 8
	off += copy(data[off:], h.CallerAuthority[:])
	off += copy(data[off:], h.EventQueue[:])
	off += copy(data[off:], h.Bids[:])
	off += copy(data[off:], h.Asks[:])
	binary.LittleEndian.PutUint64(data[off:], h.CallbackInfoLen)
	binary.LittleEndian.PutUint64(data[off+8:], h.CallbackIDLen)
	binary.LittleEndian.PutUint64(data[off+16:], h.MinBaseOrderSize)
	binary.LittleEndian.PutUint64(data[off+24:], h.TickSize)
	return data
}
