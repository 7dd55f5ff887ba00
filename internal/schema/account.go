package schema

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"math/bits"

	"github.com/gagliardetto/solana-go"
)

// Account layouts mirror the on-chain program's zero-copy structs: an 8-byte
// anchor discriminator (sha256("account:<Name>")[:8]) followed by
// little-endian fields. Sizes are fixed; anything else is rejected before
// interpretation.

const (
	// UserOpenOrdersCap bounds the per-account resting order set.
	UserOpenOrdersCap = 16
	// UserOpenDebtsCap bounds the per-account open debt slot set.
	UserOpenDebtsCap = 16

	userAccountSize = 8 + 32 + 32 + 5*8 + UserOpenOrdersCap*16 + UserOpenDebtsCap*2 + 2 + 6
)

func anchorAccountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var userAccountDiscriminator = anchorAccountDiscriminator("UserAccount")

// OrderID is the book's 128-bit order identifier. The price sits in the high
// 64 bits; the low bits disambiguate orders at the same price level.
type OrderID struct {
	Hi uint64
	Lo uint64
}

func (id OrderID) IsZero() bool { return id.Hi == 0 && id.Lo == 0 }

// Price returns the limit price (interest rate) encoded in the id.
func (id OrderID) Price() uint64 { return id.Hi }

// Less orders ids numerically as 128-bit integers.
func (id OrderID) Less(other OrderID) bool {
	if id.Hi != other.Hi {
		return id.Hi < other.Hi
	}
	return id.Lo < other.Lo
}

// Add returns id + delta with carry, used by slab traversal tests and
// critbit prefix arithmetic.
func (id OrderID) Add(delta uint64) OrderID {
	lo, carry := bits.Add64(id.Lo, delta, 0)
	return OrderID{Hi: id.Hi + carry, Lo: lo}
}

// String renders the id as a decimal u128, the form it circulates in
// outside this process.
func (id OrderID) String() string {
	n := new(big.Int).SetUint64(id.Hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(id.Lo))
	return n.String()
}

// MarshalJSON emits the decimal string form: 128-bit values do not survive
// a round trip through JSON numbers.
func (id OrderID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UserAccount is one user's margin account on a single market.
type UserAccount struct {
	Owner  solana.PublicKey
	Market solana.PublicKey

	BaseFree       uint64
	BaseLocked     uint64
	BaseOpenLend   uint64
	BaseOpenBorrow uint64
	QuoteTotal     uint64

	OpenOrders    [UserOpenOrdersCap]OrderID
	OpenDebts     [UserOpenDebtsCap]uint16
	OpenOrdersCnt uint8
	OpenDebtsCnt  uint8
}

// LiveOrders returns the populated prefix of the open order set. Ids past
// OpenOrdersCnt are stale slots and must not be interpreted.
func (ua *UserAccount) LiveOrders() []OrderID {
	n := int(ua.OpenOrdersCnt)
	if n > UserOpenOrdersCap {
		n = UserOpenOrdersCap
	}
	return ua.OpenOrders[:n]
}

// LiveDebts returns the populated prefix of the open debt slot indices.
func (ua *UserAccount) LiveDebts() []uint16 {
	n := int(ua.OpenDebtsCnt)
	if n > UserOpenDebtsCap {
		n = UserOpenDebtsCap
	}
	return ua.OpenDebts[:n]
}

// DecodeUserAccount validates and decodes raw user account bytes.
func DecodeUserAccount(data []byte) (*UserAccount, error) {
	if err := checkLen("UserAccount", data, userAccountSize); err != nil {
		return nil, err
	}
	if !bytes.Equal(data[:8], userAccountDiscriminator[:]) {
		return nil, ErrBadDiscriminator
	}

	ua := &UserAccount{}
	off := 8
	off += copy(ua.Owner[:], data[off:off+32])
	off += copy(ua.Market[:], data[off:off+32])

	ua.BaseFree = binary.LittleEndian.Uint64(data[off:])
	ua.BaseLocked = binary.LittleEndian.Uint64(data[off+8:])
	ua.BaseOpenLend = binary.LittleEndian.Uint64(data[off+16:])
	ua.BaseOpenBorrow = binary.LittleEndian.Uint64(data[off+24:])
	ua.QuoteTotal = binary.LittleEndian.Uint64(data[off+32:])
	off += 40

	for i := 0; i < UserOpenOrdersCap; i++ {
		ua.OpenOrders[i] = OrderID{
			Lo: binary.LittleEndian.Uint64(data[off:]),
			Hi: binary.LittleEndian.Uint64(data[off+8:]),
		}
		off += 16
	}
	for i := 0; i < UserOpenDebtsCap; i++ {
		ua.OpenDebts[i] = binary.LittleEndian.Uint16(data[off:])
		off += 2
	}
	ua.OpenOrdersCnt = data[off]
	ua.OpenDebtsCnt = data[off+1]

	return ua, nil
}

// EncodeUserAccount serializes a user account back to the wire layout. The
// client never writes accounts; this exists for tests and fixtures.
func EncodeUserAccount(ua *UserAccount) []byte {
	data := make([]byte, userAccountSize)
	copy(data[:8], userAccountDiscriminator[:])
	off := 8
	off += copy(data[off:], ua.Owner[:])
	off += copy(data[off:], ua.Market[:])

	binary.LittleEndian.PutUint64(data[off:], ua.BaseFree)
	binary.LittleEndian.PutUint64(data[off+8:], ua.BaseLocked)
	binary.LittleEndian.PutUint64(data[off+16:], ua.BaseOpenLend)
	binary.LittleEndian.PutUint64(data[off+24:], ua.BaseOpenBorrow)
	binary.LittleEndian.PutUint64(data[off+32:], ua.QuoteTotal)
	off += 40

	for i := 0; i < UserOpenOrdersCap; i++ {
		binary.LittleEndian.PutUint64(data[off:], ua.OpenOrders[i].Lo)
		binary.LittleEndian.PutUint64(data[off+8:], ua.OpenOrders[i].Hi)
		off += 16
	}
	for i := 0; i < UserOpenDebtsCap; i++ {
		binary.LittleEndian.PutUint16(data[off:], ua.OpenDebts[i])
		off += 2
	}
	data[off] = ua.OpenOrdersCnt
	data[off+1] = ua.OpenDebtsCnt
	return data
}
