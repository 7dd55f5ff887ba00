// Package book reconstructs order-book views from the orderbook program's
// slab accounts. A slab is a critbit tree over 128-bit order ids (price in
// the high 64 bits) serialized into fixed 40-byte slots; the client walks it
// read-only. One slab holds asks (lend offers), one holds bids (borrow
// offers).
package book

import (
	"encoding/binary"
	"errors"

	"MarginView/internal/schema"
)

// Slab wire layout: a fixed header followed by bumpIndex 40-byte slots.
// Each slot is an 8-byte tag plus a 32-byte body.
const (
	slabHeaderSize = 8 + 8 + 8 + 4 + 4 + 8 + 32
	slotSize       = 40

	tagInner    uint64 = 1
	tagLeaf     uint64 = 2
	tagFree     uint64 = 3
	tagLastFree uint64 = 4
)

var (
	// ErrSlabTruncated means the payload cannot hold the slots its header
	// declares.
	ErrSlabTruncated = errors.New("slab data shorter than declared slot count")
	// ErrSlabCorrupt means the tree walk hit an out-of-range or free slot.
	ErrSlabCorrupt = errors.New("slab tree references an invalid slot")
)

type innerNode struct {
	prefixLen uint64
	key       schema.OrderID
	children  [2]uint32
}

// LeafNode is one resting order.
type LeafNode struct {
	Key            schema.OrderID
	CallbackInfoPt uint64
	BaseQuantity   uint64
}

// Price returns the order's limit price (interest rate per the market's
// quoting convention).
func (l LeafNode) Price() uint64 { return l.Key.Price() }

type slot struct {
	tag   uint64
	inner innerNode
	leaf  LeafNode
}

// Slab is a decoded, immutable snapshot of one side of the book.
type Slab struct {
	AccountTag uint64
	LeafCount  uint64

	root  uint32
	slots []slot
}

// DecodeSlab validates and decodes raw slab account bytes.
func DecodeSlab(data []byte) (*Slab, error) {
	if len(data) < slabHeaderSize {
		return nil, ErrSlabTruncated
	}

	s := &Slab{}
	s.AccountTag = binary.LittleEndian.Uint64(data)
	bumpIndex := binary.LittleEndian.Uint64(data[8:])
	// free list length and head occupy [16:28); the reader never follows
	// the free list, it only skips free slots.
	s.root = binary.LittleEndian.Uint32(data[28:])
	s.LeafCount = binary.LittleEndian.Uint64(data[32:])

	body := data[slabHeaderSize:]
	if uint64(len(body)) < bumpIndex*slotSize {
		return nil, ErrSlabTruncated
	}

	s.slots = make([]slot, bumpIndex)
	for i := range s.slots {
		raw := body[i*slotSize : (i+1)*slotSize]
		sl := &s.slots[i]
		sl.tag = binary.LittleEndian.Uint64(raw)
		switch sl.tag {
		case tagInner:
			sl.inner = innerNode{
				prefixLen: binary.LittleEndian.Uint64(raw[8:]),
				key: schema.OrderID{
					Lo: binary.LittleEndian.Uint64(raw[16:]),
					Hi: binary.LittleEndian.Uint64(raw[24:]),
				},
				children: [2]uint32{
					binary.LittleEndian.Uint32(raw[32:]),
					binary.LittleEndian.Uint32(raw[36:]),
				},
			}
		case tagLeaf:
			sl.leaf = LeafNode{
				Key: schema.OrderID{
					Lo: binary.LittleEndian.Uint64(raw[8:]),
					Hi: binary.LittleEndian.Uint64(raw[16:]),
				},
				CallbackInfoPt: binary.LittleEndian.Uint64(raw[24:]),
				BaseQuantity:   binary.LittleEndian.Uint64(raw[32:]),
			}
		}
	}

	return s, nil
}

// Find returns the resting order with the given id, if present.
func (s *Slab) Find(id schema.OrderID) (LeafNode, bool) {
	if s.LeafCount == 0 || len(s.slots) == 0 {
		return LeafNode{}, false
	}

	idx := s.root
	for {
		if int(idx) >= len(s.slots) {
			return LeafNode{}, false
		}
		switch n := &s.slots[idx]; n.tag {
		case tagLeaf:
			if n.leaf.Key == id {
				return n.leaf, true
			}
			return LeafNode{}, false
		case tagInner:
			// The critical bit sits prefixLen bits below the top of the
			// 128-bit key space; the bit's value picks the child.
			idx = n.inner.children[critBit(id, n.inner.prefixLen)]
		default:
			return LeafNode{}, false
		}
	}
}

func critBit(id schema.OrderID, prefixLen uint64) int {
	bit := 127 - prefixLen
	var v uint64
	if bit >= 64 {
		v = id.Hi >> (bit - 64)
	} else {
		v = id.Lo >> bit
	}
	return int(v & 1)
}

// walkLeaves visits every resting order in key order (ascending when asc,
// descending otherwise). The visit callback returns false to stop early.
func (s *Slab) walkLeaves(asc bool, visit func(LeafNode) bool) error {
	if s.LeafCount == 0 || len(s.slots) == 0 {
		return nil
	}

	// Explicit stack; slab depth is bounded by the key width so this stays
	// small even for a full book.
	stack := make([]uint32, 0, 128)
	stack = append(stack, s.root)
	for len(stack) > 0 {
		idx := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(idx) >= len(s.slots) {
			return ErrSlabCorrupt
		}
		switch n := &s.slots[idx]; n.tag {
		case tagLeaf:
			if !visit(n.leaf) {
				return nil
			}
		case tagInner:
			// Push the far side first so the near side pops first.
			if asc {
				stack = append(stack, n.inner.children[1], n.inner.children[0])
			} else {
				stack = append(stack, n.inner.children[0], n.inner.children[1])
			}
		default:
			return ErrSlabCorrupt
		}
	}
	return nil
}
