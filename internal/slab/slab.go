// Package slab implements the resting-order book for one market: a
// fixed-capacity array of price-time ordered orders plus the pool header
// (authority, halt switch, AMM reserves, funding index).
//
// Matching is price-time priority at the resting (maker) price. Fills are
// reported as immutable FillReceipts; the risk engine consumes each receipt
// exactly once within the same instruction.
package slab

import (
	"errors"

	"github.com/google/uuid"

	"PerpCore/internal/fpmath"
)

var (
	ErrUnauthorized  = errors.New("slab: unauthorized")
	ErrTradingHalted = errors.New("slab: trading halted")
	ErrInvalidPrice  = errors.New("slab: invalid price")
	ErrInvalidSize   = errors.New("slab: invalid size")
	ErrInvalidSide   = errors.New("slab: invalid side")
	ErrOrderBookFull = errors.New("slab: order book full")
	ErrNotFound      = errors.New("slab: order not found")
	ErrOverflow      = errors.New("slab: arithmetic overflow")
)

// Side is the book side of an order or the aggressing side of a fill.
type Side int32

const (
	SideBid Side = iota + 1
	SideAsk
)

func (s Side) String() string {
	switch s {
	case SideBid:
		return "Bid"
	case SideAsk:
		return "Ask"
	default:
		return "Unknown"
	}
}

// Opposite returns the other book side.
func (s Side) Opposite() Side {
	if s == SideBid {
		return SideAsk
	}
	return SideBid
}

// Order is a resting limit order. Seq breaks price ties: among equal
// prices the earliest insertion wins.
type Order struct {
	ID    uint64
	Owner uint32 // risk-engine account index
	Side  Side
	Price int64
	Size  int64
	Seq   uint64
}

// QuoteLevel is an aggregated price level.
type QuoteLevel struct {
	Price int64
	Size  int64
}

// QuoteCache holds the best bid/ask levels, refreshed after every
// book mutation.
type QuoteCache struct {
	BestBid QuoteLevel
	BestAsk QuoteLevel
	HasBid  bool
	HasAsk  bool
}

// FillReceipt records one maker/taker match. It is created by CommitFill
// and consumed exactly once by the risk engine; it is never persisted.
type FillReceipt struct {
	Price int64 // resting (maker) price
	Size  int64
	Side  Side // taker side
	Slot  int64
	Maker uint32
	Taker uint32
}

// Header is the pool-lifetime slab state.
type Header struct {
	LPOwner      uuid.UUID
	Halted       bool
	ReserveBase  int64
	ReserveQuote int64
	FundingIndex int64 // cumulative funding per unit position, money scale
	Cache        QuoteCache
}

// Slab is the order book for one market.
type Slab struct {
	Header Header

	orders  []Order // live orders, insertion-ordered; len <= cap fixed at init
	nextID  uint64
	nextSeq uint64
}

// New creates a slab with a fixed order capacity and initial AMM reserves.
func New(lpOwner uuid.UUID, capacity int, reserveBase, reserveQuote int64) (*Slab, error) {
	if capacity <= 0 {
		return nil, ErrInvalidSize
	}
	if reserveBase <= 0 || reserveQuote <= 0 {
		return nil, ErrInvalidPrice
	}
	return &Slab{
		Header: Header{
			LPOwner:      lpOwner,
			ReserveBase:  reserveBase,
			ReserveQuote: reserveQuote,
		},
		orders: make([]Order, 0, capacity),
	}, nil
}

// HaltTrading flips the slab to Halted. Only the LP owner may halt.
func (s *Slab) HaltTrading(authority uuid.UUID) error {
	if authority != s.Header.LPOwner {
		return ErrUnauthorized
	}
	s.Header.Halted = true
	return nil
}

// ResumeTrading flips the slab back to Active. Only the LP owner may resume.
func (s *Slab) ResumeTrading(authority uuid.UUID) error {
	if authority != s.Header.LPOwner {
		return ErrUnauthorized
	}
	s.Header.Halted = false
	return nil
}

// PlaceOrder inserts a resting order and returns its ID.
func (s *Slab) PlaceOrder(owner uint32, side Side, price, size int64) (uint64, error) {
	if s.Header.Halted {
		return 0, ErrTradingHalted
	}
	if side != SideBid && side != SideAsk {
		return 0, ErrInvalidSide
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}
	if size <= 0 {
		return 0, ErrInvalidSize
	}
	if len(s.orders) == cap(s.orders) {
		return 0, ErrOrderBookFull
	}

	s.nextID++
	s.nextSeq++
	s.orders = append(s.orders, Order{
		ID:    s.nextID,
		Owner: owner,
		Side:  side,
		Price: price,
		Size:  size,
		Seq:   s.nextSeq,
	})
	s.refreshCache()

	return s.nextID, nil
}

// CancelOrder removes a resting order. The caller must own the order.
func (s *Slab) CancelOrder(orderID uint64, owner uint32) error {
	if s.Header.Halted {
		return ErrTradingHalted
	}

	idx := -1
	for i := range s.orders {
		if s.orders[i].ID == orderID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	if s.orders[idx].Owner != owner {
		return ErrUnauthorized
	}

	s.orders = append(s.orders[:idx], s.orders[idx+1:]...)
	s.refreshCache()

	return nil
}

// CommitFill matches an aggressing order of (side, limitPrice, size)
// against the resting opposite side at maker prices, best price first and
// earliest insertion first among equal prices. Partial matches reduce
// resting size; full matches remove the order. The aggregate matched size
// never exceeds resting size. An empty receipt list means nothing crossed.
//
// All matching is planned before any book mutation; on error the book is
// unchanged.
func (s *Slab) CommitFill(taker uint32, side Side, limitPrice, size, slot int64) ([]FillReceipt, error) {
	if s.Header.Halted {
		return nil, ErrTradingHalted
	}
	if side != SideBid && side != SideAsk {
		return nil, ErrInvalidSide
	}
	if limitPrice <= 0 {
		return nil, ErrInvalidPrice
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	// Plan phase: decide fills against a scratch view of resting sizes.
	type plannedFill struct {
		orderIdx int
		size     int64
	}
	remaining := size
	scratch := make([]int64, len(s.orders))
	for i := range s.orders {
		scratch[i] = s.orders[i].Size
	}

	var planned []plannedFill
	var receipts []FillReceipt

	for remaining > 0 {
		best := -1
		for i := range s.orders {
			o := &s.orders[i]
			if o.Side != side.Opposite() || scratch[i] == 0 {
				continue
			}
			if !crosses(side, limitPrice, o.Price) {
				continue
			}
			if best < 0 || betterMaker(o.Side, o.Price, o.Seq, s.orders[best].Price, s.orders[best].Seq) {
				best = i
			}
		}
		if best < 0 {
			break
		}

		fillSize := remaining
		if scratch[best] < fillSize {
			fillSize = scratch[best]
		}
		scratch[best] -= fillSize
		remaining -= fillSize

		planned = append(planned, plannedFill{orderIdx: best, size: fillSize})
		receipts = append(receipts, FillReceipt{
			Price: s.orders[best].Price,
			Size:  fillSize,
			Side:  side,
			Slot:  slot,
			Maker: s.orders[best].Owner,
			Taker: taker,
		})
	}

	// Commit phase: apply planned reductions, then drop emptied orders
	// in one pass so relative (time) order is preserved.
	for _, pf := range planned {
		s.orders[pf.orderIdx].Size -= pf.size
	}
	live := s.orders[:0]
	for _, o := range s.orders {
		if o.Size > 0 {
			live = append(live, o)
		}
	}
	s.orders = live
	if len(planned) > 0 {
		s.refreshCache()
	}

	return receipts, nil
}

// UpdateFunding accrues rate per unit position per slot onto the
// cumulative funding index and returns the index delta.
func (s *Slab) UpdateFunding(rate, elapsedSlots int64) (int64, error) {
	if elapsedSlots < 0 {
		return 0, ErrInvalidSize
	}
	delta, ok := fpmath.MulDiv(rate, elapsedSlots, 1, fpmath.RoundDown)
	if !ok {
		return 0, ErrOverflow
	}
	newIndex, ok := fpmath.CheckedAdd(s.Header.FundingIndex, delta)
	if !ok {
		return 0, ErrOverflow
	}
	s.Header.FundingIndex = newIndex
	return delta, nil
}

// SetReserves applies a quoted reserve pair. Both must stay strictly
// positive; otherwise the header is unchanged.
func (s *Slab) SetReserves(reserveBase, reserveQuote int64) error {
	if reserveBase <= 0 || reserveQuote <= 0 {
		return ErrInvalidPrice
	}
	s.Header.ReserveBase = reserveBase
	s.Header.ReserveQuote = reserveQuote
	return nil
}

// Orders returns a copy of the live orders in insertion order.
func (s *Slab) Orders() []Order {
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// OpenOrders reports the number of resting orders.
func (s *Slab) OpenOrders() int {
	return len(s.orders)
}

// RestingSize returns the total resting size owned by an account on a side.
func (s *Slab) RestingSize(owner uint32, side Side) int64 {
	var total int64
	for i := range s.orders {
		if s.orders[i].Owner == owner && s.orders[i].Side == side {
			total += s.orders[i].Size
		}
	}
	return total
}

// crosses reports whether an aggressing order at limitPrice trades against
// a resting maker at makerPrice.
func crosses(takerSide Side, limitPrice, makerPrice int64) bool {
	if takerSide == SideBid {
		return makerPrice <= limitPrice
	}
	return makerPrice >= limitPrice
}

// betterMaker reports whether maker (price, seq) has priority over the
// current best on the same side: best price first, earliest seq among ties.
func betterMaker(makerSide Side, price int64, seq uint64, bestPrice int64, bestSeq uint64) bool {
	if price != bestPrice {
		if makerSide == SideAsk {
			return price < bestPrice
		}
		return price > bestPrice
	}
	return seq < bestSeq
}

// refreshCache recomputes the aggregated best bid/ask levels.
func (s *Slab) refreshCache() {
	var cache QuoteCache
	for i := range s.orders {
		o := &s.orders[i]
		switch o.Side {
		case SideBid:
			if !cache.HasBid || o.Price > cache.BestBid.Price {
				cache.BestBid = QuoteLevel{Price: o.Price, Size: o.Size}
				cache.HasBid = true
			} else if o.Price == cache.BestBid.Price {
				cache.BestBid.Size += o.Size
			}
		case SideAsk:
			if !cache.HasAsk || o.Price < cache.BestAsk.Price {
				cache.BestAsk = QuoteLevel{Price: o.Price, Size: o.Size}
				cache.HasAsk = true
			} else if o.Price == cache.BestAsk.Price {
				cache.BestAsk.Size += o.Size
			}
		}
	}
	s.Header.Cache = cache
}
