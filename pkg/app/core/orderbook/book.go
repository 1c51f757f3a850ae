package orderbook

import (
	"fmt"
	"sort"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Filter selects orders in Orders. Zero-valued fields match everything.
type Filter struct {
	Status  *Status
	Creator *core.AccountID
	Limit   int
}

func (f Filter) match(o *Order) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.Creator != nil && o.Creator != *f.Creator {
		return false
	}
	return true
}

// Book is the id-keyed order store. Ids start at 1 and are never reused;
// closed orders stay in the book as history.
//
// Book is not safe for concurrent use; the exchange facade serializes access.
type Book struct {
	orders map[uint64]*Order
	nextID uint64
}

func New() *Book {
	return &Book{
		orders: make(map[uint64]*Order),
		nextID: 1,
	}
}

// Restore rebuilds a book from persisted orders. nextID resumes after the
// highest restored id.
func Restore(orders []*Order) (*Book, error) {
	b := New()
	for _, o := range orders {
		if o.ID == 0 {
			return nil, fmt.Errorf("restore order: id 0 is never assigned")
		}
		if _, dup := b.orders[o.ID]; dup {
			return nil, fmt.Errorf("restore order %d: duplicate id", o.ID)
		}
		b.orders[o.ID] = o.Clone()
		if o.ID >= b.nextID {
			b.nextID = o.ID + 1
		}
	}
	return b, nil
}

// Make records a new open order and returns a copy of it. No balance is
// checked or reserved; settlement happens on fill.
func (b *Book) Make(creator core.AccountID, assetGet core.AssetID, amountGet *uint256.Int,
	assetGive core.AssetID, amountGive *uint256.Int, timestamp int64) *Order {
	o := &Order{
		ID:         b.nextID,
		Creator:    creator,
		AssetGet:   assetGet,
		AmountGet:  clone(amountGet),
		AssetGive:  assetGive,
		AmountGive: clone(amountGive),
		Timestamp:  timestamp,
		Status:     StatusOpen,
	}
	b.orders[o.ID] = o
	b.nextID++
	return o.Clone()
}

// Get returns a copy of order id or core.ErrOrderNotFound
func (b *Book) Get(id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %d: %w", id, core.ErrOrderNotFound)
	}
	return o.Clone(), nil
}

// CheckCancel validates that caller may cancel order id without changing anything
func (b *Book) CheckCancel(caller core.AccountID, id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("cancel order %d: %w", id, core.ErrOrderNotFound)
	}
	if o.Creator != caller {
		return nil, fmt.Errorf("cancel order %d by %s: %w", id, caller.Hex(), core.ErrUnauthorized)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("cancel order %d (%s): %w", id, o.Status, core.ErrOrderAlreadyClosed)
	}
	return o, nil
}

// Cancel closes order id on behalf of its creator
func (b *Book) Cancel(caller core.AccountID, id uint64) (*Order, error) {
	o, err := b.CheckCancel(caller, id)
	if err != nil {
		return nil, err
	}
	o.Status = StatusCancelled
	return o.Clone(), nil
}

// CheckFill validates that taker may fill order id without changing anything
func (b *Book) CheckFill(taker core.AccountID, id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("fill order %d: %w", id, core.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return nil, fmt.Errorf("fill order %d (%s): %w", id, o.Status, core.ErrOrderAlreadyClosed)
	}
	if o.Creator == taker {
		return nil, fmt.Errorf("fill order %d by its creator: %w", id, core.ErrSelfTrade)
	}
	return o.Clone(), nil
}

// MarkFilled closes an open order after settlement succeeded
func (b *Book) MarkFilled(id uint64) error {
	o, ok := b.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, core.ErrOrderNotFound)
	}
	if !o.IsOpen() {
		return fmt.Errorf("order %d (%s): %w", id, o.Status, core.ErrOrderAlreadyClosed)
	}
	o.Status = StatusFilled
	return nil
}

// Cancelled reports whether order id exists and was cancelled
func (b *Book) Cancelled(id uint64) bool {
	o, ok := b.orders[id]
	return ok && o.Status == StatusCancelled
}

// Filled reports whether order id exists and was filled
func (b *Book) Filled(id uint64) bool {
	o, ok := b.orders[id]
	return ok && o.Status == StatusFilled
}

// Orders returns copies of the matching orders in id order
func (b *Book) Orders(f Filter) []*Order {
	out := make([]*Order, 0)
	for _, o := range b.orders {
		if f.match(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	for i, o := range out {
		out[i] = o.Clone()
	}
	return out
}

// NextID is the id the next Make will assign
func (b *Book) NextID() uint64 { return b.nextID }

// Len returns the number of orders ever made
func (b *Book) Len() int { return len(b.orders) }

func clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return new(uint256.Int)
	}
	return x.Clone()
}
