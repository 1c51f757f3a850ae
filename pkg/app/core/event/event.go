// Package event holds the exchange's append-only audit log.
//
// Every committed state transition appends exactly one event; rejected
// operations append nothing. Sequence numbers start at 1 and never repeat.
package event

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Kind names the transition an event records
type Kind string

const (
	KindDeposit  Kind = "deposit"
	KindWithdraw Kind = "withdraw"
	KindOrder    Kind = "order"
	KindCancel   Kind = "cancel"
	KindTrade    Kind = "trade"
)

// Event is a flat record; which fields are set depends on Kind.
//
//	Deposit/Withdraw: Asset, Account, Amount, Balance (after the movement)
//	Order, Cancel:    OrderID, Creator, AssetGet, AmountGet, AssetGive, AmountGive
//	Trade:            Order fields plus Taker, with the fee paid in Amount
type Event struct {
	Seq       uint64 `json:"seq"`
	Kind      Kind   `json:"kind"`
	Timestamp int64  `json:"timestamp"`

	Asset   core.AssetID   `json:"asset"`
	Account core.AccountID `json:"account"`
	Amount  *uint256.Int   `json:"amount,omitempty"`
	Balance *uint256.Int   `json:"balance,omitempty"`

	OrderID    uint64         `json:"orderId,omitempty"`
	Creator    core.AccountID `json:"creator"`
	AssetGet   core.AssetID   `json:"assetGet"`
	AmountGet  *uint256.Int   `json:"amountGet,omitempty"`
	AssetGive  core.AssetID   `json:"assetGive"`
	AmountGive *uint256.Int   `json:"amountGive,omitempty"`
	Taker      core.AccountID `json:"taker"`
}

// Involves reports whether account appears in the event in any role
func (e Event) Involves(account core.AccountID) bool {
	switch e.Kind {
	case KindDeposit, KindWithdraw:
		return e.Account == account
	case KindOrder, KindCancel:
		return e.Creator == account
	case KindTrade:
		return e.Creator == account || e.Taker == account
	}
	return false
}

// Listener is notified synchronously after each append
type Listener func(Event)

// Log is the in-memory append-only event log
type Log struct {
	mu        sync.RWMutex
	events    []Event
	listeners []Listener
}

func NewLog() *Log {
	return &Log{}
}

// Load replaces the log contents with persisted events, which must be
// contiguous from Seq 1. Listeners are kept and not notified.
func (l *Log) Load(events []Event) error {
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			return fmt.Errorf("event log gap: position %d has seq %d", i, e.Seq)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append([]Event(nil), events...)
	return nil
}

// Append assigns the next sequence number, stores e and notifies listeners
func (l *Log) Append(e Event) Event {
	l.mu.Lock()
	e.Seq = uint64(len(l.events)) + 1
	l.events = append(l.events, e)
	listeners := l.listeners
	l.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
	return e
}

// Subscribe registers fn for every future append
func (l *Log) Subscribe(fn Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Since returns up to limit events with Seq > seq, oldest first.
// limit <= 0 means no limit.
func (l *Log) Since(seq uint64, limit int) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if seq >= uint64(len(l.events)) {
		return nil
	}
	tail := l.events[seq:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	return append([]Event(nil), tail...)
}

// Len returns the number of events, which is also the last assigned Seq
func (l *Log) Len() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint64(len(l.events))
}

// All returns a copy of the whole log
func (l *Log) All() []Event {
	return l.Since(0, 0)
}
