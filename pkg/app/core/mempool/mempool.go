package mempool

import (
	"encoding/json"
	"sync"
)

// TxType classifies transactions into proposal buckets.
type TxType int

const (
	TxTransfer TxType = iota // approvals, deposits and withdrawals
	TxCancel
	TxOrder // make_order and fill_order
)

func (t TxType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxCancel:
		return "cancel"
	default:
		return "order"
	}
}

// ClassifyRaw classifies a raw transaction by peeking at payload.op.
//
//	{"payload": {"op": "deposit_native", ...}}  -> TxTransfer
//	{"payload": {"op": "cancel_order", ...}}    -> TxCancel
//	anything else                               -> TxOrder
//
// Malformed transactions land in the order bucket; the applier rejects them there.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}

	var envelope struct {
		Payload struct {
			Op string `json:"op"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}

	switch envelope.Payload.Op {
	case "approve", "deposit_native", "withdraw_native", "deposit", "withdraw":
		return TxTransfer
	case "cancel_order":
		return TxCancel
	default:
		return TxOrder
	}
}

// Mempool keeps three FIFO queues drained in a fixed order:
// (1) transfers, (2) cancels, (3) orders and fills.
// Funds deposited and orders cancelled in a block are visible to the fills
// that follow them in the same block.
type Mempool struct {
	mu       sync.Mutex
	transfer [][]byte
	cancel   [][]byte
	orders   [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case TxTransfer:
		m.transfer = append(m.transfer, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// SelectForProposal returns up to maxBytes worth of txs in bucket order,
// removing selected txs from the mempool. maxBytes <= 0 means no limit.
// A tx larger than maxBytes is still selected when it comes first, so it
// cannot stall the queues behind it.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes && len(out) > 0 {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.transfer)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfer) + len(m.cancel) + len(m.orders)
}
