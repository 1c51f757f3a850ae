package orderbook

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
)

// Status is the lifecycle state of an order
type Status uint8

const (
	StatusOpen Status = iota
	StatusCancelled
	StatusFilled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusCancelled:
		return "cancelled"
	case StatusFilled:
		return "filled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	st, ok := ParseStatus(string(b))
	if !ok {
		return &statusError{string(b)}
	}
	*s = st
	return nil
}

// ParseStatus maps "open", "cancelled" or "filled" to a Status
func ParseStatus(s string) (Status, bool) {
	switch s {
	case "open":
		return StatusOpen, true
	case "cancelled":
		return StatusCancelled, true
	case "filled":
		return StatusFilled, true
	}
	return 0, false
}

type statusError struct{ s string }

func (e *statusError) Error() string { return "unknown order status: " + e.s }

// Order is a standing offer: the creator gives AmountGive of AssetGive in
// exchange for AmountGet of AssetGet. Orders are filled whole, never partially.
type Order struct {
	ID         uint64         `json:"id"`
	Creator    core.AccountID `json:"creator"`
	AssetGet   core.AssetID   `json:"assetGet"`
	AmountGet  *uint256.Int   `json:"amountGet"`
	AssetGive  core.AssetID   `json:"assetGive"`
	AmountGive *uint256.Int   `json:"amountGive"`
	Timestamp  int64          `json:"timestamp"`
	Status     Status         `json:"status"`
}

// IsOpen reports whether the order can still be cancelled or filled
func (o *Order) IsOpen() bool { return o.Status == StatusOpen }

// Clone returns a deep copy so callers never alias book state
func (o *Order) Clone() *Order {
	c := *o
	c.AmountGet = clone(o.AmountGet)
	c.AmountGive = clone(o.AmountGive)
	return &c
}
