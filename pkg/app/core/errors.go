package core

import "errors"

// Sentinel errors returned by the exchange core. Callers classify with errors.Is;
// operations wrap them with context via fmt.Errorf("...: %w").
//
// Every one of these is a rejected operation: state is left exactly as it was
// before the call and the exchange remains usable.
var (
	// Ledger
	ErrInsufficientBalance = errors.New("exchange: insufficient balance")
	ErrOverflow            = errors.New("exchange: balance overflow")

	// Assets and custody
	ErrInvalidAsset   = errors.New("exchange: invalid asset")
	ErrTransferFailed = errors.New("exchange: transfer failed")

	// Orders
	ErrOrderNotFound      = errors.New("exchange: order not found")
	ErrOrderAlreadyClosed = errors.New("exchange: order already closed")
	ErrUnauthorized       = errors.New("exchange: unauthorized")
	ErrSelfTrade          = errors.New("exchange: self trade")

	// Dispatch
	ErrNoSuchOperation = errors.New("exchange: no such operation")
	ErrNotPayable      = errors.New("exchange: operation does not accept native value")
)

// IsOrderError reports whether err is an order lifecycle rejection
func IsOrderError(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrOrderAlreadyClosed) ||
		errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrSelfTrade)
}

// IsCustodyError reports whether err came from moving value across the custody boundary
func IsCustodyError(err error) bool {
	return errors.Is(err, ErrTransferFailed) || errors.Is(err, ErrInvalidAsset)
}
