package transaction

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
)

// ReceiptStatus is the outcome of an applied transaction
type ReceiptStatus string

const (
	StatusSuccess ReceiptStatus = "success"
	StatusFailed  ReceiptStatus = "failed"
)

// Receipt records how a transaction was applied. Failed transactions still
// consume their nonce and get a receipt.
type Receipt struct {
	Hash    common.Hash    `json:"hash"`
	Height  uint64         `json:"height"`
	Index   int            `json:"index"`
	Account core.AccountID `json:"account"`
	Op      exchange.Op    `json:"op"`
	Nonce   uint64         `json:"nonce"`
	Status  ReceiptStatus  `json:"status"`
	Error   string         `json:"error,omitempty"`
	OrderID uint64         `json:"orderId,omitempty"`
}
