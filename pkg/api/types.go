package api

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
)

// API response types for REST endpoints and WebSocket messages.
// Raw amounts are base-unit decimal strings; Formatted fields shift them by
// the asset's decimals for display.

// ==============================
// REST Response Types
// ==============================

// ConfigInfo describes the exchange deployment
type ConfigInfo struct {
	FeeAccount       string `json:"feeAccount"`
	FeePercent       uint64 `json:"feePercent"`
	Custody          string `json:"custody"`
	ChainID          string `json:"chainId"`
	DomainName       string `json:"domainName"`    // EIP-712 domain name
	DomainVersion    string `json:"domainVersion"` // EIP-712 domain version
	BlockTimeMs      int64  `json:"blockTimeMs"`
	MaxBlockBytes    int64  `json:"maxBlockBytes"`
	NativeAsset      string `json:"nativeAsset"`
	RegisteredAssets int    `json:"registeredAssets"`
}

// AssetInfo is a registered asset
type AssetInfo struct {
	ID              string `json:"id"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	Decimals        uint8  `json:"decimals"`
	Native          bool   `json:"native"`
	Supply          string `json:"supply"` // held by the exchange ledger
	SupplyFormatted string `json:"supplyFormatted"`
}

// BalanceInfo is one ledger balance
type BalanceInfo struct {
	Asset     string `json:"asset"`
	Symbol    string `json:"symbol"`
	Balance   string `json:"balance"`
	Formatted string `json:"formatted"`
}

// AccountBalances lists an account's non-zero exchange balances plus its
// native wallet outside the exchange
type AccountBalances struct {
	Address  string        `json:"address"`
	Balances []BalanceInfo `json:"balances"`
	Wallet   BalanceInfo   `json:"wallet"`
}

// NonceInfo is the last nonce an account used; the next transaction must
// carry a greater one
type NonceInfo struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// OrderInfo is an order in any state
type OrderInfo struct {
	ID         uint64 `json:"id"`
	Creator    string `json:"creator"`
	AssetGet   string `json:"assetGet"`
	AmountGet  string `json:"amountGet"`
	AssetGive  string `json:"assetGive"`
	AmountGive string `json:"amountGive"`
	Status     string `json:"status"` // "open", "cancelled", "filled"
	Timestamp  int64  `json:"timestamp"`
}

// ChainStatus is the local block producer's state
type ChainStatus struct {
	Height      uint64      `json:"height"`
	Time        int64       `json:"time"`
	StateHash   common.Hash `json:"stateHash"`
	MempoolSize int         `json:"mempoolSize"`
	Events      uint64      `json:"events"`
	Orders      int         `json:"orders"`
}

// SubmitTxResponse is returned for an accepted transaction
type SubmitTxResponse struct {
	Status string      `json:"status"` // "submitted"
	Hash   common.Hash `json:"hash"`
}

// TxStatus reports where a transaction is
type TxStatus struct {
	Hash    common.Hash          `json:"hash"`
	Status  string               `json:"status"` // "pending", "success", "failed"
	Receipt *transaction.Receipt `json:"receipt,omitempty"`
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSMessage is the envelope of every server push
type WSMessage struct {
	Type    string      `json:"type"` // "event", "block", "subscribed", "unsubscribed", "error"
	Channel string      `json:"channel,omitempty"`
	Data    interface{} `json:"data"`
}

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // "events", "blocks", "account:0x..."
}
