package transaction

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	tcrypto "github.com/uhyunpark/tokenex/pkg/crypto"
)

// OpApprove sets the exchange custody allowance on a token. It is handled by
// the host before the exchange sees the call.
const OpApprove exchange.Op = "approve"

// Payload is the signed body of a transaction. Amounts travel as decimal
// strings so JSON clients never lose precision.
type Payload struct {
	Op         exchange.Op    `json:"op"`
	Account    core.AccountID `json:"account"`
	Asset      core.AssetID   `json:"asset"`
	Amount     *uint256.Int   `json:"amount,omitempty"`
	AssetGet   core.AssetID   `json:"assetGet"`
	AmountGet  *uint256.Int   `json:"amountGet,omitempty"`
	AssetGive  core.AssetID   `json:"assetGive"`
	AmountGive *uint256.Int   `json:"amountGive,omitempty"`
	OrderID    uint64         `json:"orderId,omitempty"`
	Value      *uint256.Int   `json:"value,omitempty"`
	Nonce      uint64         `json:"nonce"`
}

// SignedTransaction is the wire envelope accepted by the node
type SignedTransaction struct {
	Payload   Payload `json:"payload"`
	Signature string  `json:"signature"` // 0x-prefixed 65-byte hex
}

// ToEIP712 converts the payload to its typed-data form
func (p *Payload) ToEIP712() *tcrypto.OperationEIP712 {
	return &tcrypto.OperationEIP712{
		Op:         string(p.Op),
		Account:    p.Account.Address(),
		Asset:      p.Asset.Address(),
		Amount:     p.Amount,
		AssetGet:   p.AssetGet.Address(),
		AmountGet:  p.AmountGet,
		AssetGive:  p.AssetGive.Address(),
		AmountGive: p.AmountGive,
		OrderID:    p.OrderID,
		Value:      p.Value,
		Nonce:      p.Nonce,
	}
}

// Call converts the payload to an exchange call on behalf of caller
func (p *Payload) Call(caller core.AccountID) exchange.Call {
	return exchange.Call{
		Caller:     caller,
		Value:      p.Value,
		Op:         p.Op,
		Asset:      p.Asset,
		Amount:     p.Amount,
		AssetGet:   p.AssetGet,
		AmountGet:  p.AmountGet,
		AssetGive:  p.AssetGive,
		AmountGive: p.AmountGive,
		OrderID:    p.OrderID,
	}
}

// Sign builds a signed transaction for payload
func Sign(signer *tcrypto.EIP712Signer, key *tcrypto.Signer, p Payload) (*SignedTransaction, error) {
	sig, err := signer.SignOperation(key, p.ToEIP712())
	if err != nil {
		return nil, err
	}
	return &SignedTransaction{Payload: p, Signature: tcrypto.EncodeSignature(sig)}, nil
}

// Serialize converts SignedTransaction to JSON bytes
func (tx *SignedTransaction) Serialize() ([]byte, error) {
	return json.Marshal(tx)
}

// Hash identifies a transaction: keccak256 of its serialized form
func (tx *SignedTransaction) Hash() (common.Hash, error) {
	b, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// Deserialize parses JSON bytes into SignedTransaction
func Deserialize(data []byte) (*SignedTransaction, error) {
	var tx SignedTransaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transaction: %w", err)
	}
	return &tx, nil
}

// Validate performs structural checks; it does not verify the signature.
// Unknown operations pass so the exchange can reject them itself.
func (tx *SignedTransaction) Validate() error {
	if tx.Signature == "" {
		return fmt.Errorf("missing signature")
	}
	p := &tx.Payload
	if p.Account.IsZero() {
		return fmt.Errorf("missing account")
	}
	if p.Nonce == 0 {
		return fmt.Errorf("nonce must start at 1")
	}

	switch p.Op {
	case exchange.OpWithdrawNative, exchange.OpDeposit, exchange.OpWithdraw:
		if p.Amount == nil {
			return fmt.Errorf("%s requires amount", p.Op)
		}
	case OpApprove:
		if p.Asset.IsNative() || p.Amount == nil {
			return fmt.Errorf("approve requires a token asset and amount")
		}
	case exchange.OpMakeOrder:
		if p.AmountGet == nil || p.AmountGive == nil {
			return fmt.Errorf("make_order requires amountGet and amountGive")
		}
	case exchange.OpCancelOrder, exchange.OpFillOrder:
		if p.OrderID == 0 {
			return fmt.Errorf("%s requires orderId", p.Op)
		}
	}
	return nil
}

// ParseTransaction deserializes and validates a raw transaction
func ParseTransaction(data []byte) (*SignedTransaction, error) {
	tx, err := Deserialize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transaction: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}
	return tx, nil
}
