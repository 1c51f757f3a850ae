package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/holiman/uint256"
)

// EIP712Domain is the domain separator for typed-data signing.
// It binds signatures to one chain and one exchange deployment.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// DefaultDomain returns the devnet domain
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "TokenExchange",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// OperationEIP712 is the typed data a wallet signs to invoke an exchange
// operation. Fields an operation does not use are left zero and still signed.
type OperationEIP712 struct {
	Op         string
	Account    common.Address
	Asset      common.Address
	Amount     *uint256.Int
	AssetGet   common.Address
	AmountGet  *uint256.Int
	AssetGive  common.Address
	AmountGive *uint256.Int
	OrderID    uint64
	Value      *uint256.Int
	Nonce      uint64
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var operationType = []apitypes.Type{
	{Name: "op", Type: "string"},
	{Name: "account", Type: "address"},
	{Name: "asset", Type: "address"},
	{Name: "amount", Type: "uint256"},
	{Name: "assetGet", Type: "address"},
	{Name: "amountGet", Type: "uint256"},
	{Name: "assetGive", Type: "address"},
	{Name: "amountGive", Type: "uint256"},
	{Name: "orderId", Type: "uint256"},
	{Name: "value", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
}

// EIP712Signer hashes, signs and recovers operations for one domain
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func dec(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func (e *EIP712Signer) typedData(op *OperationEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Operation":    operationType,
		},
		PrimaryType: "Operation",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"op":         op.Op,
			"account":    op.Account.Hex(),
			"asset":      op.Asset.Hex(),
			"amount":     dec(op.Amount),
			"assetGet":   op.AssetGet.Hex(),
			"amountGet":  dec(op.AmountGet),
			"assetGive":  op.AssetGive.Hex(),
			"amountGive": dec(op.AmountGive),
			"orderId":    fmt.Sprintf("%d", op.OrderID),
			"value":      dec(op.Value),
			"nonce":      fmt.Sprintf("%d", op.Nonce),
		},
	}
}

// HashOperation returns keccak256("\x19\x01" || domainSeparator || hashStruct(op))
func (e *EIP712Signer) HashOperation(op *OperationEIP712) ([]byte, error) {
	typedData := e.typedData(op)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	typedDataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(typedDataHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// SignOperation signs op with signer's key
func (e *EIP712Signer) SignOperation(signer *Signer, op *OperationEIP712) ([]byte, error) {
	hash, err := e.HashOperation(op)
	if err != nil {
		return nil, fmt.Errorf("failed to hash operation: %w", err)
	}
	return signer.Sign(hash)
}

// RecoverOperationSigner returns the address that signed op
func (e *EIP712Signer) RecoverOperationSigner(op *OperationEIP712, signature []byte) (common.Address, error) {
	hash, err := e.HashOperation(op)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to hash operation: %w", err)
	}
	return RecoverAddress(hash, signature)
}

// VerifyOperationSignature reports whether op was signed by op.Account
func (e *EIP712Signer) VerifyOperationSignature(op *OperationEIP712, signature []byte) (bool, error) {
	recovered, err := e.RecoverOperationSigner(op, signature)
	if err != nil {
		return false, err
	}
	return recovered == op.Account, nil
}

// OperationToJSON renders op as eth_signTypedData_v4 input for wallets
func (e *EIP712Signer) OperationToJSON(op *OperationEIP712) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedData(op), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
