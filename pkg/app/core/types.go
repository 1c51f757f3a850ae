package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountID identifies a ledger account (EVM-compatible 20-byte address).
type AccountID common.Address

// AssetID identifies an asset. The zero value is the native asset.
// Kept distinct from AccountID so the two can never be swapped by accident.
type AssetID common.Address

// Native is the reserved identifier of the chain-native asset (0x000...0).
var Native = AssetID{}

// ParseAccount parses a 0x-prefixed hex address into an AccountID
func ParseAccount(s string) (AccountID, error) {
	if !common.IsHexAddress(s) {
		return AccountID{}, fmt.Errorf("invalid account address: %q", s)
	}
	return AccountID(common.HexToAddress(s)), nil
}

// ParseAsset parses a 0x-prefixed hex address into an AssetID
func ParseAsset(s string) (AssetID, error) {
	if !common.IsHexAddress(s) {
		return AssetID{}, fmt.Errorf("invalid asset address: %q", s)
	}
	return AssetID(common.HexToAddress(s)), nil
}

// MustAccount is ParseAccount for constants and tests; it panics on malformed input
func MustAccount(s string) AccountID {
	a, err := ParseAccount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// MustAsset is ParseAsset for constants and tests; it panics on malformed input
func MustAsset(s string) AssetID {
	a, err := ParseAsset(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a AccountID) Address() common.Address { return common.Address(a) }
func (a AccountID) Hex() string             { return common.Address(a).Hex() }
func (a AccountID) String() string          { return a.Hex() }
func (a AccountID) IsZero() bool            { return a == AccountID{} }

func (a AccountID) MarshalText() ([]byte, error) { return common.Address(a).MarshalText() }

func (a *AccountID) UnmarshalText(b []byte) error {
	return (*common.Address)(a).UnmarshalText(b)
}

func (a AssetID) Address() common.Address { return common.Address(a) }
func (a AssetID) Hex() string             { return common.Address(a).Hex() }
func (a AssetID) String() string          { return a.Hex() }

// IsNative reports whether a is the reserved native-asset identifier
func (a AssetID) IsNative() bool { return a == Native }

func (a AssetID) MarshalText() ([]byte, error) { return common.Address(a).MarshalText() }

func (a *AssetID) UnmarshalText(b []byte) error {
	return (*common.Address)(a).UnmarshalText(b)
}
