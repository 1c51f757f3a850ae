package asset

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/gateway"
)

// Asset describes one tradable asset.
// Gateway is nil for the native asset, which never leaves the hosting boundary's vault.
type Asset struct {
	ID       core.AssetID    `json:"id"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Decimals uint8           `json:"decimals"`
	Gateway  gateway.Gateway `json:"-"`
}

// IsNative reports whether this is the reserved native asset
func (a *Asset) IsNative() bool { return a.ID.IsNative() }

// NativeAsset is the implicit registration of the chain-native asset
var NativeAsset = Asset{ID: core.Native, Symbol: "ETH", Name: "Ether", Decimals: 18}

// Registry maps asset identifiers to their descriptors and custody gateways.
// The native asset is always present; tokens must be registered before use.
type Registry struct {
	mu     sync.RWMutex
	assets map[core.AssetID]*Asset
}

// NewRegistry creates a registry holding only the native asset
func NewRegistry() *Registry {
	native := NativeAsset
	return &Registry{
		assets: map[core.AssetID]*Asset{core.Native: &native},
	}
}

// Register adds a token asset.
// The native identifier, duplicates and assets without a gateway are rejected.
func (r *Registry) Register(a Asset) error {
	if a.ID.IsNative() {
		return fmt.Errorf("asset %s: native identifier is reserved: %w", a.ID.Hex(), core.ErrInvalidAsset)
	}
	if a.Gateway == nil {
		return fmt.Errorf("asset %s (%s) has no gateway", a.ID.Hex(), a.Symbol)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[a.ID]; exists {
		return fmt.Errorf("asset %s already registered", a.ID.Hex())
	}
	r.assets[a.ID] = &a
	return nil
}

// Lookup returns the asset registered under id, or core.ErrInvalidAsset
func (r *Registry) Lookup(id core.AssetID) (*Asset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.assets[id]
	if !ok {
		return nil, fmt.Errorf("asset %s not registered: %w", id.Hex(), core.ErrInvalidAsset)
	}
	return a, nil
}

// Token returns a registered non-native asset; the native asset is core.ErrInvalidAsset
// because it has no external gateway.
func (r *Registry) Token(id core.AssetID) (*Asset, error) {
	if id.IsNative() {
		return nil, fmt.Errorf("native asset has no token gateway: %w", core.ErrInvalidAsset)
	}
	return r.Lookup(id)
}

// List returns every asset, native first then by identifier
func (r *Registry) List() []*Asset {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Asset, 0, len(r.assets))
	for _, a := range r.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Count returns the number of registered assets including native
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.assets)
}
