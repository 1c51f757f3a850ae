// Package vault holds chain-native value for the hosting boundary.
//
// Wallet balances live here, outside the exchange ledger. Value attached to a
// payable call moves from the caller's wallet into the vault's held pool; the
// exchange releases it back to a wallet on withdrawal.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/gateway"
)

var ErrInsufficientFunds = errors.New("vault: insufficient funds")

// Memory is an in-memory native vault
type Memory struct {
	mu      sync.Mutex
	wallets map[core.AccountID]*uint256.Int
	held    *uint256.Int
}

var _ gateway.NativeVault = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		wallets: make(map[core.AccountID]*uint256.Int),
		held:    new(uint256.Int),
	}
}

// Fund mints amount into account's wallet (genesis allocation only)
func (m *Memory) Fund(account core.AccountID, amount *uint256.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, overflow := new(uint256.Int).AddOverflow(m.wallet(account), amount)
	if overflow {
		return fmt.Errorf("fund %s: %w", account.Hex(), core.ErrOverflow)
	}
	m.wallets[account] = bal
	return nil
}

// Attach moves value from the caller's wallet into the held pool
func (m *Memory) Attach(from core.AccountID, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.wallet(from)
	if bal.Lt(value) {
		return fmt.Errorf("attach %s from %s (wallet %s): %w", value.Dec(), from.Hex(), bal.Dec(), ErrInsufficientFunds)
	}
	m.wallets[from] = new(uint256.Int).Sub(bal, value)
	m.held.Add(m.held, value)
	return nil
}

// Refund returns attached value to the caller after a rejected call.
// It fails only when the held pool no longer covers value.
func (m *Memory) Refund(to core.AccountID, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return nil
	}
	if err := m.Release(context.Background(), to, value); err != nil {
		return fmt.Errorf("refund %s: %w", to.Hex(), err)
	}
	return nil
}

// Release pays amount out of the held pool into to's wallet
func (m *Memory) Release(ctx context.Context, to core.AccountID, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.held.Lt(amount) {
		return fmt.Errorf("release %s (held %s): %w", amount.Dec(), m.held.Dec(), ErrInsufficientFunds)
	}
	m.held.Sub(m.held, amount)
	m.wallets[to] = new(uint256.Int).Add(m.wallet(to), amount)
	return nil
}

// Held is the native value currently in custody
func (m *Memory) Held() *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.held.Clone()
}

// Wallet is account's native balance outside the exchange
func (m *Memory) Wallet(account core.AccountID) *uint256.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallet(account).Clone()
}

// Snapshot returns every non-zero wallet and the held pool
func (m *Memory) Snapshot() (map[core.AccountID]*uint256.Int, *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[core.AccountID]*uint256.Int, len(m.wallets))
	for a, b := range m.wallets {
		if !b.IsZero() {
			out[a] = b.Clone()
		}
	}
	return out, m.held.Clone()
}

// Restore replaces the vault contents
func (m *Memory) Restore(wallets map[core.AccountID]*uint256.Int, held *uint256.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets = make(map[core.AccountID]*uint256.Int, len(wallets))
	for a, b := range wallets {
		m.wallets[a] = b.Clone()
	}
	m.held = new(uint256.Int)
	if held != nil {
		m.held = held.Clone()
	}
}

func (m *Memory) wallet(account core.AccountID) *uint256.Int {
	if b, ok := m.wallets[account]; ok {
		return b
	}
	return new(uint256.Int)
}
