package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/crypto"
)

// FeederConfig controls devnet load generation
type FeederConfig struct {
	Accounts int           // simulated traders
	Batch    int           // txs per tick
	Interval time.Duration // tick period
	Seed     string        // derives the traders' keys and the traffic
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Accounts: 20,
		Batch:    10,
		Interval: 500 * time.Millisecond,
		Seed:     "tokenex-devnet",
	}
}

// Feeder generates signed native-asset traffic: deposits, orders, fills and
// cancels from a fixed set of traders. Fills and cancels target guessed order
// ids and are expected to fail some of the time.
type Feeder struct {
	cfg     FeederConfig
	signers []*crypto.Signer
	nonces  map[core.AccountID]uint64
	eip712  *crypto.EIP712Signer
	rng     *rand.Rand
	orders  uint64 // make_order txs generated so far
}

// NewFeeder derives cfg.Accounts keys and the traffic sequence from cfg.Seed,
// so the same seed always yields the same traders and the same transactions
func NewFeeder(cfg FeederConfig, domain crypto.EIP712Domain) (*Feeder, error) {
	f := &Feeder{
		cfg:    cfg,
		nonces: make(map[core.AccountID]uint64),
		eip712: crypto.NewEIP712Signer(domain),
		rng:    rand.New(rand.NewSource(seedInt64(cfg.Seed))),
	}
	for i := 0; i < cfg.Accounts; i++ {
		key := ethcrypto.Keccak256([]byte(fmt.Sprintf("%s/%d", cfg.Seed, i)))
		s, err := crypto.FromPrivateKeyHex(fmt.Sprintf("%x", key))
		if err != nil {
			return nil, fmt.Errorf("derive trader %d: %w", i, err)
		}
		f.signers = append(f.signers, s)
	}
	return f, nil
}

// seedInt64 derives the traffic generator's seed from the configured seed
func seedInt64(seed string) int64 {
	h := ethcrypto.Keccak256([]byte(seed + "/traffic"))
	return int64(binary.BigEndian.Uint64(h[:8]))
}

// Accounts lists the traders, for genesis funding
func (f *Feeder) Accounts() []core.AccountID {
	out := make([]core.AccountID, len(f.signers))
	for i, s := range f.signers {
		out[i] = core.AccountID(s.Address())
	}
	return out
}

// SyncNonces continues from the nonces a restored host already saw
func (f *Feeder) SyncNonces(h *Host) {
	for _, a := range f.Accounts() {
		f.nonces[a] = h.Nonce(a)
	}
}

// Generate returns one signed transaction from a random trader
func (f *Feeder) Generate() (*transaction.SignedTransaction, error) {
	signer := f.signers[f.rng.Intn(len(f.signers))]
	account := core.AccountID(signer.Address())
	f.nonces[account]++

	p := transaction.Payload{Account: account, Nonce: f.nonces[account]}
	amount := func() *uint256.Int { return uint256.NewInt(uint64(f.rng.Intn(1000)+1) * 1e12) }

	switch r := f.rng.Intn(100); {
	case r < 30 || f.orders == 0:
		p.Op = exchange.OpDepositNative
		p.Value = uint256.NewInt(uint64(f.rng.Intn(10)+1) * 1e15)
	case r < 65:
		p.Op = exchange.OpMakeOrder
		p.AssetGet, p.AmountGet = core.Native, amount()
		p.AssetGive, p.AmountGive = core.Native, amount()
	case r < 90:
		p.Op = exchange.OpFillOrder
		p.OrderID = uint64(f.rng.Int63n(int64(f.orders))) + 1
	default:
		p.Op = exchange.OpCancelOrder
		p.OrderID = uint64(f.rng.Int63n(int64(f.orders))) + 1
	}
	if p.Op == exchange.OpMakeOrder {
		f.orders++
	}
	return transaction.Sign(f.eip712, signer, p)
}

// Run submits a batch every interval until ctx is done
func (f *Feeder) Run(ctx context.Context, h *Host) error {
	ticker := time.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	start := time.Now()
	total, rejected := 0, 0
	h.log.Infow("feeder_started", "accounts", len(f.signers), "batch", f.cfg.Batch, "interval", f.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			elapsed := time.Since(start)
			h.log.Infow("feeder_stopped", "submitted", total, "rejected", rejected,
				"tx_per_sec", float64(total)/elapsed.Seconds())
			return nil
		case <-ticker.C:
			for i := 0; i < f.cfg.Batch; i++ {
				tx, err := f.Generate()
				if err != nil {
					return err
				}
				raw, err := tx.Serialize()
				if err != nil {
					return err
				}
				if _, err := h.Submit(raw); err != nil {
					rejected++
					h.log.Debugw("feeder_tx_rejected", "error", err)
					continue
				}
				total++
			}
		}
	}
}
