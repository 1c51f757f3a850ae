package host

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/asset"
	"github.com/uhyunpark/tokenex/pkg/app/core/orderbook"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/token"
	"github.com/uhyunpark/tokenex/pkg/app/vault"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/storage"
	"github.com/uhyunpark/tokenex/pkg/util"
)

var (
	feeAcct = core.MustAccount("0x3333333333333333333333333333333333333333")
	custody = core.MustAccount("0x4444444444444444444444444444444444444444")
	tn      = core.MustAsset("0x00000000000000000000000000000000000000aa")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type keys struct {
	alice, bob *crypto.Signer
}

func newKeys(t *testing.T) keys {
	t.Helper()
	a, err := crypto.GenerateKey()
	require.NoError(t, err)
	b, err := crypto.GenerateKey()
	require.NoError(t, err)
	return keys{alice: a, bob: b}
}

func acct(s *crypto.Signer) core.AccountID { return core.AccountID(s.Address()) }

type fixture struct {
	h     *Host
	ex    *exchange.Exchange
	vault *vault.Memory
	tok   *token.Token
	store *storage.PebbleStore
	clock *util.ManualClock
	keys  keys
}

// newFixture builds a host over store with genesis: alice and bob hold 1000
// native in their wallets, alice holds the whole token supply
func newFixture(t *testing.T, k keys, store *storage.PebbleStore) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	clock := util.NewManualClock(time.Unix(1700000000, 0))

	tok, err := token.New(token.Config{
		Address:  tn,
		Name:     token.DefaultName,
		Symbol:   token.DefaultSymbol,
		Decimals: token.DefaultDecimals,
		Supply:   u(1_000_000),
		Deployer: acct(k.alice),
	})
	require.NoError(t, err)

	reg := asset.NewRegistry()
	require.NoError(t, reg.Register(asset.Asset{ID: tn, Symbol: "TN", Decimals: 18, Gateway: token.NewCustody(tok, custody)}))

	v := vault.NewMemory()
	require.NoError(t, v.Fund(acct(k.alice), u(1000)))
	require.NoError(t, v.Fund(acct(k.bob), u(1000)))

	ex := exchange.New(exchange.Config{FeeAccount: feeAcct, FeePercent: 10}, reg, v,
		exchange.WithLogger(log), exchange.WithClock(clock))

	h := New(Config{MaxBlockBytes: 1 << 20, Domain: crypto.DefaultDomain(), Custody: custody}, ex, v, store,
		WithLogger(log), WithClock(clock), WithToken(tok))
	return &fixture{h: h, ex: ex, vault: v, tok: tok, store: store, clock: clock, keys: k}
}

func newStore(t *testing.T) *storage.PebbleStore {
	t.Helper()
	s, err := storage.NewMemStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (f *fixture) raw(t *testing.T, key *crypto.Signer, p transaction.Payload) []byte {
	t.Helper()
	p.Account = acct(key)
	tx, err := transaction.Sign(crypto.NewEIP712Signer(crypto.DefaultDomain()), key, p)
	require.NoError(t, err)
	b, err := tx.Serialize()
	require.NoError(t, err)
	return b
}

func (f *fixture) submit(t *testing.T, key *crypto.Signer, p transaction.Payload) common.Hash {
	t.Helper()
	hash, err := f.h.Submit(f.raw(t, key, p))
	require.NoError(t, err)
	return hash
}

func (f *fixture) block(t *testing.T) *BlockInfo {
	t.Helper()
	f.clock.Advance(time.Second)
	info, err := f.h.ApplyBlock(context.Background())
	require.NoError(t, err)
	require.NotNil(t, info)
	return info
}

func TestApplyBlock_Empty(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	info, err := f.h.ApplyBlock(context.Background())
	require.NoError(t, err)
	require.Nil(t, info)
	require.Zero(t, f.h.Head().Height)
}

func TestDepositNative(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	alice := acct(f.keys.alice)

	var seen []BlockInfo
	f.h.OnBlock(func(b BlockInfo) { seen = append(seen, b) })

	hash := f.submit(t, f.keys.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(300), Nonce: 1})
	require.True(t, f.h.Pending(hash))
	require.Equal(t, 1, f.h.MempoolSize())

	info := f.block(t)
	require.Equal(t, uint64(1), info.Height)
	require.NotEqual(t, common.Hash{}, info.StateHash)
	require.Len(t, info.Receipts, 1)
	require.Equal(t, transaction.StatusSuccess, info.Receipts[0].Status)
	require.Len(t, seen, 1)
	require.False(t, f.h.Pending(hash))

	require.Equal(t, u(300), f.ex.BalanceOf(core.Native, alice))
	require.Equal(t, u(700), f.vault.Wallet(alice))
	require.Equal(t, u(300), f.vault.Held())
	require.Equal(t, uint64(1), f.h.Nonce(alice))

	r, err := f.h.Receipt(hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.Equal(t, alice, r.Account)
	require.Equal(t, uint64(1), r.Height)
}

func TestSubmit_Rejections(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))

	_, err := f.h.Submit([]byte(`{"payload":`))
	require.ErrorIs(t, err, ErrInvalidTx)

	// signed by bob, claims to be alice
	forged := transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 1, Account: acct(f.keys.alice)}
	tx, err := transaction.Sign(crypto.NewEIP712Signer(crypto.DefaultDomain()), f.keys.bob, forged)
	require.NoError(t, err)
	b, err := tx.Serialize()
	require.NoError(t, err)
	_, err = f.h.Submit(b)
	require.ErrorIs(t, err, core.ErrUnauthorized)

	raw := f.raw(t, f.keys.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 1})
	_, err = f.h.Submit(raw)
	require.NoError(t, err)
	_, err = f.h.Submit(raw)
	require.ErrorIs(t, err, ErrDuplicateTx)

	f.block(t)
	_, err = f.h.Submit(f.raw(t, f.keys.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(2), Nonce: 1}))
	require.ErrorIs(t, err, ErrStaleNonce)
}

func TestSubmit_RejectsTxLargerThanBlock(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	f.h.cfg.MaxBlockBytes = 64

	_, err := f.h.Submit(f.raw(t, f.keys.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 1}))
	require.ErrorIs(t, err, ErrTxTooLarge)
	require.Zero(t, f.h.MempoolSize())
}

func TestFailedTx_ConsumesNonceAndRefundsValue(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	alice := acct(f.keys.alice)

	// nonces follow bucket order: transfers, cancels, then the rest
	f.submit(t, f.keys.alice, transaction.Payload{Op: exchange.OpWithdrawNative, Amount: u(5), Nonce: 1})
	// more value than the wallet holds
	f.submit(t, f.keys.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(5000), Nonce: 2})
	// value on a non-payable operation
	f.submit(t, f.keys.alice, transaction.Payload{Op: exchange.OpCancelOrder, OrderID: 9, Value: u(50), Nonce: 3})
	// unknown operation
	f.submit(t, f.keys.alice, transaction.Payload{Op: "mint", Nonce: 4})

	info := f.block(t)
	require.Len(t, info.Receipts, 4)
	for _, r := range info.Receipts {
		require.Equal(t, transaction.StatusFailed, r.Status, r.Op)
		require.NotEmpty(t, r.Error)
	}

	require.Equal(t, uint64(4), f.h.Nonce(alice))
	require.Equal(t, u(1000), f.vault.Wallet(alice))
	require.True(t, f.vault.Held().IsZero())
	require.True(t, f.ex.BalanceOf(core.Native, alice).IsZero())
}

func TestTokenApproveDepositAndTrade(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	alice, bob := acct(f.keys.alice), acct(f.keys.bob)

	// approve and deposit land in the transfer bucket, ahead of the order
	f.submit(t, f.keys.alice, transaction.Payload{Op: transaction.OpApprove, Asset: tn, Amount: u(500), Nonce: 1})
	f.submit(t, f.keys.alice, transaction.Payload{Op: exchange.OpDeposit, Asset: tn, Amount: u(500), Nonce: 2})
	f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(200), Nonce: 1})
	info := f.block(t)
	for _, r := range info.Receipts {
		require.Equal(t, transaction.StatusSuccess, r.Status, r.Error)
	}
	require.Equal(t, u(500), f.tok.BalanceOf(custody))
	require.True(t, f.tok.Allowance(alice, custody).IsZero())

	// alice offers 100 TN for 50 native
	f.submit(t, f.keys.alice, transaction.Payload{
		Op: exchange.OpMakeOrder, AssetGet: core.Native, AmountGet: u(50), AssetGive: tn, AmountGive: u(100), Nonce: 3,
	})
	info = f.block(t)
	require.Equal(t, uint64(1), info.Receipts[0].OrderID)

	f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpFillOrder, OrderID: 1, Nonce: 2})
	info = f.block(t)
	require.Equal(t, transaction.StatusSuccess, info.Receipts[0].Status, info.Receipts[0].Error)

	require.True(t, f.ex.OrderFilled(1))
	require.Equal(t, u(100), f.ex.BalanceOf(tn, bob))
	require.Equal(t, u(50), f.ex.BalanceOf(core.Native, alice))
	require.Equal(t, u(145), f.ex.BalanceOf(core.Native, bob))
	require.Equal(t, u(5), f.ex.BalanceOf(core.Native, feeAcct))
}

func TestRestore(t *testing.T) {
	k := newKeys(t)
	store := newStore(t)
	f := newFixture(t, k, store)
	alice := acct(k.alice)

	f.submit(t, k.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(300), Nonce: 1})
	f.submit(t, k.alice, transaction.Payload{Op: transaction.OpApprove, Asset: tn, Amount: u(70), Nonce: 2})
	f.submit(t, k.alice, transaction.Payload{Op: exchange.OpDeposit, Asset: tn, Amount: u(70), Nonce: 3})
	f.block(t)
	f.submit(t, k.alice, transaction.Payload{
		Op: exchange.OpMakeOrder, AssetGet: tn, AmountGet: u(1), AssetGive: core.Native, AmountGive: u(2), Nonce: 4,
	})
	head := f.block(t).Head

	// a fresh process over the same store starts from genesis and restores
	g := newFixture(t, k, store)
	ok, err := g.h.Restore(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, head, g.h.Head())
	require.Equal(t, uint64(4), g.h.Nonce(alice))
	require.Equal(t, u(300), g.ex.BalanceOf(core.Native, alice))
	require.Equal(t, u(70), g.ex.BalanceOf(tn, alice))
	require.Equal(t, u(700), g.vault.Wallet(alice))
	require.Equal(t, u(70), g.tok.BalanceOf(custody))
	require.Len(t, g.ex.Orders(orderbook.Filter{}), 1)
	require.Equal(t, f.ex.Events().Len(), g.ex.Events().Len())

	// the restored host keeps building on the same chain
	_, err = g.h.Submit(g.raw(t, k.alice, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 4}))
	require.ErrorIs(t, err, ErrStaleNonce)
	g.submit(t, k.alice, transaction.Payload{Op: exchange.OpCancelOrder, OrderID: 1, Nonce: 5})
	info := g.block(t)
	require.Equal(t, head.Height+1, info.Height)
	require.True(t, g.ex.OrderCancelled(1))
}

func TestRestore_EmptyStore(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	ok, err := f.h.Restore(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestStateHash_Deterministic(t *testing.T) {
	k := newKeys(t)
	a := newFixture(t, k, newStore(t))
	b := newFixture(t, k, newStore(t))

	var hashes []common.Hash
	for _, f := range []*fixture{a, b} {
		f.submit(t, k.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(10), Nonce: 1})
		f.submit(t, k.alice, transaction.Payload{Op: exchange.OpWithdrawNative, Amount: u(10), Nonce: 1})
		hashes = append(hashes, f.block(t).StateHash)
	}
	require.Equal(t, hashes[0], hashes[1])

	// any state difference changes the hash
	a.submit(t, k.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 2})
	b.submit(t, k.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(2), Nonce: 2})
	require.NotEqual(t, a.block(t).StateHash, b.block(t).StateHash)
}

type recordingJournal struct {
	receipts []transaction.Receipt
	err      error
}

func (j *recordingJournal) Append(r transaction.Receipt) error {
	j.receipts = append(j.receipts, r)
	return j.err
}

func TestBucketOrder_DropsOutOfOrderNonce(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	bob := acct(f.keys.bob)

	// the cancel (nonce 1) is applied after the deposit (nonce 2) and is dropped
	cancel := f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpCancelOrder, OrderID: 1, Nonce: 1})
	f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 2})

	info := f.block(t)
	require.Len(t, info.Receipts, 1)
	require.Equal(t, exchange.OpDepositNative, info.Receipts[0].Op)
	require.Equal(t, uint64(2), f.h.Nonce(bob))

	r, err := f.h.Receipt(cancel)
	require.NoError(t, err)
	require.Nil(t, r)
	require.False(t, f.h.Pending(cancel))
}

func TestJournal(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	j := &recordingJournal{}
	WithJournal(j)(f.h)

	f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 1})
	f.block(t)
	require.Len(t, j.receipts, 1)

	line, err := json.Marshal(j.receipts[0])
	require.NoError(t, err)
	require.Contains(t, string(line), `"op":"deposit_native"`)
}

func TestJournal_FailureIsLoggedAndBlockCommits(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))
	WithJournal(&recordingJournal{err: errors.New("disk full")})(f.h)
	logs, observed := observer.New(zap.ErrorLevel)
	WithLogger(zap.New(logs).Sugar())(f.h)

	f.submit(t, f.keys.bob, transaction.Payload{Op: exchange.OpDepositNative, Value: u(1), Nonce: 1})
	info := f.block(t)
	require.Equal(t, uint64(1), f.h.Head().Height)

	entries := observed.FilterMessage("journal_append_failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, info.Receipts[0].Hash.Hex(), entries[0].ContextMap()["tx"])
	require.Equal(t, "disk full", entries[0].ContextMap()["error"])
}

func TestFeeder(t *testing.T) {
	f := newFixture(t, newKeys(t), newStore(t))

	cfg := DefaultFeederConfig()
	cfg.Accounts = 3
	feeder, err := NewFeeder(cfg, crypto.DefaultDomain())
	require.NoError(t, err)

	// the same seed yields the same traders
	again, err := NewFeeder(cfg, crypto.DefaultDomain())
	require.NoError(t, err)
	require.Equal(t, feeder.Accounts(), again.Accounts())

	for _, a := range feeder.Accounts() {
		require.NoError(t, f.vault.Fund(a, u(1e18)))
	}

	// the first transaction is always a deposit; nothing to fill yet
	tx, err := feeder.Generate()
	require.NoError(t, err)
	require.Equal(t, exchange.OpDepositNative, tx.Payload.Op)

	for i := 0; i < 30; i++ {
		tx, err := feeder.Generate()
		require.NoError(t, err)
		raw, err := tx.Serialize()
		require.NoError(t, err)
		_, err = f.h.Submit(raw)
		require.NoError(t, err)
	}
	info := f.block(t)
	require.NotEmpty(t, info.Receipts)
}

func TestFeeder_SameSeedSameTraffic(t *testing.T) {
	cfg := DefaultFeederConfig()
	cfg.Accounts = 4
	a, err := NewFeeder(cfg, crypto.DefaultDomain())
	require.NoError(t, err)
	b, err := NewFeeder(cfg, crypto.DefaultDomain())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		x, err := a.Generate()
		require.NoError(t, err)
		y, err := b.Generate()
		require.NoError(t, err)
		require.Equal(t, x.Payload, y.Payload, "tx %d", i)
	}

	cfg.Seed = "other"
	c, err := NewFeeder(cfg, crypto.DefaultDomain())
	require.NoError(t, err)
	require.NotEqual(t, a.Accounts(), c.Accounts())
}
