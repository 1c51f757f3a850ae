// Package host runs the exchange as a single-process chain.
//
// Signed transactions enter a mempool and are applied in blocks: each block
// verifies signatures, enforces per-account nonces, moves attached native value
// through the vault, invokes the exchange, records receipts and persists the
// resulting state with a keccak state hash.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spacemonkeygo/monkit/v3"
	"go.uber.org/zap"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/mempool"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/token"
	"github.com/uhyunpark/tokenex/pkg/app/vault"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/storage"
	"github.com/uhyunpark/tokenex/pkg/util"
)

var mon = monkit.Package()

var (
	ErrStaleNonce   = errors.New("nonce already used")
	ErrDuplicateTx  = errors.New("transaction already pending")
	ErrInvalidTx    = errors.New("invalid transaction")
	ErrTxTooLarge   = errors.New("transaction exceeds block size")
	ErrUnknownToken = errors.New("unknown token")
)

// Config controls block production
type Config struct {
	BlockTime     time.Duration
	MaxBlockBytes int64
	Domain        crypto.EIP712Domain
	// Custody is the spender set by approve transactions
	Custody core.AccountID
}

// Store persists committed blocks
type Store interface {
	Commit(ctx context.Context, b *storage.Block) error
	Load(ctx context.Context) (*storage.Snapshot, error)
	Receipt(hash common.Hash) (*transaction.Receipt, error)
}

// BlockInfo is published after every committed block
type BlockInfo struct {
	storage.Head
	Receipts []transaction.Receipt `json:"receipts"`
}

type Host struct {
	applyMu sync.Mutex // one block at a time

	cfg      Config
	ex       *exchange.Exchange
	vault    *vault.Memory
	tokens   map[core.AssetID]*token.Token
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	store    Store
	journal  storage.Journal
	clock    util.Clock
	log      *zap.SugaredLogger

	mu        sync.RWMutex
	head      storage.Head
	nonces    map[core.AccountID]uint64
	pending   map[common.Hash]struct{}
	listeners []func(BlockInfo)

	// changes not yet persisted; kept across a failed commit
	dirty       map[core.AccountID]uint64
	unsaved     []transaction.Receipt
	savedEvents uint64
}

type Option func(*Host)

func WithClock(c util.Clock) Option {
	return func(h *Host) { h.clock = c }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Host) { h.log = l }
}

func WithJournal(j storage.Journal) Option {
	return func(h *Host) { h.journal = j }
}

// WithToken registers a token whose state the host persists and whose
// allowances approve transactions set
func WithToken(t *token.Token) Option {
	return func(h *Host) { h.tokens[t.Address()] = t }
}

func New(cfg Config, ex *exchange.Exchange, v *vault.Memory, store Store, opts ...Option) *Host {
	if cfg.BlockTime <= 0 {
		cfg.BlockTime = time.Second
	}
	h := &Host{
		cfg:      cfg,
		ex:       ex,
		vault:    v,
		tokens:   make(map[core.AssetID]*token.Token),
		mempool:  mempool.NewMempool(),
		verifier: transaction.NewVerifier(cfg.Domain),
		store:    store,
		journal:  storage.NewNopJournal(),
		clock:    util.RealClock{},
		log:      zap.NewNop().Sugar(),
		nonces:   make(map[core.AccountID]uint64),
		pending:  make(map[common.Hash]struct{}),
		dirty:    make(map[core.AccountID]uint64),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Host) Config() Config               { return h.cfg }
func (h *Host) Exchange() *exchange.Exchange { return h.ex }
func (h *Host) Vault() *vault.Memory         { return h.vault }

// Token returns a registered token
func (h *Host) Token(id core.AssetID) (*token.Token, bool) {
	t, ok := h.tokens[id]
	return t, ok
}

// Restore loads the last committed state. It reports false on an empty store,
// leaving the genesis state in place.
func (h *Host) Restore(ctx context.Context) (ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	snap, err := h.store.Load(ctx)
	if err != nil || snap == nil {
		return false, err
	}
	for id, st := range snap.Tokens {
		t, ok := h.tokens[id]
		if !ok {
			return false, fmt.Errorf("restore token %s: %w", id.Hex(), ErrUnknownToken)
		}
		if err := t.Restore(st); err != nil {
			return false, err
		}
	}
	if err := h.ex.Restore(snap.State, snap.Events); err != nil {
		return false, err
	}
	h.vault.Restore(snap.Wallets, snap.Held)

	h.mu.Lock()
	h.head = snap.Head
	h.nonces = snap.Nonces
	h.savedEvents = snap.State.Events
	h.mu.Unlock()

	h.log.Infow("host_restored", "height", snap.Height, "state_hash", snap.StateHash.Hex(), "accounts", len(snap.Nonces))
	return true, nil
}

// Head returns the last committed block head
func (h *Host) Head() storage.Head {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.head
}

// Nonce returns the last nonce account used, zero if none
func (h *Host) Nonce(account core.AccountID) uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nonces[account]
}

// Pending reports whether hash is waiting in the mempool
func (h *Host) Pending(hash common.Hash) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.pending[hash]
	return ok
}

func (h *Host) MempoolSize() int { return h.mempool.Len() }

// Receipt returns the receipt of an applied transaction, nil if unknown
func (h *Host) Receipt(hash common.Hash) (*transaction.Receipt, error) {
	return h.store.Receipt(hash)
}

// OnBlock registers fn to run after every committed block
func (h *Host) OnBlock(fn func(BlockInfo)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// Submit checks a raw transaction and queues it for the next block. Signature
// and nonce are checked again when the block is applied.
func (h *Host) Submit(raw []byte) (common.Hash, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%v: %w", err, ErrInvalidTx)
	}
	if _, err := h.verifier.Verify(tx); err != nil {
		return common.Hash{}, fmt.Errorf("%v: %w", err, core.ErrUnauthorized)
	}
	hash, err := tx.Hash()
	if err != nil {
		return common.Hash{}, err
	}
	canonical, err := tx.Serialize()
	if err != nil {
		return common.Hash{}, err
	}
	if limit := h.cfg.MaxBlockBytes; limit > 0 && int64(len(canonical)) > limit {
		return common.Hash{}, fmt.Errorf("%d bytes, block limit %d: %w", len(canonical), limit, ErrTxTooLarge)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if last := h.nonces[tx.Payload.Account]; tx.Payload.Nonce <= last {
		return common.Hash{}, fmt.Errorf("nonce %d, last used %d: %w", tx.Payload.Nonce, last, ErrStaleNonce)
	}
	if _, dup := h.pending[hash]; dup {
		return common.Hash{}, fmt.Errorf("%s: %w", hash.Hex(), ErrDuplicateTx)
	}
	h.pending[hash] = struct{}{}
	h.mempool.PushRaw(canonical)

	h.log.Debugw("tx_submitted", "hash", hash.Hex(), "op", tx.Payload.Op, "account", tx.Payload.Account.Hex(), "nonce", tx.Payload.Nonce)
	return hash, nil
}

// Run applies a block every BlockTime until ctx is done
func (h *Host) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.cfg.BlockTime)
	defer ticker.Stop()

	h.log.Infow("host_started", "block_time", h.cfg.BlockTime, "height", h.Head().Height)
	for {
		select {
		case <-ctx.Done():
			h.log.Infow("host_stopped", "height", h.Head().Height)
			return nil
		case <-ticker.C:
			// a started block is finished even if ctx is cancelled meanwhile
			if _, err := h.ApplyBlock(context.WithoutCancel(ctx)); err != nil {
				h.log.Errorw("apply_block_failed", "error", err)
			}
		}
	}
}

// ApplyBlock applies every selected mempool transaction and commits the result.
// It returns nil when the mempool is empty.
func (h *Host) ApplyBlock(ctx context.Context) (info *BlockInfo, err error) {
	defer mon.Task()(&ctx)(&err)

	h.applyMu.Lock()
	defer h.applyMu.Unlock()

	txs := h.mempool.SelectForProposal(h.cfg.MaxBlockBytes)
	if len(txs) == 0 {
		return nil, nil
	}

	height := h.Head().Height + 1
	blockTime := h.clock.Now().Unix()

	var receipts []transaction.Receipt
	for _, raw := range txs {
		r, ok := h.applyTx(ctx, raw, height, len(receipts))
		if ok {
			receipts = append(receipts, r)
		}
	}

	head := storage.Head{Height: height, Time: blockTime}
	block, err := h.buildBlock(head, receipts)
	if err != nil {
		return nil, err
	}
	if err := h.store.Commit(ctx, block); err != nil {
		// in-memory state moved on; the next commit carries these changes
		return nil, fmt.Errorf("commit block %d: %w", height, err)
	}

	h.mu.Lock()
	h.head = block.Head
	h.dirty = make(map[core.AccountID]uint64)
	h.unsaved = nil
	h.savedEvents = block.State.Events
	listeners := append([]func(BlockInfo){}, h.listeners...)
	h.mu.Unlock()

	for _, r := range receipts {
		if err := h.journal.Append(r); err != nil {
			h.log.Errorw("journal_append_failed", "height", height, "tx", r.Hash.Hex(), "error", err)
		}
	}

	failed := 0
	for _, r := range receipts {
		if r.Status == transaction.StatusFailed {
			failed++
		}
	}
	h.log.Infow("block_committed", "height", height, "txs", len(txs), "applied", len(receipts),
		"failed", failed, "state_hash", block.StateHash.Hex())

	out := &BlockInfo{Head: block.Head, Receipts: receipts}
	for _, fn := range listeners {
		fn(*out)
	}
	return out, nil
}

// applyTx applies one transaction. It reports false for transactions that
// cannot be attributed to an account or replay a used nonce; those consume
// nothing and get no receipt.
func (h *Host) applyTx(ctx context.Context, raw []byte, height uint64, index int) (transaction.Receipt, bool) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		h.log.Warnw("tx_dropped", "reason", "malformed", "error", err)
		return transaction.Receipt{}, false
	}
	hash, err := tx.Hash()
	if err != nil {
		h.log.Warnw("tx_dropped", "reason", "unhashable", "error", err)
		return transaction.Receipt{}, false
	}

	h.mu.Lock()
	delete(h.pending, hash)
	h.mu.Unlock()

	caller, err := h.verifier.Verify(tx)
	if err != nil {
		h.log.Warnw("tx_dropped", "hash", hash.Hex(), "reason", "signature", "error", err)
		return transaction.Receipt{}, false
	}

	p := &tx.Payload
	h.mu.Lock()
	last := h.nonces[caller]
	if p.Nonce <= last {
		h.mu.Unlock()
		h.log.Warnw("tx_dropped", "hash", hash.Hex(), "reason", "stale_nonce", "nonce", p.Nonce, "last", last)
		return transaction.Receipt{}, false
	}
	// consumed whatever the outcome
	h.nonces[caller] = p.Nonce
	h.dirty[caller] = p.Nonce
	h.mu.Unlock()

	r := transaction.Receipt{
		Hash:    hash,
		Height:  height,
		Index:   index,
		Account: caller,
		Op:      p.Op,
		Nonce:   p.Nonce,
		Status:  transaction.StatusSuccess,
	}
	orderID, err := h.execute(ctx, caller, p)
	if err != nil {
		r.Status = transaction.StatusFailed
		r.Error = err.Error()
		if !exchange.IsRejection(err) && !errors.Is(err, vault.ErrInsufficientFunds) && !isTokenRejection(err) {
			h.log.Errorw("tx_failed", "hash", hash.Hex(), "op", p.Op, "error", err)
		}
	}
	r.OrderID = orderID
	return r, true
}

// execute runs the operation named by p on behalf of caller
func (h *Host) execute(ctx context.Context, caller core.AccountID, p *transaction.Payload) (uint64, error) {
	hasValue := p.Value != nil && !p.Value.IsZero()

	if p.Op == transaction.OpApprove {
		if hasValue {
			return 0, fmt.Errorf("approve with value %s: %w", p.Value.Dec(), core.ErrNotPayable)
		}
		t, ok := h.tokens[p.Asset]
		if !ok {
			return 0, fmt.Errorf("approve %s: %w", p.Asset.Hex(), core.ErrInvalidAsset)
		}
		return 0, t.Approve(caller, h.cfg.Custody, p.Amount)
	}

	if hasValue {
		if err := h.vault.Attach(caller, p.Value); err != nil {
			return 0, err
		}
	}
	res, err := h.ex.Invoke(ctx, p.Call(caller))
	if err != nil {
		if rerr := h.vault.Refund(caller, p.Value); rerr != nil {
			h.log.Errorw("refund_failed", "account", caller.Hex(), "value", p.Value.Dec(), "error", rerr)
		}
		return 0, err
	}
	return res.OrderID, nil
}

func isTokenRejection(err error) bool {
	return errors.Is(err, token.ErrInvalidAddress) ||
		errors.Is(err, token.ErrInsufficientBalance) ||
		errors.Is(err, token.ErrInsufficientAllowance)
}

func (h *Host) buildBlock(head storage.Head, receipts []transaction.Receipt) (*storage.Block, error) {
	st := h.ex.Snapshot()
	wallets, held := h.vault.Snapshot()
	tokens := make(map[core.AssetID]token.State, len(h.tokens))
	for id, t := range h.tokens {
		tokens[id] = t.Snapshot()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.unsaved = append(h.unsaved, receipts...)
	nonces := make(map[core.AccountID]uint64, len(h.dirty))
	for a, n := range h.dirty {
		nonces[a] = n
	}

	hash, err := stateHash(head, st, wallets, held, tokens, h.nonces)
	if err != nil {
		return nil, err
	}
	head.StateHash = hash

	return &storage.Block{
		Head:     head,
		State:    st,
		Events:   h.ex.Events().Since(h.savedEvents, 0),
		Nonces:   nonces,
		Receipts: append([]transaction.Receipt(nil), h.unsaved...),
		Wallets:  wallets,
		Held:     held,
		Tokens:   tokens,
	}, nil
}
