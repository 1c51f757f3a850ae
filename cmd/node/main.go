package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/tokenex/params"
	"github.com/uhyunpark/tokenex/pkg/api"
	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/asset"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/app/host"
	"github.com/uhyunpark/tokenex/pkg/app/token"
	"github.com/uhyunpark/tokenex/pkg/app/vault"
	"github.com/uhyunpark/tokenex/pkg/crypto"
	"github.com/uhyunpark/tokenex/pkg/storage"
	"github.com/uhyunpark/tokenex/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.Verbose)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "verbose", cfg.Node.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(ctx context.Context, cfg params.Config, log *zap.SugaredLogger) error {
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(cfg.Chain.ChainID)

	// ---- Devnet traffic (optional) ----
	var feeder *host.Feeder
	if cfg.Feeder.Accounts > 0 {
		fcfg := host.DefaultFeederConfig()
		fcfg.Accounts = cfg.Feeder.Accounts
		fcfg.Batch = cfg.Feeder.Batch
		fcfg.Interval = cfg.Feeder.Interval
		f, err := host.NewFeeder(fcfg, domain)
		if err != nil {
			return fmt.Errorf("feeder: %w", err)
		}
		feeder = f
	}

	// ---- Genesis ----
	// Applied to fresh in-memory state; Restore replaces it when the store
	// already holds committed blocks.
	tok, err := token.New(token.Config{
		Address:  core.AssetID(cfg.Token.Address),
		Name:     cfg.Token.Name,
		Symbol:   cfg.Token.Symbol,
		Decimals: cfg.Token.Decimals,
		Supply:   token.WholeTokens(cfg.Token.Supply, cfg.Token.Decimals),
		Deployer: core.AccountID(cfg.Token.Deployer),
	})
	if err != nil {
		return fmt.Errorf("deploy token: %w", err)
	}

	v := vault.NewMemory()
	genesis := make([]core.AccountID, 0, len(cfg.Genesis.Accounts))
	for _, a := range cfg.Genesis.Accounts {
		genesis = append(genesis, core.AccountID(a))
	}
	if feeder != nil {
		genesis = append(genesis, feeder.Accounts()...)
	}
	native := token.WholeTokens(cfg.Genesis.Native, 18)
	tokens := token.WholeTokens(cfg.Genesis.Tokens, cfg.Token.Decimals)
	for _, a := range genesis {
		if err := v.Fund(a, native); err != nil {
			return fmt.Errorf("genesis native %s: %w", a.Hex(), err)
		}
		if tokens.IsZero() || a == core.AccountID(cfg.Token.Deployer) {
			continue
		}
		if err := tok.Transfer(core.AccountID(cfg.Token.Deployer), a, tokens); err != nil {
			return fmt.Errorf("genesis tokens %s: %w", a.Hex(), err)
		}
	}
	log.Infow("genesis_prepared", "accounts", len(genesis), "native_each", native.Dec(), "tokens_each", tokens.Dec())

	// ---- Exchange ----
	custody := core.AccountID(cfg.Exchange.Custody)
	assets := asset.NewRegistry()
	if err := assets.Register(asset.Asset{
		ID:       tok.Address(),
		Symbol:   tok.Symbol(),
		Name:     tok.Name(),
		Decimals: tok.Decimals(),
		Gateway:  token.NewCustody(tok, custody),
	}); err != nil {
		return err
	}

	ex := exchange.New(exchange.Config{
		FeeAccount: core.AccountID(cfg.Exchange.FeeAccount),
		FeePercent: cfg.Exchange.FeePercent,
	}, assets, v, exchange.WithLogger(log.Named("exchange")))

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	opts := []host.Option{host.WithLogger(log.Named("host")), host.WithToken(tok)}
	if cfg.Node.TxLog != "" {
		journal, err := storage.NewFileJournal(cfg.Node.TxLog)
		if err != nil {
			return fmt.Errorf("open tx log: %w", err)
		}
		defer journal.Close()
		opts = append(opts, host.WithJournal(journal))
	}

	h := host.New(host.Config{
		BlockTime:     cfg.Chain.BlockTime,
		MaxBlockBytes: cfg.Chain.MaxBlockBytes,
		Domain:        domain,
		Custody:       custody,
	}, ex, v, store, opts...)

	restored, err := h.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if feeder != nil {
		feeder.SyncNonces(h)
	}

	head := h.Head()
	log.Infow("node_starting",
		"restored", restored,
		"height", head.Height,
		"state_hash", head.StateHash.Hex(),
		"chain_id", cfg.Chain.ChainID,
		"block_time_ms", cfg.Chain.BlockTime.Milliseconds(),
		"fee_percent", cfg.Exchange.FeePercent,
		"token", tok.Symbol())

	// ---- API Server ----
	server := api.NewServer(api.Config{Addr: cfg.API.Addr, CORSOrigins: cfg.API.CORSOrigins}, h, log.Named("api"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.Run(ctx) })
	g.Go(func() error {
		if err := server.Run(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})
	if feeder != nil {
		g.Go(func() error { return feeder.Run(ctx, h) })
	}
	return g.Wait()
}
