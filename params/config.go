package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/tokenex/pkg/app/token"
)

type Exchange struct {
	FeeAccount common.Address
	FeePercent uint64
	// Custody is the exchange's own address on the token ledger. Deposits
	// move tokens to it; users approve it as spender first.
	Custody common.Address
}

type Chain struct {
	ChainID       int64
	BlockTime     time.Duration
	MaxBlockBytes int64
}

type Token struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	Supply   uint64 // whole tokens
	Deployer common.Address
}

// Genesis funds accounts before the first block: native in their wallets,
// tokens transferred from the deployer. Amounts are whole units.
type Genesis struct {
	Accounts []common.Address
	Native   uint64
	Tokens   uint64
}

type Node struct {
	DataDir string
	LogFile string
	TxLog   string // applied-tx journal, empty to disable
	Verbose bool
}

type API struct {
	Addr        string
	CORSOrigins []string
}

// Feeder generates devnet traffic when Accounts > 0
type Feeder struct {
	Accounts int
	Batch    int
	Interval time.Duration
}

type Config struct {
	Exchange Exchange
	Chain    Chain
	Token    Token
	Genesis  Genesis
	Node     Node
	API      API
	Feeder   Feeder
}

func Default() Config {
	return Config{
		Exchange: Exchange{
			FeeAccount: common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
			FeePercent: 10,
			Custody:    common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"),
		},
		Chain: Chain{
			ChainID:       1337,
			BlockTime:     time.Second,
			MaxBlockBytes: 1 << 20,
		},
		Token: Token{
			Address:  common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
			Name:     token.DefaultName,
			Symbol:   token.DefaultSymbol,
			Decimals: token.DefaultDecimals,
			Supply:   1_000_000,
			Deployer: common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		},
		Genesis: Genesis{
			Native: 100,
			Tokens: 1000,
		},
		Node: Node{
			DataDir: "data",
			LogFile: "data/node.log",
			TxLog:   "data/txs.jsonl",
		},
		API: API{
			Addr:        ":8080",
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Feeder: Feeder{
			Batch:    10,
			Interval: 500 * time.Millisecond,
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	p := &parser{}

	// Exchange
	p.address("FEE_ACCOUNT", &cfg.Exchange.FeeAccount)
	p.uint("FEE_PERCENT", &cfg.Exchange.FeePercent)
	p.address("CUSTODY_ACCOUNT", &cfg.Exchange.Custody)

	// Chain
	p.int("CHAIN_ID", &cfg.Chain.ChainID)
	p.millis("BLOCK_TIME_MS", &cfg.Chain.BlockTime)
	p.int("MAX_BLOCK_BYTES", &cfg.Chain.MaxBlockBytes)

	// Token
	p.address("TOKEN_ADDRESS", &cfg.Token.Address)
	cfg.Token.Name = getEnv("TOKEN_NAME", cfg.Token.Name)
	cfg.Token.Symbol = getEnv("TOKEN_SYMBOL", cfg.Token.Symbol)
	decimals := uint64(cfg.Token.Decimals)
	p.uint("TOKEN_DECIMALS", &decimals)
	if decimals > 77 {
		p.fail("TOKEN_DECIMALS", fmt.Errorf("%d exceeds 77", decimals))
	}
	cfg.Token.Decimals = uint8(decimals)
	p.uint("TOKEN_SUPPLY", &cfg.Token.Supply)
	p.address("TOKEN_DEPLOYER", &cfg.Token.Deployer)

	// Genesis allocation, e.g. GENESIS_ACCOUNTS=0xabc...,0xdef...
	if v := os.Getenv("GENESIS_ACCOUNTS"); v != "" {
		for _, s := range splitList(v) {
			if !common.IsHexAddress(s) {
				p.fail("GENESIS_ACCOUNTS", fmt.Errorf("invalid address %q", s))
				continue
			}
			cfg.Genesis.Accounts = append(cfg.Genesis.Accounts, common.HexToAddress(s))
		}
	}
	p.uint("GENESIS_NATIVE", &cfg.Genesis.Native)
	p.uint("GENESIS_TOKENS", &cfg.Genesis.Tokens)

	// Node
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	if v, ok := os.LookupEnv("TX_LOG"); ok {
		cfg.Node.TxLog = v
	}
	cfg.Node.Verbose = os.Getenv("VERBOSE") == "true"

	// API
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.API.CORSOrigins = splitList(v)
	}

	// Feeder
	var accounts, batch uint64
	if p.uint("FEED_ACCOUNTS", &accounts) {
		cfg.Feeder.Accounts = int(accounts)
	}
	if p.uint("FEED_BATCH", &batch) {
		cfg.Feeder.Batch = int(batch)
	}
	p.millis("FEED_INTERVAL_MS", &cfg.Feeder.Interval)

	return cfg, p.err
}

// parser reads typed environment values, keeping the first error
type parser struct {
	err error
}

func (p *parser) fail(key string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", key, err)
	}
}

func (p *parser) uint(key string, dst *uint64) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, err)
		return false
	}
	*dst = n
	return true
}

func (p *parser) int(key string, dst *int64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, err)
		return
	}
	*dst = n
}

func (p *parser) millis(key string, dst *time.Duration) {
	var ms uint64
	if p.uint(key, &ms) {
		if ms == 0 {
			p.fail(key, fmt.Errorf("must be positive"))
			return
		}
		*dst = time.Duration(ms) * time.Millisecond
	}
}

func (p *parser) address(key string, dst *common.Address) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if !common.IsHexAddress(v) {
		p.fail(key, fmt.Errorf("invalid address %q", v))
		return
	}
	*dst = common.HexToAddress(v)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
