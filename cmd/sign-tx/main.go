// Command sign-tx builds an exchange operation, signs it with EIP-712 and
// prints the transaction JSON. With -submit it also posts it to a node.
//
//	sign-tx -op deposit_native -value 1000000000000000000 -nonce 1
//	sign-tx -key 0x... -op make_order -get 0x5FbD... -get-amount 50 -give 0x0 -give-amount 100 -nonce 2
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/app/core/transaction"
	"github.com/uhyunpark/tokenex/pkg/app/exchange"
	"github.com/uhyunpark/tokenex/pkg/crypto"
)

func main() {
	var (
		keyHex     = flag.String("key", "", "private key hex (a fresh key is generated when empty)")
		op         = flag.String("op", "", "operation: approve, deposit_native, withdraw_native, deposit, withdraw, make_order, cancel_order, fill_order")
		assetHex   = flag.String("asset", "", "token address for approve, deposit and withdraw")
		amount     = flag.String("amount", "", "amount in base units")
		getHex     = flag.String("get", "", "asset the order creator receives")
		getAmount  = flag.String("get-amount", "", "amount the order creator receives")
		giveHex    = flag.String("give", "", "asset the order creator gives")
		giveAmount = flag.String("give-amount", "", "amount the order creator gives")
		orderID    = flag.Uint64("order", 0, "order id for cancel_order and fill_order")
		value      = flag.String("value", "", "native value attached (deposit_native)")
		nonce      = flag.Uint64("nonce", 1, "account nonce, greater than the last one used")
		chainID    = flag.Int64("chain-id", 1337, "EIP-712 domain chain id")
		submit     = flag.String("submit", "", "node URL to post the transaction to, e.g. http://localhost:8080")
	)
	flag.Parse()

	if err := run(*keyHex, *op, *assetHex, *amount, *getHex, *getAmount, *giveHex, *giveAmount,
		*orderID, *value, *nonce, *chainID, *submit); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(keyHex, op, assetHex, amount, getHex, getAmount, giveHex, giveAmount string,
	orderID uint64, value string, nonce uint64, chainID int64, submit string) error {
	// Step 1: Generate or load key
	var signer *crypto.Signer
	var err error
	if keyHex == "" {
		fmt.Fprintln(os.Stderr, "Generating new keypair...")
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "Private Key: %s (KEEP SECRET!)\n", signer.PrivateKeyHex())
		}
	} else {
		signer, err = crypto.FromPrivateKeyHex(strings.TrimPrefix(keyHex, "0x"))
	}
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Address: %s\n", signer.Address().Hex())

	// Step 2: Build payload
	p := transaction.Payload{
		Op:      exchange.Op(op),
		Account: core.AccountID(signer.Address()),
		OrderID: orderID,
		Nonce:   nonce,
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *core.AssetID
	}{
		{"asset", assetHex, &p.Asset},
		{"get", getHex, &p.AssetGet},
		{"give", giveHex, &p.AssetGive},
	} {
		if f.raw == "" {
			continue
		}
		id, err := core.ParseAsset(f.raw)
		if err != nil {
			return fmt.Errorf("-%s: %w", f.name, err)
		}
		*f.dst = id
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"amount", amount, &p.Amount},
		{"get-amount", getAmount, &p.AmountGet},
		{"give-amount", giveAmount, &p.AmountGive},
		{"value", value, &p.Value},
	} {
		if f.raw == "" {
			continue
		}
		x, err := uint256.FromDecimal(f.raw)
		if err != nil {
			return fmt.Errorf("-%s: %w", f.name, err)
		}
		*f.dst = x
	}

	// Step 3: Sign with EIP-712
	domain := crypto.DefaultDomain()
	domain.ChainID = big.NewInt(chainID)
	tx, err := transaction.Sign(crypto.NewEIP712Signer(domain), signer, p)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	// Step 4: Verify round trip
	recovered, err := transaction.NewVerifier(domain).Verify(tx)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Signature valid, signer %s\n", recovered.Hex())

	raw, err := tx.Serialize()
	if err != nil {
		return err
	}
	pretty, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))

	if submit == "" {
		return nil
	}

	// Step 5: Submit
	resp, err := http.Post(strings.TrimSuffix(submit, "/")+"/api/v1/txs", "application/json", bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("submit: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Fprintf(os.Stderr, "Submitted: %s\n", strings.TrimSpace(string(body)))
	return nil
}
