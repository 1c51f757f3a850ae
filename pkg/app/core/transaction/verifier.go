package transaction

import (
	"fmt"

	"github.com/uhyunpark/tokenex/pkg/app/core"
	"github.com/uhyunpark/tokenex/pkg/crypto"
)

// Verifier authenticates transactions: the recovered signer must be the
// payload's account
type Verifier struct {
	eip712Signer *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712Signer: crypto.NewEIP712Signer(domain)}
}

// Verify returns the authenticated caller of tx
func (v *Verifier) Verify(tx *SignedTransaction) (core.AccountID, error) {
	sig, err := crypto.DecodeSignature(tx.Signature)
	if err != nil {
		return core.AccountID{}, fmt.Errorf("invalid signature: %w", err)
	}

	signer, err := v.eip712Signer.RecoverOperationSigner(tx.Payload.ToEIP712(), sig)
	if err != nil {
		return core.AccountID{}, fmt.Errorf("signature verification failed: %w", err)
	}
	if core.AccountID(signer) != tx.Payload.Account {
		return core.AccountID{}, fmt.Errorf("signature by %s does not match account %s",
			signer.Hex(), tx.Payload.Account.Hex())
	}
	return tx.Payload.Account, nil
}
