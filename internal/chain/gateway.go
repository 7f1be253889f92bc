// Package chain is the boundary to the external ledger network: balance
// queries, signed transfers and confirmation waits.
package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

var (
	// ErrNetwork means the node was unreachable, timed out, or the transfer
	// was not confirmed in time.
	ErrNetwork = errors.New("chain network error")
	// ErrInsufficientFunds means the source wallet cannot cover the transfer.
	ErrInsufficientFunds = errors.New("insufficient on-chain balance")
	// ErrRejected means the node refused or dropped the transfer.
	ErrRejected = errors.New("transfer rejected")
)

// Gateway is the narrow contract the settlement engine needs from the chain.
// Every call is network I/O and honors ctx.
type Gateway interface {
	// Balance returns the spendable balance of addr.
	Balance(ctx context.Context, addr types.Address) (types.Amount, error)
	// Transfer signs and submits a transfer of amount from the signer's
	// wallet to to, returning the confirmation ID.
	Transfer(ctx context.Context, signer crypto.Signer, to types.Address, amount types.Amount) (types.Hash, error)
	// WaitConfirmed blocks until id is confirmed, rejected, or ctx ends.
	WaitConfirmed(ctx context.Context, id types.Hash) error
}

const transferTag = "custody/transfer/v1"

// Transfer is a signed transfer intent as submitted to the node.
type Transfer struct {
	From      types.Address `json:"from"`
	To        types.Address `json:"to"`
	Amount    types.Amount  `json:"amount"`
	Nonce     uint64        `json:"nonce"`
	PublicKey []byte        `json:"public_key"`
	Signature []byte        `json:"signature"`
}

// Digest is BLAKE3("custody/transfer/v1" || from || to || amount || nonce).
func (t *Transfer) Digest() types.Hash {
	buf := make([]byte, 0, 2*types.AddressSize+16)
	buf = append(buf, t.From[:]...)
	buf = append(buf, t.To[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(t.Amount))
	buf = binary.BigEndian.AppendUint64(buf, t.Nonce)
	return crypto.TaggedHash(transferTag, buf)
}

// ID is the confirmation ID of a signed transfer.
func (t *Transfer) ID() types.Hash {
	d := t.Digest()
	return crypto.TaggedHash(transferTag+"/id", append(d[:], t.Signature...))
}

// Verify checks the public key matches From and the signature covers Digest.
func (t *Transfer) Verify() error {
	if crypto.AddressFromPubKey(t.PublicKey) != t.From {
		return fmt.Errorf("%w: public key does not match sender", ErrRejected)
	}
	d := t.Digest()
	if !crypto.VerifySignature(d[:], t.Signature, t.PublicKey) {
		return fmt.Errorf("%w: bad signature", ErrRejected)
	}
	return nil
}

// SignTransfer builds and signs a transfer intent.
func SignTransfer(signer crypto.Signer, to types.Address, amount types.Amount, nonce uint64) (*Transfer, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrRejected)
	}
	t := &Transfer{
		From:      signer.Address(),
		To:        to,
		Amount:    amount,
		Nonce:     nonce,
		PublicKey: signer.PublicKey(),
	}
	d := t.Digest()
	sig, err := signer.Sign(d[:])
	if err != nil {
		return nil, fmt.Errorf("sign transfer: %w", err)
	}
	t.Signature = sig
	return t, nil
}
