package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-custody/pkg/crypto"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// Node JSON-RPC methods used by RPCGateway.
const (
	MethodGetBalance     = "utxo_getBalance"
	MethodSubmitTransfer = "tx_submitTransfer"
	MethodGetTransaction = "chain_getTransaction"
)

// CodeNotFound is the node's error code for an unknown transaction.
const CodeNotFound = -32000

// RPCConfig configures an RPCGateway.
type RPCConfig struct {
	Endpoint     string
	Timeout      time.Duration // per HTTP call
	PollInterval time.Duration // confirmation polling
}

// RPCGateway talks to a node over JSON-RPC.
type RPCGateway struct {
	client *rpcclient.Client
	poll   time.Duration
	nonce  atomic.Uint64
}

// NewRPC creates a gateway for the node at cfg.Endpoint.
func NewRPC(cfg RPCConfig) *RPCGateway {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	g := &RPCGateway{
		client: rpcclient.NewWithTimeout(cfg.Endpoint, cfg.Timeout),
		poll:   poll,
	}
	g.nonce.Store(uint64(time.Now().UnixNano()))
	return g
}

type addressParam struct {
	Address string `json:"address"`
}

type balanceResult struct {
	Address   string `json:"address"`
	Balance   uint64 `json:"balance"`
	Spendable uint64 `json:"spendable"`
}

type submitParam struct {
	Transfer *Transfer `json:"transfer"`
}

type submitResult struct {
	TxHash string `json:"tx_hash"`
}

type hashParam struct {
	Hash string `json:"hash"`
}

type txStatusResult struct {
	Hash      string `json:"hash"`
	Confirmed bool   `json:"confirmed"`
	Rejected  bool   `json:"rejected,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Balance implements Gateway.
func (g *RPCGateway) Balance(ctx context.Context, addr types.Address) (types.Amount, error) {
	var res balanceResult
	if err := g.client.CallContext(ctx, MethodGetBalance, addressParam{Address: addr.String()}, &res); err != nil {
		return 0, classify(err)
	}
	return types.Amount(res.Spendable), nil
}

// Transfer implements Gateway.
func (g *RPCGateway) Transfer(ctx context.Context, signer crypto.Signer, to types.Address, amount types.Amount) (types.Hash, error) {
	t, err := SignTransfer(signer, to, amount, g.nonce.Add(1))
	if err != nil {
		return types.Hash{}, err
	}
	var res submitResult
	if err := g.client.CallContext(ctx, MethodSubmitTransfer, submitParam{Transfer: t}, &res); err != nil {
		return types.Hash{}, classify(err)
	}
	id, err := types.HexToHash(res.TxHash)
	if err != nil {
		return types.Hash{}, fmt.Errorf("%w: node returned bad tx hash: %v", ErrRejected, err)
	}
	klog.Chain.Info().Str("tx", id.String()).Stringer("amount", amount).Msg("Transfer submitted")
	return id, nil
}

// WaitConfirmed polls the node until the transfer is confirmed or rejected.
// Unknown transactions and transport errors are retried until ctx ends.
func (g *RPCGateway) WaitConfirmed(ctx context.Context, id types.Hash) error {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()

	var lastErr error
	for {
		var res txStatusResult
		err := g.client.CallContext(ctx, MethodGetTransaction, hashParam{Hash: id.String()}, &res)
		switch {
		case err == nil && res.Confirmed:
			return nil
		case err == nil && res.Rejected:
			return fmt.Errorf("%w: %s", ErrRejected, res.Reason)
		case err != nil && !isNotFound(err):
			lastErr = err
			klog.Chain.Debug().Err(err).Str("tx", id.String()).Msg("Confirmation poll failed")
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w: waiting for %s: %v (last error: %v)", ErrNetwork, id, ctx.Err(), lastErr)
			}
			return fmt.Errorf("%w: waiting for %s: %v", ErrNetwork, id, ctx.Err())
		case <-ticker.C:
		}
	}
}

func isNotFound(err error) bool {
	var rpcErr *rpcclient.RPCError
	return errors.As(err, &rpcErr) && rpcErr.Code == CodeNotFound
}

// classify maps client errors onto the gateway's sentinel errors.
func classify(err error) error {
	var te *rpcclient.TransportError
	if errors.As(err, &te) {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		if strings.Contains(strings.ToLower(rpcErr.Message), "insufficient") {
			return fmt.Errorf("%w: %s", ErrInsufficientFunds, rpcErr.Message)
		}
		return fmt.Errorf("%w: %s", ErrRejected, rpcErr.Message)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}
