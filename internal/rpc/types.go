package rpc

import (
	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	"github.com/Klingon-tech/klingnet-custody/pkg/types"
)

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeUnauthorized   = -32001
	CodeForbidden      = -32002
	CodeRateLimited    = -32003
	CodeRejected       = -32010 // Business rule refused the request.
	CodeUnavailable    = -32011 // Chain or key service unavailable; retryable.
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorData is carried in Error.Data for settlement failures.
type ErrorData struct {
	Kind      string `json:"kind"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// UserParam names the subject of a call. Only admins may set it to someone
// other than the token subject.
type UserParam struct {
	UserID string `json:"user_id,omitempty"`
}

// AmountParam is used by custody_withdraw.
type AmountParam struct {
	UserID string       `json:"user_id,omitempty"`
	Amount types.Amount `json:"amount"`
}

// PurchaseParam is used by custody_purchase.
type PurchaseParam struct {
	UserID    string       `json:"user_id,omitempty"`
	BoosterID string       `json:"booster_id"`
	Amount    types.Amount `json:"amount"`
	Source    string       `json:"source,omitempty"` // "ledger" (default) or "external"
	Reference string       `json:"reference,omitempty"`
}

// PayFeeParam is used by custody_payFee.
type PayFeeParam struct {
	UserID    string       `json:"user_id,omitempty"`
	Amount    types.Amount `json:"amount"`
	Source    string       `json:"source,omitempty"`
	Reference string       `json:"reference,omitempty"`
}

// HistoryParam is used by custody_getTransactions.
type HistoryParam struct {
	UserID string `json:"user_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

// SweepParam is used by custody_sweep. A zero amount sweeps everything.
type SweepParam struct {
	UserID string       `json:"user_id"`
	Amount types.Amount `json:"amount,omitempty"`
}

// CreateBoosterParam is used by custody_createBooster.
type CreateBoosterParam struct {
	ID          string             `json:"id"`
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Multiplier  float64            `json:"multiplier"`
	Price       types.Amount       `json:"price"`
	Type        ledger.BoosterType `json:"type"`
	DurationSec int64              `json:"duration_sec,omitempty"`
}

// ── Result types ────────────────────────────────────────────────────────

// WalletResult is returned by custody_getWallet.
type WalletResult struct {
	UserID         string        `json:"user_id"`
	Address        types.Address `json:"address"`
	PublicKey      string        `json:"public_key"`
	DerivationPath string        `json:"derivation_path"`
	Index          uint32        `json:"derivation_index"`
}

// TxResult is returned by operations that write a ledger record.
type TxResult struct {
	Transaction *ledger.Transaction `json:"transaction"`
}

// TxListResult is returned by custody_getTransactions.
type TxListResult struct {
	UserID       string                `json:"user_id"`
	Transactions []*ledger.Transaction `json:"transactions"`
}

// GrantsResult is returned by custody_getBoosters.
type GrantsResult struct {
	UserID     string                 `json:"user_id"`
	Multiplier float64                `json:"active_multiplier"`
	Grants     []*ledger.BoosterGrant `json:"grants"`
}

// BoosterListResult is returned by custody_listBoosters.
type BoosterListResult struct {
	Boosters []*ledger.Booster `json:"boosters"`
}

// HouseWalletResult is returned by custody_getHouseWallet.
type HouseWalletResult struct {
	Address        types.Address `json:"address"`
	PublicKey      string        `json:"public_key"`
	DerivationPath string        `json:"derivation_path"`
}

// MnemonicResult is returned by custody_revealMnemonic.
type MnemonicResult struct {
	Mnemonic string `json:"mnemonic"`
}
