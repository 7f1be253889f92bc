package rpc

import (
	"context"

	"github.com/Klingon-tech/klingnet-custody/internal/ledger"
	"github.com/Klingon-tech/klingnet-custody/internal/settlement"
)

// History page bounds for custody_getTransactions.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// ── Account endpoints ───────────────────────────────────────────────────

func (s *Server) handleGetWallet(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params UserParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	w, err := s.engine.Wallet(ctx, userID)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &WalletResult{
		UserID:         w.UserID,
		Address:        w.Address,
		PublicKey:      w.PublicKey,
		DerivationPath: w.DerivationPath,
		Index:          w.Index,
	}, nil
}

func (s *Server) handleGetCreditBalance(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params UserParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	b, err := s.engine.Balances(ctx, userID)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &b, nil
}

func (s *Server) handleConfirmDeposit(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params UserParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	b, err := s.engine.ConfirmDeposit(ctx, userID)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &b, nil
}

func (s *Server) handleGetTransactions(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params HistoryParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	txs, err := s.engine.Ledger().ListTransactions(ctx, userID, limit)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &TxListResult{UserID: userID, Transactions: txs}, nil
}

// ── Settlement endpoints ────────────────────────────────────────────────

func (s *Server) handleWithdraw(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params AmountParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount is required"}
	}

	tx, err := s.engine.Withdraw(ctx, userID, params.Amount)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &TxResult{Transaction: tx}, nil
}

func (s *Server) handlePurchase(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params PurchaseParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.BoosterID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "booster_id is required"}
	}
	src, err := settlement.ParsePaymentSource(params.Source, params.Reference)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}

	tx, err := s.engine.Purchase(ctx, userID, params.Amount, params.BoosterID, src)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &TxResult{Transaction: tx}, nil
}

func (s *Server) handlePayFee(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params PayFeeParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if params.Amount == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "amount is required"}
	}
	src, err := settlement.ParsePaymentSource(params.Source, params.Reference)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}

	tx, err := s.engine.PayFee(ctx, userID, params.Amount, src)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &TxResult{Transaction: tx}, nil
}

// ── Booster endpoints ───────────────────────────────────────────────────

func (s *Server) handleGetBoosters(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params UserParam
	if err := parseOptionalParams(req, &params); err != nil {
		return nil, err
	}
	userID, rpcErr := c.subject(params.UserID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	l := s.engine.Ledger()
	grants, err := l.ListGrants(ctx, userID)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	mult, _, err := l.ActiveMultiplier(ctx, userID, l.Now())
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &GrantsResult{UserID: userID, Multiplier: mult, Grants: grants}, nil
}

func (s *Server) handleListBoosters(ctx context.Context, _ *caller, req *Request) (interface{}, *Error) {
	boosters, err := s.engine.Ledger().ListBoosters(ctx)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &BoosterListResult{Boosters: boosters}, nil
}

func (s *Server) handleCreateBooster(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params CreateBoosterParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}

	b := &ledger.Booster{
		ID:          params.ID,
		Name:        params.Name,
		Description: params.Description,
		Multiplier:  params.Multiplier,
		Price:       params.Price,
		Type:        params.Type,
		DurationSec: params.DurationSec,
	}
	if err := s.engine.Ledger().PutBooster(ctx, b); err != nil {
		return nil, settlementError(req.Method, err)
	}
	s.logger.Info().Str("admin", c.UserID).Str("booster", b.ID).Str("price", b.Price.String()).Msg("Booster saved")
	return b, nil
}

// ── House and admin endpoints ───────────────────────────────────────────

func (s *Server) handleGetHouseWallet(_ context.Context, _ *caller, req *Request) (interface{}, *Error) {
	w, err := s.keys.HouseWallet()
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	return &HouseWalletResult{
		Address:        w.Address,
		PublicKey:      w.PublicKey,
		DerivationPath: w.Path,
	}, nil
}

func (s *Server) handleSweep(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var params SweepParam
	if err := parseParams(req, &params); err != nil {
		return nil, err
	}
	if params.UserID == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "user_id is required"}
	}

	tx, err := s.engine.Sweep(ctx, params.UserID, params.Amount)
	if err != nil {
		return nil, settlementError(req.Method, err)
	}
	s.logger.Info().Str("admin", c.UserID).Str("user", params.UserID).Str("amount", tx.ChainAmount.String()).Msg("Sweep completed")
	return &TxResult{Transaction: tx}, nil
}

func (s *Server) handleRevealMnemonic(_ context.Context, c *caller, req *Request) (interface{}, *Error) {
	mnemonic, err := s.keys.RevealMnemonic()
	if err != nil {
		if isForbidden(err) {
			return nil, &Error{Code: CodeForbidden, Message: err.Error()}
		}
		return nil, settlementError(req.Method, err)
	}
	s.logger.Warn().Str("admin", c.UserID).Msg("Master mnemonic revealed")
	return &MnemonicResult{Mnemonic: mnemonic}, nil
}
