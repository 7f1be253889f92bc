// Package rpc implements the custody JSON-RPC 2.0 API server.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/Klingon-tech/klingnet-custody/internal/keys"
	klog "github.com/Klingon-tech/klingnet-custody/internal/log"
	"github.com/Klingon-tech/klingnet-custody/internal/settlement"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// Config configures the server.
type Config struct {
	Addr        string
	AllowedIPs  []string // Empty = allow all.
	CORSOrigins []string // Empty = no CORS headers.
	JWTSecret   []byte
	RateLimit   float64 // Requests per second per principal; 0 disables.
	RateBurst   int
	// Metrics, when set, is exposed on /metrics.
	Metrics prometheus.Gatherer
}

// KeyService is the part of the key service the API exposes.
type KeyService interface {
	HouseWallet() (keys.Wallet, error)
	RevealMnemonic() (string, error)
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	cfg         Config
	engine      *settlement.Engine
	keys        KeyService
	limiter     *limiter
	handler     http.Handler
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet
}

// New creates a new RPC server.
func New(cfg Config, engine *settlement.Engine, ks KeyService) *Server {
	s := &Server{
		cfg:         cfg,
		engine:      engine,
		keys:        ks,
		limiter:     newLimiter(cfg.RateLimit, cfg.RateBurst),
		logger:      klog.RPC,
		allowedNets: parseAllowedIPs(cfg.AllowedIPs),
	}
	if len(cfg.JWTSecret) == 0 {
		s.logger.Warn().Msg("No JWT secret configured, all requests will be rejected")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	if cfg.Metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))
	}
	s.handler = mux

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 30 * time.Second,
		// Withdrawals wait for chain confirmation.
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("RPC server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.cfg.Addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Interface("panic", p).Msg("RPC handler panic")
			writeJSON(w, http.StatusInternalServerError, Response{
				JSONRPC: "2.0",
				Error:   internalError(),
			})
		}
	}()

	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ip := net.ParseIP(host)
		if ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	s.setCORSHeaders(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, http.StatusRequestEntityTooLarge, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusOK, nil, CodeParseError, "invalid JSON")
		return
	}

	if req.JSONRPC != "2.0" {
		writeError(w, http.StatusOK, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	c, err := s.authenticate(r)
	if err != nil {
		s.logger.Debug().Err(err).Str("method", req.Method).Str("remote", r.RemoteAddr).Msg("Unauthenticated request")
		writeError(w, http.StatusUnauthorized, req.ID, CodeUnauthorized, err.Error())
		return
	}

	if !s.limiter.allow(c.UserID) {
		s.logger.Warn().Str("user", c.UserID).Str("method", req.Method).Msg("Rate limit exceeded")
		writeError(w, http.StatusTooManyRequests, req.ID, CodeRateLimited, "rate limit exceeded")
		return
	}

	start := time.Now()
	result, rpcErr := s.dispatch(r.Context(), c, &req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Str("user", c.UserID).
			Int("code", rpcErr.Code).Str("error", rpcErr.Message).Dur("took", time.Since(start)).Msg("RPC call failed")
		writeJSON(w, http.StatusOK, Response{
			JSONRPC: "2.0",
			Error:   rpcErr,
			ID:      req.ID,
		})
		return
	}

	s.logger.Debug().Str("method", req.Method).Str("user", c.UserID).Dur("took", time.Since(start)).Msg("RPC call")
	writeJSON(w, http.StatusOK, Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	})
}

type handlerFunc func(ctx context.Context, c *caller, req *Request) (interface{}, *Error)

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(ctx context.Context, c *caller, req *Request) (interface{}, *Error) {
	var h handlerFunc
	admin := false
	switch req.Method {
	case "custody_getWallet":
		h = s.handleGetWallet
	case "custody_getCreditBalance":
		h = s.handleGetCreditBalance
	case "custody_confirmDeposit":
		h = s.handleConfirmDeposit
	case "custody_withdraw":
		h = s.handleWithdraw
	case "custody_purchase":
		h = s.handlePurchase
	case "custody_payFee":
		h = s.handlePayFee
	case "custody_getTransactions":
		h = s.handleGetTransactions
	case "custody_getBoosters":
		h = s.handleGetBoosters
	case "custody_listBoosters":
		h = s.handleListBoosters
	case "custody_getHouseWallet":
		h = s.handleGetHouseWallet
	case "custody_createBooster":
		h, admin = s.handleCreateBooster, true
	case "custody_sweep":
		h, admin = s.handleSweep, true
	case "custody_revealMnemonic":
		h, admin = s.handleRevealMnemonic, true
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
	if admin && !c.Admin {
		return nil, &Error{Code: CodeForbidden, Message: fmt.Sprintf("method %q requires admin role", req.Method)}
	}
	return h(ctx, c, req)
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string) {
	writeJSON(w, status, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	if len(s.cfg.CORSOrigins) == 0 {
		return
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	allowed := false
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			allowed = true
			break
		}
		if o == origin {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			allowed = true
			break
		}
	}

	if allowed {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	return decodeParams(req, target)
}

// parseOptionalParams is parseParams for methods whose params may be omitted.
func parseOptionalParams(req *Request, target interface{}) *Error {
	if req.Params == nil {
		return nil
	}
	return decodeParams(req, target)
}

func decodeParams(req *Request, target interface{}) *Error {
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

// kindCodes maps settlement error kinds to JSON-RPC codes.
var kindCodes = map[string]int{
	settlement.KindBelowMinimum:               CodeRejected,
	settlement.KindAboveMaximum:               CodeRejected,
	settlement.KindFeeNotPaid:                 CodeRejected,
	settlement.KindInsufficientBalance:        CodeRejected,
	settlement.KindInsufficientOnChainBalance: CodeRejected,
	settlement.KindPriceMismatch:              CodeRejected,
	settlement.KindIndexCollision:             CodeRejected,
	settlement.KindInvalidRequest:             CodeInvalidParams,
	settlement.KindNotFound:                   CodeNotFound,
	settlement.KindNetwork:                    CodeUnavailable,
	settlement.KindDerivationFailure:          CodeUnavailable,
}

// settlementError converts a core error to a JSON-RPC error carrying its
// taxonomy kind. Internal errors are logged and reported without detail.
func settlementError(method string, err error) *Error {
	kind := settlement.Kind(err)
	code, ok := kindCodes[kind]
	if !ok {
		klog.RPC.Error().Err(err).Str("method", method).Msg("Internal error")
		return internalError()
	}
	return &Error{
		Code:    code,
		Message: err.Error(),
		Data:    ErrorData{Kind: kind, Retryable: settlement.Retryable(err)},
	}
}

func internalError() *Error {
	return &Error{
		Code:    CodeInternalError,
		Message: "internal error",
		Data:    ErrorData{Kind: settlement.KindInternal},
	}
}

// isForbidden reports whether err means the operation is switched off.
func isForbidden(err error) bool {
	return errors.Is(err, keys.ErrRevealDisabled)
}
