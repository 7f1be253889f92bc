package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.JSONRPC != "2.0" || req.Method != "custody_getCreditBalance" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]string{"creditBalance": "12.5"},
		})
	}))
	defer srv.Close()

	var out struct {
		CreditBalance string `json:"creditBalance"`
	}
	c := New(srv.URL).WithToken("tok")
	if err := c.Call("custody_getCreditBalance", map[string]string{"userId": "alice"}, &out); err != nil {
		t.Fatalf("Call() error: %v", err)
	}
	if out.CreditBalance != "12.5" {
		t.Errorf("creditBalance = %q", out.CreditBalance)
	}
}

func TestClient_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32010,"message":"below minimum","data":{"kind":"BelowMinimum"}}}`))
	}))
	defer srv.Close()

	err := New(srv.URL).Call("custody_withdraw", nil, nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Call() error = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32010 || rpcErr.Kind() != "BelowMinimum" {
		t.Errorf("RPCError = %+v kind=%q", rpcErr, rpcErr.Kind())
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := New(srv.URL).CallContext(ctx, "x", nil, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("CallContext() error = %v, want *TransportError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap context.DeadlineExceeded: %v", err)
	}
}

func TestClient_HTTPErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	err := New(srv.URL).Call("x", nil, nil)
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Call() error = %v, want *TransportError", err)
	}
}
