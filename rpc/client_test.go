package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethwallet/ethwallet/types"
)

func mockNode(t *testing.T, handler func(method string, params []json.RawMessage) (interface{}, *Error)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64            `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		result, rpcErr := handler(req.Method, req.Params)
		reply := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			reply["error"] = rpcErr
		} else {
			reply["result"] = result
		}
		json.NewEncoder(w).Encode(reply)
	}))
}

func TestClientTypedCalls(t *testing.T) {
	srv := mockNode(t, func(method string, params []json.RawMessage) (interface{}, *Error) {
		switch method {
		case "eth_blockNumber":
			return "0x4f58a0", nil // 5200032
		case "eth_getBalance":
			return "0xde0b6b3a7640000", nil // 1e18
		case "eth_getTransactionCount":
			return "0x0", nil
		case "eth_gasPrice":
			return "0x4a817c800", nil
		default:
			return nil, &Error{Code: -32601, Message: "method not found"}
		}
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	height, err := c.BlockNumber(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if height != 0x4f58a0 {
		t.Errorf("height = %d", height)
	}

	bal, err := c.Balance(ctx, types.Address{})
	if err != nil {
		t.Fatal(err)
	}
	if bal.String() != "1000000000000000000" {
		t.Errorf("balance = %s", bal)
	}

	nonce, err := c.TransactionCount(ctx, types.Address{})
	if err != nil {
		t.Fatal(err)
	}
	if nonce != 0 {
		t.Errorf("nonce = %d", nonce)
	}

	if _, err := c.CallContract(ctx, CallMsg{}); err == nil {
		t.Error("unknown method did not surface the server error")
	}
}

func TestCallRetryRecoversFromTransportError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		var req struct {
			ID uint64 `json:"id"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": "0x10",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	var s string
	if err := c.CallRetry(context.Background(), &s, "eth_blockNumber"); err != nil {
		t.Fatal(err)
	}
	if s != "0x10" {
		t.Errorf("result = %q", s)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestCallRetryStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewClient(srv.URL)
	if err := c.CallRetry(ctx, nil, "eth_blockNumber"); err != context.Canceled {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestIndexClientPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		if page != "1" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"status": "0", "message": "No transactions found", "result": []interface{}{},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "1", "message": "OK",
			"result": []map[string]string{{
				"hash":        "0x1100000000000000000000000000000000000000000000000000000000000000",
				"nonce":       "9",
				"from":        "0x3535353535353535353535353535353535353535",
				"to":          "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
				"value":       "1000000000000000000",
				"gasPrice":    "20000000000",
				"gas":         "21000",
				"input":       "0x",
				"timeStamp":   "1530000000",
				"blockNumber": "5194700",
			}},
		})
	}))
	defer srv.Close()

	c := NewIndexClient(srv.URL, "")
	txs, err := c.TransactionsByAddress(context.Background(), types.Address{}, 0, 1, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(txs) != 1 {
		t.Fatalf("len = %d", len(txs))
	}
	tx := txs[0]
	if tx.Nonce != 9 || tx.Value.String() != "1000000000000000000" {
		t.Errorf("tx fields wrong: %+v", tx)
	}
	if tx.BlockHeight == nil || *tx.BlockHeight != 5194700 {
		t.Error("block height not parsed")
	}

	empty, err := c.TransactionsByAddress(context.Background(), types.Address{}, 0, 2, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("page 2 len = %d, want 0", len(empty))
	}
}
