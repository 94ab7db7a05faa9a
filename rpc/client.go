// Package rpc implements the remote data sources of the API back-end: a
// JSON-RPC 2.0 client over HTTP with jittered exponential backoff, typed
// eth_* convenience methods, and an Etherscan-compatible transaction index
// client.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethwallet/ethwallet/log"
)

// Backoff parameters for transport retries: capped exponential with full
// jitter.
const (
	backoffBase = time.Second
	backoffCap  = 60 * time.Second
)

// Error is a JSON-RPC error object returned by the remote node. It is not
// retried.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc: server error %d: %s", e.Code, e.Message)
}

// TransportError wraps a network-level failure. Retried with backoff.
type TransportError struct {
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string { return "rpc: transport: " + e.Err.Error() }

// Unwrap exposes the underlying failure.
func (e *TransportError) Unwrap() error { return e.Err }

// Client is a JSON-RPC 2.0 client bound to one endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   *atomic.Uint64
	logger   *log.Logger
	retry    bool
}

// NewClient creates a client for the given endpoint URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		nextID:   new(atomic.Uint64),
		logger:   log.Module("rpc"),
	}
}

// WithRetry returns a view of the client whose typed methods retry
// transport errors with backoff. The sync loop uses it; per-operation
// calls (send, call, estimateGas) fail fast on the plain client.
func (c *Client) WithRetry() *Client {
	cc := *c
	cc.retry = true
	return &cc
}

// do dispatches a call through the client's retry policy.
func (c *Client) do(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if c.retry {
		return c.CallRetry(ctx, result, method, params...)
	}
	return c.Call(ctx, result, method, params...)
}

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *Error          `json:"error"`
}

// Call performs a single JSON-RPC call, decoding the result into result
// when non-nil. Network failures are reported as *TransportError; remote
// errors as *Error.
func (c *Client) Call(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return &TransportError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Err: err}
	}

	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return &TransportError{Err: err}
	}
	if r.Error != nil {
		return r.Error
	}
	if result != nil {
		return json.Unmarshal(r.Result, result)
	}
	return nil
}

// CallRetry performs Call, retrying transport errors with capped
// exponential backoff and full jitter until the context is cancelled.
// Remote JSON-RPC errors fail immediately.
func (c *Client) CallRetry(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	var attempt int
	for {
		err := c.Call(ctx, result, method, params...)
		var transport *TransportError
		if err == nil || !errors.As(err, &transport) {
			return err
		}

		wait := backoffDelay(attempt)
		attempt++
		c.logger.Warn("transport error, retrying", "method", method, "attempt", attempt, "wait", wait, "err", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// backoffDelay returns a full-jitter delay for the given attempt:
// uniform in [0, min(cap, base*2^attempt)].
func backoffDelay(attempt int) time.Duration {
	ceil := backoffBase << uint(attempt)
	if ceil > backoffCap || ceil <= 0 {
		ceil = backoffCap
	}
	return time.Duration(rand.Int63n(int64(ceil) + 1))
}
