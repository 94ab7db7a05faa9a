package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ethwallet/ethwallet/types"
)

var (
	// ErrMissingAPIKey is returned when the index endpoint requires an
	// API key and none was configured. Fatal: never retried.
	ErrMissingAPIKey = errors.New("rpc: transaction index API key missing")

	// errBadIndexReply is returned for replies that are not the expected
	// envelope.
	errBadIndexReply = errors.New("rpc: malformed transaction index reply")
)

// IndexClient fetches historical account transactions from an
// Etherscan-compatible HTTP endpoint. Requests are throttled to stay
// under the public tier limits.
type IndexClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// NewIndexClient creates an index client for the given base URL. apiKey
// may be empty for endpoints that allow anonymous access.
func NewIndexClient(baseURL, apiKey string) *IndexClient {
	return &IndexClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Every(250*time.Millisecond), 1),
	}
}

type indexEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type indexTx struct {
	Hash        string `json:"hash"`
	Nonce       string `json:"nonce"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	GasPrice    string `json:"gasPrice"`
	Gas         string `json:"gas"`
	Input       string `json:"input"`
	TimeStamp   string `json:"timeStamp"`
	BlockNumber string `json:"blockNumber"`
}

// TransactionsByAddress returns one page of an account's transactions at
// or above startBlock, oldest first. page is 1-based. An empty slice means
// the index has no more entries.
func (c *IndexClient) TransactionsByAddress(ctx context.Context, addr types.Address, startBlock uint64, page, pageSize int) ([]*types.Transaction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("module", "account")
	q.Set("action", "txlist")
	q.Set("address", addr.Hex())
	q.Set("startblock", strconv.FormatUint(startBlock, 10))
	q.Set("endblock", "99999999")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(pageSize))
	q.Set("sort", "asc")
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var env indexEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TransportError{Err: err}
	}
	// The index reports "No transactions found" with status 0. A status-0
	// reply is an error only when its message is "NOTOK"; any other
	// status-0 reply is treated as an empty page.
	if env.Status != "1" {
		if env.Message == "NOTOK" {
			detail := string(env.Result)
			if strings.Contains(detail, "API Key") {
				// Fatal for the sync loop: surfaced, never retried.
				return nil, ErrMissingAPIKey
			}
			return nil, fmt.Errorf("%w: %s", errBadIndexReply, detail)
		}
		return nil, nil
	}

	var raw []indexTx
	if err := json.Unmarshal(env.Result, &raw); err != nil {
		return nil, errBadIndexReply
	}
	out := make([]*types.Transaction, 0, len(raw))
	for _, rt := range raw {
		tx, err := rt.toTransaction()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (rt indexTx) toTransaction() (*types.Transaction, error) {
	nonce, err := strconv.ParseUint(rt.Nonce, 10, 64)
	if err != nil {
		return nil, errBadIndexReply
	}
	gasPrice, err := strconv.ParseUint(rt.GasPrice, 10, 64)
	if err != nil {
		return nil, errBadIndexReply
	}
	gasLimit, err := strconv.ParseUint(rt.Gas, 10, 64)
	if err != nil {
		return nil, errBadIndexReply
	}
	ts, err := strconv.ParseInt(rt.TimeStamp, 10, 64)
	if err != nil {
		return nil, errBadIndexReply
	}
	height, err := strconv.ParseUint(rt.BlockNumber, 10, 64)
	if err != nil {
		return nil, errBadIndexReply
	}
	value, ok := new(big.Int).SetString(rt.Value, 10)
	if !ok {
		return nil, errBadIndexReply
	}
	return &types.Transaction{
		Hash:        types.HexToHash(rt.Hash),
		Nonce:       nonce,
		From:        types.HexToAddress(rt.From),
		To:          types.HexToAddress(rt.To),
		Value:       value,
		GasPrice:    gasPrice,
		GasLimit:    gasLimit,
		Input:       decodeHexData(rt.Input),
		Timestamp:   ts,
		BlockHeight: &height,
	}, nil
}
