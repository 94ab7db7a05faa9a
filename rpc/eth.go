package rpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/ethwallet/ethwallet/types"
)

// errBadQuantity is returned when the node sends a malformed hex quantity.
var errBadQuantity = errors.New("rpc: malformed hex quantity")

// CallMsg is the argument to eth_call and eth_estimateGas.
type CallMsg struct {
	From  *types.Address
	To    types.Address
	Value *big.Int
	Data  []byte
}

// FilterQuery selects logs for eth_getLogs.
type FilterQuery struct {
	FromBlock *uint64
	ToBlock   *uint64
	Addresses []types.Address
	Topics    [][]types.Hash
}

func hexUint(v uint64) string {
	return fmt.Sprintf("0x%x", v)
}

func hexBig(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

func hexBytes(b []byte) string {
	return fmt.Sprintf("0x%x", b)
}

// parseQuantity decodes a 0x-prefixed hex quantity of up to 256 bits.
func parseQuantity(s string) (*uint256.Int, error) {
	v, err := uint256.FromHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", errBadQuantity, s)
	}
	return v, nil
}

// BlockNumber returns the chain head height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var s string
	if err := c.do(ctx, &s, "eth_blockNumber"); err != nil {
		return 0, err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Balance returns the account balance at the latest block.
func (c *Client) Balance(ctx context.Context, addr types.Address) (*big.Int, error) {
	var s string
	if err := c.do(ctx, &s, "eth_getBalance", addr.Hex(), "latest"); err != nil {
		return nil, err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// TransactionCount returns the account nonce at the latest block.
func (c *Client) TransactionCount(ctx context.Context, addr types.Address) (uint64, error) {
	var s string
	if err := c.do(ctx, &s, "eth_getTransactionCount", addr.Hex(), "latest"); err != nil {
		return 0, err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// StorageAt returns the value of a contract storage slot at the latest
// block.
func (c *Client) StorageAt(ctx context.Context, addr types.Address, slot types.Hash) (types.Hash, error) {
	var s string
	if err := c.do(ctx, &s, "eth_getStorageAt", addr.Hex(), slot.Hex(), "latest"); err != nil {
		return types.Hash{}, err
	}
	return types.BytesToHash(decodeHexData(s)), nil
}

// GasPrice returns the node's gas price suggestion in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	var s string
	if err := c.do(ctx, &s, "eth_gasPrice"); err != nil {
		return nil, err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return nil, err
	}
	return v.ToBig(), nil
}

// SendRawTransaction broadcasts a signed RLP payload and returns the
// transaction hash reported by the node.
func (c *Client) SendRawTransaction(ctx context.Context, signed []byte) (types.Hash, error) {
	var s string
	if err := c.do(ctx, &s, "eth_sendRawTransaction", hexBytes(signed)); err != nil {
		return types.Hash{}, err
	}
	return types.HexToHash(s), nil
}

func callArg(msg CallMsg) map[string]interface{} {
	arg := map[string]interface{}{
		"to": msg.To.Hex(),
	}
	if msg.From != nil {
		arg["from"] = msg.From.Hex()
	}
	if msg.Value != nil && msg.Value.Sign() > 0 {
		arg["value"] = hexBig(msg.Value)
	}
	if len(msg.Data) > 0 {
		arg["data"] = hexBytes(msg.Data)
	}
	return arg
}

// CallContract executes a read-only contract call at the latest block.
func (c *Client) CallContract(ctx context.Context, msg CallMsg) ([]byte, error) {
	var s string
	if err := c.do(ctx, &s, "eth_call", callArg(msg), "latest"); err != nil {
		return nil, err
	}
	return decodeHexData(s), nil
}

// decodeHexData decodes 0x-prefixed hex return data; malformed input
// yields nil.
func decodeHexData(s string) []byte {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s) == 0 {
		return nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil
	}
	return b
}

// EstimateGas asks the node for a gas estimate of the given call.
func (c *Client) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var s string
	if err := c.do(ctx, &s, "eth_estimateGas", callArg(msg)); err != nil {
		return 0, err
	}
	v, err := parseQuantity(s)
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}

// Log is a contract event entry from eth_getLogs.
type Log struct {
	Address     types.Address
	Topics      []types.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      types.Hash
}

type rawLog struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
}

// GetLogs fetches contract logs matching the filter.
func (c *Client) GetLogs(ctx context.Context, q FilterQuery) ([]Log, error) {
	arg := map[string]interface{}{}
	if q.FromBlock != nil {
		arg["fromBlock"] = hexUint(*q.FromBlock)
	}
	if q.ToBlock != nil {
		arg["toBlock"] = hexUint(*q.ToBlock)
	}
	if len(q.Addresses) > 0 {
		addrs := make([]string, len(q.Addresses))
		for i, a := range q.Addresses {
			addrs[i] = a.Hex()
		}
		arg["address"] = addrs
	}
	if len(q.Topics) > 0 {
		topics := make([][]string, len(q.Topics))
		for i, tier := range q.Topics {
			for _, h := range tier {
				topics[i] = append(topics[i], h.Hex())
			}
		}
		arg["topics"] = topics
	}

	var raw []rawLog
	if err := c.do(ctx, &raw, "eth_getLogs", arg); err != nil {
		return nil, err
	}
	out := make([]Log, 0, len(raw))
	for _, rl := range raw {
		num, err := parseQuantity(rl.BlockNumber)
		if err != nil {
			return nil, err
		}
		entry := Log{
			Address:     types.HexToAddress(rl.Address),
			Data:        decodeHexData(rl.Data),
			BlockNumber: num.Uint64(),
			TxHash:      types.HexToHash(rl.TxHash),
		}
		for _, tp := range rl.Topics {
			entry.Topics = append(entry.Topics, types.HexToHash(tp))
		}
		out = append(out, entry)
	}
	return out, nil
}
