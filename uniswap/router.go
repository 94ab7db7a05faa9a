package uniswap

import (
	"errors"
	"math/big"

	"github.com/ethwallet/ethwallet/abi"
	"github.com/ethwallet/ethwallet/types"
)

// Router method selectors, including the fee-on-transfer variants.
var (
	selSwapExactETHForTokens    = abi.Selector("swapExactETHForTokens(uint256,address[],address,uint256)")
	selSwapExactETHForTokensFee = abi.Selector(
		"swapExactETHForTokensSupportingFeeOnTransferTokens(uint256,address[],address,uint256)")
	selSwapETHForExactTokens = abi.Selector("swapETHForExactTokens(uint256,address[],address,uint256)")

	selSwapExactTokensForETH    = abi.Selector("swapExactTokensForETH(uint256,uint256,address[],address,uint256)")
	selSwapExactTokensForETHFee = abi.Selector(
		"swapExactTokensForETHSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)")
	selSwapTokensForExactETH = abi.Selector("swapTokensForExactETH(uint256,uint256,address[],address,uint256)")

	selSwapExactTokensForTokens    = abi.Selector("swapExactTokensForTokens(uint256,uint256,address[],address,uint256)")
	selSwapExactTokensForTokensFee = abi.Selector(
		"swapExactTokensForTokensSupportingFeeOnTransferTokens(uint256,uint256,address[],address,uint256)")
	selSwapTokensForExactTokens = abi.Selector("swapTokensForExactTokens(uint256,uint256,address[],address,uint256)")
)

var (
	// ErrNoTrade is returned when calldata is requested without a trade.
	ErrNoTrade = errors.New("uniswap: no trade to encode")

	// ErrFeeOnTransferExactOut is returned for the unsupported
	// combination of exact-out semantics with fee-on-transfer tokens.
	ErrFeeOnTransferExactOut = errors.New("uniswap: exact-out is incompatible with fee-on-transfer")
)

// Call is one contract invocation the wallet should sign and send.
type Call struct {
	To    types.Address
	Value *big.Int
	Data  []byte
}

// SwapParams configures calldata assembly for a planned trade.
type SwapParams struct {
	Router    types.Address
	Recipient types.Address
	Deadline  uint64

	// EtherIn/EtherOut mark legs quoted through the wrapped token that
	// enter or leave as native ether.
	EtherIn  bool
	EtherOut bool

	// AmountOutMin bounds exact-in trades; AmountInMax bounds exact-out
	// trades. The planner's quote is used when nil.
	AmountOutMin *big.Int
	AmountInMax  *big.Int

	// FeeOnTransfer selects the SupportingFeeOnTransferTokens variants.
	FeeOnTransfer bool
}

// SwapCalls assembles the call sequence for a trade: an ERC-20 approve of
// the router when the input is a token, then the swap itself.
func SwapCalls(trade *Trade, p SwapParams) ([]Call, error) {
	if trade == nil {
		return nil, ErrNoTrade
	}
	if !trade.ExactIn && p.FeeOnTransfer {
		return nil, ErrFeeOnTransferExactOut
	}

	outMin := p.AmountOutMin
	if outMin == nil {
		outMin = trade.Output.Amount
	}
	inMax := p.AmountInMax
	if inMax == nil {
		inMax = trade.Input.Amount
	}

	deadline := abi.Uint64Word(p.Deadline)
	to := abi.AddressWord(p.Recipient)

	var (
		data  []byte
		value = new(big.Int)
	)
	switch {
	case p.EtherIn && trade.ExactIn:
		sel := selSwapExactETHForTokens
		if p.FeeOnTransfer {
			sel = selSwapExactETHForTokensFee
		}
		data = abi.PackWithAddressArray(sel,
			[][abi.WordLength]byte{abi.UintWord(outMin), to, deadline}, 1, trade.Path)
		value = trade.Input.Amount

	case p.EtherIn && !trade.ExactIn:
		data = abi.PackWithAddressArray(selSwapETHForExactTokens,
			[][abi.WordLength]byte{abi.UintWord(trade.Output.Amount), to, deadline}, 1, trade.Path)
		value = inMax

	case p.EtherOut && trade.ExactIn:
		sel := selSwapExactTokensForETH
		if p.FeeOnTransfer {
			sel = selSwapExactTokensForETHFee
		}
		data = abi.PackWithAddressArray(sel,
			[][abi.WordLength]byte{abi.UintWord(trade.Input.Amount), abi.UintWord(outMin), to, deadline}, 2, trade.Path)

	case p.EtherOut && !trade.ExactIn:
		data = abi.PackWithAddressArray(selSwapTokensForExactETH,
			[][abi.WordLength]byte{abi.UintWord(trade.Output.Amount), abi.UintWord(inMax), to, deadline}, 2, trade.Path)

	case trade.ExactIn:
		sel := selSwapExactTokensForTokens
		if p.FeeOnTransfer {
			sel = selSwapExactTokensForTokensFee
		}
		data = abi.PackWithAddressArray(sel,
			[][abi.WordLength]byte{abi.UintWord(trade.Input.Amount), abi.UintWord(outMin), to, deadline}, 2, trade.Path)

	default:
		data = abi.PackWithAddressArray(selSwapTokensForExactTokens,
			[][abi.WordLength]byte{abi.UintWord(trade.Output.Amount), abi.UintWord(inMax), to, deadline}, 2, trade.Path)
	}

	swap := Call{To: p.Router, Value: value, Data: data}

	// Token inputs need a prior allowance for the router.
	if !p.EtherIn {
		approveAmount := trade.Input.Amount
		if !trade.ExactIn {
			approveAmount = inMax
		}
		approve := Call{
			To:    trade.Input.Token,
			Value: new(big.Int),
			Data:  abi.ERC20Approve(p.Router, approveAmount),
		}
		return []Call{approve, swap}, nil
	}
	return []Call{swap}, nil
}
