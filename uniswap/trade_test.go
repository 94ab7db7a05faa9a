package uniswap

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethwallet/ethwallet/types"
)

var (
	tokenA = types.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB = types.HexToAddress("0x00000000000000000000000000000000000000b2")
	tokenC = types.HexToAddress("0x00000000000000000000000000000000000000c3")
	tokenD = types.HexToAddress("0x00000000000000000000000000000000000000d4")
)

func pair(t *testing.T, x types.Address, rx int64, y types.Address, ry int64) *Pair {
	t.Helper()
	p, err := NewPair(
		TokenAmount{Token: x, Amount: big.NewInt(rx)},
		TokenAmount{Token: y, Amount: big.NewInt(ry)},
	)
	require.NoError(t, err)
	return p
}

func TestNewPairOrdersTokens(t *testing.T) {
	p, err := NewPair(
		TokenAmount{Token: tokenB, Amount: big.NewInt(2)},
		TokenAmount{Token: tokenA, Amount: big.NewInt(1)},
	)
	require.NoError(t, err)
	assert.Equal(t, tokenA, p.Token0)
	assert.Equal(t, tokenB, p.Token1)
	assert.Equal(t, int64(1), p.Reserve0.Int64())
	assert.Equal(t, int64(2), p.Reserve1.Int64())

	_, err = NewPair(TokenAmount{Token: tokenA}, TokenAmount{Token: tokenA})
	assert.ErrorIs(t, err, ErrSameToken)
}

func TestPairForKnownAddress(t *testing.T) {
	// DAI/WETH on the canonical mainnet factory.
	factory := types.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f")
	initCode := types.HexToHash("0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f")
	dai := types.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	weth := types.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")

	got := PairFor(factory, dai, weth, initCode)
	want := types.HexToAddress("0xA478c2975Ab1Ea89e8196811F51A7B7Ade33eB11")
	assert.Equal(t, want, got)

	// Order-insensitive.
	assert.Equal(t, got, PairFor(factory, weth, dai, initCode))
}

func TestAmountOutKnownQuote(t *testing.T) {
	// (100 * 997 * 2000) / (1000 * 1000 + 100 * 997) = 181.32... -> 181
	out, err := AmountOut(big.NewInt(100), big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	assert.Equal(t, int64(181), out.Int64())

	_, err = AmountOut(big.NewInt(0), big.NewInt(1000), big.NewInt(2000))
	assert.ErrorIs(t, err, ErrInsufficientAmount)
	_, err = AmountOut(big.NewInt(1), big.NewInt(0), big.NewInt(2000))
	assert.ErrorIs(t, err, ErrInsufficientReserves)
}

// TestAmountInInverse is the rounding property: feeding amountOut's quote
// back through AmountIn recovers at least the original input, within one
// wei of rounding.
func TestAmountInInverse(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		// Output-rich pools with small inputs keep the marginal rate
		// above one output wei per input wei, where the inverse is
		// exact up to the +1 rounding.
		rIn := big.NewInt(rng.Int63n(1_000_000) + 1_000)
		rOut := new(big.Int).Mul(rIn, big.NewInt(2))
		aIn := big.NewInt(rng.Int63n(rIn.Int64()/100) + 1)

		out, err := AmountOut(aIn, rIn, rOut)
		require.NoError(t, err)
		if out.Sign() == 0 {
			continue
		}
		back, err := AmountIn(out, rIn, rOut)
		require.NoError(t, err)

		// The recovered input still purchases the quoted output.
		again, err := AmountOut(back, rIn, rOut)
		require.NoError(t, err)
		assert.True(t, again.Cmp(out) >= 0,
			"amountIn result %v does not cover output %v", back, out)

		// And it differs from the original by at most the +1 rounding.
		diff := new(big.Int).Sub(back, aIn)
		assert.True(t, diff.Sign() >= 0 && diff.Cmp(big1) <= 0,
			"amountIn(amountOut(%v)) = %v, outside [aIn, aIn+1]", aIn, back)
	}
}

// TestTradeExactInDepthTwo is the two-hop scenario: pairs (A,B) and (B,C)
// must yield exactly one trade A->B->C with the composed quote.
func TestTradeExactInDepthTwo(t *testing.T) {
	pairs := []*Pair{
		pair(t, tokenA, 1000, tokenB, 2000),
		pair(t, tokenB, 5000, tokenC, 4000),
	}
	in := TokenAmount{Token: tokenA, Amount: big.NewInt(100)}

	trades := TradesExactIn(pairs, in, tokenC, DefaultMaxHops)
	require.Len(t, trades, 1)

	trade := trades[0]
	assert.Equal(t, []types.Address{tokenA, tokenB, tokenC}, trade.Path)
	assert.True(t, trade.ExactIn)

	hop1, err := AmountOut(big.NewInt(100), big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	want, err := AmountOut(hop1, big.NewInt(5000), big.NewInt(4000))
	require.NoError(t, err)
	assert.Equal(t, want, trade.Output.Amount)
}

func TestTradeSelectionPrefersBestQuote(t *testing.T) {
	// Direct A-C pool with thin reserves against a deep two-hop route.
	pairs := []*Pair{
		pair(t, tokenA, 1000, tokenC, 1000),
		pair(t, tokenA, 1_000_000, tokenB, 2_000_000),
		pair(t, tokenB, 2_000_000, tokenC, 2_000_000),
	}
	in := TokenAmount{Token: tokenA, Amount: big.NewInt(10_000)}

	trades := TradesExactIn(pairs, in, tokenC, DefaultMaxHops)
	require.NotEmpty(t, trades)
	best := BestTrade(trades)
	require.NotNil(t, best)

	// Every other trade quotes no better.
	for _, tr := range trades {
		assert.True(t, best.Output.Amount.Cmp(tr.Output.Amount) >= 0)
	}
	assert.Equal(t, 2, best.Hops(), "deep two-hop route should beat the thin direct pool")
}

func TestTradeExactOut(t *testing.T) {
	pairs := []*Pair{
		pair(t, tokenA, 1000, tokenB, 2000),
		pair(t, tokenB, 5000, tokenC, 4000),
	}
	out := TokenAmount{Token: tokenC, Amount: big.NewInt(50)}

	trades := TradesExactOut(pairs, tokenA, out, DefaultMaxHops)
	require.Len(t, trades, 1)
	trade := trades[0]

	assert.Equal(t, []types.Address{tokenA, tokenB, tokenC}, trade.Path)
	assert.False(t, trade.ExactIn)
	assert.Equal(t, int64(50), trade.Output.Amount.Int64())

	// The quoted input actually produces at least the requested output.
	hop1, err := AmountOut(trade.Input.Amount, big.NewInt(1000), big.NewInt(2000))
	require.NoError(t, err)
	final, err := AmountOut(hop1, big.NewInt(5000), big.NewInt(4000))
	require.NoError(t, err)
	assert.True(t, final.Cmp(trade.Output.Amount) >= 0)
}

func TestHopBoundRespected(t *testing.T) {
	// A->B->C->D needs three hops; with maxHops=2 no route exists.
	pairs := []*Pair{
		pair(t, tokenA, 1000, tokenB, 1000),
		pair(t, tokenB, 1000, tokenC, 1000),
		pair(t, tokenC, 1000, tokenD, 1000),
	}
	in := TokenAmount{Token: tokenA, Amount: big.NewInt(10)}

	assert.Empty(t, TradesExactIn(pairs, in, tokenD, 2))
	assert.Len(t, TradesExactIn(pairs, in, tokenD, 3), 1)
}

func TestSwapCallsTokenToToken(t *testing.T) {
	pairs := []*Pair{pair(t, tokenA, 1000, tokenB, 2000)}
	in := TokenAmount{Token: tokenA, Amount: big.NewInt(100)}
	trades := TradesExactIn(pairs, in, tokenB, 1)
	require.Len(t, trades, 1)

	router := types.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D")
	calls, err := SwapCalls(trades[0], SwapParams{
		Router:    router,
		Recipient: types.HexToAddress("0x01"),
		Deadline:  1_700_000_000,
	})
	require.NoError(t, err)
	require.Len(t, calls, 2, "token input needs approve then swap")

	// First call approves the router on the input token.
	assert.Equal(t, tokenA, calls[0].To)
	assert.Equal(t, [4]byte{0x09, 0x5e, 0xa7, 0xb3}, [4]byte(calls[0].Data[:4]))

	// Second call hits the router with the exact-in selector.
	assert.Equal(t, router, calls[1].To)
	wantSel := selSwapExactTokensForTokens
	assert.Equal(t, wantSel[:], calls[1].Data[:4])
	assert.Equal(t, 0, calls[1].Value.Sign())
}

func TestSwapCallsEtherIn(t *testing.T) {
	weth := tokenB
	pairs := []*Pair{pair(t, weth, 1000, tokenC, 2000)}
	in := TokenAmount{Token: weth, Amount: big.NewInt(100)}
	trades := TradesExactIn(pairs, in, tokenC, 1)
	require.Len(t, trades, 1)

	calls, err := SwapCalls(trades[0], SwapParams{
		Router:    types.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		Recipient: types.HexToAddress("0x01"),
		Deadline:  1_700_000_000,
		EtherIn:   true,
	})
	require.NoError(t, err)
	require.Len(t, calls, 1, "ether input needs no approve")
	assert.Equal(t, selSwapExactETHForTokens[:], calls[0].Data[:4])
	assert.Equal(t, int64(100), calls[0].Value.Int64())
}

func TestSwapCallsFeeOnTransferVariant(t *testing.T) {
	pairs := []*Pair{pair(t, tokenA, 1000, tokenB, 2000)}
	in := TokenAmount{Token: tokenA, Amount: big.NewInt(100)}
	trades := TradesExactIn(pairs, in, tokenB, 1)
	require.Len(t, trades, 1)

	calls, err := SwapCalls(trades[0], SwapParams{
		Router:        types.HexToAddress("0x02"),
		Recipient:     types.HexToAddress("0x01"),
		FeeOnTransfer: true,
	})
	require.NoError(t, err)
	assert.Equal(t, selSwapExactTokensForTokensFee[:], calls[1].Data[:4])

	// Fee-on-transfer cannot be combined with exact-out.
	outTrades := TradesExactOut(pairs, tokenA, TokenAmount{Token: tokenB, Amount: big.NewInt(50)}, 1)
	require.Len(t, outTrades, 1)
	_, err = SwapCalls(outTrades[0], SwapParams{FeeOnTransfer: true})
	assert.ErrorIs(t, err, ErrFeeOnTransferExactOut)
}
