package uniswap

import (
	"math/big"

	"github.com/ethwallet/ethwallet/types"
)

// DefaultMaxHops bounds the route search depth.
const DefaultMaxHops = 3

var (
	big997  = big.NewInt(997)
	big1000 = big.NewInt(1000)
	big1    = big.NewInt(1)
)

// AmountOut quotes the output of a constant-product swap with the 0.3%
// fee: (in * 997 * rOut) / (rIn * 1000 + in * 997).
func AmountOut(amountIn, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 {
		return nil, ErrInsufficientReserves
	}
	inWithFee := new(big.Int).Mul(amountIn, big997)
	numerator := new(big.Int).Mul(inWithFee, reserveOut)
	denominator := new(big.Int).Mul(reserveIn, big1000)
	denominator.Add(denominator, inWithFee)
	return numerator.Div(numerator, denominator), nil
}

// AmountIn quotes the input needed for an exact output:
// (rIn * out * 1000) / ((rOut - out) * 997) + 1.
func AmountIn(amountOut, reserveIn, reserveOut *big.Int) (*big.Int, error) {
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil, ErrInsufficientAmount
	}
	if reserveIn.Sign() <= 0 || reserveOut.Sign() <= 0 || amountOut.Cmp(reserveOut) >= 0 {
		return nil, ErrInsufficientReserves
	}
	numerator := new(big.Int).Mul(reserveIn, amountOut)
	numerator.Mul(numerator, big1000)
	denominator := new(big.Int).Sub(reserveOut, amountOut)
	denominator.Mul(denominator, big997)
	in := numerator.Div(numerator, denominator)
	return in.Add(in, big1), nil
}

// Trade is one candidate route with its quoted amounts.
type Trade struct {
	Route   []*Pair
	Path    []types.Address
	Input   TokenAmount
	Output  TokenAmount
	ExactIn bool
}

// Hops returns the route length.
func (t *Trade) Hops() int { return len(t.Route) }

// TradesExactIn enumerates every route of at most maxHops hops that swaps
// the full input into outToken, with the quoted output of each.
func TradesExactIn(pairs []*Pair, input TokenAmount, outToken types.Address, maxHops int) []*Trade {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	var trades []*Trade
	tradeExactIn(pairs, input, outToken, maxHops, nil, input, &trades)
	return trades
}

func tradeExactIn(pairs []*Pair, current TokenAmount, outToken types.Address, maxHops int, route []*Pair, original TokenAmount, acc *[]*Trade) {
	for i, pair := range pairs {
		if !pair.Involves(current.Token) {
			continue
		}
		rIn, rOut := pair.reservesFor(current.Token)
		out, err := AmountOut(current.Amount, rIn, rOut)
		if err != nil {
			continue
		}
		next := TokenAmount{Token: pair.Other(current.Token), Amount: out}
		newRoute := append(append([]*Pair{}, route...), pair)

		if next.Token == outToken {
			*acc = append(*acc, &Trade{
				Route:   newRoute,
				Path:    pathOf(newRoute, original.Token),
				Input:   original,
				Output:  next,
				ExactIn: true,
			})
			continue
		}
		if maxHops > 1 && len(pairs) > 1 {
			rest := excluding(pairs, i)
			tradeExactIn(rest, next, outToken, maxHops-1, newRoute, original, acc)
		}
	}
}

// TradesExactOut enumerates every route of at most maxHops hops that
// produces exactly the requested output from inToken, with the required
// input of each.
func TradesExactOut(pairs []*Pair, inToken types.Address, output TokenAmount, maxHops int) []*Trade {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	var trades []*Trade
	tradeExactOut(pairs, inToken, output, maxHops, nil, output, &trades)
	return trades
}

func tradeExactOut(pairs []*Pair, inToken types.Address, current TokenAmount, maxHops int, route []*Pair, original TokenAmount, acc *[]*Trade) {
	for i, pair := range pairs {
		if !pair.Involves(current.Token) {
			continue
		}
		// Walk backwards: current is what must come out of this pair.
		prevToken := pair.Other(current.Token)
		rIn, rOut := pair.reservesFor(prevToken)
		in, err := AmountIn(current.Amount, rIn, rOut)
		if err != nil {
			continue
		}
		prev := TokenAmount{Token: prevToken, Amount: in}
		newRoute := append([]*Pair{pair}, route...)

		if prev.Token == inToken {
			*acc = append(*acc, &Trade{
				Route:   newRoute,
				Path:    pathOf(newRoute, inToken),
				Input:   prev,
				Output:  original,
				ExactIn: false,
			})
			continue
		}
		if maxHops > 1 && len(pairs) > 1 {
			rest := excluding(pairs, i)
			tradeExactOut(rest, inToken, prev, maxHops-1, newRoute, original, acc)
		}
	}
}

// BestTrade selects the winner: highest output for exact-in trades,
// lowest input for exact-out, shorter route breaking ties.
func BestTrade(trades []*Trade) *Trade {
	var best *Trade
	for _, t := range trades {
		if best == nil {
			best = t
			continue
		}
		var cmp int
		if t.ExactIn {
			cmp = t.Output.Amount.Cmp(best.Output.Amount)
		} else {
			cmp = best.Input.Amount.Cmp(t.Input.Amount)
		}
		if cmp > 0 || (cmp == 0 && t.Hops() < best.Hops()) {
			best = t
		}
	}
	return best
}

// pathOf reconstructs the token path of a route starting at start.
func pathOf(route []*Pair, start types.Address) []types.Address {
	path := []types.Address{start}
	current := start
	for _, pair := range route {
		current = pair.Other(current)
		path = append(path, current)
	}
	return path
}

// excluding returns pairs without the i-th element.
func excluding(pairs []*Pair, i int) []*Pair {
	out := make([]*Pair, 0, len(pairs)-1)
	out = append(out, pairs[:i]...)
	return append(out, pairs[i+1:]...)
}
