package abi

import (
	"math/big"

	"github.com/ethwallet/ethwallet/types"
)

// ERC-20 method selectors.
var (
	erc20BalanceOf = Selector("balanceOf(address)")
	erc20Transfer  = Selector("transfer(address,uint256)")
	erc20Approve   = Selector("approve(address,uint256)")
	erc20Allowance = Selector("allowance(address,address)")
)

// ERC20BalanceOf builds the calldata for balanceOf(owner).
func ERC20BalanceOf(owner types.Address) []byte {
	return Pack(erc20BalanceOf, AddressWord(owner))
}

// ERC20Transfer builds the calldata for transfer(to, amount).
func ERC20Transfer(to types.Address, amount *big.Int) []byte {
	return Pack(erc20Transfer, AddressWord(to), UintWord(amount))
}

// ERC20Approve builds the calldata for approve(spender, amount).
func ERC20Approve(spender types.Address, amount *big.Int) []byte {
	return Pack(erc20Approve, AddressWord(spender), UintWord(amount))
}

// ERC20Allowance builds the calldata for allowance(owner, spender).
func ERC20Allowance(owner, spender types.Address) []byte {
	return Pack(erc20Allowance, AddressWord(owner), AddressWord(spender))
}
