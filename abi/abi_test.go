package abi

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethwallet/ethwallet/types"
)

func TestSelectorKnownValues(t *testing.T) {
	tests := []struct {
		sig  string
		want string
	}{
		{"transfer(address,uint256)", "a9059cbb"},
		{"balanceOf(address)", "70a08231"},
		{"approve(address,uint256)", "095ea7b3"},
		{"getReserves()", "0902f1ac"},
	}
	for _, tt := range tests {
		got := Selector(tt.sig)
		if hex.EncodeToString(got[:]) != tt.want {
			t.Errorf("Selector(%q) = %x, want %s", tt.sig, got, tt.want)
		}
	}
}

func TestERC20Transfer(t *testing.T) {
	to := types.HexToAddress("0x00000000000000000000000000000000000000aa")
	data := ERC20Transfer(to, big.NewInt(1000))
	if len(data) != 4+64 {
		t.Fatalf("calldata length %d", len(data))
	}
	if hex.EncodeToString(data[:4]) != "a9059cbb" {
		t.Errorf("selector %x", data[:4])
	}
	if !bytes.Equal(data[4+12:4+32], to[:]) {
		t.Error("address not packed into first word")
	}
	if v := new(big.Int).SetBytes(data[4+32:]); v.Int64() != 1000 {
		t.Errorf("amount word = %v", v)
	}
}

func TestPackWithAddressArray(t *testing.T) {
	a1 := types.HexToAddress("0x01")
	a2 := types.HexToAddress("0x02")
	sel := Selector("swapExactETHForTokens(uint256,address[],address,uint256)")

	static := [][WordLength]byte{
		Uint64Word(5),             // amountOutMin
		AddressWord(a1),           // to
		Uint64Word(1_700_000_000), // deadline
	}
	data := PackWithAddressArray(sel, static, 1, []types.Address{a1, a2})

	// 4 selector + 4 head words + length word + 2 elements.
	if len(data) != 4+4*32+32+2*32 {
		t.Fatalf("calldata length %d", len(data))
	}
	// Array offset word points just past the head (4 words = 128 bytes).
	off := new(big.Int).SetBytes(data[4+32 : 4+64])
	if off.Int64() != 128 {
		t.Errorf("array offset = %d, want 128", off)
	}
	// Length word.
	n := new(big.Int).SetBytes(data[4+128 : 4+160])
	if n.Int64() != 2 {
		t.Errorf("array length = %d, want 2", n)
	}
}

func TestUnpackUint256(t *testing.T) {
	w := UintWord(big.NewInt(42))
	v, err := UnpackUint256(w[:])
	if err != nil {
		t.Fatal(err)
	}
	if v.Int64() != 42 {
		t.Errorf("v = %d", v)
	}
	if _, err := UnpackUint256([]byte{1, 2}); err != ErrBadReturnData {
		t.Errorf("err = %v, want ErrBadReturnData", err)
	}
}
