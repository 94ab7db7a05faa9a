package trie

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/types"
)

// hexPrefix encodes a nibble path in compact form.
func hexPrefix(nibbles []byte, leaf bool) []byte {
	var flag byte
	if leaf {
		flag = 2
	}
	var out []byte
	if len(nibbles)%2 == 1 {
		out = []byte{(flag|1)<<4 | nibbles[0]}
		nibbles = nibbles[1:]
	} else {
		out = []byte{flag << 4}
	}
	for i := 0; i < len(nibbles); i += 2 {
		out = append(out, nibbles[i]<<4|nibbles[i+1])
	}
	return out
}

func encNode(fields []interface{}) []byte {
	b, err := rlp.EncodeToBytes(fields)
	if err != nil {
		panic(err)
	}
	return b
}

func nodeHash(n []byte) types.Hash {
	return types.BytesToHash(crypto.Keccak256(n))
}

// buildPath constructs extension -> branch -> leaf for key nibbles
// [1 2 3 4] and the given value.
func buildPath(value []byte) (root types.Hash, proof [][]byte) {
	leaf := encNode([]interface{}{hexPrefix([]byte{3, 4}, true), value})

	branch := make([]interface{}, 17)
	for i := range branch {
		branch[i] = []byte{}
	}
	branch[2] = nodeHash(leaf).Bytes()
	branchNode := encNode(branch)

	ext := encNode([]interface{}{hexPrefix([]byte{1}, false), nodeHash(branchNode).Bytes()})
	return nodeHash(ext), [][]byte{ext, branchNode, leaf}
}

func TestVerifyProofPath(t *testing.T) {
	want := []byte("stored value")
	root, proof := buildPath(want)

	got, err := VerifyProof(root, []byte{0x12, 0x34}, proof)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("value = %q, want %q", got, want)
	}
}

func TestVerifyProofAbsentKey(t *testing.T) {
	root, proof := buildPath([]byte("v"))

	// Nibble 5 has no branch child.
	if _, err := VerifyProof(root, []byte{0x15, 0x34}, proof); err != ErrAbsent {
		t.Errorf("err = %v, want ErrAbsent", err)
	}
	// Leaf path mismatch.
	if _, err := VerifyProof(root, []byte{0x12, 0x35}, proof); err != ErrAbsent {
		t.Errorf("err = %v, want ErrAbsent", err)
	}
}

func TestVerifyProofMissingNode(t *testing.T) {
	root, proof := buildPath([]byte("v"))
	// Drop the leaf from the proof set.
	if _, err := VerifyProof(root, []byte{0x12, 0x34}, proof[:2]); err != ErrBadProof {
		t.Errorf("err = %v, want ErrBadProof", err)
	}
}

func TestVerifyProofTamperedNode(t *testing.T) {
	want := []byte("stored value")
	root, proof := buildPath(want)

	// Replace the leaf with one holding a different value; its hash no
	// longer matches the branch reference.
	proof[2] = encNode([]interface{}{hexPrefix([]byte{3, 4}, true), []byte("forged")})
	if _, err := VerifyProof(root, []byte{0x12, 0x34}, proof); err != ErrBadProof {
		t.Errorf("err = %v, want ErrBadProof", err)
	}
}

func TestVerifyAccountProofSingleLeaf(t *testing.T) {
	addr := types.HexToAddress("0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed")
	account := &types.AccountState{
		Nonce:       3,
		Balance:     big.NewInt(1_000_000),
		StorageRoot: types.HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421"),
		CodeHash:    types.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
	}
	value, err := account.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}

	// A trie holding a single account is one leaf node carrying the full
	// 64-nibble path.
	key := crypto.Keccak256(addr[:])
	var nibbles []byte
	for _, b := range key {
		nibbles = append(nibbles, b>>4, b&0x0f)
	}
	leaf := encNode([]interface{}{hexPrefix(nibbles, true), value})
	root := nodeHash(leaf)

	got, err := VerifyAccountProof(root, addr, [][]byte{leaf})
	if err != nil {
		t.Fatal(err)
	}
	if got.Nonce != account.Nonce || got.Balance.Cmp(account.Balance) != 0 {
		t.Errorf("account = %+v", got)
	}

	// A different address walks off the leaf and proves absence: the
	// account reads as empty.
	other := types.HexToAddress("0x0000000000000000000000000000000000000001")
	empty, err := VerifyAccountProof(root, other, [][]byte{leaf})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Balance.Sign() != 0 || empty.Nonce != 0 {
		t.Errorf("absent account not empty: %+v", empty)
	}
}
