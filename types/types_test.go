package types

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"github.com/ethwallet/ethwallet/crypto"
	"github.com/ethwallet/ethwallet/rlp"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		ok     bool
		reason AddressErrorReason
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", true, 0},
		{"bad checksum", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", false, AddressBadChecksum},
		{"all lower no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", true, 0},
		{"all upper", "0x5AAEB6053F3E94C9B9A09F33669435E7EF1BEAED", true, 0},
		{"too short", "0x5aaeb6", false, AddressBadLength},
		{"bad hex", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaeg", false, AddressBadHex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseAddress(tt.in)
			if tt.ok {
				if err != nil {
					t.Fatalf("ParseAddress(%q) = %v", tt.in, err)
				}
				return
			}
			var invalid *InvalidAddressError
			if !errors.As(err, &invalid) {
				t.Fatalf("ParseAddress(%q) err = %v, want InvalidAddressError", tt.in, err)
			}
			if invalid.Reason != tt.reason {
				t.Errorf("reason = %v, want %v", invalid.Reason, tt.reason)
			}
			_ = addr
		})
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	in := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	addr, err := ParseAddress(in)
	if err != nil {
		t.Fatal(err)
	}
	if got := addr.Hex(); got != in {
		t.Errorf("Hex() = %s, want %s", got, in)
	}
}

func TestHeaderHashCoversAllFields(t *testing.T) {
	mk := func(number uint64) *BlockHeader {
		return &BlockHeader{
			ParentHash: HexToHash("0x01"),
			Difficulty: big.NewInt(131072),
			Number:     number,
			GasLimit:   8_000_000,
			Time:       1_500_000_000,
			Extra:      []byte("x"),
		}
	}
	if mk(42).Hash() == mk(43).Hash() {
		t.Error("hash did not change with header content")
	}
}

func TestHeaderHashExcludesTotalDifficulty(t *testing.T) {
	a := &BlockHeader{Difficulty: big.NewInt(1), Number: 1}
	b := &BlockHeader{Difficulty: big.NewInt(1), Number: 1, TotalDifficulty: big.NewInt(999)}
	if a.Hash() != b.Hash() {
		t.Error("TotalDifficulty leaked into the header hash")
	}
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := &BlockHeader{
		ParentHash: HexToHash("0xaabb"),
		UncleHash:  HexToHash("0x1dcc4de8dec75d7aab85b567b6ccd41ad312451b948a7413f0a142fd40d49347"),
		Coinbase:   HexToAddress("0x00000000000000000000000000000000deadbeef"),
		Root:       HexToHash("0x11"),
		Difficulty: big.NewInt(17_179_869_184),
		Number:     5_194_693,
		GasLimit:   8_000_029,
		GasUsed:    21_000,
		Time:       1_530_000_000,
		Extra:      []byte{0xd8, 0x83},
		MixDigest:  HexToHash("0x22"),
		Nonce:      BlockNonce{1, 2, 3, 4, 5, 6, 7, 8},
	}
	enc, err := h.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	item, err := rlp.Parse(enc)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeHeader(item)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash() != h.Hash() {
		t.Errorf("decoded header hash %s, want %s", got.Hash(), h.Hash())
	}
	if got.Number != h.Number || got.GasUsed != h.GasUsed || !bytes.Equal(got.Extra, h.Extra) {
		t.Error("decoded header fields differ")
	}
	if got.Nonce != h.Nonce {
		t.Errorf("nonce = %x, want %x", got.Nonce, h.Nonce)
	}
}

// TestSignedTransfer covers the EIP-155 signing path on Ropsten: the
// signed payload must hash to the transaction hash, V must land in
// {41, 42}, and the recovered sender must match the key.
func TestSignedTransfer(t *testing.T) {
	key, err := crypto.HexToKey("0x4646464646464646464646464646464646464646464646464646464646464646")
	if err != nil {
		t.Fatal(err)
	}
	raw := NewRawTransaction(
		big.NewInt(20_000_000_000),
		21_000,
		HexToAddress("0x3535353535353535353535353535353535353535"),
		new(big.Int).SetUint64(1_000_000_000_000_000_000),
		nil,
	)

	signer := NewSigner(3)
	tx, signed, err := signer.Sign(raw, 9, key)
	if err != nil {
		t.Fatal(err)
	}

	if tx.Hash != BytesToHash(crypto.Keccak256(signed)) {
		t.Error("transaction hash is not the keccak of the signed payload")
	}

	item, err := rlp.Parse(signed)
	if err != nil {
		t.Fatal(err)
	}
	v, err := item.Items[6].Uint64()
	if err != nil {
		t.Fatal(err)
	}
	if v != 41 && v != 42 {
		t.Errorf("v = %d, want 41 or 42", v)
	}

	from, err := signer.Sender(signed)
	if err != nil {
		t.Fatal(err)
	}
	if from != PubkeyToAddress(key.PubKey()) {
		t.Errorf("recovered sender %s, want %s", from, PubkeyToAddress(key.PubKey()))
	}
	if tx.From != from {
		t.Errorf("tx.From %s != recovered %s", tx.From, from)
	}
}

func TestSignerRejectsWrongChain(t *testing.T) {
	key, _ := crypto.GenerateKey()
	raw := NewRawTransaction(big.NewInt(1), 21_000, Address{}, big.NewInt(1), nil)
	_, signed, err := NewSigner(3).Sign(raw, 0, key)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSigner(1).Sender(signed); !errors.Is(err, ErrInvalidSigV) {
		t.Errorf("err = %v, want ErrInvalidSigV", err)
	}
}

func TestAccountStateRoundTrip(t *testing.T) {
	a := &AccountState{
		Nonce:       7,
		Balance:     big.NewInt(123456789),
		StorageRoot: HexToHash("0x56e81f171bcc55a6ff8345e692c0f86e5b48e01b996cadc001622fb5e363b421"),
		CodeHash:    HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
	}
	enc, err := a.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeAccountState(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.Nonce != a.Nonce || got.Balance.Cmp(a.Balance) != 0 ||
		got.StorageRoot != a.StorageRoot || got.CodeHash != a.CodeHash {
		t.Error("account state roundtrip mismatch")
	}
}
