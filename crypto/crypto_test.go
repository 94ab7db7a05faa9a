package crypto

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"math/rand"
	"testing"
)

func newBig(b []byte) *big.Int { return new(big.Int).SetBytes(b) }

func TestKeccak256KnownVectors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "c5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"},
		{"abc", "4e03657aea45a94fc7d47ba826c8d667c0d1e6e33a64a036ec44f58fa12d6c45"},
	}
	for _, tt := range tests {
		got := hex.EncodeToString(Keccak256([]byte(tt.in)))
		if got != tt.want {
			t.Errorf("Keccak256(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// TestSignRecover checks that Ecrecover(d, Sign(k, d)) returns pub(k) for
// random keys and digests.
func TestSignRecover(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 32; i++ {
		key, err := GenerateKey()
		if err != nil {
			t.Fatal(err)
		}
		digest := make([]byte, 32)
		rng.Read(digest)

		sig, err := Sign(digest, key)
		if err != nil {
			t.Fatalf("sign: %v", err)
		}
		if len(sig) != SignatureLength {
			t.Fatalf("signature length %d", len(sig))
		}
		if sig[64] > 1 {
			t.Fatalf("recovery id %d out of range", sig[64])
		}

		pub, err := Ecrecover(digest, sig)
		if err != nil {
			t.Fatalf("recover: %v", err)
		}
		want := key.PubKey().SerializeUncompressed()
		if !bytes.Equal(pub, want) {
			t.Fatalf("recovered %x, want %x", pub, want)
		}
	}
}

func TestSignLowS(t *testing.T) {
	key, _ := GenerateKey()
	digest := Keccak256([]byte("low-s"))
	for i := 0; i < 16; i++ {
		sig, err := Sign(digest, key)
		if err != nil {
			t.Fatal(err)
		}
		r := newBig(sig[:32])
		s := newBig(sig[32:64])
		if !ValidateSignatureValues(sig[64], r, s) {
			t.Fatalf("signature values not canonical: r=%x s=%x v=%d", sig[:32], sig[32:64], sig[64])
		}
	}
}

func TestPrivKeyFromBytesRange(t *testing.T) {
	if _, err := PrivKeyFromBytes(make([]byte, 32)); err == nil {
		t.Error("zero key accepted")
	}
	if _, err := PrivKeyFromBytes(bytes.Repeat([]byte{0xff}, 32)); err == nil {
		t.Error("key >= N accepted")
	}
	if _, err := HexToKey("0x4646464646464646464646464646464646464646464646464646464646464646"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
}

func TestECDHSymmetry(t *testing.T) {
	a, _ := GenerateKey()
	b, _ := GenerateKey()
	ab := ECDH(a, b.PubKey())
	ba := ECDH(b, a.PubKey())
	if !bytes.Equal(ab, ba) {
		t.Fatalf("shared secrets differ: %x vs %x", ab, ba)
	}
	if len(ab) != 32 {
		t.Fatalf("shared secret length %d", len(ab))
	}
}

func TestECIESRoundTrip(t *testing.T) {
	key, _ := GenerateKey()
	msg := []byte("rlpx auth body")
	prefix := []byte{0x01, 0x02}

	ct, err := ECIESEncrypt(key.PubKey(), msg, nil, prefix)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := ECIESDecrypt(key, ct, nil, prefix)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, msg) {
		t.Fatalf("decrypted %x, want %x", pt, msg)
	}

	// Wrong shared MAC data must fail authentication.
	if _, err := ECIESDecrypt(key, ct, nil, []byte{0xff, 0xff}); err != ErrECIESMAC {
		t.Errorf("err = %v, want ErrECIESMAC", err)
	}

	// Bit flip in the ciphertext must fail authentication.
	ct[70] ^= 0x01
	if _, err := ECIESDecrypt(key, ct, nil, prefix); err != ErrECIESMAC {
		t.Errorf("err = %v, want ErrECIESMAC", err)
	}
}

func TestAESCTRSymmetric(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 16)
	iv := make([]byte, 16)
	data := []byte("frame payload data")
	ct, err := AESCTR(key, iv, data)
	if err != nil {
		t.Fatal(err)
	}
	pt, err := AESCTR(key, iv, ct)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(pt, data) {
		t.Fatalf("roundtrip mismatch")
	}
}
