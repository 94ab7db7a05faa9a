package les

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethwallet/ethwallet/p2p"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/rlp"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// makeChain builds n synthetic headers on top of a checkpoint.
func makeChain(cp params.Checkpoint, n int) []*types.BlockHeader {
	headers := make([]*types.BlockHeader, n)
	parent := cp.Hash
	for i := 0; i < n; i++ {
		h := &types.BlockHeader{
			ParentHash: parent,
			Difficulty: big.NewInt(131072),
			Number:     cp.Number + uint64(i) + 1,
			GasLimit:   8_000_000,
			Time:       1_530_000_000 + uint64(i)*15,
		}
		headers[i] = h
		parent = h.Hash()
	}
	return headers
}

// fakeSource serves a fixed header chain.
type fakeSource struct {
	headers      []*types.BlockHeader
	base         uint64 // number of headers[0]
	disconnected *p2p.DisconnectReason
}

func (f *fakeSource) RequestHeaders(ctx context.Context, origin uint64, amount int) ([]*types.BlockHeader, error) {
	if origin < f.base {
		return nil, errors.New("origin before served range")
	}
	start := int(origin - f.base)
	if start >= len(f.headers) {
		return nil, nil
	}
	end := start + amount
	if end > len(f.headers) {
		end = len(f.headers)
	}
	return f.headers[start:end], nil
}

func (f *fakeSource) Head() (types.Hash, uint64, *big.Int) {
	last := f.headers[len(f.headers)-1]
	return last.Hash(), last.Number, big.NewInt(0)
}

func (f *fakeSource) Disconnect(reason p2p.DisconnectReason) {
	f.disconnected = &reason
}

func testCheckpoint() params.Checkpoint {
	return params.Checkpoint{
		Number:          5_194_692,
		Hash:            types.HexToHash("0x195689d418858d6b4f1a9dd139eb8c8b01ea1e8ade5ab8618c15201f0c746e8b"),
		TotalDifficulty: big.NewInt(18_529_791_467_262_594),
	}
}

func TestHeaderSyncHappyPath(t *testing.T) {
	cp := testCheckpoint()
	chain := makeChain(cp, 500)
	src := &fakeSource{headers: chain, base: cp.Number + 1}
	store := storage.NewMemoryStore()

	var lastProgress float64
	s := NewHeaderSync(store, cp, src)
	s.Progress = func(p float64) { lastProgress = p }

	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s.LastVerified(); got != cp.Number+500 {
		t.Errorf("last verified = %d, want %d", got, cp.Number+500)
	}
	if lastProgress != 1 {
		t.Errorf("final progress = %v, want 1", lastProgress)
	}

	// Every header persisted with cumulative difficulty.
	tip, err := store.HeaderByNumber(cp.Number + 500)
	if err != nil {
		t.Fatal(err)
	}
	wantTd := new(big.Int).Add(cp.TotalDifficulty, new(big.Int).Mul(big.NewInt(131072), big.NewInt(500)))
	if tip.TotalDifficulty.Cmp(wantTd) != 0 {
		t.Errorf("tip td = %v, want %v", tip.TotalDifficulty, wantTd)
	}
	if src.disconnected != nil {
		t.Error("peer disconnected on clean sync")
	}
}

// TestHeaderSyncVerifier accepts a chain iff parent and number rules hold
// for every adjacent pair.
func TestHeaderSyncVerifier(t *testing.T) {
	cp := testCheckpoint()

	t.Run("broken parent", func(t *testing.T) {
		chain := makeChain(cp, 10)
		chain[3].ParentHash = types.HexToHash("0xdead")
		src := &fakeSource{headers: chain, base: cp.Number + 1}
		store := storage.NewMemoryStore()

		err := NewHeaderSync(store, cp, src).Run(context.Background())
		if !errors.Is(err, ErrHeaderChainBroken) {
			t.Fatalf("err = %v, want ErrHeaderChainBroken", err)
		}
		// The offending batch is discarded wholesale.
		if _, err := store.HeaderByNumber(cp.Number + 1); err != storage.ErrNotFound {
			t.Error("partial batch was persisted")
		}
		if src.disconnected == nil || *src.disconnected != p2p.DiscProtocolError {
			t.Errorf("disconnect reason = %v, want BadProtocol", src.disconnected)
		}
	})

	t.Run("broken number", func(t *testing.T) {
		chain := makeChain(cp, 10)
		chain[5].Number += 2
		// Rebuild parent links after the edit so only the number rule
		// trips.
		for i := 6; i < len(chain); i++ {
			chain[i] = &types.BlockHeader{
				ParentHash: chain[i-1].Hash(),
				Difficulty: chain[i].Difficulty,
				Number:     chain[i].Number,
				GasLimit:   chain[i].GasLimit,
				Time:       chain[i].Time,
			}
		}
		src := &fakeSource{headers: chain, base: cp.Number + 1}
		err := NewHeaderSync(storage.NewMemoryStore(), cp, src).Run(context.Background())
		if !errors.Is(err, ErrHeaderChainBroken) {
			t.Fatalf("err = %v, want ErrHeaderChainBroken", err)
		}
	})
}

func TestHeaderSyncResumesFromStore(t *testing.T) {
	cp := testCheckpoint()
	chain := makeChain(cp, 300)
	store := storage.NewMemoryStore()

	// First run over a shorter view of the chain.
	src1 := &fakeSource{headers: chain[:200], base: cp.Number + 1}
	if err := NewHeaderSync(store, cp, src1).Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Second run resumes at 200 and only needs the tail.
	src2 := &fakeSource{headers: chain, base: cp.Number + 1}
	s2 := NewHeaderSync(store, cp, src2)
	if err := s2.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := s2.LastVerified(); got != cp.Number+300 {
		t.Errorf("last verified = %d, want %d", got, cp.Number+300)
	}
}

func TestStatusRoundTrip(t *testing.T) {
	since := uint64(1)
	s := &Status{
		ProtocolVersion: 2,
		NetworkID:       3,
		HeadTd:          big.NewInt(18_529_791_467_262_594),
		HeadHash:        types.HexToHash("0x195689d418858d6b4f1a9dd139eb8c8b01ea1e8ade5ab8618c15201f0c746e8b"),
		HeadNum:         5_194_692,
		GenesisHash:     types.HexToHash("0x41941023680923e0fe4d74a34bdac8141f2540e3ae90623718e47d66d1ca4a2d"),
		ServeHeaders:    true,
		ServeChainSince: &since,
		TxRelay:         true,
		FlowControlBL:   300_000_000,
		FlowControlMRR:  50_000,
	}
	enc, err := s.EncodeRLP()
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeStatus(enc)
	if err != nil {
		t.Fatal(err)
	}
	if got.NetworkID != 3 || got.HeadNum != s.HeadNum || got.GenesisHash != s.GenesisHash {
		t.Error("status fields differ")
	}
	if !got.ServeHeaders || !got.TxRelay {
		t.Error("boolean flags lost")
	}
	if got.ServeChainSince == nil || *got.ServeChainSince != 1 {
		t.Error("serveChainSince lost")
	}
	if got.HeadTd.Cmp(s.HeadTd) != 0 {
		t.Error("headTd differs")
	}
}

func TestHeadersReplyRoundTrip(t *testing.T) {
	cp := testCheckpoint()
	chain := makeChain(cp, 3)

	var raws []interface{}
	for _, h := range chain {
		enc, err := h.EncodeRLP()
		if err != nil {
			t.Fatal(err)
		}
		raws = append(raws, rlp.RawValue(enc))
	}
	payload, err := rlp.EncodeToBytes([]interface{}{uint64(7), uint64(0), raws})
	if err != nil {
		t.Fatal(err)
	}

	id, headers, err := decodeHeadersReply(payload)
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 {
		t.Errorf("reqID = %d", id)
	}
	if len(headers) != 3 {
		t.Fatalf("len = %d", len(headers))
	}
	if headers[2].Hash() != chain[2].Hash() {
		t.Error("decoded header hash differs")
	}
}
