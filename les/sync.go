// sync.go implements the checkpoint-to-head header sync: batches of 192
// headers are requested with up to three in flight, verified strictly in
// order against the parent/number/difficulty chain rules and persisted
// atomically per batch.
package les

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/ethwallet/ethwallet/log"
	"github.com/ethwallet/ethwallet/p2p"
	"github.com/ethwallet/ethwallet/params"
	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// maxInflightRequests bounds the header request pipeline.
const maxInflightRequests = 3

// headerCacheSize is the number of recently verified headers kept in
// memory for parent lookups.
const headerCacheSize = 512

var (
	// ErrHeaderChainBroken is returned when a batch violates the chain
	// rules; the peer is disconnected with BadProtocol.
	ErrHeaderChainBroken = errors.New("les: header chain verification failed")
)

// headerSource is the slice of the peer API the sync needs; tests stub it.
type headerSource interface {
	RequestHeaders(ctx context.Context, origin uint64, amount int) ([]*types.BlockHeader, error)
	Head() (types.Hash, uint64, *big.Int)
	Disconnect(reason p2p.DisconnectReason)
}

// HeaderSync drives one sync run from the last verified header (or the
// trusted checkpoint) to the peer's announced head.
type HeaderSync struct {
	store      storage.Store
	checkpoint params.Checkpoint
	peer       headerSource
	logger     *log.Logger

	cache *lru.Cache // hash -> *types.BlockHeader

	// lastVerified is the tip of the verified chain.
	lastMu       sync.Mutex
	lastVerified headerPoint

	// Progress is invoked after every verified batch with a value in
	// [0, 1]. Optional.
	Progress func(float64)
}

// headerPoint is a (number, hash, td) chain position.
type headerPoint struct {
	number uint64
	hash   types.Hash
	td     *big.Int
}

// NewHeaderSync creates a sync driver for one peer.
func NewHeaderSync(store storage.Store, checkpoint params.Checkpoint, peer headerSource) *HeaderSync {
	cache, _ := lru.New(headerCacheSize)
	return &HeaderSync{
		store:      store,
		checkpoint: checkpoint,
		peer:       peer,
		logger:     log.Module("les"),
		cache:      cache,
	}
}

// start returns the resume point: the highest stored header that links
// back to the checkpoint, or the checkpoint itself.
func (s *HeaderSync) start() headerPoint {
	point := headerPoint{
		number: s.checkpoint.Number,
		hash:   s.checkpoint.Hash,
		td:     new(big.Int).Set(s.checkpoint.TotalDifficulty),
	}
	for {
		next, err := s.store.HeaderByNumber(point.number + 1)
		if err != nil || next.ParentHash != point.hash || next.TotalDifficulty == nil {
			return point
		}
		point = headerPoint{number: next.Number, hash: next.Hash(), td: next.TotalDifficulty}
	}
}

// LastVerified returns the current verified tip height.
func (s *HeaderSync) LastVerified() uint64 {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	return s.lastVerified.number
}

// Run syncs until the peer head is reached or an error occurs. On a chain
// rule violation the peer is disconnected with BadProtocol, nothing from
// the offending batch is persisted, and ErrHeaderChainBroken is returned.
func (s *HeaderSync) Run(ctx context.Context) error {
	s.lastMu.Lock()
	s.lastVerified = s.start()
	s.lastMu.Unlock()

	_, headNum, _ := s.peer.Head()
	if headNum <= s.LastVerified() {
		s.reportProgress(headNum)
		return nil
	}

	type fetchResult struct {
		origin  uint64
		headers []*types.BlockHeader
		err     error
	}

	for {
		last := s.LastVerified()
		_, headNum, _ = s.peer.Head()
		if last >= headNum {
			return nil
		}

		// Plan up to three consecutive batches and fetch them
		// concurrently; verification consumes them in order.
		var origins []uint64
		next := last + 1
		for len(origins) < maxInflightRequests && next <= headNum {
			origins = append(origins, next)
			next += MaxHeaderFetch
		}

		results := make([]fetchResult, len(origins))
		var wg sync.WaitGroup
		for i, origin := range origins {
			wg.Add(1)
			go func(i int, origin uint64) {
				defer wg.Done()
				amount := MaxHeaderFetch
				if remaining := headNum - origin + 1; remaining < uint64(amount) {
					amount = int(remaining)
				}
				headers, err := s.peer.RequestHeaders(ctx, origin, amount)
				results[i] = fetchResult{origin: origin, headers: headers, err: err}
			}(i, origin)
		}
		wg.Wait()

		for _, res := range results {
			if res.err != nil {
				return res.err
			}
			if len(res.headers) == 0 {
				// The peer served nothing; stop this run and let the
				// supervisor retry.
				return fmt.Errorf("les: empty header batch at %d", res.origin)
			}
			if err := s.verifyAndStore(res.headers); err != nil {
				s.peer.Disconnect(p2p.DiscProtocolError)
				return err
			}
			s.reportProgress(headNum)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// verifyAndStore checks one batch against the verified tip and persists
// it in a single atomic write. The batch is discarded wholesale on any
// violation.
func (s *HeaderSync) verifyAndStore(headers []*types.BlockHeader) error {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()

	prev := s.lastVerified
	for _, h := range headers {
		if h.ParentHash != prev.hash {
			return fmt.Errorf("%w: parent hash mismatch at %d", ErrHeaderChainBroken, h.Number)
		}
		if h.Number != prev.number+1 {
			return fmt.Errorf("%w: number %d after %d", ErrHeaderChainBroken, h.Number, prev.number)
		}
		if h.Difficulty == nil || h.Difficulty.Sign() <= 0 {
			return fmt.Errorf("%w: missing difficulty at %d", ErrHeaderChainBroken, h.Number)
		}
		h.TotalDifficulty = new(big.Int).Add(prev.td, h.Difficulty)
		prev = headerPoint{number: h.Number, hash: h.Hash(), td: h.TotalDifficulty}
	}

	if err := s.store.PutHeaders(headers); err != nil {
		return err
	}
	for _, h := range headers {
		s.cache.Add(h.Hash(), h)
	}
	s.lastVerified = prev
	return nil
}

// HeaderByHash reads a verified header, preferring the in-memory cache.
func (s *HeaderSync) HeaderByHash(hash types.Hash) (*types.BlockHeader, error) {
	if h, ok := s.cache.Get(hash); ok {
		return h.(*types.BlockHeader), nil
	}
	return s.store.HeaderByHash(hash)
}

// reportProgress emits (lastVerified - checkpoint) / (head - checkpoint).
func (s *HeaderSync) reportProgress(headNum uint64) {
	if s.Progress == nil {
		return
	}
	last := s.LastVerified()
	if headNum <= s.checkpoint.Number {
		s.Progress(1)
		return
	}
	p := float64(last-s.checkpoint.Number) / float64(headNum-s.checkpoint.Number)
	if p > 1 {
		p = 1
	}
	s.Progress(p)
}
