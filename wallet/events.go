// events.go defines the event kinds a back-end pushes into the controller
// and the bounded subscription streams the controller fans them out on.
package wallet

import (
	"math/big"
	"sync"

	"github.com/ethwallet/ethwallet/storage"
	"github.com/ethwallet/ethwallet/types"
)

// SyncStatus is the coarse sync condition.
type SyncStatus int

const (
	NotSynced SyncStatus = iota
	Syncing
	Synced
)

// String returns the status name.
func (s SyncStatus) String() string {
	switch s {
	case NotSynced:
		return "not-synced"
	case Syncing:
		return "syncing"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// SyncState is the sync condition of one asset, with optional progress in
// [0, 1] while syncing and the cause when not synced.
type SyncState struct {
	Status   SyncStatus
	Progress *float64
	Err      error
}

// SyncingState builds a Syncing state with known progress.
func SyncingState(progress float64) SyncState {
	return SyncState{Status: Syncing, Progress: &progress}
}

// Equal compares states by value; used for listener dedup.
func (s SyncState) Equal(o SyncState) bool {
	if s.Status != o.Status || (s.Err == nil) != (o.Err == nil) {
		return false
	}
	if (s.Progress == nil) != (o.Progress == nil) {
		return false
	}
	if s.Progress != nil && *s.Progress != *o.Progress {
		return false
	}
	return true
}

// BalanceUpdate reports a changed asset balance.
type BalanceUpdate struct {
	Asset storage.Asset
	Value *big.Int
}

// SyncUpdate reports a changed per-asset sync state.
type SyncUpdate struct {
	Asset storage.Asset
	State SyncState
}

// TxsUpdate reports newly observed transactions for an asset.
type TxsUpdate struct {
	Asset storage.Asset
	Txs   []*types.Transaction
}

// TokenListener receives the per-contract callbacks of a registered
// ERC-20 token.
type TokenListener interface {
	OnBalance(token types.Address, value *big.Int)
	OnTransactions(token types.Address, txs []*types.Transaction)
	OnSyncState(token types.Address, state SyncState)
}

// streamBufferSize bounds each subscriber channel.
const streamBufferSize = 256

// stream fans values out to subscriber channels. With dropOldest set, a
// full subscriber loses its oldest value; otherwise the send blocks
// (transaction batches are never dropped).
type stream[T any] struct {
	mu         sync.Mutex
	subs       map[int]chan T
	nextID     int
	dropOldest bool
}

func newStream[T any](dropOldest bool) *stream[T] {
	return &stream[T]{subs: make(map[int]chan T), dropOldest: dropOldest}
}

// Subscribe returns a receive channel and its cancel function.
func (s *stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan T, streamBufferSize)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
	}
}

// send delivers v to every subscriber in subscription order.
func (s *stream[T]) send(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := 0; id < s.nextID; id++ {
		ch, ok := s.subs[id]
		if !ok {
			continue
		}
		if s.dropOldest {
			for {
				select {
				case ch <- v:
				default:
					// Evict the oldest buffered value and retry.
					select {
					case <-ch:
					default:
					}
					continue
				}
				break
			}
		} else {
			ch <- v
		}
	}
}

// close closes all subscriber channels.
func (s *stream[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
