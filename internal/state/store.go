package state

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/event"
)

// MarketState groups a market with the book and event queue it owns.
// They share one lock: every operation that touches the book also touches
// the queue or the market aggregates.
type MarketState struct {
	Market *domain.Market
	Book   *book.Book
	Queue  *event.Queue
}

// Clone returns a private working copy.
func (m *MarketState) Clone() *MarketState {
	mk := *m.Market
	return &MarketState{Market: &mk, Book: m.Book.Clone(), Queue: m.Queue.Clone()}
}

// Changes lists the records a unit committed.
type Changes struct {
	Markets  []*MarketState
	Accounts []*domain.UserAccount
}

// Store holds every record by key. A unit of work declares the keys it will
// touch; Execute locks them, hands the unit private copies and publishes the
// copies only if the unit succeeds.
type Store struct {
	mu       sync.RWMutex // guards the maps, never held while a unit runs
	markets  map[domain.Key]*MarketState
	accounts map[domain.Key]*domain.UserAccount

	lockMu sync.Mutex
	locks  map[domain.Key]chan struct{}

	onCommit func(Changes)
}

// NewStore creates an empty store. onCommit, if set, runs after every
// successful unit while its keys are still locked.
func NewStore(onCommit func(Changes)) *Store {
	return &Store{
		markets:  make(map[domain.Key]*MarketState),
		accounts: make(map[domain.Key]*domain.UserAccount),
		locks:    make(map[domain.Key]chan struct{}),
		onCommit: onCommit,
	}
}

func (s *Store) lockFor(k domain.Key) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[k]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[k] = ch
	}
	return ch
}

// acquire takes the locks in ascending key order so two units can never
// wait on each other.
func (s *Store) acquire(ctx context.Context, keys []domain.Key) (release func(), err error) {
	held := make([]chan struct{}, 0, len(keys))
	release = func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, k := range keys {
		ch := s.lockFor(k)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrAccountInUse, k, ctx.Err())
		}
	}
	return release, nil
}

func sortedUnique(keys []domain.Key) []domain.Key {
	out := slices.Clone(keys)
	slices.SortFunc(out, func(a, b domain.Key) int {
		switch {
		case a.Less(b):
			return -1
		case b.Less(a):
			return 1
		}
		return 0
	})
	return slices.Compact(out)
}

// Execute runs fn as one atomic unit over keys. Any error from fn discards
// every change the unit made.
func (s *Store) Execute(ctx context.Context, keys []domain.Key, fn func(*Tx) error) error {
	keys = sortedUnique(keys)
	release, err := s.acquire(ctx, keys)
	if err != nil {
		return err
	}
	defer release()

	tx := &Tx{
		store:    s,
		declared: make(map[domain.Key]bool, len(keys)),
		markets:  make(map[domain.Key]*MarketState),
		accounts: make(map[domain.Key]*domain.UserAccount),
	}
	for _, k := range keys {
		tx.declared[k] = true
	}

	if err := fn(tx); err != nil {
		return err
	}

	changes := tx.commit()
	if s.onCommit != nil && (len(changes.Markets) > 0 || len(changes.Accounts) > 0) {
		s.onCommit(changes)
	}
	return nil
}

// Market returns a point-in-time copy of a market with its book and queue.
func (s *Store) Market(key domain.Key) (*MarketState, bool) {
	// btree.Clone writes to its source, so market copies take the write lock.
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.markets[key]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// UserAccount returns a point-in-time copy of an account.
func (s *Store) UserAccount(key domain.Key) (*domain.UserAccount, bool) {
	s.mu.RLock()
	u, ok := s.accounts[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return u.Clone(), true
}

// MarketKeys lists every market.
func (s *Store) MarketKeys() []domain.Key {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]domain.Key, 0, len(s.markets))
	for k := range s.markets {
		keys = append(keys, k)
	}
	return sortedUnique(keys)
}

// UserAccounts lists copies of the accounts on market.
func (s *Store) UserAccounts(market domain.Key) []*domain.UserAccount {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.UserAccount
	for _, u := range s.accounts {
		if u.Market == market {
			out = append(out, u.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *domain.UserAccount) int {
		if a.Key.Less(b.Key) {
			return -1
		}
		if b.Key.Less(a.Key) {
			return 1
		}
		return 0
	})
	return out
}
