package state

import (
	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/event"
)

// MarketSnapshot is the serialisable form of a MarketState.
type MarketSnapshot struct {
	Market *domain.Market `json:"market"`
	Book   book.Snapshot  `json:"book"`
	Queue  event.Snapshot `json:"queue"`
}

// Snapshot is a full copy of the store, used for state dumps and recovery.
type Snapshot struct {
	Markets  []MarketSnapshot      `json:"markets"`
	Accounts []*domain.UserAccount `json:"accounts"`
}

// Snapshot returns the serialisable form. The book is read, not cloned.
func (m *MarketState) Snapshot() MarketSnapshot {
	mk := *m.Market
	return MarketSnapshot{Market: &mk, Book: m.Book.Snapshot(), Queue: m.Queue.Snapshot()}
}

// Snapshot captures every record. Units running concurrently are either
// fully included or not at all.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap Snapshot
	for _, m := range s.markets {
		snap.Markets = append(snap.Markets, m.Snapshot())
	}
	for _, u := range s.accounts {
		snap.Accounts = append(snap.Accounts, u.Clone())
	}
	return snap
}

// Restore replaces the store contents. It must not race with Execute.
func (s *Store) Restore(snap Snapshot) error {
	markets := make(map[domain.Key]*MarketState, len(snap.Markets))
	for _, ms := range snap.Markets {
		q, err := event.FromSnapshot(ms.Queue)
		if err != nil {
			return err
		}
		mk := *ms.Market
		markets[mk.Key] = &MarketState{Market: &mk, Book: book.FromSnapshot(ms.Book), Queue: q}
	}
	accounts := make(map[domain.Key]*domain.UserAccount, len(snap.Accounts))
	for _, u := range snap.Accounts {
		accounts[u.Key] = u.Clone()
	}

	s.mu.Lock()
	s.markets = markets
	s.accounts = accounts
	s.mu.Unlock()
	return nil
}
