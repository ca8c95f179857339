package state

import (
	"fmt"

	"dex_go/internal/domain"
)

// Tx is the view a unit of work gets. Records are loaded lazily as private
// copies; only keys declared to Execute are reachable.
type Tx struct {
	store    *Store
	declared map[domain.Key]bool
	markets  map[domain.Key]*MarketState
	accounts map[domain.Key]*domain.UserAccount
}

func (tx *Tx) check(key domain.Key) error {
	if !tx.declared[key] {
		return domain.NewInvariantError("state.Tx", "key %s not declared for this unit", key)
	}
	return nil
}

// Market returns the unit's working copy of a market.
func (tx *Tx) Market(key domain.Key) (*MarketState, error) {
	if err := tx.check(key); err != nil {
		return nil, err
	}
	if m, ok := tx.markets[key]; ok {
		return m, nil
	}
	tx.store.mu.Lock()
	m, ok := tx.store.markets[key]
	var c *MarketState
	if ok {
		c = m.Clone()
	}
	tx.store.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: market %s", domain.ErrNotFound, key)
	}
	tx.markets[key] = c
	return c, nil
}

// UserAccount returns the unit's working copy of an account.
func (tx *Tx) UserAccount(key domain.Key) (*domain.UserAccount, error) {
	if err := tx.check(key); err != nil {
		return nil, err
	}
	if u, ok := tx.accounts[key]; ok {
		return u, nil
	}
	tx.store.mu.RLock()
	u, ok := tx.store.accounts[key]
	tx.store.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: user account %s", domain.ErrNotFound, key)
	}
	c := u.Clone()
	tx.accounts[key] = c
	return c, nil
}

// HasUserAccount reports whether key exists, counting records created by
// this unit.
func (tx *Tx) HasUserAccount(key domain.Key) bool {
	if _, ok := tx.accounts[key]; ok {
		return true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	_, ok := tx.store.accounts[key]
	return ok
}

// CreateMarket adds a new market to the unit.
func (tx *Tx) CreateMarket(m *MarketState) error {
	key := m.Market.Key
	if err := tx.check(key); err != nil {
		return err
	}
	tx.store.mu.RLock()
	_, exists := tx.store.markets[key]
	tx.store.mu.RUnlock()
	if _, pending := tx.markets[key]; exists || pending {
		return fmt.Errorf("%w: market %s", domain.ErrAlreadyExists, key)
	}
	tx.markets[key] = m
	return nil
}

// CreateUserAccount adds a new account to the unit.
func (tx *Tx) CreateUserAccount(u *domain.UserAccount) error {
	if err := tx.check(u.Key); err != nil {
		return err
	}
	if tx.HasUserAccount(u.Key) {
		return fmt.Errorf("%w: user account %s", domain.ErrAlreadyExists, u.Key)
	}
	tx.accounts[u.Key] = u
	return nil
}

func (tx *Tx) commit() Changes {
	var ch Changes
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	for k, m := range tx.markets {
		tx.store.markets[k] = m
		ch.Markets = append(ch.Markets, m)
	}
	for k, u := range tx.accounts {
		tx.store.accounts[k] = u
		ch.Accounts = append(ch.Accounts, u)
	}
	return ch
}
