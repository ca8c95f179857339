package service

import (
	"fmt"
	"sort"

	"dex_go/internal/book"
	"dex_go/internal/domain"
	"dex_go/internal/event"
	"dex_go/internal/state"
	"dex_go/pkg/quant"

	"github.com/shopspring/decimal"
)

// DefaultDepth is the number of price levels per side in a market view.
const DefaultDepth = 20

// Archive is the persisted mirror consulted for records the live store
// does not hold.
type Archive interface {
	GetMarket(key domain.Key) (*state.MarketSnapshot, error)
	GetUserAccount(key domain.Key) (*domain.UserAccount, error)
	ListOwnerAccounts(owner domain.Key) ([]*domain.UserAccount, error)
}

// LevelView is one aggregated price level.
type LevelView struct {
	Price   decimal.Decimal `json:"price"`
	RawFp32 quant.Fp32      `json:"raw_price"`
	BaseQty uint64          `json:"base_qty"`
	Orders  int             `json:"orders"`
}

// MarketView is a point-in-time read of one market.
type MarketView struct {
	Market             *domain.Market `json:"market"`
	Bids               []LevelView    `json:"bids"`
	Asks               []LevelView    `json:"asks"`
	BidOrders          int            `json:"bid_orders"`
	AskOrders          int            `json:"ask_orders"`
	PendingEvents      int            `json:"pending_events"`
	EventHeadSeq       uint64         `json:"event_head_seq"`
	SweepableFees      uint64         `json:"sweepable_fees"`
	SweepableRoyalties uint64         `json:"sweepable_royalties"`
	Archived           bool           `json:"archived,omitempty"`
}

// BestBid returns the top bid level, if any.
func (v *MarketView) BestBid() (LevelView, bool) {
	if len(v.Bids) == 0 {
		return LevelView{}, false
	}
	return v.Bids[0], true
}

// BestAsk returns the top ask level, if any.
func (v *MarketView) BestAsk() (LevelView, bool) {
	if len(v.Asks) == 0 {
		return LevelView{}, false
	}
	return v.Asks[0], true
}

// AccountView is a point-in-time read of one user account.
type AccountView struct {
	Account    *domain.UserAccount `json:"account"`
	BaseTotal  uint64              `json:"base_total"`
	QuoteTotal uint64              `json:"quote_total"`
	OpenOrders int                 `json:"open_orders"`
	Archived   bool                `json:"archived,omitempty"`
}

// QueryService serves read-only views. The live store answers first; the
// archive covers records only present on disk.
type QueryService struct {
	store   *state.Store
	archive Archive
	depth   int
}

// NewQueryService creates a QueryService. archive may be nil.
func NewQueryService(store *state.Store, archive Archive) *QueryService {
	return &QueryService{store: store, archive: archive, depth: DefaultDepth}
}

// SetDepth changes the number of levels per side in market views.
func (s *QueryService) SetDepth(n int) {
	if n > 0 {
		s.depth = n
	}
}

// Market returns the view of market key.
func (s *QueryService) Market(key domain.Key) (*MarketView, error) {
	if ms, ok := s.store.Market(key); ok {
		return s.marketView(ms, false)
	}
	if s.archive != nil {
		snap, err := s.archive.GetMarket(key)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			q, err := event.FromSnapshot(snap.Queue)
			if err != nil {
				return nil, err
			}
			ms := &state.MarketState{Market: snap.Market, Book: book.FromSnapshot(snap.Book), Queue: q}
			return s.marketView(ms, true)
		}
	}
	return nil, fmt.Errorf("market %s: %w", key, domain.ErrNotFound)
}

// Markets returns the views of every live market, sorted by key.
func (s *QueryService) Markets() ([]*MarketView, error) {
	keys := s.store.MarketKeys()
	out := make([]*MarketView, 0, len(keys))
	for _, k := range keys {
		v, err := s.Market(k)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *QueryService) marketView(ms *state.MarketState, archived bool) (*MarketView, error) {
	mk := ms.Market
	bids, err := s.levels(mk, ms.Book.Depth(domain.SideBid, s.depth))
	if err != nil {
		return nil, err
	}
	asks, err := s.levels(mk, ms.Book.Depth(domain.SideAsk, s.depth))
	if err != nil {
		return nil, err
	}
	return &MarketView{
		Market:             mk,
		Bids:               bids,
		Asks:               asks,
		BidOrders:          ms.Book.Len(domain.SideBid),
		AskOrders:          ms.Book.Len(domain.SideAsk),
		PendingEvents:      ms.Queue.Len(),
		EventHeadSeq:       ms.Queue.HeadSeq(),
		SweepableFees:      mk.SweepableFees(),
		SweepableRoyalties: mk.SweepableRoyalties(),
		Archived:           archived,
	}, nil
}

func (s *QueryService) levels(mk *domain.Market, in []book.Level) ([]LevelView, error) {
	out := make([]LevelView, len(in))
	for i, l := range in {
		p, err := quant.FromFp32(l.Price, mk.Scale())
		if err != nil {
			return nil, err
		}
		out[i] = LevelView{Price: p, RawFp32: l.Price, BaseQty: l.BaseQty, Orders: l.Orders}
	}
	return out, nil
}

// UserAccount returns the view of user account key.
func (s *QueryService) UserAccount(key domain.Key) (*AccountView, error) {
	if u, ok := s.store.UserAccount(key); ok {
		return accountView(u, false), nil
	}
	if s.archive != nil {
		u, err := s.archive.GetUserAccount(key)
		if err != nil {
			return nil, err
		}
		if u != nil {
			return accountView(u, true), nil
		}
	}
	return nil, fmt.Errorf("user account %s: %w", key, domain.ErrNotFound)
}

// OwnerAccounts returns every account owner holds, live ones first taking
// precedence over archived copies of the same key.
func (s *QueryService) OwnerAccounts(owner domain.Key) ([]*AccountView, error) {
	seen := make(map[domain.Key]bool)
	var out []*AccountView
	for _, mk := range s.store.MarketKeys() {
		for _, u := range s.store.UserAccounts(mk) {
			if u.Owner == owner {
				seen[u.Key] = true
				out = append(out, accountView(u, false))
			}
		}
	}
	if s.archive != nil {
		archived, err := s.archive.ListOwnerAccounts(owner)
		if err != nil {
			return nil, err
		}
		for _, u := range archived {
			if !seen[u.Key] {
				out = append(out, accountView(u, true))
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.Key.Less(out[j].Account.Key) })
	return out, nil
}

func accountView(u *domain.UserAccount, archived bool) *AccountView {
	return &AccountView{
		Account:    u,
		BaseTotal:  u.Total(domain.AssetBase),
		QuoteTotal: u.Total(domain.AssetQuote),
		OpenOrders: len(u.Orders),
		Archived:   archived,
	}
}
