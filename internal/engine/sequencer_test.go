package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"
	"dex_go/internal/state"

	"github.com/shopspring/decimal"
)

// memJournal keeps journaled instructions in memory.
type memJournal struct {
	mu      sync.Mutex
	entries []instruction.Instruction
	failing bool
}

func (j *memJournal) Append(_ context.Context, ins *instruction.Instruction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failing {
		return errors.New("disk full")
	}
	j.entries = append(j.entries, *ins)
	return nil
}

func (j *memJournal) LastSeq(_ context.Context) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) == 0 {
		return 0, nil
	}
	return j.entries[len(j.entries)-1].Seq, nil
}

func (j *memJournal) Load(_ context.Context, fromSeq uint64) ([]*instruction.Instruction, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*instruction.Instruction
	for i := range j.entries {
		if j.entries[i].Seq >= fromSeq {
			ins := j.entries[i]
			out = append(out, &ins)
		}
	}
	return out, nil
}

func (j *memJournal) len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

var (
	seqCreator = domain.Key{0x01}
	seqTrader  = domain.Key{0x02}
)

func seqMarket() instruction.CreateMarket {
	return instruction.CreateMarket{
		Key:                     domain.Key{0x4D},
		BaseCurrencyMultiplier:  1,
		QuoteCurrencyMultiplier: 1,
		TickSize:                decimal.NewFromInt(1),
		MinBaseOrderSize:        1,
		SweepAuthority:          seqCreator,
	}
}

func newIns(t testing.TB, kind instruction.Kind, signer domain.Key, payload any) *instruction.Instruction {
	t.Helper()
	ins, err := instruction.New(kind, signer, payload)
	if err != nil {
		t.Fatal(err)
	}
	return ins
}

// startSequencer runs an unauthenticated pipeline until the test ends.
func startSequencer(t *testing.T, j Journal, auth Authenticator, onHalt func(error)) *Sequencer {
	t.Helper()
	proc := NewProcessor(state.NewStore(nil), auth, nil, Options{QueueCapacity: 64})
	seq := NewSequencer(16, proc, j, onHalt)
	seq.SetDumpPath(filepath.Join(t.TempDir(), "dump.json"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		seq.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return seq
}

func submit(t *testing.T, s *Sequencer, ins *instruction.Instruction) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.Submit(ctx, ins)
}

func TestSequencer_AssignsSeqAndJournals(t *testing.T) {
	j := &memJournal{}
	s := startSequencer(t, j, nil, nil)

	res, err := submit(t, s, newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket()))
	if err != nil {
		t.Fatalf("CreateMarket failed: %v", err)
	}
	if res.Seq != 1 {
		t.Errorf("first seq = %d", res.Seq)
	}

	res, err = submit(t, s, newIns(t, instruction.KindCreateAccount, seqTrader, instruction.CreateAccount{Market: domain.Key{0x4D}}))
	if err != nil || res.Seq != 2 {
		t.Fatalf("CreateAccount = %+v, %v", res, err)
	}

	if j.len() != 2 {
		t.Fatalf("journal has %d entries", j.len())
	}
	for i, e := range j.entries {
		if e.Seq != uint64(i+1) || e.Ts == 0 {
			t.Errorf("entry %d: seq %d ts %d", i, e.Seq, e.Ts)
		}
	}
}

func TestSequencer_RejectedInstructionsAreJournaled(t *testing.T) {
	j := &memJournal{}
	s := startSequencer(t, j, nil, nil)

	// Valid envelope, no such account.
	_, err := submit(t, s, newIns(t, instruction.KindDeposit, seqTrader,
		instruction.Transfer{Market: domain.Key{0x4D}, Asset: domain.AssetBase, Amount: 1}))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if j.len() != 1 || s.NextSeq() != 2 {
		t.Errorf("journal %d, next seq %d", j.len(), s.NextSeq())
	}

	// Malformed envelope never reaches the journal.
	bad := newIns(t, instruction.Kind("Nope"), seqTrader, struct{}{})
	if _, err := submit(t, s, bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ValidationError, got %v", err)
	}
	if j.len() != 1 {
		t.Errorf("invalid envelope journaled")
	}
}

func TestSequencer_DuplicateID(t *testing.T) {
	j := &memJournal{}
	s := startSequencer(t, j, nil, nil)

	ins := newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket())
	if _, err := submit(t, s, ins); err != nil {
		t.Fatal(err)
	}
	again := *ins
	if _, err := submit(t, s, &again); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	if j.len() != 1 {
		t.Errorf("duplicate journaled")
	}
}

func TestSequencer_JournalFailure(t *testing.T) {
	j := &memJournal{failing: true}
	s := startSequencer(t, j, nil, nil)

	_, err := submit(t, s, newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket()))
	if err == nil {
		t.Fatal("expected journal error")
	}
	if _, ok := s.proc.Store().Market(domain.Key{0x4D}); ok {
		t.Error("instruction applied without being journaled")
	}
}

func TestSequencer_RecoverFromJournal(t *testing.T) {
	j := &memJournal{}
	s := startSequencer(t, j, nil, nil)

	market := domain.Key{0x4D}
	account := domain.DeriveUserAccountKey(market, seqTrader)
	for _, ins := range []*instruction.Instruction{
		newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket()),
		newIns(t, instruction.KindCreateAccount, seqTrader, instruction.CreateAccount{Market: market}),
		newIns(t, instruction.KindDeposit, seqTrader, instruction.Transfer{Market: market, Asset: domain.AssetQuote, Amount: 10_000}),
		newIns(t, instruction.KindWithdraw, seqTrader, instruction.Transfer{Market: market, Asset: domain.AssetQuote, Amount: 99_999}),
		newIns(t, instruction.KindPlaceOrder, seqTrader, instruction.PlaceOrder{Market: market, Side: domain.SideBid, Price: decimal.NewFromInt(10), Size: 5}),
	} {
		submit(t, s, ins)
	}
	want, _ := s.proc.Store().UserAccount(account)

	proc := NewProcessor(state.NewStore(nil), nil, nil, Options{QueueCapacity: 64})
	replay := NewSequencer(16, proc, j, nil)
	if err := replay.RecoverFromJournal(context.Background()); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if replay.NextSeq() != 6 {
		t.Errorf("next seq = %d, want 6", replay.NextSeq())
	}
	got, ok := proc.Store().UserAccount(account)
	if !ok || got.QuoteTokenFree != want.QuoteTokenFree || got.QuoteTokenLocked != 50 || len(got.Orders) != 1 {
		t.Errorf("replayed account = %+v, want %+v", got, want)
	}

	// Replayed IDs stay taken.
	first := j.entries[0]
	if _, err := replay.process(context.Background(), &first); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestSequencer_RecoverDetectsGap(t *testing.T) {
	j := &memJournal{}
	ins := newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket())
	ins.Seq = 2
	j.entries = append(j.entries, *ins)

	s := NewSequencer(1, NewProcessor(state.NewStore(nil), nil, nil, Options{}), j, nil)
	if err := s.RecoverFromJournal(context.Background()); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

type brokenAuth struct{}

func (brokenAuth) Verify(*instruction.Instruction) error {
	return domain.NewInvariantError("auth", "key store corrupted")
}

func TestSequencer_HaltsOnFatalError(t *testing.T) {
	halted := make(chan error, 1)
	s := startSequencer(t, &memJournal{}, brokenAuth{}, func(err error) { halted <- err })

	_, err := submit(t, s, newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket()))
	if !domain.IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}

	select {
	case got := <-halted:
		if !errors.Is(got, domain.ErrInvariantViolation) {
			t.Errorf("onHalt got %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onHalt not called")
	}
	if !s.Halted() {
		t.Error("sequencer should report halted")
	}
	if _, err := os.Stat(s.dumpPath); err != nil {
		t.Errorf("state dump missing: %v", err)
	}
	if _, err := submit(t, s, newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket())); !errors.Is(err, domain.ErrHalted) {
		t.Errorf("expected ErrHalted, got %v", err)
	}
}

func TestSequencer_SnapshotThenReplay(t *testing.T) {
	j := &memJournal{}
	type saved struct {
		seq  uint64
		snap state.Snapshot
	}
	var snaps []saved
	proc := NewProcessor(state.NewStore(nil), nil, nil, Options{QueueCapacity: 64})
	s := NewSequencer(1, proc, j, nil)
	s.SetSnapshotter(3, func(seq uint64, snap state.Snapshot) error {
		snaps = append(snaps, saved{seq, snap})
		return nil
	})

	market := domain.Key{0x4D}
	account := domain.DeriveUserAccountKey(market, seqTrader)
	ctx := context.Background()
	for _, ins := range []*instruction.Instruction{
		newIns(t, instruction.KindCreateMarket, seqCreator, seqMarket()),
		newIns(t, instruction.KindCreateAccount, seqTrader, instruction.CreateAccount{Market: market}),
		newIns(t, instruction.KindDeposit, seqTrader, instruction.Transfer{Market: market, Asset: domain.AssetBase, Amount: 70}),
		newIns(t, instruction.KindDeposit, seqTrader, instruction.Transfer{Market: market, Asset: domain.AssetBase, Amount: 5}),
	} {
		if _, err := s.process(ctx, ins); err != nil {
			t.Fatal(err)
		}
	}
	if len(snaps) != 1 || snaps[0].seq != 3 {
		t.Fatalf("snapshots = %d", len(snaps))
	}

	proc2 := NewProcessor(state.NewStore(nil), nil, nil, Options{QueueCapacity: 64})
	replay := NewSequencer(1, proc2, j, nil)
	if err := replay.RestoreSnapshot(snaps[0].seq, snaps[0].snap); err != nil {
		t.Fatal(err)
	}
	if err := replay.RecoverFromJournal(ctx); err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if u, ok := proc2.Store().UserAccount(account); !ok || u.BaseTokenFree != 75 {
		t.Errorf("replayed account = %+v", u)
	}
	if replay.NextSeq() != 5 {
		t.Errorf("next seq = %d", replay.NextSeq())
	}

	ahead := NewSequencer(1, NewProcessor(state.NewStore(nil), nil, nil, Options{}), j, nil)
	if err := ahead.RestoreSnapshot(9, snaps[0].snap); err != nil {
		t.Fatal(err)
	}
	if err := ahead.RecoverFromJournal(ctx); !errors.Is(err, domain.ErrInvariantViolation) {
		t.Errorf("snapshot ahead of journal: expected ErrInvariantViolation, got %v", err)
	}
}
