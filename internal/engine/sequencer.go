package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"
	"dex_go/internal/state"
	"dex_go/pkg/quant"
)

// Journal is the write-ahead log of admitted instructions.
type Journal interface {
	Append(ctx context.Context, ins *instruction.Instruction) error
	LastSeq(ctx context.Context) (uint64, error)
	Load(ctx context.Context, fromSeq uint64) ([]*instruction.Instruction, error)
}

type request struct {
	ins   *instruction.Instruction
	reply chan reply
}

type reply struct {
	res *Result
	err error
}

// Sequencer is the single-threaded instruction pipeline. It orders every
// instruction, writes it to the journal before applying it and replays the
// journal on start.
type Sequencer struct {
	inbox   chan request
	proc    *Processor
	journal Journal
	nextSeq uint64
	seen    map[string]struct{}

	now      func() quant.TimeStamp
	dumpPath string
	halted   atomic.Bool

	// Boundary: notified once when a fatal error stops the pipeline
	onHalt func(error)

	snapEvery uint64
	onSnap    func(seq uint64, snap state.Snapshot) error
}

// NewSequencer creates a new sequencer instance. journal and onHalt may be nil.
func NewSequencer(inboxSize int, proc *Processor, journal Journal, onHalt func(error)) *Sequencer {
	return &Sequencer{
		inbox:    make(chan request, inboxSize),
		proc:     proc,
		journal:  journal,
		nextSeq:  1,
		seen:     make(map[string]struct{}),
		now:      func() quant.TimeStamp { return quant.TimeStamp(time.Now().UnixMicro()) },
		dumpPath: "panic_dump.json",
		onHalt:   onHalt,
	}
}

// SetDumpPath sets where the state dump is written on a fatal error.
func (s *Sequencer) SetDumpPath(path string) { s.dumpPath = path }

// SetSnapshotter hands a store snapshot to save every n instructions.
func (s *Sequencer) SetSnapshotter(n uint64, save func(seq uint64, snap state.Snapshot) error) {
	s.snapEvery, s.onSnap = n, save
}

// RestoreSnapshot loads the store as of seq. RecoverFromJournal then
// replays from seq+1. Must run before Run.
func (s *Sequencer) RestoreSnapshot(seq uint64, snap state.Snapshot) error {
	if err := s.proc.Store().Restore(snap); err != nil {
		return fmt.Errorf("restore snapshot %d: %w", seq, err)
	}
	s.nextSeq = seq + 1
	return nil
}

// NextSeq is the sequence number the next instruction will get.
func (s *Sequencer) NextSeq() uint64 { return s.nextSeq }

// Halted reports whether the pipeline has stopped.
func (s *Sequencer) Halted() bool { return s.halted.Load() }

// Submit hands an instruction to the pipeline and waits for its result.
func (s *Sequencer) Submit(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	if s.halted.Load() {
		return nil, domain.ErrHalted
	}
	req := request{ins: ins, reply: make(chan reply, 1)}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-req.reply:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecoverFromJournal restores state by replaying every journaled instruction
// through the live code path. Must run before Run.
func (s *Sequencer) RecoverFromJournal(ctx context.Context) error {
	if s.journal == nil {
		slog.Info("No journal configured, starting fresh")
		return nil
	}

	lastSeq, err := s.journal.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("failed to get last seq: %w", err)
	}
	if lastSeq == 0 && s.nextSeq == 1 {
		slog.Info("Journal is empty, starting fresh")
		return nil
	}
	if lastSeq+1 < s.nextSeq {
		return fmt.Errorf("%w: snapshot at %d is ahead of journal at %d", domain.ErrInvariantViolation, s.nextSeq-1, lastSeq)
	}

	entries, err := s.journal.Load(ctx, s.nextSeq)
	if err != nil {
		return fmt.Errorf("failed to load journal: %w", err)
	}

	slog.Info("Replaying instructions from journal", slog.Int("count", len(entries)))

	rejected := 0
	for _, ins := range entries {
		if ins.Seq != s.nextSeq {
			return fmt.Errorf("%w: journal gap, expected %d got %d", domain.ErrInvariantViolation, s.nextSeq, ins.Seq)
		}
		if _, err := s.proc.Execute(ctx, ins); err != nil {
			if domain.IsFatal(err) {
				return fmt.Errorf("replay seq %d: %w", ins.Seq, err)
			}
			// Rejected the first time too.
			rejected++
		}
		s.seen[ins.ID] = struct{}{}
		s.nextSeq++
	}

	slog.Info("State recovered from journal",
		slog.Uint64("next_seq", s.nextSeq),
		slog.Int("rejected", rejected),
	)
	return nil
}

// Run starts the main loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	slog.Info("Sequencer started", slog.Uint64("next_seq", s.nextSeq))

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.halt(fmt.Errorf("panic: %v", r))
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Sequencer stopping...")
			return
		case req := <-s.inbox:
			res, err := s.process(ctx, req.ins)
			req.reply <- reply{res: res, err: err}
			if s.halted.Load() {
				s.drain()
				return
			}
		}
	}
}

func (s *Sequencer) process(ctx context.Context, ins *instruction.Instruction) (*Result, error) {
	if err := ins.Validate(); err != nil {
		return nil, err
	}
	if _, dup := s.seen[ins.ID]; dup {
		return nil, fmt.Errorf("%w: instruction %s", domain.ErrAlreadyExists, ins.ID)
	}

	ins.Seq = s.nextSeq
	ins.Ts = s.now()

	// WAL-first
	if s.journal != nil {
		if err := s.journal.Append(ctx, ins); err != nil {
			// IDs from before the last snapshot are only known to the journal.
			if errors.Is(err, domain.ErrAlreadyExists) {
				return nil, err
			}
			slog.Error("PERSISTENCE_FAILURE", slog.Uint64("seq", ins.Seq), slog.Any("error", err))
			return nil, fmt.Errorf("journal append: %w", err)
		}
	}
	s.seen[ins.ID] = struct{}{}
	s.nextSeq++

	res, err := s.proc.Execute(ctx, ins)
	if err != nil && domain.IsFatal(err) {
		s.halt(err)
		return res, err
	}
	if s.snapEvery > 0 && ins.Seq%s.snapEvery == 0 && s.onSnap != nil {
		if serr := s.onSnap(ins.Seq, s.proc.Store().Snapshot()); serr != nil {
			slog.Warn("SNAPSHOT_FAILED", slog.Uint64("seq", ins.Seq), slog.Any("error", serr))
		}
	}
	return res, err
}

func (s *Sequencer) halt(err error) {
	if s.halted.Swap(true) {
		return
	}
	s.DumpState(s.dumpPath)
	if s.onHalt != nil {
		s.onHalt(err)
	}
}

// drain fails whatever is still queued once halted.
func (s *Sequencer) drain() {
	for {
		select {
		case req := <-s.inbox:
			req.reply <- reply{err: domain.ErrHalted}
		default:
			return
		}
	}
}

// DumpState writes the entire store to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	slog.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq uint64 `json:"next_seq"`
		State   any    `json:"state"`
	}{
		NextSeq: s.nextSeq,
		State:   s.proc.Store().Snapshot(),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		slog.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		slog.Error("Failed to write state dump", slog.Any("error", err))
	}
}
