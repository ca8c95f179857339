package app

import (
	"context"
	"fmt"
	"log/slog"

	"dex_go/internal/auth"
	"dex_go/internal/engine"
	"dex_go/internal/infra"
	"dex_go/internal/infra/storage"
	"dex_go/internal/service"
	"dex_go/internal/state"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config    *infra.Config
	Metrics   *infra.Metrics
	Storage   *storage.Storage
	Journal   *storage.Journal
	Snapshots *storage.SnapshotManager
	Store     *state.Store
	Processor *engine.Processor
	Sequencer *engine.Sequencer
	Query     *service.QueryService

	halted chan error
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath, halted: make(chan error, 1)}
}

// Halted delivers the fatal error that stopped the sequencer.
func (b *Bootstrap) Halted() <-chan error { return b.halted }

// Initialize performs core system initialization: config, logging,
// persistence and recovery of the engine state.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping DEX settlement core...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	b.Metrics = infra.GlobalMetrics

	// 3. Initialize Storage (mirror DB, journal, snapshots)
	mirror, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = mirror
	slog.Info("✅ Database initialized")

	journal, err := storage.OpenJournal(cfg.Storage.JournalPath)
	if err != nil {
		return err
	}
	b.Journal = journal
	b.Snapshots = storage.NewSnapshotManager(cfg.Storage.SnapshotDir)
	slog.Info("✅ Journal opened", slog.String("path", cfg.Storage.JournalPath))

	// 4. Engine
	b.Store = state.NewStore(mirror.OnCommit)
	b.Processor = engine.NewProcessor(b.Store, auth.Verifier{}, b.Metrics, engine.Options{
		QueueCapacity:  cfg.Engine.QueueCapacity,
		MatchLimit:     cfg.Engine.MatchLimit,
		SweepAuthority: cfg.Engine.SweepAuthority,
		FeeSchedule:    cfg.Fees,
		RebatePolicy:   cfg.Engine.RebatePolicy,
		LockTimeout:    cfg.Engine.LockTimeout,
	})
	b.Sequencer = engine.NewSequencer(cfg.Engine.InboxSize, b.Processor, journal, b.onHalt)

	// 5. Recovery: latest snapshot, then the journal after it
	if err := b.recover(ctx); err != nil {
		return err
	}
	slog.Info("✅ State recovered", slog.Uint64("next_seq", b.Sequencer.NextSeq()))

	if cfg.Storage.SnapshotEvery > 0 {
		keep := cfg.Storage.KeepSnapshots
		b.Sequencer.SetSnapshotter(cfg.Storage.SnapshotEvery, func(seq uint64, st state.Snapshot) error {
			if err := b.Snapshots.Save(seq, st); err != nil {
				return err
			}
			return b.Snapshots.Cleanup(keep)
		})
	}

	b.Query = service.NewQueryService(b.Store, mirror)
	return nil
}

func (b *Bootstrap) recover(ctx context.Context) error {
	snap, err := b.Snapshots.LoadLatest()
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap != nil {
		if err := b.Sequencer.RestoreSnapshot(snap.Seq, snap.State); err != nil {
			return fmt.Errorf("restore snapshot %d: %w", snap.Seq, err)
		}
	}
	return b.Sequencer.RecoverFromJournal(ctx)
}

func (b *Bootstrap) onHalt(err error) {
	b.Metrics.SetHalted(true)
	select {
	case b.halted <- err:
	default:
	}
}

// Close releases persistence handles. Call after the sequencer has stopped.
func (b *Bootstrap) Close() {
	if b.Journal != nil {
		if err := b.Journal.Close(); err != nil {
			slog.Error("Failed to close journal", slog.Any("error", err))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Error("Failed to close database", slog.Any("error", err))
		}
	}
}
