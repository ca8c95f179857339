package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"dex_go/internal/domain"
	"dex_go/internal/instruction"
	"dex_go/pkg/quant"
)

func openTestJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j, path
}

func journaled(t *testing.T, seq uint64) *instruction.Instruction {
	t.Helper()
	ins, err := instruction.New(instruction.KindDeposit, domain.Key{0xA1},
		instruction.Transfer{Market: domain.Key{0x4D}, Asset: domain.AssetQuote, Amount: seq * 100})
	if err != nil {
		t.Fatal(err)
	}
	ins.Seq = seq
	ins.Ts = quant.TimeStamp(1000 * seq)
	ins.Signature = instruction.Signature{1, 2, 3}
	return ins
}

func TestJournal_AppendAndLoad(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	for seq := uint64(1); seq <= 3; seq++ {
		if err := j.Append(ctx, journaled(t, seq)); err != nil {
			t.Fatalf("Append %d failed: %v", seq, err)
		}
	}

	loaded, err := j.Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("Expected 2 instructions, got %d", len(loaded))
	}
	if loaded[0].Seq != 2 || loaded[1].Seq != 3 || loaded[0].Ts != 2000 {
		t.Errorf("loaded seqs %d, %d ts %d", loaded[0].Seq, loaded[1].Seq, loaded[0].Ts)
	}

	var pl instruction.Transfer
	if err := loaded[1].Decode(&pl); err != nil || pl.Amount != 300 {
		t.Errorf("payload = %+v, %v", pl, err)
	}
	if len(loaded[1].Signature) != 3 {
		t.Errorf("signature lost: %v", loaded[1].Signature)
	}
}

func TestJournal_LastSeq(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	if seq, err := j.LastSeq(ctx); err != nil || seq != 0 {
		t.Errorf("empty journal last seq = %d, %v", seq, err)
	}
	j.Append(ctx, journaled(t, 1))
	j.Append(ctx, journaled(t, 2))
	if seq, err := j.LastSeq(ctx); err != nil || seq != 2 {
		t.Errorf("last seq = %d, %v", seq, err)
	}
}

func TestJournal_DuplicateID(t *testing.T) {
	j, _ := openTestJournal(t)
	ctx := context.Background()

	ins := journaled(t, 1)
	if err := j.Append(ctx, ins); err != nil {
		t.Fatal(err)
	}
	dup := *ins
	dup.Seq = 2
	if err := j.Append(ctx, &dup); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestJournal_Reopen(t *testing.T) {
	j, path := openTestJournal(t)
	ctx := context.Background()
	j.Append(ctx, journaled(t, 1))
	j.Close()

	reopened, err := OpenJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if seq, err := reopened.LastSeq(ctx); err != nil || seq != 1 {
		t.Errorf("last seq after reopen = %d, %v", seq, err)
	}
}
