package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"dex_go/internal/state"
)

// Snapshot is the store as of a sequence number. Recovery restores it and
// replays the journal from Seq+1.
type Snapshot struct {
	Seq    uint64         `json:"seq"`
	TsUnix int64          `json:"ts"`
	State  state.Snapshot `json:"state"`
}

// SnapshotManager saves and loads snapshot files.
type SnapshotManager struct {
	dir string
}

// NewSnapshotManager stores snapshots under dir.
func NewSnapshotManager(dir string) *SnapshotManager {
	return &SnapshotManager{dir: dir}
}

func snapshotName(seq uint64, ts int64) string {
	return fmt.Sprintf("snapshot_%d_%d.json", seq, ts)
}

// Save writes a snapshot to disk.
func (sm *SnapshotManager) Save(seq uint64, st state.Snapshot) error {
	if err := os.MkdirAll(sm.dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	snap := Snapshot{Seq: seq, TsUnix: time.Now().Unix(), State: st}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Written under a temp name and renamed into place.
	path := filepath.Join(sm.dir, snapshotName(seq, snap.TsUnix))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}

	slog.Info("Snapshot saved", slog.Uint64("seq", seq), slog.String("path", path))
	return nil
}

type snapFile struct {
	path string
	seq  uint64
}

func (sm *SnapshotManager) list() ([]snapFile, error) {
	entries, err := os.ReadDir(sm.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}
	var files []snapFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var seq uint64
		var ts int64
		if _, err := fmt.Sscanf(entry.Name(), "snapshot_%d_%d.json", &seq, &ts); err != nil {
			continue // Not a snapshot file
		}
		if entry.Name() != snapshotName(seq, ts) {
			continue // .tmp leftovers
		}
		files = append(files, snapFile{path: filepath.Join(sm.dir, entry.Name()), seq: seq})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq > files[j].seq })
	return files, nil
}

// LoadLatest loads the most recent snapshot. Returns nil if there is none.
func (sm *SnapshotManager) LoadLatest() (*Snapshot, error) {
	files, err := sm.list()
	if err != nil || len(files) == 0 {
		return nil, err
	}
	data, err := os.ReadFile(files[0].path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	slog.Info("Snapshot loaded", slog.Uint64("seq", snap.Seq), slog.String("path", files[0].path))
	return &snap, nil
}

// Cleanup removes old snapshots, keeping only the latest keepCount.
func (sm *SnapshotManager) Cleanup(keepCount int) error {
	files, err := sm.list()
	if err != nil {
		return err
	}
	for i := keepCount; i < len(files); i++ {
		if err := os.Remove(files[i].path); err != nil {
			slog.Warn("Failed to remove old snapshot", slog.String("path", files[i].path))
		}
	}
	return nil
}
