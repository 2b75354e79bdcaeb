// Package snapshot persists point-in-time engine state so recovery can
// replay only the WAL tail instead of the whole history.
package snapshot

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"paperfx/domain/book"
	"paperfx/domain/ledger"
)

const keepSnapshots = 3

// Snapshot captures everything needed to restart: the books' resting
// orders, the full ledger and the counters. Seq is the last WAL sequence
// the snapshot covers; recovery replays strictly after it.
type Snapshot struct {
	Seq         uint64
	NextOrderID uint64
	Created     time.Time
	Instruments []book.Instrument
	Orders      []book.Order
	Ledger      ledger.State
}

func fileFor(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("snapshot-%020d.snap", seq))
}

// Write encodes the snapshot to a temp file and renames it into place, so
// a crash mid-write never leaves a truncated snapshot behind. Older
// snapshots beyond a small retention window are pruned.
func Write(dir string, s *Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := gob.NewEncoder(tmp).Encode(s); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), fileFor(dir, s.Seq)); err != nil {
		return err
	}

	prune(dir)
	return nil
}

// Load returns the most recent snapshot, or nil when the directory holds
// none. An unreadable latest snapshot is an error, not a silent fallback:
// recovering from an older snapshot than intended would replay WAL
// records the operator believed truncated.
func Load(dir string) (*Snapshot, error) {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil || len(files) == 0 {
		return nil, err
	}
	sort.Strings(files)
	latest := files[len(files)-1]

	f, err := os.Open(latest)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var s Snapshot
	if err := gob.NewDecoder(f).Decode(&s); err != nil {
		return nil, fmt.Errorf("snapshot: decode %s: %w", filepath.Base(latest), err)
	}
	return &s, nil
}

func prune(dir string) {
	files, err := filepath.Glob(filepath.Join(dir, "snapshot-*.snap"))
	if err != nil || len(files) <= keepSnapshots {
		return
	}
	sort.Strings(files)
	for _, path := range files[:len(files)-keepSnapshots] {
		_ = os.Remove(path)
	}
}
