package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"paperfx/snapshot"
)

// Snapshot quiesces every lane, captures the full engine state and
// writes it durably. Returns the snapshot for WAL truncation.
func (e *Engine) Snapshot(dir string) (*snapshot.Snapshot, error) {
	release := e.Freeze()
	defer release()

	s := &snapshot.Snapshot{
		Seq:         e.wal.LastSeq(),
		NextOrderID: e.nextOrderID.Load(),
		Created:     time.Now(),
		Instruments: e.exportInstruments(),
		Orders:      e.exportOrders(),
		Ledger:      e.ledger.Export(),
	}
	if err := snapshot.Write(dir, s); err != nil {
		return nil, err
	}
	return s, nil
}

// SnapshotJob periodically snapshots the engine and truncates WAL
// segments the snapshot covers, bounding recovery time and disk use.
type SnapshotJob struct {
	engine   *Engine
	dir      string
	interval time.Duration
	log      zerolog.Logger
}

func NewSnapshotJob(e *Engine, dir string, interval time.Duration, log zerolog.Logger) *SnapshotJob {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &SnapshotJob{
		engine:   e,
		dir:      dir,
		interval: interval,
		log:      log.With().Str("component", "snapshot_job").Logger(),
	}
}

func (j *SnapshotJob) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.once()
		}
	}
}

func (j *SnapshotJob) once() {
	// a degraded engine can hold WAL records that were appended but never
	// applied in memory; a snapshot now would claim coverage over them and
	// truncation would lose them for good
	if j.engine.degraded.Load() {
		j.log.Warn().Msg("write path degraded, snapshot skipped")
		return
	}

	start := time.Now()
	s, err := j.engine.Snapshot(j.dir)
	if err != nil {
		j.log.Error().Err(err).Msg("snapshot failed")
		return
	}
	if err := j.engine.wal.TruncateBefore(s.Seq); err != nil {
		j.log.Warn().Err(err).Msg("wal truncation failed")
	}
	j.log.Info().
		Uint64("seq", s.Seq).
		Int("orders", len(s.Orders)).
		Dur("took", time.Since(start)).
		Msg("snapshot written")
}
