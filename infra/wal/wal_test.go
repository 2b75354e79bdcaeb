package wal

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}

	const n = 50
	for i := 0; i < n; i++ {
		seq, err := w.Append(NewRecord(RecordTrade, []byte(fmt.Sprintf("trade-%d", i))))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if seq != uint64(i+1) {
			t.Fatalf("seq = %d, want %d", seq, i+1)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	count := 0
	last, err := Replay(dir, 0, func(r *Record) error {
		if r.Type != RecordTrade {
			t.Fatalf("unexpected record type %v", r.Type)
		}
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != n || last != n {
		t.Fatalf("replayed %d records up to seq %d, want %d", count, last, n)
	}
}

func TestReplayFromSeqSkipsSnapshotCoverage(t *testing.T) {
	dir := t.TempDir()
	w, _ := Open(Config{Dir: dir})
	for i := 0; i < 10; i++ {
		_, _ = w.Append(NewRecord(RecordOrderAccepted, []byte("o")))
	}
	_ = w.Close()

	count := 0
	_, err := Replay(dir, 7, func(r *Record) error {
		count++
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 3 {
		t.Fatalf("replayed %d records, want 3 (seq 8..10)", count)
	}
}

func TestRotationAndResume(t *testing.T) {
	dir := t.TempDir()

	w, err := Open(Config{Dir: dir, SegmentSize: 64})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 20; i++ {
		if _, err := w.Append(NewRecord(RecordOrderAccepted, []byte("payload-payload"))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = w.Close()

	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if len(files) < 2 {
		t.Fatalf("expected rotated segments, found %d", len(files))
	}

	// reopen and resume after replay: numbering must continue
	w2, err := Open(Config{Dir: dir, SegmentSize: 64})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	last, err := Replay(dir, 0, func(*Record) error { return nil })
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	w2.Resume(last)
	seq, err := w2.Append(NewRecord(RecordDeposit, []byte("d")))
	if err != nil {
		t.Fatalf("append after resume: %v", err)
	}
	if seq != last+1 {
		t.Fatalf("seq after resume = %d, want %d", seq, last+1)
	}
	_ = w2.Close()
}

func TestCorruptedRecordDetected(t *testing.T) {
	dir := t.TempDir()
	w, _ := Open(Config{Dir: dir})
	_, _ = w.Append(NewRecord(RecordTrade, []byte("good")))
	_, _ = w.Append(NewRecord(RecordTrade, []byte("mangled")))
	_ = w.Close()

	path := filepath.Join(dir, "segment-000000.wal")
	data, _ := os.ReadFile(path)
	data[len(data)-6] ^= 0xFF // flip a payload byte of the last record
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	_, err := Replay(dir, 0, func(*Record) error { return nil })
	if err == nil {
		t.Fatal("corrupted record must fail replay")
	}
}

func TestTruncateBeforeKeepsActiveSegment(t *testing.T) {
	dir := t.TempDir()
	w, _ := Open(Config{Dir: dir, SegmentSize: 64})
	for i := 0; i < 20; i++ {
		_, _ = w.Append(NewRecord(RecordTrade, []byte("payload-payload")))
	}

	if err := w.TruncateBefore(20); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if len(files) != 1 {
		t.Fatalf("expected only the active segment to remain, found %d", len(files))
	}
	_ = w.Close()
}

func TestTornTailTolerated(t *testing.T) {
	dir := t.TempDir()
	w, _ := Open(Config{Dir: dir})
	_, _ = w.Append(NewRecord(RecordTrade, []byte("complete")))
	_, _ = w.Append(NewRecord(RecordTrade, []byte("will-be-torn")))
	_ = w.Close()

	path := filepath.Join(dir, "segment-000000.wal")
	data, _ := os.ReadFile(path)
	if err := os.WriteFile(path, data[:len(data)-5], 0o644); err != nil {
		t.Fatalf("truncate file: %v", err)
	}

	count := 0
	last, err := Replay(dir, 0, func(*Record) error { count++; return nil })
	if err != nil {
		t.Fatalf("torn tail should not fail replay: %v", err)
	}
	if count != 1 || last != 1 {
		t.Fatalf("replayed %d/%d, want the single complete record", count, last)
	}
}
