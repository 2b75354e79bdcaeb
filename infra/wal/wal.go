package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

type Config struct {
	Dir         string
	SegmentSize int64
}

const DefaultSegmentSize = 2 * 1024 * 1024

// WAL is an append-only segmented log. Appends are serialized internally:
// multiple instrument lanes write through one WAL and the sequence numbers
// must reflect the append order. Every append is fsynced before returning,
// which is what makes write-ahead-before-acknowledge hold.
type WAL struct {
	mu       sync.Mutex
	dir      string
	segSize  int64
	current  *segment
	segIndex int
	nextSeq  uint64
}

func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}

	index := lastSegmentIndex(cfg.Dir)
	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}

	return &WAL{
		dir:      cfg.Dir,
		segSize:  cfg.SegmentSize,
		current:  seg,
		segIndex: index,
		nextSeq:  1,
	}, nil
}

// Resume positions the sequence counter after replay so that new records
// continue the replayed numbering.
func (w *WAL) Resume(lastSeq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lastSeq >= w.nextSeq {
		w.nextSeq = lastSeq + 1
	}
}

// Append assigns the record its sequence number, frames it, writes it
// durably and returns the sequence. The on-disk frame is
// [type:1][seq:8][time:8][len:4][payload][crc:4].
func (w *WAL) Append(r *Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	r.Seq = w.nextSeq

	payloadLen := uint32(len(r.Data))
	buf := make([]byte, 1+8+8+4+payloadLen+4)
	buf[0] = byte(r.Type)
	binary.BigEndian.PutUint64(buf[1:9], r.Seq)
	binary.BigEndian.PutUint64(buf[9:17], uint64(r.Time))
	binary.BigEndian.PutUint32(buf[17:21], payloadLen)
	copy(buf[21:], r.Data)

	crc := CRC32(buf[:21+payloadLen])
	binary.BigEndian.PutUint32(buf[21+payloadLen:], crc)

	if err := w.current.append(buf); err != nil {
		return 0, err
	}
	w.nextSeq++

	if w.current.offset >= w.segSize {
		if err := w.rotate(); err != nil {
			return r.Seq, err
		}
	}
	return r.Seq, nil
}

func (w *WAL) rotate() error {
	_ = w.current.close()
	w.segIndex++

	seg, err := openSegment(w.dir, w.segIndex)
	if err != nil {
		return err
	}
	w.current = seg
	return nil
}

// LastSeq returns the sequence of the most recent append, zero when none.
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq - 1
}

// TruncateBefore removes whole segments whose records are all covered by a
// snapshot at seq. The active segment is never removed.
func (w *WAL) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(w.dir, "segment-*.wal"))
	if err != nil {
		return err
	}
	active := w.current.file.Name()

	for _, path := range files {
		if path == active {
			continue
		}
		maxSeq, err := maxSeqInSegment(path)
		if err != nil {
			continue
		}
		if maxSeq <= seq {
			_ = os.Remove(path)
		}
	}
	return nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current.close()
}

func lastSegmentIndex(dir string) int {
	files, err := filepath.Glob(filepath.Join(dir, "segment-*.wal"))
	if err != nil || len(files) == 0 {
		return 0
	}
	sort.Strings(files)
	last := filepath.Base(files[len(files)-1])

	var index int
	_, _ = fmt.Sscanf(last, "segment-%06d.wal", &index)
	return index
}
