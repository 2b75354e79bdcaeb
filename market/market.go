// Package market holds the latest quote per instrument. Writes for one
// instrument arrive only through that instrument's mutation lane (single
// writer); valuation and market orders read concurrently.
package market

import (
	"sync"
	"time"

	"paperfx/domain/book"
)

type Store struct {
	mu     sync.RWMutex
	quotes map[string]book.Quote
}

func NewStore() *Store {
	return &Store{quotes: make(map[string]book.Quote)}
}

// Set replaces the quote for an instrument. Older quotes never overwrite
// newer ones, so a late feed delivery degrades to a no-op.
func (s *Store) Set(q book.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.quotes[q.Symbol]; ok && cur.At.After(q.At) {
		return
	}
	s.quotes[q.Symbol] = q
}

// Latest returns the current quote for an instrument, if any.
func (s *Store) Latest(symbol string) (book.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[symbol]
	return q, ok
}

// Fresh reports whether a quote exists and is newer than maxAge.
func (s *Store) Fresh(symbol string, maxAge time.Duration, now time.Time) bool {
	q, ok := s.Latest(symbol)
	return ok && now.Sub(q.At) <= maxAge
}
