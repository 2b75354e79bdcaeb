package service

import (
	"paperfx/domain/book"
)

// lane owns one instrument's book. All mutation of a book happens on its
// lane goroutine, so matching, durability and commit for a given
// instrument are strictly serialized while different instruments run in
// parallel.
type lane struct {
	symbol string
	book   *book.Book
	ch     chan func()
	quit   chan struct{}
	done   chan struct{}
}

func newLane(in book.Instrument) *lane {
	l := &lane{
		symbol: in.Symbol,
		book:   book.New(in),
		ch:     make(chan func(), 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *lane) run() {
	defer close(l.done)
	for {
		select {
		case fn := <-l.ch:
			fn()
		case <-l.quit:
			// finish what was already queued, then stop
			for {
				select {
				case fn := <-l.ch:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the lane goroutine and waits for it. The error is
// whatever fn produced, or ServiceUnavailable when the lane has shut
// down without running it. The command channel is never closed, so a
// caller racing shutdown gets the rejection, not a panic.
func (l *lane) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case l.ch <- func() { errc <- fn() }:
	case <-l.done:
		return book.Reject(book.ReasonServiceUnavailable, "lane %s closed", l.symbol)
	}

	select {
	case err := <-errc:
		return err
	case <-l.done:
		// the drain may have run fn just before the lane exited
		select {
		case err := <-errc:
			return err
		default:
			return book.Reject(book.ReasonServiceUnavailable, "lane %s closed", l.symbol)
		}
	}
}

// park blocks the lane until release fires. The snapshot job uses it to
// quiesce every lane before reading state.
func (l *lane) park(parked chan<- struct{}, release <-chan struct{}) {
	select {
	case l.ch <- func() {
		parked <- struct{}{}
		<-release
	}:
	case <-l.done:
		parked <- struct{}{} // a closed lane is already quiescent
	}
}

func (l *lane) close() {
	close(l.quit)
	<-l.done
}
