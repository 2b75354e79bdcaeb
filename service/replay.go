package service

import (
	"encoding/json"
	"fmt"
	"time"

	"paperfx/domain/book"
	"paperfx/infra/wal"
	"paperfx/snapshot"
)

// Recover rebuilds engine state from the latest snapshot plus the WAL
// tail. It must run before the engine accepts commands: the lanes exist
// but are idle, so recovery mutates books directly. Replay applies the
// logged events forward rather than re-matching, so recovered state is
// byte-for-byte the state that was acknowledged.
func (e *Engine) Recover(snapDir, walDir string) error {
	var fromSeq uint64

	snap, err := snapshot.Load(snapDir)
	if err != nil {
		return err
	}
	if snap != nil {
		if err := e.restoreSnapshot(snap); err != nil {
			return err
		}
		fromSeq = snap.Seq
	}

	lastSeq, err := wal.Replay(walDir, fromSeq, e.applyRecord)
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// Market remainders never rest; any such order still open after the
	// full tail replayed had its remainder discarded before the crash.
	e.mu.Lock()
	for _, o := range e.orders {
		if o.Type == book.Market && !o.Status.Terminal() {
			o.Status = book.Cancelled
			e.ledger.Release(o.AccountID, o.ID)
		}
	}
	e.mu.Unlock()

	e.wal.Resume(lastSeq)
	e.log.Info().
		Uint64("snapshot_seq", fromSeq).
		Uint64("last_seq", lastSeq).
		Int("orders", len(e.orders)).
		Msg("recovery complete")
	return nil
}

func (e *Engine) restoreSnapshot(snap *snapshot.Snapshot) error {
	for _, in := range snap.Instruments {
		if err := e.RegisterInstrument(in); err != nil {
			return err
		}
	}
	if err := e.ledger.Restore(snap.Ledger); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range snap.Orders {
		o := snap.Orders[i] // copy; the snapshot slice stays untouched
		e.orders[o.ID] = &o
		if o.Type == book.Limit && !o.Status.Terminal() {
			l, ok := e.lanes[o.Symbol]
			if !ok {
				return fmt.Errorf("recover: order %d references unknown symbol %q", o.ID, o.Symbol)
			}
			l.book.Insert(&o)
		}
	}
	e.nextOrderID.Store(snap.NextOrderID)
	return nil
}

func (e *Engine) applyRecord(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordOrderAccepted:
		return e.replayAccepted(rec)
	case wal.RecordTrade:
		return e.replayTrade(rec)
	case wal.RecordOrderCancelled:
		return e.replayCancel(rec)
	case wal.RecordDeposit:
		return e.replayDeposit(rec)
	default:
		return fmt.Errorf("recover: unknown record type %d at seq %d", rec.Type, rec.Seq)
	}
}

func (e *Engine) replayAccepted(rec *wal.Record) error {
	var p orderAcceptedPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("recover: seq %d: %w", rec.Seq, err)
	}

	o := &book.Order{
		ID:        p.OrderID,
		AccountID: p.AccountID,
		Symbol:    p.Symbol,
		Side:      book.Side(p.Side),
		Type:      book.OrderType(p.Type),
		Price:     p.Price,
		Qty:       p.Qty,
		Remaining: p.Qty,
		Status:    book.Open,
		CreatedAt: time.Unix(0, p.CreatedAt),
	}

	e.mu.Lock()
	l, ok := e.lanes[o.Symbol]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("recover: order %d references unknown symbol %q", o.ID, o.Symbol)
	}
	e.orders[o.ID] = o
	if cur := e.nextOrderID.Load(); o.ID > cur {
		e.nextOrderID.Store(o.ID)
	}
	e.mu.Unlock()

	if o.Type == book.Limit {
		l.book.Insert(o)
	}

	// Acceptance implied the cash reservation; redo it so holds survive
	// replay exactly as they stood. Buying power evolved identically, so
	// a reserve that succeeded then succeeds now.
	if o.Side == book.Buy && o.Type == book.Limit {
		if err := e.ledger.Reserve(o.AccountID, o.ID, o.Price*o.Qty, o.Price); err != nil {
			return fmt.Errorf("recover: order %d: %w", o.ID, err)
		}
	}
	return nil
}

func (e *Engine) replayTrade(rec *wal.Record) error {
	var p tradePayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("recover: seq %d: %w", rec.Seq, err)
	}
	t := p.toTrade()

	for _, id := range []uint64{t.BuyOrderID, t.SellOrderID} {
		e.mu.RLock()
		o, ok := e.orders[id]
		e.mu.RUnlock()
		if !ok {
			return fmt.Errorf("recover: trade %s references unknown order %d", t.ID, id)
		}
		if o.Remaining < t.Qty {
			return fmt.Errorf("recover: trade %s overfills order %d", t.ID, id)
		}
		o.Remaining -= t.Qty
		if o.Remaining == 0 {
			o.Status = book.Filled
			if l, ok := e.laneFor(o.Symbol); ok {
				l.book.Remove(o.ID)
			}
			e.ledger.Release(o.AccountID, o.ID)
		} else {
			o.Status = book.PartiallyFilled
		}
	}

	return e.ledger.ApplyTrade(t)
}

func (e *Engine) replayCancel(rec *wal.Record) error {
	var p cancelPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("recover: seq %d: %w", rec.Seq, err)
	}

	e.mu.RLock()
	o, ok := e.orders[p.OrderID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("recover: cancel references unknown order %d", p.OrderID)
	}

	if l, ok := e.laneFor(o.Symbol); ok {
		l.book.Remove(o.ID)
	}
	o.Status = book.Cancelled
	e.ledger.Release(o.AccountID, o.ID)
	return nil
}

func (e *Engine) replayDeposit(rec *wal.Record) error {
	var p depositPayload
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return fmt.Errorf("recover: seq %d: %w", rec.Seq, err)
	}
	e.ledger.Deposit(p.AccountID, p.Amount)
	return nil
}
