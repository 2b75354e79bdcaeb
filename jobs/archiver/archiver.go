// Package archiver moves delivered outbox entries into the Postgres
// archive and then drops them, keeping the outbox small.
package archiver

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"paperfx/infra/archive"
	"paperfx/infra/outbox"
	"paperfx/service"
)

type Archiver struct {
	store    *archive.Store
	outbox   *outbox.Outbox
	interval time.Duration
	log      zerolog.Logger
}

func New(store *archive.Store, ob *outbox.Outbox, interval time.Duration, log zerolog.Logger) *Archiver {
	if interval <= 0 {
		interval = time.Second
	}
	return &Archiver{
		store:    store,
		outbox:   ob,
		interval: interval,
		log:      log.With().Str("component", "archiver").Logger(),
	}
}

func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.drain(ctx)
		}
	}
}

func (a *Archiver) drain(ctx context.Context) {
	err := a.outbox.ScanByState(outbox.StateAcked, func(e outbox.Entry) error {
		if err := a.archive(ctx, e); err != nil {
			a.log.Warn().Err(err).Uint64("seq", e.Seq).Msg("archive failed, will retry")
			return nil // leave the entry, next tick retries
		}
		return a.outbox.Delete(e.Seq)
	})
	if err != nil {
		a.log.Error().Err(err).Msg("outbox scan failed")
	}
}

func (a *Archiver) archive(ctx context.Context, e outbox.Entry) error {
	var env service.Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		// unreadable entries are dropped, not retried forever
		a.log.Error().Err(err).Uint64("seq", e.Seq).Msg("undecodable event dropped")
		return nil
	}

	switch env.Type {
	case service.EventTrade:
		var t service.TradeData
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return err
		}
		return a.store.SaveTrade(ctx, t.TradeID, t.Symbol, t.Price, t.Qty,
			t.BuyOrderID, t.SellOrderID, time.Unix(0, t.ExecutedAt))
	case service.EventOrderStatus:
		var o service.OrderStatusData
		if err := json.Unmarshal(env.Data, &o); err != nil {
			return err
		}
		return a.store.SaveOrderEvent(ctx, e.Seq, o.OrderID, o.AccountID,
			o.Symbol, o.Status, o.Remaining, time.Unix(0, env.At))
	default:
		// quotes are transient, nothing to archive
		return nil
	}
}
