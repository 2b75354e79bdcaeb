package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// State is the full ledger content in a serializable form, used by the
// snapshot writer and by recovery. AvgCost travels as a string to keep the
// encoding stable across decimal versions.
type State struct {
	Accounts []AccountState
	Applied  []string
}

type AccountState struct {
	ID        string
	Cash      int64
	Realized  int64
	Holds     []HoldState
	Positions []PositionState
}

type HoldState struct {
	OrderID   uint64
	Amount    int64
	UnitPrice int64
}

type PositionState struct {
	Symbol  string
	Qty     int64
	AvgCost string
}

// Export captures all account state. Callers must ensure no concurrent
// mutation (the snapshot job quiesces lanes first).
func (l *Ledger) Export() State {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st := State{Applied: make([]string, 0, len(l.applied))}
	for id := range l.applied {
		st.Applied = append(st.Applied, id)
	}

	for _, a := range l.accounts {
		a.mu.Lock()
		as := AccountState{ID: a.id, Cash: a.cash, Realized: a.realized}
		for oid, h := range a.holds {
			as.Holds = append(as.Holds, HoldState{OrderID: oid, Amount: h.amount, UnitPrice: h.unitPrice})
		}
		for _, p := range a.positions {
			as.Positions = append(as.Positions, PositionState{
				Symbol:  p.Symbol,
				Qty:     p.Qty,
				AvgCost: p.AvgCost.String(),
			})
		}
		a.mu.Unlock()
		st.Accounts = append(st.Accounts, as)
	}
	return st
}

// Restore replaces the ledger content with a previously exported state.
func (l *Ledger) Restore(st State) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.accounts = make(map[string]*Account, len(st.Accounts))
	l.applied = make(map[string]struct{}, len(st.Applied))

	for _, id := range st.Applied {
		l.applied[id] = struct{}{}
	}
	for _, as := range st.Accounts {
		a := &Account{
			id:        as.ID,
			cash:      as.Cash,
			realized:  as.Realized,
			holds:     make(map[uint64]hold, len(as.Holds)),
			positions: make(map[string]*Position, len(as.Positions)),
		}
		for _, h := range as.Holds {
			a.holds[h.OrderID] = hold{amount: h.Amount, unitPrice: h.UnitPrice}
		}
		for _, ps := range as.Positions {
			avg, err := decimal.NewFromString(ps.AvgCost)
			if err != nil {
				return fmt.Errorf("ledger: restore %s/%s: bad cost basis %q: %w",
					as.ID, ps.Symbol, ps.AvgCost, err)
			}
			a.positions[ps.Symbol] = &Position{Symbol: ps.Symbol, Qty: ps.Qty, AvgCost: avg}
		}
		l.accounts[as.ID] = a
	}
	return nil
}
