package payments

import (
	"context"
	"log/slog"

	"derukkies.com/app/internal/modules/orders"
)

// Settler is the shared tail of every confirmation channel: record the
// success, finalize the order at most once, and notify only on the call that
// actually performed the transition.
type Settler struct {
	recorder *Recorder
	orders   *orders.Service
	notifier orders.Notifier
	log      *slog.Logger
}

func NewSettler(recorder *Recorder, ordersSvc *orders.Service, notifier orders.Notifier, log *slog.Logger) *Settler {
	return &Settler{recorder: recorder, orders: ordersSvc, notifier: notifier, log: log}
}

func (s *Settler) Settle(ctx context.Context, rec Record) (Transaction, bool, error) {
	txn, finalize, err := s.recorder.RecordSuccess(ctx, rec)
	if err != nil {
		return Transaction{}, false, err
	}
	if !finalize {
		return txn, false, nil
	}
	becamePaid, err := s.orders.FinalizePaid(ctx, rec.Order.ID, rec.Provider, txn.Ref())
	if err != nil {
		return txn, false, err
	}
	if becamePaid {
		rec.Order.Status = orders.StatusPaid
		if s.notifier != nil {
			s.notifier.OrderPaid(rec.Order, rec.Provider)
		}
	}
	return txn, becamePaid, nil
}
