package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"reorder-engine/internal/logger"
)

// Notifier delivers a SENT purchase order to its supplier.
type Notifier interface {
	Notify(ctx context.Context, purchaseOrderID uuid.UUID) error
}

// NotifierFunc adapts a plain function to Notifier.
type NotifierFunc func(ctx context.Context, purchaseOrderID uuid.UUID) error

func (f NotifierFunc) Notify(ctx context.Context, id uuid.UUID) error { return f(ctx, id) }

// NotifyFuture is the pending result of one dispatched notification.
type NotifyFuture struct {
	OrderID uuid.UUID
	done    chan struct{}
	err     error
}

// Done is closed once the notification finished and its outcome was written back.
func (f *NotifyFuture) Done() <-chan struct{} { return f.done }

// Wait blocks until the notification finished or ctx is done.
func (f *NotifyFuture) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the notifier outcome. It is only meaningful after Done is closed.
func (f *NotifyFuture) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// NotifyDispatcher runs notifications in the background so a run never blocks on delivery.
// The outcome of every notification is written back to the order through RecordSendResult.
type NotifyDispatcher struct {
	notifier Notifier
	orders   OrderStore
	timeout  time.Duration
	sem      chan struct{}
	group    errgroup.Group
	log      *logger.Logger
}

func NewNotifyDispatcher(notifier Notifier, orders OrderStore, cfg EngineConfig, log *logger.Logger) *NotifyDispatcher {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = logger.Nop()
	}
	return &NotifyDispatcher{
		notifier: notifier,
		orders:   orders,
		timeout:  cfg.NotifyTimeout,
		sem:      make(chan struct{}, cfg.NotifyConcurrency),
		log:      log,
	}
}

// Dispatch starts notifying the supplier of orderID and returns immediately.
// The task runs on its own context so it outlives the request that triggered the run.
func (d *NotifyDispatcher) Dispatch(orderID uuid.UUID) *NotifyFuture {
	f := &NotifyFuture{OrderID: orderID, done: make(chan struct{})}
	d.group.Go(func() error {
		defer close(f.done)
		d.sem <- struct{}{}
		defer func() { <-d.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		f.err = d.notify(ctx, orderID)
		cancel()
		if f.err != nil {
			d.log.Warn("supplier notification failed", "purchase_order_id", orderID, "error", f.err)
		} else {
			d.log.Info("supplier notified", "purchase_order_id", orderID)
		}

		// The notify deadline may have passed; the write-back gets its own.
		wctx, wcancel := context.WithTimeout(context.Background(), d.timeout)
		defer wcancel()
		if err := d.orders.RecordSendResult(wctx, orderID, f.err); err != nil {
			d.log.Error("record send result failed", "purchase_order_id", orderID, "error", err)
		}
		// Send failures live on the order; they never fail the group.
		return nil
	})
	return f
}

func (d *NotifyDispatcher) notify(ctx context.Context, orderID uuid.UUID) (err error) {
	defer func() {
		if rv := recover(); rv != nil {
			err = fmt.Errorf("notifier panic: %v", rv)
		}
	}()
	return d.notifier.Notify(ctx, orderID)
}

// Wait blocks until every dispatched notification finished.
func (d *NotifyDispatcher) Wait() error {
	return d.group.Wait()
}
