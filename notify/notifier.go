// Package notify reports submitted payments to the tournament backend and mirrors each
// outcome to an operational alert channel. Delivery runs detached from the user's turn.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gangwars/joinframe"
	"github.com/gangwars/joinframe/backend"
)

// DefaultDelay lets the payment transaction propagate before the backend is told about it.
const DefaultDelay = 3 * time.Second

// DefaultTimeout bounds one notification, delay excluded.
const DefaultTimeout = 30 * time.Second

// Outcome is the result of one join notification.
type Outcome struct {
	TxHash string

	// Status is the backend response status, zero when the call failed outright.
	Status int

	// Err is the notification failure, if any.
	Err error

	// AlertErr is the alert delivery failure, if any.
	AlertErr error
}

// Notifier tells the backend about submitted payments. Confirm never blocks the caller and
// no failure reaches the user's screen.
type Notifier struct {
	backend backend.Interface
	alerts  Alerter

	delay     time.Duration
	timeout   time.Duration
	onOutcome func(Outcome)

	wg sync.WaitGroup
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithDelay overrides the wait before notifying.
func WithDelay(d time.Duration) Option {
	return func(n *Notifier) {
		n.delay = d
	}
}

// WithTimeout overrides the per-notification timeout.
func WithTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.timeout = d
	}
}

// WithOutcomeObserver registers fn to receive every outcome, e.g. for metrics.
func WithOutcomeObserver(fn func(Outcome)) Option {
	return func(n *Notifier) {
		n.onOutcome = fn
	}
}

// New returns a Notifier. A nil alerter disables alerts.
func New(b backend.Interface, alerts Alerter, opts ...Option) *Notifier {
	n := &Notifier{
		backend: b,
		alerts:  alerts,
		delay:   DefaultDelay,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Confirm schedules the notification for txHash and returns immediately. The work keeps
// ctx's values but not its cancellation, so it outlives the request that triggered it.
func (n *Notifier) Confirm(ctx context.Context, txHash string) {
	detached := context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.notify(detached, txHash)
	}()
}

// Wait blocks until every scheduled notification has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) notify(ctx context.Context, txHash string) {
	logger := slog.Default().With("txHash", txHash)

	if n.delay > 0 {
		timer := time.NewTimer(n.delay)
		<-timer.C
	}

	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	outcome := Outcome{TxHash: txHash}
	status, err := n.backend.NotifyJoin(ctx, txHash)
	outcome.Status = status
	if err != nil {
		outcome.Err = fmt.Errorf("%w: %w", joinframe.ErrNotificationFailure, err)
		logger.Error("join notification failed", "error", err)
	} else {
		logger.Info("join notification sent", "status", status)
	}

	if n.alerts != nil {
		if err := n.alerts.Send(ctx, alertMessage(outcome)); err != nil {
			outcome.AlertErr = err
			logger.Warn("join alert not delivered", "error", err)
		}
	}

	if n.onOutcome != nil {
		n.onOutcome(outcome)
	}
}

func alertMessage(o Outcome) string {
	if o.Err != nil {
		return fmt.Sprintf("txhash: %s error: %v", o.TxHash, o.Err)
	}
	return fmt.Sprintf("txhash: %s response: %d", o.TxHash, o.Status)
}
