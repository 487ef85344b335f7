// Package notify delivers direct messages to participants.
package notify

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"coffeebot/internal/logger"
)

// Notifier delivers one message to one identity.
type Notifier interface {
	Send(ctx context.Context, to, body string) error
}

// Dispatcher sends notifications in the background. Callers never see
// delivery errors; they are logged and counted instead.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *logger.Logger

	group  errgroup.Group
	sent   atomic.Int64
	failed atomic.Int64
}

// NewDispatcher creates a dispatcher. limit caps concurrent sends; zero or
// less means unbounded.
func NewDispatcher(notifier Notifier, timeout time.Duration, limit int, log *logger.Logger) *Dispatcher {
	d := &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   log,
	}
	if limit > 0 {
		d.group.SetLimit(limit)
	}
	return d
}

// Dispatch queues a message and returns immediately unless the concurrency
// limit is reached. The send outlives ctx's cancellation but keeps its values.
func (d *Dispatcher) Dispatch(ctx context.Context, to, body string) {
	ctx = context.WithoutCancel(ctx)

	d.group.Go(func() error {
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		if err := d.send(sendCtx, to, body); err != nil {
			d.failed.Add(1)
			d.logger.Error("failed to send notification", "to", to, "error", err)
			return nil
		}

		d.sent.Add(1)
		d.logger.Debug("notification sent", "to", to)
		return nil
	})
}

func (d *Dispatcher) send(ctx context.Context, to, body string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panicked: %v", r)
		}
	}()
	return d.notifier.Send(ctx, to, body)
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() error {
	return d.group.Wait()
}

// Stats reports how many sends succeeded and failed so far.
func (d *Dispatcher) Stats() (sent, failed int64) {
	return d.sent.Load(), d.failed.Load()
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct {
	logger *logger.Logger
}

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Send(ctx context.Context, to, body string) error {
	n.logger.Info("notification", "to", to, "body", body)
	return nil
}
