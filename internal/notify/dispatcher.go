// Package notify delivers NotificationIntents produced by the core. Delivery is
// best effort: Dispatch never blocks the caller and never reports a failure
// back into the state transition that produced the intent.
package notify

import (
	"context"
	"sync"
	"time"

	"lifeline/internal/metrics"
	"lifeline/pkg/types"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, intent types.NotificationIntent)
}

type discard struct{}

func (discard) Dispatch(context.Context, types.NotificationIntent) {}

// Discard drops every intent.
var Discard Dispatcher = discard{}

// Sink is one delivery channel. Deliver may block.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, intent types.NotificationIntent) error
}

const (
	defaultBuffer  = 256
	deliverTimeout = 10 * time.Second
	drainTimeout   = 5 * time.Second
)

// AsyncDispatcher queues intents on a bounded channel and fans each one out to
// every sink from a pool of workers started by Run. When the queue is full, or
// Run has already returned, the intent is dropped and logged.
type AsyncDispatcher struct {
	logger  *logrus.Logger
	metrics *metrics.Metrics
	sinks   []Sink
	queue   chan types.NotificationIntent

	mu      sync.RWMutex
	stopped bool
}

func NewAsyncDispatcher(logger *logrus.Logger, m *metrics.Metrics, buffer int, sinks ...Sink) *AsyncDispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &AsyncDispatcher{
		logger:  logger,
		metrics: m,
		sinks:   sinks,
		queue:   make(chan types.NotificationIntent, buffer),
	}
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, intent types.NotificationIntent) {
	// held across the send so nothing lands in the queue after the final drain
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.drop(intent, "notification dispatcher stopped, dropping intent")
		return
	}

	select {
	case d.queue <- intent:
	default:
		d.drop(intent, "notification queue full, dropping intent")
	}
}

func (d *AsyncDispatcher) drop(intent types.NotificationIntent, msg string) {
	d.metrics.IncrementNotification("queue", metrics.DeliveryDropped)
	d.logger.WithFields(logrus.Fields{
		"user_id":  intent.RecipientUserID,
		"category": intent.Category,
	}).Warn(msg)
}

// Run starts workers and blocks until ctx is cancelled. Intents still queued
// at that point are delivered with a short grace period before Run returns.
// Intents dispatched after that are dropped.
func (d *AsyncDispatcher) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case intent := <-d.queue:
					d.deliver(gctx, intent)
				}
			}
		})
	}

	err := g.Wait()

	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()

	d.drain()
	return err
}

func (d *AsyncDispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case intent := <-d.queue:
			d.deliver(ctx, intent)
		default:
			return
		}
	}
}

func (d *AsyncDispatcher) deliver(ctx context.Context, intent types.NotificationIntent) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, deliverTimeout)
		err := sink.Deliver(sctx, intent)
		cancel()

		if err != nil {
			d.metrics.IncrementNotification(sink.Name(), metrics.DeliveryFailed)
			d.logger.WithError(err).WithFields(logrus.Fields{
				"sink":     sink.Name(),
				"user_id":  intent.RecipientUserID,
				"category": intent.Category,
			}).Warn("failed to deliver notification")
			continue
		}

		d.metrics.IncrementNotification(sink.Name(), metrics.DeliveryDelivered)
	}
}

// SyncDispatcher delivers inline on the caller's goroutine. Sink errors are
// logged and swallowed. Used by the seed command and tests.
type SyncDispatcher struct {
	logger *logrus.Logger
	sinks  []Sink
}

func NewSyncDispatcher(logger *logrus.Logger, sinks ...Sink) *SyncDispatcher {
	return &SyncDispatcher{logger: logger, sinks: sinks}
}

func (d *SyncDispatcher) Dispatch(ctx context.Context, intent types.NotificationIntent) {
	for _, sink := range d.sinks {
		if err := sink.Deliver(ctx, intent); err != nil {
			d.logger.WithError(err).WithField("sink", sink.Name()).Warn("failed to deliver notification")
		}
	}
}
