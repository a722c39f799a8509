package proximity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/bissquit/hazard-watch/internal/pkg/ctxlog"
)

var (
	// ErrAlertQueueFull is returned when the dispatcher cannot take another alert.
	ErrAlertQueueFull = errors.New("alert queue full")
	// ErrDispatcherStopped is returned by Send after Stop.
	ErrDispatcherStopped = errors.New("alert dispatcher stopped")
)

// DispatcherConfig contains alert dispatcher configuration.
type DispatcherConfig struct {
	QueueSize  int
	NumWorkers int
}

// DefaultDispatcherConfig returns default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:  1024,
		NumWorkers: 2,
	}
}

type queuedAlert struct {
	logger *slog.Logger
	alert  Alert
}

// Dispatcher is an AlertSink that queues alerts and delivers them to the
// wrapped sink from background workers, so a slow webhook or broker never
// holds up the position report that raised the alert.
type Dispatcher struct {
	config DispatcherConfig
	sink   AlertSink
	queue  chan queuedAlert

	mu      sync.RWMutex
	stopped bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher delivering to sink.
func NewDispatcher(config DispatcherConfig, sink AlertSink) *Dispatcher {
	defaults := DefaultDispatcherConfig()
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	return &Dispatcher{
		config: config,
		sink:   sink,
		queue:  make(chan queuedAlert, config.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Send queues the alert without waiting for delivery. The logger carried by
// ctx is kept for the delivery log lines.
func (d *Dispatcher) Send(ctx context.Context, alert Alert) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- queuedAlert{logger: ctxlog.FromContext(ctx), alert: alert}:
		setAlertQueueDepth(len(d.queue))
		return nil
	default:
		recordAlertDropped()
		return ErrAlertQueueFull
	}
}

// Start launches delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("starting alert dispatcher",
		"workers", d.config.NumWorkers,
		"queue_size", d.config.QueueSize,
	)

	for i := 0; i < d.config.NumWorkers; i++ {
		d.wg.Add(1)
		go d.run(ctx)
	}
}

// Stop refuses new alerts, delivers the ones already queued and waits for
// the workers to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		close(d.stopCh)
	})
	d.wg.Wait()
	slog.Info("alert dispatcher stopped")
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			d.drain(ctx)
			return
		case item := <-d.queue:
			d.dispatch(ctx, item)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		select {
		case item := <-d.queue:
			d.dispatch(ctx, item)
		default:
			return
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, item queuedAlert) {
	setAlertQueueDepth(len(d.queue))
	send(ctxlog.WithLogger(ctx, item.logger), d.sink, item.alert)
}
