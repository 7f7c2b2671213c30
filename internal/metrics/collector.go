package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRegistered     EventType = "registered"
	EventDispatched     EventType = "dispatched"
	EventProbeFailed    EventType = "probe_failed"
	EventHealthChanged  EventType = "health_changed"
	EventNoBackend      EventType = "no_backend"
	EventConnectFailed  EventType = "connect_failed"
	EventRelayCompleted EventType = "relay_completed"
	EventEvicted        EventType = "evicted"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Healthy   bool
	BytesIn   int64
	BytesOut  int64
}

type Collector struct {
	eventCh chan MetricEvent
	done    chan struct{}
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		done:    make(chan struct{}),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. A nil collector ignores every event.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has drained after cancellation.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventRegistered:
		c.metrics.RecordRegistration(event.Backend)

	case EventDispatched:
		c.metrics.RecordDispatch(event.Backend, event.Duration)

	case EventProbeFailed:
		c.metrics.RecordProbeFailure(event.Backend)

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)

	case EventNoBackend:
		c.metrics.RecordNoBackend()

	case EventConnectFailed:
		c.metrics.RecordConnectFailure(event.Backend)

	case EventRelayCompleted:
		c.metrics.RecordRelay(event.Backend, event.BytesIn, event.BytesOut)

	case EventEvicted:
		c.metrics.RecordEviction(event.Backend)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(mode string) Snapshot {
	return c.metrics.Snapshot(mode)
}
