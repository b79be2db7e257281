package withrottle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
)

// Bus dial retry bounds.
const (
	busRetryInitial = time.Second
	busRetryMax     = time.Minute
)

// BusDialer connects the bridge's own MQTT client. The client must call
// onConnect after every successful connect, including reconnects, so the
// bridge re-announces its entities to the broker.
type BusDialer func(onConnect func()) (MQTTClient, error)

// Config holds bridge settings.
type Config struct {
	Client  ClientConfig
	Topics  mqtt.Topics
	Name    string
	Version string
	QoS     byte

	// HealthInterval is how often health is published. Zero selects the
	// default; negative disables health reporting.
	HealthInterval time.Duration
}

// Options configures a Bridge.
type Options struct {
	Config     Config
	Dial       BusDialer
	Logger     Logger
	Registerer prometheus.Registerer
}

// Bridge supervises the wire client, the bus relay and the health
// reporter. The two halves share only the event and command queues.
type Bridge struct {
	cfg     Config
	dial    BusDialer
	logger  Logger
	metrics *Metrics

	events   *Queue[Event]
	commands *Queue[Command]
	client   *Client
	relay    atomic.Pointer[Relay]

	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// NewBridge creates a bridge. Start must be called to run it.
func NewBridge(opts Options) (*Bridge, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("%w: bus dialer is required", ErrInvalidConfig)
	}
	if Slugify(opts.Config.Name) == "" {
		return nil, fmt.Errorf("%w: bridge name is required", ErrInvalidConfig)
	}
	logger := opts.Logger
	if logger == nil {
		logger = noopLogger{}
	}

	events := NewQueue[Event]()
	commands := NewQueue[Command]()
	client, err := NewClient(opts.Config.Client, events, commands)
	if err != nil {
		return nil, err
	}
	metrics := NewMetrics(opts.Registerer)
	client.SetLogger(logger)
	client.SetMetrics(metrics)

	return &Bridge{
		cfg:      opts.Config,
		dial:     opts.Dial,
		logger:   logger,
		metrics:  metrics,
		events:   events,
		commands: commands,
		client:   client,
	}, nil
}

// Start runs both halves in the background. Call Stop to shut down.
func (b *Bridge) Start(ctx context.Context) error {
	if b.group != nil {
		return ErrAlreadyStarted
	}
	ctx, b.cancel = context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	b.group = g

	g.Go(func() error { return b.client.Run(gctx) })
	g.Go(func() error { return b.runBus(gctx) })

	b.logger.Info("withrottle bridge started",
		"name", b.cfg.Name,
		"address", b.cfg.Client.Address)
	return nil
}

// Stop cancels both halves and waits for them. The wire session sends its
// quit line before closing. Safe to call multiple times.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel == nil {
			return
		}
		b.cancel()
		if err := b.group.Wait(); err != nil {
			b.logger.Warn("withrottle bridge stopped with error", "error", err)
		}
		b.logger.Info("withrottle bridge stopped")
	})
}

// Client returns the wire client.
func (b *Bridge) Client() *Client {
	return b.client
}

// RosterSize returns the number of trains known to the relay, or zero
// before the bus is connected.
func (b *Bridge) RosterSize() int {
	if r := b.relay.Load(); r != nil {
		return r.RosterSize()
	}
	return 0
}

// runBus connects to the bus, retrying with backoff, then runs the relay
// and health reporter until ctx is cancelled.
func (b *Bridge) runBus(ctx context.Context) error {
	bus, err := b.dialBus(ctx)
	if err != nil {
		return nil // Cancelled
	}
	defer bus.Disconnect(250)

	relay, err := NewRelay(RelayConfig{
		Topics:  b.cfg.Topics,
		Name:    b.cfg.Name,
		Version: b.cfg.Version,
		QoS:     b.cfg.QoS,
	}, bus, b.events, b.commands)
	if err != nil {
		return err
	}
	relay.SetLogger(b.logger)
	relay.SetMetrics(b.metrics)
	b.relay.Store(relay)

	if b.cfg.HealthInterval >= 0 {
		health := NewHealthReporter(HealthReporterConfig{
			Bridge:     relay.slug,
			Topic:      b.cfg.Topics.BridgeHealth(relay.slug),
			Version:    b.cfg.Version,
			Interval:   b.cfg.HealthInterval,
			Publisher:  bus,
			Wire:       b.client,
			RosterSize: relay.RosterSize,
		})
		health.SetLogger(b.logger)
		if err := health.PublishStarting(); err != nil {
			b.logger.Warn("failed to publish starting health", "error", err)
		}
		health.Start(ctx)
		defer health.Stop()
	}

	return relay.Run(ctx)
}

// busConnected queues a full re-announce. It runs on the MQTT client's
// goroutine, so it only enqueues.
func (b *Bridge) busConnected() {
	b.logger.Debug("withrottle bus connected, announcing entities")
	b.events.Put(announceEvent{})
}

func (b *Bridge) dialBus(ctx context.Context) (MQTTClient, error) {
	delay := busRetryInitial
	for {
		bus, err := b.dial(b.busConnected)
		if err == nil {
			return bus, nil
		}
		b.logger.Warn("withrottle bus connect failed, retrying",
			"error", err,
			"retry_in", delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, busRetryMax)
	}
}
