package withrottle

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates both the wire session and the bus are up.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates one side is down.
	HealthDegraded HealthStatus = "degraded"

	// HealthStarting is published once when the bridge starts.
	HealthStarting HealthStatus = "starting"

	// HealthStopping is published during graceful shutdown.
	HealthStopping HealthStatus = "stopping"
)

// defaultHealthInterval is used when HealthReporterConfig.Interval is zero.
const defaultHealthInterval = 30 * time.Second

// HealthMessage is published retained to <ns>/bridge/<slug>/health.
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Status        HealthStatus `json:"status"`
	Reason        string       `json:"reason,omitempty"`
	WireState     string       `json:"wire_state"`
	WireAddress   string       `json:"wire_address,omitempty"`
	BusConnected  bool         `json:"bus_connected"`
	RosterSize    int          `json:"roster_size"`
	Sessions      uint64       `json:"sessions"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Version       string       `json:"version,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

// WireStatus reports the wire connection. Client satisfies it.
type WireStatus interface {
	Stats() ClientStats
}

// HealthReporterConfig holds configuration for the health reporter.
type HealthReporterConfig struct {
	Bridge    string
	Topic     string
	Version   string
	Interval  time.Duration
	Publisher MQTTClient
	Wire      WireStatus

	// RosterSize returns the number of known trains. Optional.
	RosterSize func() int
}

// HealthReporter publishes bridge health at a fixed interval.
type HealthReporter struct {
	cfg       HealthReporterConfig
	startTime time.Time

	// Shutdown coordination (stopOnce prevents double-close panics)
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger Logger
}

// NewHealthReporter creates a health reporter. Call Start to begin.
func NewHealthReporter(cfg HealthReporterConfig) *HealthReporter {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultHealthInterval
	}
	return &HealthReporter{
		cfg:       cfg,
		startTime: time.Now(),
		done:      make(chan struct{}),
		logger:    noopLogger{},
	}
}

// SetLogger sets the logger. It must be called before Start.
func (h *HealthReporter) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	h.logger = logger
}

// Start begins periodic reporting until ctx is cancelled or Stop is called.
func (h *HealthReporter) Start(ctx context.Context) {
	h.wg.Add(1)
	go h.reportLoop(ctx)
}

// Stop ends reporting and publishes a final "stopping" status.
// Safe to call multiple times.
func (h *HealthReporter) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		h.wg.Wait()
		if err := h.publish(HealthStopping, "bridge stopping"); err != nil {
			h.logger.Debug("final health publish failed", "error", err)
		}
	})
}

// PublishStarting publishes a "starting" status.
func (h *HealthReporter) PublishStarting() error {
	return h.publish(HealthStarting, "bridge starting")
}

// PublishNow publishes the current status immediately.
func (h *HealthReporter) PublishNow() error {
	status, reason := h.determineStatus()
	return h.publish(status, reason)
}

func (h *HealthReporter) reportLoop(ctx context.Context) {
	defer h.wg.Done()

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	if err := h.PublishNow(); err != nil {
		h.logger.Warn("failed to publish initial health", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.PublishNow(); err != nil {
				h.logger.Warn("failed to publish health", "error", err)
			}
		}
	}
}

func (h *HealthReporter) determineStatus() (HealthStatus, string) {
	if h.cfg.Publisher == nil || !h.cfg.Publisher.IsConnected() {
		return HealthDegraded, "MQTT disconnected"
	}
	if h.cfg.Wire == nil || h.cfg.Wire.Stats().State != StateActive {
		return HealthDegraded, "WiThrottle disconnected"
	}
	return HealthHealthy, ""
}

// Message builds the health message for status.
func (h *HealthReporter) Message(status HealthStatus, reason string) HealthMessage {
	msg := HealthMessage{
		Bridge:        h.cfg.Bridge,
		Status:        status,
		Reason:        reason,
		WireState:     StateDisconnected.String(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Version:       h.cfg.Version,
		Timestamp:     time.Now().UTC(),
	}
	if h.cfg.Publisher != nil {
		msg.BusConnected = h.cfg.Publisher.IsConnected()
	}
	if h.cfg.Wire != nil {
		stats := h.cfg.Wire.Stats()
		msg.WireState = stats.State.String()
		msg.WireAddress = stats.Address
		msg.Sessions = stats.Sessions
	}
	if h.cfg.RosterSize != nil {
		msg.RosterSize = h.cfg.RosterSize()
	}
	return msg
}

func (h *HealthReporter) publish(status HealthStatus, reason string) error {
	if h.cfg.Publisher == nil {
		return nil
	}
	payload, err := json.Marshal(h.Message(status, reason))
	if err != nil {
		return err
	}
	return h.cfg.Publisher.Publish(h.cfg.Topic, payload, 1, true)
}
