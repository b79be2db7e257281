package hub

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/railhub/internal/catalog"
	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/railhub/internal/state"
)

// Logger defines the logging interface used by the Hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bus is the subset of the MQTT client the hub needs.
type Bus interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
}

// EntitySource supplies the configured layout entities.
// catalog.Registry satisfies it.
type EntitySource interface {
	Entities() []catalog.Entity
}

// Options configures a Hub.
type Options struct {
	Bus     Bus
	Store   *state.Store
	Catalog EntitySource
	Topics  mqtt.Topics
	QoS     byte

	Logger     Logger
	Registerer prometheus.Registerer
}

// Hub ingests config and state messages into the state store.
//
// Thread Safety: all methods are safe for concurrent use. Bus handlers may
// run on any goroutine.
type Hub struct {
	bus     Bus
	store   *state.Store
	catalog EntitySource
	topics  mqtt.Topics
	qos     byte
	logger  Logger
	metrics *Metrics

	mu       sync.Mutex
	decoders map[string]state.Model // Discovered on the bus, keyed by state topic

	recalcMu sync.Mutex // Serialises Recalculate
}

// New creates a hub. Start must be called to subscribe.
func New(opts Options) (*Hub, error) {
	if opts.Bus == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidOptions)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidOptions)
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidOptions)
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Hub{
		bus:      opts.Bus,
		store:    opts.Store,
		catalog:  opts.Catalog,
		topics:   opts.Topics,
		qos:      opts.QoS,
		logger:   opts.Logger,
		metrics:  NewMetrics(opts.Registerer),
		decoders: make(map[string]state.Model),
	}, nil
}

// Start builds the initial record set, subscribes to every config and
// state topic and announces the hub as online.
func (h *Hub) Start() error {
	h.Recalculate()

	if err := h.bus.Subscribe(h.topics.AllConfigs(), h.qos, h.handleConfig); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, h.topics.AllConfigs(), err)
	}
	if err := h.bus.Subscribe(h.topics.AllStates(), h.qos, h.handleState); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, h.topics.AllStates(), err)
	}

	if err := h.bus.Publish(h.topics.Status(), []byte(mqtt.StatusOnline), h.qos, true); err != nil {
		// Devices still report state changes; they just miss the prompt
		// to republish.
		h.logger.Warn("failed to announce hub online", "error", err)
	}

	h.logger.Info("hub started",
		"configs", h.topics.AllConfigs(),
		"states", h.topics.AllStates())
	return nil
}

// HandleReconnect drops all live state and rebuilds the record set. It is
// registered as the bus on-connect callback.
func (h *Hub) HandleReconnect() {
	h.logger.Info("bus reconnected, resynchronising state store")
	h.store.Clear()
	h.Recalculate()
}

// Recalculate adds a record for every catalog entity and discovered
// decoder not yet in the store and refreshes models that changed. Listeners
// receive a single replay once the batch is applied.
func (h *Hub) Recalculate() {
	h.recalcMu.Lock()
	defer h.recalcMu.Unlock()

	desired := make(map[string]state.Record)
	for _, e := range h.catalog.Entities() {
		desired[e.StateTopic] = state.NewRecord(e.Kind, e.Model())
	}

	h.mu.Lock()
	for topic, model := range h.decoders {
		if _, configured := desired[topic]; !configured {
			desired[topic] = state.NewRecord(state.KindDecoder, model)
		}
	}
	h.mu.Unlock()

	var added, updated int
	for topic, rec := range desired {
		if h.store.AddState(topic, rec, false) {
			added++
			continue
		}
		if cur, ok := h.store.Get(topic); ok && cur.Model != rec.Model {
			h.store.UpdateModel(topic, rec.Model, false)
			updated++
		}
	}
	h.store.Notify()

	records := h.store.Len()
	h.metrics.recordRecalculation(records)
	h.logger.Debug("state store recalculated",
		"added", added,
		"updated", updated,
		"records", records)
}

func (h *Hub) handleConfig(topic string, payload []byte) {
	h.metrics.recordMessage(mqtt.LeafConfig)

	// An empty retained payload clears a config; nothing to ingest.
	if len(payload) == 0 {
		return
	}

	cfg, err := mqtt.ParseEntityConfig(payload)
	if err != nil {
		h.metrics.recordRejected(reasonInvalidConfig)
		h.logger.Warn("ignoring invalid entity config", "topic", topic, "error", err)
		return
	}

	if isDecoderClass(cfg.DeviceClass) {
		model := state.Model{Name: cfg.Name, CommandTopic: cfg.CommandTopic}
		h.mu.Lock()
		h.decoders[cfg.StateTopic] = model
		h.mu.Unlock()
		if h.store.AddState(cfg.StateTopic, state.NewRecord(state.KindDecoder, model), false) {
			h.logger.Info("decoder discovered",
				"name", cfg.Name,
				"state_topic", cfg.StateTopic)
		}
	}

	h.Recalculate()
}

func (h *Hub) handleState(topic string, payload []byte) {
	h.metrics.recordMessage(mqtt.LeafState)

	u, err := state.ParseUpdate(payload)
	if err != nil {
		h.metrics.recordRejected(reasonInvalidPayload)
		h.logger.Warn("ignoring malformed state payload", "topic", topic, "error", err)
		return
	}

	if err := h.store.UpdateState(topic, u); err != nil {
		switch {
		case errors.Is(err, state.ErrUnknownTopic):
			h.metrics.recordRejected(reasonUnknownTopic)
		default:
			h.metrics.recordRejected(reasonInvalidState)
			h.logger.Warn("rejected state update", "topic", topic, "error", err)
		}
	}
}

func isDecoderClass(class string) bool {
	return class == string(state.KindDecoder) || class == string(state.KindTrain)
}
