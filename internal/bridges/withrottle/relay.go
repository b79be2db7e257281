package withrottle

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/railhub/internal/infrastructure/mqtt"
	"github.com/nerrad567/railhub/internal/state"
)

// Device metadata advertised with every entity config.
const (
	deviceManufacturer = "railhub"
	deviceModel        = "WiThrottle Bridge"

	deviceClassDecoder = "decoder"
	deviceClassSwitch  = "switch"
)

// Bus subscription retry bounds.
const (
	subscribeRetryInitial = time.Second
	subscribeRetryMax     = 30 * time.Second
)

// MQTTClient is the bus interface used by the relay and health reporter.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Disconnect closes the connection gracefully.
	Disconnect(quiesce uint)
}

// RelayConfig configures the bus half of the bridge.
type RelayConfig struct {
	Topics  mqtt.Topics
	Name    string // Bridge name, slugified into entity ids
	Version string
	QoS     byte
}

// trainView is the relay's knowledge of one roster entry.
type trainView struct {
	address   string
	name      string
	active    bool
	speed     int
	direction string
	functions map[string]state.Function
	published bool // Config announced since the last reset or bus announce
}

// publication is a message built under the lock and sent after it.
type publication struct {
	topic    string
	payload  []byte
	retained bool
}

// Relay is the bus-facing half of the bridge. It mirrors Events onto the
// bus and turns bus commands into Commands.
//
// All publishing happens on the Run goroutine so the bus sees events in
// order. Subscription handlers only read the view and enqueue commands.
type Relay struct {
	client   MQTTClient
	events   *Queue[Event]
	commands *Queue[Command]
	topics   mqtt.Topics
	slug     string
	name     string
	device   mqtt.DeviceInfo
	qos      byte
	logger   Logger
	metrics  *Metrics

	mu             sync.Mutex
	trains         map[string]*trainView // By wire address
	byEntity       map[string]string     // Entity id → wire address
	order          []string              // Addresses in discovery order
	power          PowerState
	powerPublished bool
}

// announceEvent asks the Run loop to republish every entity.
type announceEvent struct{}

func (announceEvent) event() {}

// NewRelay creates the bus half.
func NewRelay(cfg RelayConfig, client MQTTClient, events *Queue[Event], commands *Queue[Command]) (*Relay, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: MQTT client is required", ErrInvalidConfig)
	}
	if events == nil || commands == nil {
		return nil, fmt.Errorf("%w: queues are required", ErrInvalidConfig)
	}
	slug := Slugify(cfg.Name)
	if slug == "" {
		return nil, fmt.Errorf("%w: bridge name is required", ErrInvalidConfig)
	}

	return &Relay{
		client:   client,
		events:   events,
		commands: commands,
		topics:   cfg.Topics,
		slug:     slug,
		name:     cfg.Name,
		device: mqtt.DeviceInfo{
			Identifiers:  []string{slug + "-withrottle-bridge"},
			Name:         cfg.Name,
			Manufacturer: deviceManufacturer,
			Model:        deviceModel,
			SWVersion:    cfg.Version,
		},
		qos:      cfg.QoS,
		logger:   noopLogger{},
		trains:   make(map[string]*trainView),
		byEntity: make(map[string]string),
		power:    PowerUnknown,
	}, nil
}

// SetLogger sets the logger. It must be called before Run.
func (r *Relay) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// SetMetrics sets the metrics sink. It must be called before Run.
func (r *Relay) SetMetrics(m *Metrics) {
	r.metrics = m
}

// RosterSize returns the number of trains in the view.
func (r *Relay) RosterSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trains)
}

// Entity ids and topics.

func (r *Relay) decoderID(addr string) string {
	return r.slug + "-" + strings.ToLower(addr)
}

func (r *Relay) powerID() string {
	return r.slug + "-withrottle-power"
}

// PowerCommandTopic returns the power switch's command topic.
func (r *Relay) PowerCommandTopic() string {
	return r.topics.EntityCommand(deviceClassSwitch, r.powerID())
}

// DecoderStateTopic returns the state topic of the decoder at addr.
func (r *Relay) DecoderStateTopic(addr string) string {
	return r.topics.EntityState(deviceClassDecoder, r.decoderID(addr))
}

// Run subscribes to the bus and relays events until ctx is cancelled.
// Subscriptions are retried with backoff while the bus is unreachable.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.subscribe(ctx); err != nil {
		return nil // Cancelled
	}
	r.logger.Info("withrottle relay subscribed",
		"status", r.topics.Status(),
		"power", r.PowerCommandTopic())

	for {
		ev, err := r.events.Get(ctx)
		if err != nil {
			return nil
		}
		r.publishAll(r.handleEvent(ev))
	}
}

func (r *Relay) subscribe(ctx context.Context) error {
	subs := []struct {
		topic   string
		handler func(string, []byte)
	}{
		{r.topics.Status(), r.handleStatus},
		{r.PowerCommandTopic(), r.handlePowerSet},
		{r.topics.AllCommands(deviceClassDecoder), r.handleDecoderSet},
	}

	delay := subscribeRetryInitial
	for _, sub := range subs {
		for {
			err := r.client.Subscribe(sub.topic, r.qos, sub.handler)
			if err == nil {
				break
			}
			r.logger.Warn("bus subscribe failed, retrying",
				"topic", sub.topic,
				"error", err,
				"retry_in", delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = min(delay*2, subscribeRetryMax)
		}
	}
	return nil
}

// handleEvent applies ev to the view and returns what to publish.
func (r *Relay) handleEvent(ev Event) []publication {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e := ev.(type) {
	case ResetEvent:
		clear(r.trains)
		clear(r.byEntity)
		r.order = nil
		r.power = PowerUnknown
		r.metrics.setRosterSize(0)
		return r.powerPublicationsLocked()

	case TrainDiscovered:
		t := r.trainLocked(e.Address)
		if t.name != e.Name {
			// A renamed roster entry needs its config republished.
			t.name = e.Name
			t.published = false
		}
		return r.trainPublicationsLocked(t)

	case TrainUpdate:
		t := r.trainLocked(e.Address)
		applyTrainUpdate(t, e)
		return r.trainPublicationsLocked(t)

	case PowerUpdate:
		r.power = e.State
		return r.powerPublicationsLocked()

	case announceEvent:
		return r.announceLocked()
	}
	return nil
}

// trainLocked returns the view for addr, creating it on first sight.
func (r *Relay) trainLocked(addr string) *trainView {
	if t, ok := r.trains[addr]; ok {
		return t
	}
	t := &trainView{
		address:   addr,
		name:      addr,
		direction: state.DirectionForward,
		functions: make(map[string]state.Function),
	}
	r.trains[addr] = t
	r.byEntity[r.decoderID(addr)] = addr
	r.order = append(r.order, addr)
	r.metrics.setRosterSize(len(r.trains))
	return t
}

func applyTrainUpdate(t *trainView, u TrainUpdate) {
	if u.Active != nil {
		t.active = *u.Active
	}
	if u.Speed != nil {
		t.speed = *u.Speed
	}
	if u.Direction != nil {
		t.direction = *u.Direction
	}
	if u.ReplaceFunctions {
		t.functions = make(map[string]state.Function, len(u.Functions))
	}
	for idx, fn := range u.Functions {
		if fn.Label == "" {
			fn.Label = t.functions[idx].Label
		}
		t.functions[idx] = fn
	}
}

// trainPublicationsLocked returns the train's config when it is new or
// changed, followed by its state.
func (r *Relay) trainPublicationsLocked(t *trainView) []publication {
	var out []publication
	if !t.published {
		out = append(out, r.decoderConfigLocked(t))
		t.published = true
	}
	return append(out, r.decoderStateLocked(t))
}

func (r *Relay) powerPublicationsLocked() []publication {
	var out []publication
	if !r.powerPublished {
		out = append(out, r.powerConfigLocked())
		r.powerPublished = true
	}
	return append(out, r.powerStateLocked())
}

// announceLocked republishes every entity, config before state.
func (r *Relay) announceLocked() []publication {
	out := []publication{r.powerConfigLocked(), r.powerStateLocked()}
	r.powerPublished = true
	for _, addr := range r.order {
		t := r.trains[addr]
		out = append(out, r.decoderConfigLocked(t), r.decoderStateLocked(t))
		t.published = true
	}
	return out
}

func (r *Relay) decoderConfigLocked(t *trainView) publication {
	id := r.decoderID(t.address)
	cfg := mqtt.EntityConfig{
		UniqueID:     id,
		Name:         t.name,
		DeviceClass:  deviceClassDecoder,
		StateTopic:   r.topics.EntityState(deviceClassDecoder, id),
		CommandTopic: r.topics.EntityCommand(deviceClassDecoder, id),
		Device:       r.device,
	}
	return r.marshal(r.topics.EntityConfig(deviceClassDecoder, id), cfg, true)
}

func (r *Relay) decoderStateLocked(t *trainView) publication {
	status := "OFF"
	if t.active {
		status = "ON"
	}
	payload := DecoderState{
		State:     status,
		Functions: maps.Clone(t.functions),
		Speed:     t.speed,
		Direction: t.direction,
	}
	return r.marshal(r.topics.EntityState(deviceClassDecoder, r.decoderID(t.address)), payload, false)
}

func (r *Relay) powerConfigLocked() publication {
	id := r.powerID()
	cfg := mqtt.EntityConfig{
		UniqueID:     id,
		Name:         r.name + " WiThrottle Power",
		DeviceClass:  deviceClassSwitch,
		StateTopic:   r.topics.EntityState(deviceClassSwitch, id),
		CommandTopic: r.topics.EntityCommand(deviceClassSwitch, id),
		Device:       r.device,
	}
	return r.marshal(r.topics.EntityConfig(deviceClassSwitch, id), cfg, true)
}

func (r *Relay) powerStateLocked() publication {
	return r.marshal(r.topics.EntityState(deviceClassSwitch, r.powerID()), PowerPayload{State: r.power}, false)
}

func (r *Relay) marshal(topic string, v any, retained bool) publication {
	payload, err := json.Marshal(v)
	if err != nil {
		// Payload types are plain structs; this cannot fail.
		panic(fmt.Sprintf("withrottle: marshal %T: %v", v, err))
	}
	return publication{topic: topic, payload: payload, retained: retained}
}

func (r *Relay) publishAll(pubs []publication) {
	for _, p := range pubs {
		if err := r.client.Publish(p.topic, p.payload, r.qos, p.retained); err != nil {
			r.logger.Warn("bus publish failed", "topic", p.topic, "error", err)
			continue
		}
		r.metrics.recordBus("out")
	}
}

// Bus handlers. They run on the MQTT client's goroutines.

func (r *Relay) handleStatus(_ string, payload []byte) {
	r.metrics.recordBus("in")
	if string(payload) != mqtt.StatusOnline {
		return
	}
	r.logger.Debug("hub online, announcing entities")
	r.events.Put(announceEvent{})
}

func (r *Relay) handlePowerSet(_ string, payload []byte) {
	r.metrics.recordBus("in")
	cmd, err := ParsePowerSet(payload)
	if err != nil {
		r.logger.Warn("ignoring power command", "error", err)
		return
	}
	r.commands.Put(cmd)
}

func (r *Relay) handleDecoderSet(topic string, payload []byte) {
	r.metrics.recordBus("in")

	_, id, _, ok := r.topics.ParseEntityTopic(topic)
	if !ok {
		return
	}
	set, err := ParseDecoderSet(payload)
	if err != nil {
		r.logger.Warn("ignoring decoder command", "topic", topic, "error", err)
		return
	}

	cmds, err := r.decoderCommands(id, set)
	if err != nil {
		r.logger.Warn("ignoring decoder command", "topic", topic, "error", err)
		return
	}
	for _, cmd := range cmds {
		r.commands.Put(cmd)
	}
}

// decoderCommands translates a decoder set payload for entity id.
func (r *Relay) decoderCommands(id string, set DecoderSet) ([]Command, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addr, ok := r.byEntity[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown decoder %q", ErrInvalidCommand, id)
	}
	t := r.trains[addr]

	var cmds []Command
	if set.Speed != nil {
		cmds = append(cmds, SpeedCommand{Address: addr, Speed: min(max(*set.Speed, 0), maxSpeedStep)})
	}
	if set.Direction != nil {
		cmds = append(cmds, DirectionCommand{Address: addr, Forward: *set.Direction == state.DirectionForward})
	}
	for _, idx := range slices.Sorted(maps.Keys(set.Functions)) {
		// Functions toggle on press, so only send when the state differs.
		if t.functions[idx].State == set.Functions[idx] {
			continue
		}
		cmds = append(cmds, FunctionCommand{Address: addr, Index: idx})
	}
	return cmds, nil
}
