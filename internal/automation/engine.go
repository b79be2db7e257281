package automation

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/railhub/internal/catalog"
	"github.com/nerrad567/railhub/internal/state"
)

// DefaultDebounce is the publish delay used when EngineOptions.Debounce is unset.
const DefaultDebounce = 250 * time.Millisecond

// MinDebounce is the shortest delay ConfigDebounce hands out.
const MinDebounce = time.Millisecond

// ConfigDebounce maps a configured debounce window onto
// EngineOptions.Debounce. Windows of zero or less become MinDebounce, so
// commands are always published from the timer and never from inside a
// store notification.
func ConfigDebounce(window time.Duration) time.Duration {
	return max(window, MinDebounce)
}

// Logger defines the logging interface used by the Engine.
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

// RuleProvider supplies the current signal automation rules.
// catalog.Registry satisfies it.
type RuleProvider interface {
	SignalAutomations() []catalog.SignalAutomation
}

// Publisher is the interface for publishing signal commands to the bus.
type Publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Rules     RuleProvider
	Publisher Publisher
	QoS       byte

	// Debounce is how long results are held before publishing. Zero
	// selects DefaultDebounce; a negative value publishes inline.
	Debounce time.Duration

	Logger     Logger
	Registerer prometheus.Registerer
}

// Engine keeps signal aspects consistent with the state store.
//
// Thread Safety: StateChanged, Recompute and Stop are safe for concurrent use.
type Engine struct {
	rules     RuleProvider
	publisher Publisher
	qos       byte
	debounce  time.Duration
	logger    Logger
	metrics   *Metrics

	mu      sync.Mutex
	pending []Command
	armed   bool
	timer   *time.Timer
	stopped bool

	publishMu sync.Mutex // Serialises batches
}

// Compile-time check that Engine is a store listener.
var _ state.Listener = (*Engine)(nil)

// NewEngine creates a new signal automation engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Rules == nil {
		return nil, fmt.Errorf("%w: rules are required", ErrInvalidOptions)
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("%w: publisher is required", ErrInvalidOptions)
	}
	if opts.Debounce == 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	return &Engine{
		rules:     opts.Rules,
		publisher: opts.Publisher,
		qos:       opts.QoS,
		debounce:  opts.Debounce,
		logger:    opts.Logger,
		metrics:   NewMetrics(opts.Registerer),
	}, nil
}

// StateChanged implements state.Listener. It re-evaluates the rules when a
// points or block detector record changed, or on a full replay.
func (e *Engine) StateChanged(snap state.Snapshot, topic string) {
	if topic != "" {
		rec, ok := snap[topic]
		if !ok || (rec.Kind != state.KindPoints && rec.Kind != state.KindBlockDetector) {
			return
		}
	}
	e.Recompute(snap)
}

// Recompute evaluates every rule against snap and schedules the result.
// It is also called when the rule set itself changes.
func (e *Engine) Recompute(snap state.Snapshot) {
	cmds := Evaluate(snap, e.rules.SignalAutomations())
	e.metrics.recordEvaluation()

	if e.debounce < 0 {
		e.publish(cmds)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}

	// Latest evaluation wins. The window starts at the first change.
	e.pending = cmds
	if e.armed {
		return
	}
	e.armed = true
	if e.timer == nil {
		e.timer = time.AfterFunc(e.debounce, e.flush)
	} else {
		e.timer.Reset(e.debounce)
	}
}

// Stop cancels any pending publish. Later notifications are ignored.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopped = true
	e.pending = nil
	if e.timer != nil {
		e.timer.Stop()
	}
}

func (e *Engine) flush() {
	e.mu.Lock()
	cmds := e.pending
	e.pending = nil
	e.armed = false
	stopped := e.stopped
	e.mu.Unlock()

	if stopped {
		return
	}
	e.publish(cmds)
}

// publish sends cmds in order. cmds is already dangers-first.
func (e *Engine) publish(cmds []Command) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	for _, cmd := range cmds {
		if err := e.publisher.Publish(cmd.CommandTopic, cmd.Payload(), e.qos, false); err != nil {
			e.metrics.recordPublishError()
			e.logger.Error("signal command publish failed",
				"signal", cmd.SignalTopic,
				"aspect", string(cmd.Aspect),
				"error", fmt.Errorf("%w: %w", ErrPublishFailed, err))
			continue
		}
		e.metrics.recordPublished(cmd.Aspect)
		e.logger.Debug("signal aspect published",
			"signal", cmd.SignalTopic,
			"aspect", string(cmd.Aspect))
	}
}
