package catalog

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/railhub/internal/state"
)

// Logger defines the logging interface used by the Registry.
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

// Registry caches the layout configuration read through a Reader.
//
// The cache is populated via RefreshCache() and kept current by Watch.
// All public methods are thread-safe.
type Registry struct {
	reader Reader

	cacheMu  sync.RWMutex // Protects entities and rules
	entities []Entity
	rules    []SignalAutomation

	logger Logger
}

// NewRegistry creates a new catalog registry backed by reader.
func NewRegistry(reader Reader) *Registry {
	return &Registry{
		reader: reader,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.logger = logger
}

// RefreshCache reloads entities and rules from the reader. It reports
// whether anything differs from the previous cache contents. On error the
// previous cache is kept.
func (r *Registry) RefreshCache(ctx context.Context) (bool, error) {
	entities, err := r.reader.ListEntities(ctx)
	if err != nil {
		return false, fmt.Errorf("loading entities: %w", err)
	}
	rules, err := r.reader.ListSignalAutomations(ctx)
	if err != nil {
		return false, fmt.Errorf("loading signal automations: %w", err)
	}

	valid := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if !e.Kind.Valid() {
			r.logger.Warn("skipping catalog entity",
				"state_topic", e.StateTopic,
				"error", fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind))
			continue
		}
		valid = append(valid, e)
	}
	rules = slices.Clone(rules)
	sortEntities(valid)
	sortAutomations(rules)

	r.cacheMu.Lock()
	changed := !slices.Equal(r.entities, valid) || !slices.Equal(r.rules, rules)
	r.entities = valid
	r.rules = rules
	r.cacheMu.Unlock()

	if changed {
		r.logger.Info("catalog cache refreshed",
			"entities", len(valid),
			"signal_automations", len(rules))
	}
	return changed, nil
}

// Entities returns a copy of the cached entities ordered by state topic.
func (r *Registry) Entities() []Entity {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return slices.Clone(r.entities)
}

// EntitiesOfKind returns the cached entities of the given kind.
func (r *Registry) EntitiesOfKind(kind state.Kind) []Entity {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	var out []Entity
	for _, e := range r.entities {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// SignalAutomations returns a copy of the cached rules ordered by signal
// topic then rule ID.
func (r *Registry) SignalAutomations() []SignalAutomation {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return slices.Clone(r.rules)
}

// Watch refreshes the cache every interval until ctx is cancelled and
// calls onChange after each refresh that altered the cache. Read errors
// are logged and the previous cache is kept.
func (r *Registry) Watch(ctx context.Context, interval time.Duration, onChange func()) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			changed, err := r.RefreshCache(ctx)
			if err != nil {
				r.logger.Warn("catalog refresh failed", "error", err)
				continue
			}
			if changed && onChange != nil {
				onChange()
			}
		}
	}
}
