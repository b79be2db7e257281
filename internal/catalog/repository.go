package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nerrad567/railhub/internal/state"
)

// Reader is the read-only query surface over layout configuration.
// This abstraction allows the SQLite database, a YAML file or a test fake
// to back the Registry.
type Reader interface {
	ListEntities(ctx context.Context) ([]Entity, error)
	ListSignalAutomations(ctx context.Context) ([]SignalAutomation, error)
}

// entityQuery flattens the per-kind tables into one row per entity. Points
// states are nullable until the points are fully configured.
const entityQuery = `
	SELECT 'points', e.name, e.state_topic, COALESCE(e.command_topic, ''),
	       COALESCE(p.through_state, ''), COALESCE(p.diverge_state, '')
	  FROM points p JOIN entities e ON e.id = p.entity_id
	UNION ALL
	SELECT 'power_switch', e.name, e.state_topic, COALESCE(e.command_topic, ''), '', ''
	  FROM power_switches ps JOIN entities e ON e.id = ps.entity_id
	UNION ALL
	SELECT 'block_detector', e.name, e.state_topic, COALESCE(e.command_topic, ''), '', ''
	  FROM block_detectors b JOIN entities e ON e.id = b.entity_id
	UNION ALL
	SELECT 'signal', e.name, e.state_topic, COALESCE(e.command_topic, ''), '', ''
	  FROM signals s JOIN entities e ON e.id = s.entity_id
	ORDER BY 3`

// automationQuery resolves rule foreign keys to state topics. The points
// gate is optional, hence the LEFT JOINs.
const automationQuery = `
	SELECT CAST(sa.id AS TEXT), se.state_topic, be.state_topic,
	       COALESCE(pe.state_topic, ''), COALESCE(sa.points_state, '')
	  FROM signal_automations sa
	  JOIN signals s ON s.id = sa.signal_id
	  JOIN entities se ON se.id = s.entity_id
	  JOIN block_detectors b ON b.id = sa.block_detector_id
	  JOIN entities be ON be.id = b.entity_id
	  LEFT JOIN points p ON p.id = sa.points_id
	  LEFT JOIN entities pe ON pe.id = p.entity_id
	 ORDER BY sa.id`

// SQLiteRepository implements Reader over the configuration service's
// database. It never writes.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed reader.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListEntities returns every configured entity ordered by state topic.
func (r *SQLiteRepository) ListEntities(ctx context.Context) ([]Entity, error) {
	rows, err := r.db.QueryContext(ctx, entityQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: querying entities: %w", ErrReadFailed, err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		var e Entity
		var kind string
		if err := rows.Scan(&kind, &e.Name, &e.StateTopic, &e.CommandTopic, &e.ThroughState, &e.DivergeState); err != nil {
			return nil, fmt.Errorf("%w: scanning entity: %w", ErrReadFailed, err)
		}
		e.Kind = state.Kind(kind)
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating entities: %w", ErrReadFailed, err)
	}
	return entities, nil
}

// ListSignalAutomations returns every configured signal automation rule.
func (r *SQLiteRepository) ListSignalAutomations(ctx context.Context) ([]SignalAutomation, error) {
	rows, err := r.db.QueryContext(ctx, automationQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: querying signal automations: %w", ErrReadFailed, err)
	}
	defer rows.Close()

	var rules []SignalAutomation
	for rows.Next() {
		var a SignalAutomation
		if err := rows.Scan(&a.ID, &a.SignalTopic, &a.BlockDetectorTopic, &a.PointsTopic, &a.PointsState); err != nil {
			return nil, fmt.Errorf("%w: scanning signal automation: %w", ErrReadFailed, err)
		}
		rules = append(rules, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating signal automations: %w", ErrReadFailed, err)
	}
	return rules, nil
}
