package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileLayout is the on-disk shape of a layout file.
type fileLayout struct {
	Entities          []Entity           `yaml:"entities"`
	SignalAutomations []SignalAutomation `yaml:"signal_automations"`
}

// FileRepository implements Reader over a YAML layout file. The file is
// re-read on every call so edits are picked up by Registry.Watch.
//
// Example:
//
//	entities:
//	  - kind: points
//	    name: Yard throat
//	    state_topic: railhub/points/yard/state
//	    command_topic: railhub/points/yard/set
//	    through_state: THROUGH
//	    diverge_state: DIVERGE
//	signal_automations:
//	  - id: s1-main
//	    signal: railhub/signal/s1/state
//	    block_detector: railhub/block_detector/b1/state
//	    points: railhub/points/yard/state
//	    points_state: through
type FileRepository struct {
	path string
}

// NewFileRepository creates a reader for the YAML file at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// ListEntities returns the entities declared in the file.
func (r *FileRepository) ListEntities(_ context.Context) ([]Entity, error) {
	layout, err := r.load()
	if err != nil {
		return nil, err
	}
	return layout.Entities, nil
}

// ListSignalAutomations returns the rules declared in the file.
func (r *FileRepository) ListSignalAutomations(_ context.Context) ([]SignalAutomation, error) {
	layout, err := r.load()
	if err != nil {
		return nil, err
	}
	return layout.SignalAutomations, nil
}

func (r *FileRepository) load() (*fileLayout, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrReadFailed, r.path, err)
	}
	var layout fileLayout
	if err := yaml.Unmarshal(data, &layout); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrReadFailed, r.path, err)
	}
	return &layout, nil
}
