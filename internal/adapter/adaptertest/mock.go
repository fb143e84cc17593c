// Package adaptertest provides a configurable in-memory Adapter double for
// exercising the Sync Engine without a real book-metadata library, remote
// annotation server, or file tree behind it.
package adaptertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperengineering/synccore/internal/adapter"
	"github.com/hyperengineering/synccore/internal/model"
)

// Mock is a test double implementing adapter.Adapter. Its behavior is set
// through the exported fields (Changes, Manifest, Entities, StatsValue,
// ConnectErr, ApplyErr); left unset, it returns sane zero-value results.
type Mock struct {
	mu sync.Mutex

	SourceType   model.Source
	AdapterName  string
	Caps         adapter.Capabilities
	Connected    bool
	ConnectErr   error
	Entities     map[string]interface{}
	Changes      []model.Change
	Manifest     model.Manifest
	Applied      []model.Change
	ApplyErr     error
	StatsValue   adapter.Stats
	ConnectCalls int
}

// New returns a Mock reporting the given source type, with defaults
// suitable for most tests.
func New(source model.Source) *Mock {
	return &Mock{
		SourceType:  source,
		AdapterName: string(source) + "-mock",
		Caps: adapter.Capabilities{
			IncrementalSync: true,
			ContentHashing:  true,
			MaxConcurrency:  4,
		},
		Entities: make(map[string]interface{}),
	}
}

func (m *Mock) Type() model.Source                 { return m.SourceType }
func (m *Mock) Name() string                       { return m.AdapterName }
func (m *Mock) Capabilities() adapter.Capabilities { return m.Caps }

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls++
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.Connected = true
	return nil
}

func (m *Mock) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected = false
	return nil
}

func (m *Mock) TestConnection(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Connected, nil
}

func (m *Mock) DetectChanges(ctx context.Context, since time.Time, entityTypes []model.EntityType) ([]model.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(entityTypes) == 0 {
		out := make([]model.Change, len(m.Changes))
		copy(out, m.Changes)
		return out, nil
	}

	wanted := make(map[model.EntityType]bool, len(entityTypes))
	for _, t := range entityTypes {
		wanted[t] = true
	}
	var out []model.Change
	for _, c := range m.Changes {
		if wanted[c.EntityType] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Mock) GetManifest(ctx context.Context, entityTypes []model.EntityType, page adapter.Pagination) (model.Manifest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Manifest, nil
}

func (m *Mock) CompareManifest(ctx context.Context, localEntries []model.ManifestEntry) ([]model.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Change, len(m.Changes))
	copy(out, m.Changes)
	return out, nil
}

func (m *Mock) GetEntity(ctx context.Context, entityType model.EntityType, id string) (interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.Entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", id)
	}
	return e, nil
}

func (m *Mock) GetEntities(ctx context.Context, entityType model.EntityType, ids []string) (map[string]interface{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]interface{}, len(ids))
	for _, id := range ids {
		if e, ok := m.Entities[id]; ok {
			out[id] = e
		}
	}
	return out, nil
}

func (m *Mock) ApplyChange(ctx context.Context, change model.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ApplyErr != nil {
		return m.ApplyErr
	}
	m.Applied = append(m.Applied, change)
	return nil
}

func (m *Mock) ApplyChanges(ctx context.Context, changes []model.Change) error {
	for _, c := range changes {
		if err := m.ApplyChange(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) GetStats(ctx context.Context) (adapter.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.StatsValue, nil
}
