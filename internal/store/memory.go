package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

type entityKey struct {
	kind domain.EntityKind
	id   string
}

type linkKey struct {
	kind     domain.EntityKind
	id       string
	relation domain.Relation
}

// MemoryStore is an in-process Store. A commit is applied under one lock, so
// readers never observe half of a change set.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[entityKey][]byte
	links    map[linkKey][]string
	kv       map[string]string
	writes   int
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[entityKey][]byte),
		links:    make(map[linkKey][]string),
		kv:       make(map[string]string),
	}
}

// GetEntity loads an entity body by kind and id
func (s *MemoryStore) GetEntity(_ context.Context, kind domain.EntityKind, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.entities[entityKey{kind, id}]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), body...), nil
}

// GetLinks returns the targets of a relationship list in append order
func (s *MemoryStore) GetLinks(_ context.Context, kind domain.EntityKind, id string, relation domain.Relation) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.links[linkKey{kind, id, relation}]...), nil
}

// Commit applies a change set atomically
func (s *MemoryStore) Commit(_ context.Context, changes ChangeSet) error {
	if changes.Empty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range changes.Upserts {
		s.entities[entityKey{r.Kind, r.ID}] = append([]byte(nil), r.Body...)
		s.writes++
	}
	for _, l := range changes.Appends {
		k := linkKey{l.Kind, l.ID, l.Relation}
		s.links[k] = append(s.links[k], l.Target)
		s.writes++
	}
	if changes.Cursor != nil {
		s.kv[projectionCursorKey(changes.Cursor.Name)] = formatPosition(changes.Cursor.Position)
	}

	return nil
}

// GetProjectionCursor returns the position of the last committed event
func (s *MemoryStore) GetProjectionCursor(ctx context.Context, name string) (*domain.Position, error) {
	value, _ := s.GetKeyValue(ctx, projectionCursorKey(name))
	if value == "" {
		return nil, nil
	}
	return parsePosition(value)
}

// GetRunState retrieves the state of the named projection run
func (s *MemoryStore) GetRunState(ctx context.Context, name string) (*RunState, error) {
	value, _ := s.GetKeyValue(ctx, runStateKey(name))
	if value == "" {
		return nil, nil
	}

	var state RunState
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		return nil, fmt.Errorf("failed to decode run state: %w", err)
	}
	return &state, nil
}

// SetRunState stores the state of the named projection run
func (s *MemoryStore) SetRunState(ctx context.Context, name string, state *RunState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode run state: %w", err)
	}
	return s.SetKeyValue(ctx, runStateKey(name), string(data))
}

// GetBlockCursor retrieves the last processed block number for a chain
func (s *MemoryStore) GetBlockCursor(ctx context.Context, chain string) (uint64, error) {
	value, _ := s.GetKeyValue(ctx, blockCursorKey(chain))
	if value == "" {
		return 0, nil
	}

	var blockNumber uint64
	if _, err := fmt.Sscan(value, &blockNumber); err != nil {
		return 0, fmt.Errorf("failed to parse block cursor: %w", err)
	}
	return blockNumber, nil
}

// SetBlockCursor stores the last processed block number for a chain
func (s *MemoryStore) SetBlockCursor(ctx context.Context, chain string, blockNumber uint64) error {
	return s.SetKeyValue(ctx, blockCursorKey(chain), fmt.Sprint(blockNumber))
}

// GetKeyValue retrieves a value by key
func (s *MemoryStore) GetKeyValue(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.kv[key], nil
}

// SetKeyValue sets a key-value pair
func (s *MemoryStore) SetKeyValue(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.kv[key] = value
	return nil
}

// Writes returns the number of entity upserts and link appends committed so far
func (s *MemoryStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.writes
}

// Snapshot returns a copy of every entity body keyed by "<kind>/<id>"
func (s *MemoryStore) Snapshot() map[string][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]byte, len(s.entities))
	for k, v := range s.entities {
		out[fmt.Sprintf("%s/%s", k.kind, k.id)] = append([]byte(nil), v...)
	}
	return out
}
