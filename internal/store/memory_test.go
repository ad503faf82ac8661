package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

func TestMemoryStore(t *testing.T) {
	RunStoreTests(t, func(t *testing.T) Store { return NewMemoryStore() }, func(t *testing.T) {})
}

func TestMemoryStore_WritesAndSnapshot(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	err := s.Commit(ctx, ChangeSet{
		Upserts: []Record{{Kind: domain.EntityToken, ID: "1", Body: []byte(`{"id":"1"}`)}},
		Appends: []Link{{Kind: domain.EntityUser, ID: "0xa", Relation: domain.RelationBids, Target: "1-0x1"}},
		Cursor:  &CursorUpdate{Name: "p", Position: domain.Position{BlockNumber: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Writes())

	snap := s.Snapshot()
	assert.Equal(t, []byte(`{"id":"1"}`), snap["Token/1"])

	// Snapshot is a copy
	snap["Token/1"][0] = 'x'
	body, err := s.GetEntity(ctx, domain.EntityToken, "1")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"1"}`, string(body))

	// Cursor-only commits write no entities
	require.NoError(t, s.Commit(ctx, ChangeSet{Cursor: &CursorUpdate{Name: "p", Position: domain.Position{BlockNumber: 2}}}))
	assert.Equal(t, 2, s.Writes())
}
