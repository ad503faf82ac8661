package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// =============================================================================
// Test: Entities
// =============================================================================

func testEntities(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("absent entity returns nil", func(t *testing.T) {
		body, err := store.GetEntity(ctx, domain.EntityToken, "does-not-exist")
		require.NoError(t, err)
		assert.Nil(t, body)
	})

	t.Run("commit upserts and overwrites", func(t *testing.T) {
		err := store.Commit(ctx, ChangeSet{
			Upserts: []Record{
				{Kind: domain.EntityToken, ID: "5", Body: []byte(`{"id":"5","is_master":true}`)},
				{Kind: domain.EntityUser, ID: "5", Body: []byte(`{"id":"5"}`)},
			},
		})
		require.NoError(t, err)

		body, err := store.GetEntity(ctx, domain.EntityToken, "5")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"5","is_master":true}`, string(body))

		// Same id under another kind is a different record
		body, err = store.GetEntity(ctx, domain.EntityUser, "5")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"5"}`, string(body))

		err = store.Commit(ctx, ChangeSet{
			Upserts: []Record{{Kind: domain.EntityToken, ID: "5", Body: []byte(`{"id":"5","is_master":false}`)}},
		})
		require.NoError(t, err)

		body, err = store.GetEntity(ctx, domain.EntityToken, "5")
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"5","is_master":false}`, string(body))
	})

	t.Run("empty change set is a no-op", func(t *testing.T) {
		require.NoError(t, store.Commit(ctx, ChangeSet{}))
	})
}

// =============================================================================
// Test: Links
// =============================================================================

func testLinks(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("missing list is empty", func(t *testing.T) {
		links, err := store.GetLinks(ctx, domain.EntityToken, "1", domain.RelationPastBids)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("appends keep discovery order without dedup", func(t *testing.T) {
		err := store.Commit(ctx, ChangeSet{
			Appends: []Link{
				{Kind: domain.EntityToken, ID: "9", Relation: domain.RelationPastOwners, Target: "0xb"},
				{Kind: domain.EntityToken, ID: "9", Relation: domain.RelationPastOwners, Target: "0xa"},
			},
		})
		require.NoError(t, err)

		err = store.Commit(ctx, ChangeSet{
			Appends: []Link{
				{Kind: domain.EntityToken, ID: "9", Relation: domain.RelationPastOwners, Target: "0xb"},
				{Kind: domain.EntityToken, ID: "9", Relation: domain.RelationSales, Target: "9-1"},
			},
		})
		require.NoError(t, err)

		links, err := store.GetLinks(ctx, domain.EntityToken, "9", domain.RelationPastOwners)
		require.NoError(t, err)
		assert.Equal(t, []string{"0xb", "0xa", "0xb"}, links)

		links, err = store.GetLinks(ctx, domain.EntityToken, "9", domain.RelationSales)
		require.NoError(t, err)
		assert.Equal(t, []string{"9-1"}, links)
	})
}

// =============================================================================
// Test: Cursors and run state
// =============================================================================

func testProjectionCursor(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("no cursor before first commit", func(t *testing.T) {
		cursor, err := store.GetProjectionCursor(ctx, "test_projection_empty")
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})

	t.Run("cursor advances with the change set", func(t *testing.T) {
		name := "test_projection"
		err := store.Commit(ctx, ChangeSet{
			Upserts: []Record{{Kind: domain.EntityBid, ID: "1-0xa", Body: []byte(`{"id":"1-0xa"}`)}},
			Cursor:  &CursorUpdate{Name: name, Position: domain.Position{BlockNumber: 120, LogIndex: 7}},
		})
		require.NoError(t, err)

		cursor, err := store.GetProjectionCursor(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, cursor)
		assert.Equal(t, domain.Position{BlockNumber: 120, LogIndex: 7}, *cursor)

		// Cursor-only commit
		err = store.Commit(ctx, ChangeSet{
			Cursor: &CursorUpdate{Name: name, Position: domain.Position{BlockNumber: 121, LogIndex: 0}},
		})
		require.NoError(t, err)

		cursor, err = store.GetProjectionCursor(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, uint64(121), cursor.BlockNumber)
	})
}

func testBlockCursor(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("get non-existent cursor returns 0", func(t *testing.T) {
		cursor, err := store.GetBlockCursor(ctx, "test_chain_nonexistent")
		require.NoError(t, err)
		assert.Equal(t, uint64(0), cursor)
	})

	t.Run("update existing cursor", func(t *testing.T) {
		chain := "test_chain_update"

		require.NoError(t, store.SetBlockCursor(ctx, chain, 100))
		require.NoError(t, store.SetBlockCursor(ctx, chain, 200))

		cursor, err := store.GetBlockCursor(ctx, chain)
		require.NoError(t, err)
		assert.Equal(t, uint64(200), cursor)
	})
}

func testRunState(t *testing.T, store Store) {
	ctx := context.Background()

	state, err := store.GetRunState(ctx, "projector")
	require.NoError(t, err)
	assert.Nil(t, state)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	halted := &RunState{
		RunID:     "01HZX",
		Status:    RunStatusHalted,
		Position:  &domain.Position{BlockNumber: 10, LogIndex: 2},
		Kind:      domain.EventKindBidProposed,
		Error:     "token not found",
		StartedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.SetRunState(ctx, "projector", halted))

	state, err = store.GetRunState(ctx, "projector")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, RunStatusHalted, state.Status)
	assert.Equal(t, halted.Position, state.Position)
	assert.Equal(t, "token not found", state.Error)
	assert.True(t, now.Equal(state.UpdatedAt))
}

func testKeyValueStore(t *testing.T, store Store) {
	ctx := context.Background()

	value, err := store.GetKeyValue(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, value)

	payload, err := json.Marshal(map[string]int{"a": 1})
	require.NoError(t, err)
	require.NoError(t, store.SetKeyValue(ctx, "k", string(payload)))

	value, err = store.GetKeyValue(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, value)
}

// RunStoreTests runs all store tests against an implementation
func RunStoreTests(t *testing.T, initDB func(t *testing.T) Store, cleanupDB func(t *testing.T)) {
	tests := []struct {
		name string
		fn   func(*testing.T, Store)
	}{
		{"Entities", testEntities},
		{"Links", testLinks},
		{"ProjectionCursor", testProjectionCursor},
		{"BlockCursor", testBlockCursor},
		{"RunState", testRunState},
		{"KeyValueStore", testKeyValueStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := initDB(t)
			defer cleanupDB(t)
			tt.fn(t, store)
		})
	}
}
