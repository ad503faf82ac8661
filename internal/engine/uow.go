package engine

import (
	"bytes"
	"context"
	"fmt"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

type entityRef struct {
	kind domain.EntityKind
	id   string
}

type linkRef struct {
	kind     domain.EntityKind
	id       string
	relation domain.Relation
}

// unitOfWork stages every write of one event. Reads see staged writes first.
// Nothing reaches the store until changeSet is committed, and records whose
// canonical bytes did not change are left out of the change set.
type unitOfWork struct {
	store store.Store
	codec adapter.Codec

	// loaded holds canonical bytes as read from the store; nil marks an absent record
	loaded  map[entityRef][]byte
	staged  map[entityRef][]byte
	order   []entityRef
	appends []store.Link
}

func newUnitOfWork(s store.Store, codec adapter.Codec) *unitOfWork {
	return &unitOfWork{
		store:  s,
		codec:  codec,
		loaded: make(map[entityRef][]byte),
		staged: make(map[entityRef][]byte),
	}
}

// load decodes the current state of an entity into out and reports whether it exists
func (u *unitOfWork) load(ctx context.Context, kind domain.EntityKind, id string, out interface{}) (bool, error) {
	ref := entityRef{kind, id}

	if body, ok := u.staged[ref]; ok {
		return true, u.codec.Unmarshal(body, out)
	}

	body, ok := u.loaded[ref]
	if !ok {
		raw, err := u.store.GetEntity(ctx, kind, id)
		if err != nil {
			return false, err
		}
		if raw != nil {
			body, err = u.codec.Canonicalize(raw)
			if err != nil {
				return false, fmt.Errorf("failed to canonicalize %s %s: %w", kind, id, err)
			}
		}
		u.loaded[ref] = body
	}

	if body == nil {
		return false, nil
	}
	if err := u.codec.Unmarshal(body, out); err != nil {
		return false, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

// save stages the new state of an entity
func (u *unitOfWork) save(kind domain.EntityKind, id string, v interface{}) error {
	body, err := u.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s %s: %w", kind, id, err)
	}

	ref := entityRef{kind, id}
	if _, ok := u.staged[ref]; !ok {
		u.order = append(u.order, ref)
	}
	u.staged[ref] = body
	return nil
}

// appendLink stages an append to an ordered relationship list
func (u *unitOfWork) appendLink(kind domain.EntityKind, id string, relation domain.Relation, target string) {
	u.appends = append(u.appends, store.Link{Kind: kind, ID: id, Relation: relation, Target: target})
}

// changeSet returns the writes that differ from what the store already holds
func (u *unitOfWork) changeSet() store.ChangeSet {
	var changes store.ChangeSet
	for _, ref := range u.order {
		body := u.staged[ref]
		if prev := u.loaded[ref]; prev != nil && bytes.Equal(prev, body) {
			continue
		}
		changes.Upserts = append(changes.Upserts, store.Record{Kind: ref.kind, ID: ref.id, Body: body})
	}
	changes.Appends = append(changes.Appends, u.appends...)
	return changes
}

// loadEntity loads a typed entity, returning nil when absent
func loadEntity[T any](ctx context.Context, u *unitOfWork, kind domain.EntityKind, id string) (*T, error) {
	var v T
	ok, err := u.load(ctx, kind, id, &v)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}
