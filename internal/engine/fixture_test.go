package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/mocks"
	"github.com/feral-file/ff-layer-indexer/internal/source"
	"github.com/feral-file/ff-layer-indexer/internal/store"
)

const (
	creatorAddr  = "0x1000000000000000000000000000000000000001"
	artistAddr   = "0x1000000000000000000000000000000000000002"
	aliceAddr    = "0x2000000000000000000000000000000000000001"
	bobAddr      = "0x2000000000000000000000000000000000000002"
	carolAddr    = "0x2000000000000000000000000000000000000003"
	platformAddr = "0x3000000000000000000000000000000000000001"
)

var defaultSnapshot = &source.GlobalSnapshot{
	ArtistSecondSalePercentage:   "10",
	PlatformFirstSalePercentage:  "10",
	PlatformSecondSalePercentage: "1",
	PlatformAddress:              platformAddr,
	ExpectedTotalSupply:          "9",
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	engine  *Engine
	store   *store.MemoryStore
	querier *mocks.MockQuerier

	block uint64
	// gas applied to the next event
	gasPrice domain.Amount
	gasUsed  domain.Amount
}

// newFixture creates an engine over a memory store. The source answers every
// config read with defaultSnapshot and reports no permission grants.
func newFixture(t *testing.T) *fixture {
	f := newBareFixture(t)
	f.querier.EXPECT().GlobalConfig(gomock.Any(), gomock.Any()).Return(defaultSnapshot, nil).AnyTimes()
	f.querier.EXPECT().CurrentPermission(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, nil).AnyTimes()
	return f
}

// newBareFixture creates an engine whose source has no expectations set
func newBareFixture(t *testing.T) *fixture {
	ctrl := gomock.NewController(t)
	s := store.NewMemoryStore()
	q := mocks.NewMockQuerier(ctrl)

	return &fixture{
		t:        t,
		ctx:      context.Background(),
		engine:   New(Config{}, s, q, adapter.NewCodec(), adapter.NewClock(), nil),
		store:    s,
		querier:  q,
		block:    100,
		gasPrice: "1",
		gasUsed:  "21000",
	}
}

// event wraps a payload in an envelope one block after the previous event
func (f *fixture) event(payload domain.EventPayload) *domain.Event {
	f.block++
	return &domain.Event{
		Kind:      payload.Kind(),
		Position:  domain.Position{BlockNumber: f.block, LogIndex: 0},
		TxHash:    fmt.Sprintf("0x%064x", f.block),
		Timestamp: time.Unix(1600000000+int64(f.block)*12, 0).UTC(),
		GasPrice:  f.gasPrice,
		GasUsed:   f.gasUsed,
		Contract:  "0xb6dAe651468E9593E4581705a09c10A76AC1e0c8",
		Payload:   payload,
	}
}

func (f *fixture) apply(payload domain.EventPayload) *Result {
	f.t.Helper()
	result, err := f.engine.Apply(f.ctx, f.event(payload))
	require.NoError(f.t, err)
	return result
}

// applyTx applies payloads as consecutive logs of one transaction in a new block
func (f *fixture) applyTx(payloads ...domain.EventPayload) {
	f.t.Helper()
	f.block++
	for i, payload := range payloads {
		event := &domain.Event{
			Kind:      payload.Kind(),
			Position:  domain.Position{BlockNumber: f.block, LogIndex: uint64(i)},
			TxHash:    txHash(f.block),
			Timestamp: time.Unix(1600000000+int64(f.block)*12, 0).UTC(),
			GasPrice:  f.gasPrice,
			GasUsed:   f.gasUsed,
			Contract:  "0xb6dAe651468E9593E4581705a09c10A76AC1e0c8",
			Payload:   payload,
		}
		_, err := f.engine.Apply(f.ctx, event)
		require.NoError(f.t, err)
	}
}

func (f *fixture) applyErr(payload domain.EventPayload) error {
	f.t.Helper()
	_, err := f.engine.Apply(f.ctx, f.event(payload))
	require.Error(f.t, err)
	return err
}

// mint creates master masterID with n controllers of two levers each ("1" and "2", start value 50)
func (f *fixture) mint(masterID string, n int) {
	f.t.Helper()
	setups := make([]domain.ControllerSetup, n)
	for i := range setups {
		setups[i] = domain.ControllerSetup{
			Artist:            artistAddr,
			LeverIDs:          []string{"1", "2"},
			MinValues:         []domain.Amount{"0", "0"},
			MaxValues:         []domain.Amount{"100", "100"},
			StartValues:       []domain.Amount{"50", "50"},
			NumAllowedUpdates: "10",
		}
	}
	f.apply(&domain.ArtworkMinted{
		MasterTokenID:   masterID,
		Creator:         creatorAddr,
		ControllerCount: n,
		Controllers:     setups,
	})
}

func (f *fixture) token(id string) *domain.Token {
	return getEntity[domain.Token](f.t, f.store, domain.EntityToken, id)
}

func (f *fixture) bid(id string) *domain.Bid {
	return getEntity[domain.Bid](f.t, f.store, domain.EntityBid, id)
}

func (f *fixture) links(kind domain.EntityKind, id string, relation domain.Relation) []string {
	f.t.Helper()
	links, err := f.store.GetLinks(f.ctx, kind, id, relation)
	require.NoError(f.t, err)
	return links
}

// txHash returns the transaction hash the fixture gave to the event at block
func txHash(block uint64) string {
	return fmt.Sprintf("0x%064x", block)
}

// getEntity reads a committed entity, or nil when absent
func getEntity[T any](t *testing.T, s store.Store, kind domain.EntityKind, id string) *T {
	t.Helper()
	body, err := s.GetEntity(context.Background(), kind, id)
	require.NoError(t, err)
	if body == nil {
		return nil
	}
	var v T
	require.NoError(t, json.Unmarshal(body, &v))
	return &v
}

// activeBids counts bids on a token whose active flag is set
func (f *fixture) activeBids(tokenID string, bidIDs []string) int {
	count := 0
	for _, id := range bidIDs {
		if b := f.bid(id); b != nil && b.TokenID == tokenID && b.Active {
			count++
		}
	}
	return count
}

func normalized(address string) string {
	return domain.NormalizeAddress(address)
}
