package engine

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

func leverUpdate(tokenID string, values ...domain.Amount) *domain.ControlLeverUpdated {
	ids := make([]string, len(values))
	previous := make([]domain.Amount, len(values))
	for i := range values {
		ids[i] = []string{"1", "2"}[i]
		previous[i] = "50"
	}
	return &domain.ControlLeverUpdated{
		TokenID:             tokenID,
		PriorityTip:         "2",
		NumRemainingUpdates: "9",
		LeverIDs:            ids,
		PreviousValues:      previous,
		UpdatedValues:       values,
	}
}

func TestControlLeverUpdated_RunningAverage(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)
	f.gasUsed = "1"

	costs := []domain.Amount{"10", "20", "30"}
	expected := []domain.Amount{"10", "15", "20"}

	for i, cost := range costs {
		f.gasPrice = cost
		f.apply(leverUpdate("6", "60"))

		controller := getEntity[domain.TokenController](t, f.store, domain.EntityTokenController, domain.ControllerKey("6"))
		require.NotNil(t, controller)
		assert.Equal(t, uint64(i+1), controller.NumberOfUpdates)
		assert.Equal(t, expected[i], controller.AverageUpdateCost, "average after update %d", i+1)
	}
}

func TestControlLeverUpdated_AverageMatchesRecomputation(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)
	f.gasUsed = "3"

	gasPrices := []domain.Amount{"7", "1", "1000000000000", "3", "999999999999999999999", "2", "5"}
	sum := new(big.Int)
	for i, gasPrice := range gasPrices {
		f.gasPrice = gasPrice
		f.apply(leverUpdate("6", "60"))

		sum.Add(sum, gasPrice.Mul("3").Big())
		want := new(big.Int).Quo(sum, big.NewInt(int64(i+1)))

		controller := getEntity[domain.TokenController](t, f.store, domain.EntityTokenController, domain.ControllerKey("6"))
		assert.Equal(t, domain.NewAmount(want), controller.AverageUpdateCost, "after %d updates", i+1)
		assert.Equal(t, domain.NewAmount(sum), controller.TotalUpdateCost)
	}
}

func TestControlLeverUpdated_RecordsBatch(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)
	f.gasPrice = "20"
	f.gasUsed = "21000"

	f.apply(leverUpdate("6", "70", "30"))
	f.apply(leverUpdate("6", "80"))

	updates := f.links(domain.EntityTokenController, domain.ControllerKey("6"), domain.RelationUpdates)
	assert.Equal(t, []string{"6-1", "6-2"}, updates)

	first := getEntity[domain.LayerUpdate](t, f.store, domain.EntityLayerUpdate, "6-1")
	require.NotNil(t, first)
	assert.Equal(t, uint64(1), first.UpdateNumber)
	assert.Equal(t, domain.Amount("420000"), first.Cost)
	assert.Equal(t, domain.Amount("2"), first.PriorityTip)
	assert.Equal(t, []string{"6-1", "6-2"}, first.Levers)

	second := getEntity[domain.LayerUpdate](t, f.store, domain.EntityLayerUpdate, "6-2")
	assert.Equal(t, []string{"6-1"}, second.Levers)

	lever1 := getEntity[domain.TokenControlLever](t, f.store, domain.EntityTokenControlLever, "6-1")
	assert.Equal(t, domain.Amount("80"), lever1.CurrentValue)
	assert.Equal(t, uint64(2), lever1.NumberOfUpdates)
	require.NotNil(t, lever1.LatestUpdate)
	assert.Equal(t, "6-2", *lever1.LatestUpdate)

	lever2 := getEntity[domain.TokenControlLever](t, f.store, domain.EntityTokenControlLever, "6-2")
	assert.Equal(t, domain.Amount("30"), lever2.CurrentValue)
	assert.Equal(t, uint64(1), lever2.NumberOfUpdates)

	controller := getEntity[domain.TokenController](t, f.store, domain.EntityTokenController, domain.ControllerKey("6"))
	assert.Equal(t, domain.Amount("9"), controller.NumberOfRemainingUpdates)
	require.NotNil(t, controller.LastUpdate)
	assert.Equal(t, "6-2", *controller.LastUpdate)
}

func TestControlLeverUpdated_MissingLeverIsFatal(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)

	before := f.store.Snapshot()
	err := f.applyErr(&domain.ControlLeverUpdated{
		TokenID:             "6",
		NumRemainingUpdates: "9",
		LeverIDs:            []string{"1", "404"},
		PreviousValues:      []domain.Amount{"50", "0"},
		UpdatedValues:       []domain.Amount{"60", "1"},
	})
	assert.True(t, domain.IsConsistencyError(err))
	assert.ErrorIs(t, err, domain.ErrLeverNotFound)

	// Lever "1" was staged before the failure and must not be visible
	assert.Equal(t, before, f.store.Snapshot())
}

func TestControlLeverUpdated_MasterHasNoController(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)

	err := f.applyErr(leverUpdate("5", "60"))
	assert.True(t, domain.IsConsistencyError(err))
	assert.ErrorIs(t, err, domain.ErrControllerNotFound)
}

func TestApplyUpdateCost(t *testing.T) {
	t.Run("first sample sets the average", func(t *testing.T) {
		c := &domain.TokenController{AverageUpdateCost: "0", TotalUpdateCost: "0"}
		applyUpdateCost(c, "17")
		assert.Equal(t, domain.Amount("17"), c.AverageUpdateCost)
		assert.Equal(t, uint64(1), c.NumberOfUpdates)
	})

	t.Run("missing total falls back to average times count", func(t *testing.T) {
		c := &domain.TokenController{NumberOfUpdates: 2, AverageUpdateCost: "15"}
		applyUpdateCost(c, "30")
		assert.Equal(t, domain.Amount("60"), c.TotalUpdateCost)
		assert.Equal(t, domain.Amount("20"), c.AverageUpdateCost)
	})
}
