package engine

import (
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

func TestArtworkMinted_CreatesMasterAndControllers(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 3)

	master := f.token("5")
	require.NotNil(t, master)
	assert.True(t, master.IsMaster)
	assert.Equal(t, creatorAddr, master.Owner)
	assert.Equal(t, []string{"6", "7", "8"}, master.ControllerIDs)
	assert.True(t, master.AllControllersAtDefault)
	assert.Equal(t, domain.Amount("10"), master.PlatformFirstSalePercentage)

	for _, id := range []string{"6", "7", "8"} {
		child := f.token(id)
		require.NotNil(t, child, "token %s", id)
		assert.False(t, child.IsMaster)
		require.NotNil(t, child.MasterID)
		assert.Equal(t, "5", *child.MasterID)
		assert.Equal(t, artistAddr, child.Owner)
		assert.True(t, child.LeversAtDefault)

		controller := getEntity[domain.TokenController](t, f.store, domain.EntityTokenController, domain.ControllerKey(id))
		require.NotNil(t, controller)
		assert.Equal(t, id, controller.TokenID)
		assert.Equal(t, []string{"1", "2"}, controller.LeverIDs)
		assert.Equal(t, domain.Amount("10"), controller.NumberOfRemainingUpdates)
		assert.Equal(t, uint64(0), controller.NumberOfUpdates)

		for _, leverID := range controller.LeverIDs {
			lever := getEntity[domain.TokenControlLever](t, f.store, domain.EntityTokenControlLever, domain.LeverKey(id, leverID))
			require.NotNil(t, lever)
			assert.Equal(t, domain.Amount("50"), lever.CurrentValue)
			assert.True(t, lever.AtDefault())
		}
	}

	// Only ids in the range exist
	assert.Nil(t, f.token("9"))
	assert.Nil(t, getEntity[domain.TokenController](t, f.store, domain.EntityTokenController, domain.ControllerKey("5")))

	cfg := getEntity[domain.GlobalConfig](t, f.store, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
	require.NotNil(t, cfg)
	require.NotNil(t, cfg.LatestMasterTokenID)
	assert.Equal(t, "5", *cfg.LatestMasterTokenID)

	assert.Equal(t, []string{"5"}, f.links(domain.EntityUser, creatorAddr, domain.RelationOwnedMasters))
	assert.Equal(t, []string{"6", "7", "8"}, f.links(domain.EntityUser, artistAddr, domain.RelationOwnedControllers))
}

func TestTransfer(t *testing.T) {
	t.Run("mint transfer before creation is skipped", func(t *testing.T) {
		f := newFixture(t)
		result := f.apply(&domain.Transfer{TokenID: "5", From: domain.ETHEREUM_ZERO_ADDRESS, To: creatorAddr})
		assert.Equal(t, 0, result.Upserts)
		assert.Nil(t, f.token("5"))
	})

	t.Run("transfer of an unknown token is a consistency error", func(t *testing.T) {
		f := newFixture(t)
		err := f.applyErr(&domain.Transfer{TokenID: "5", From: aliceAddr, To: bobAddr})
		assert.True(t, domain.IsConsistencyError(err))
		assert.ErrorIs(t, err, domain.ErrTokenNotFound)
	})

	t.Run("ownership change resets price and archives bid", func(t *testing.T) {
		f := newFixture(t)
		f.mint("5", 1)
		f.apply(&domain.BuyPriceSet{TokenID: "6", Price: "500"})
		f.apply(&domain.BidProposed{TokenID: "6", Bidder: aliceAddr, Amount: "100"})
		bidID := domain.BidKey("6", txHash(f.block))

		f.apply(&domain.Transfer{TokenID: "6", From: artistAddr, To: bobAddr})
		transferBlock := f.block

		token := f.token("6")
		assert.Equal(t, bobAddr, token.Owner)
		assert.True(t, token.BuyPrice.IsZero())
		assert.Nil(t, token.CurrentBid)

		bid := f.bid(bidID)
		assert.False(t, bid.Active)
		assert.False(t, bid.Accepted)

		assert.Equal(t, []string{bidID}, f.links(domain.EntityToken, "6", domain.RelationPastBids))
		assert.Equal(t, []string{artistAddr}, f.links(domain.EntityToken, "6", domain.RelationPastOwners))
		assert.Equal(t, []string{"6"}, f.links(domain.EntityUser, bobAddr, domain.RelationOwnedControllers))

		transferID := domain.TransferKey("6", txHash(transferBlock))
		assert.Equal(t, []string{transferID}, f.links(domain.EntityToken, "6", domain.RelationTransfers))
		transfer := getEntity[domain.TokenTransfer](t, f.store, domain.EntityTokenTransfer, transferID)
		require.NotNil(t, transfer)
		assert.Equal(t, artistAddr, transfer.From)
		assert.Equal(t, bobAddr, transfer.To)

		master := f.token("5")
		assert.Equal(t, 0, master.ControllersForSale)
		assert.Equal(t, 0, master.ControllersWithBids)
	})

	t.Run("transfer to the current owner keeps past owners unchanged", func(t *testing.T) {
		f := newFixture(t)
		f.mint("5", 1)
		f.apply(&domain.BuyPriceSet{TokenID: "5", Price: "500"})
		f.apply(&domain.Transfer{TokenID: "5", From: creatorAddr, To: creatorAddr})

		assert.Empty(t, f.links(domain.EntityToken, "5", domain.RelationPastOwners))
		assert.True(t, f.token("5").BuyPrice.IsZero())
	})
}

func TestPermissionUpdated(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)

	f.apply(&domain.PermissionUpdated{TokenID: "6", Owner: artistAddr, Permissioned: carolAddr})
	token := f.token("6")
	require.NotNil(t, token.PermissionedAddress)
	assert.Equal(t, carolAddr, *token.PermissionedAddress)

	f.apply(&domain.PermissionUpdated{TokenID: "6", Owner: artistAddr, Permissioned: domain.ETHEREUM_ZERO_ADDRESS})
	assert.Nil(t, f.token("6").PermissionedAddress)
}

func TestPlatformSalePercentageUpdated(t *testing.T) {
	f := newFixture(t)
	f.mint("5", 1)

	f.apply(&domain.PlatformSalePercentageUpdated{TokenID: "6", FirstSalePercentage: "25", SecondSalePercentage: "3"})
	token := f.token("6")
	assert.Equal(t, domain.Amount("25"), token.PlatformFirstSalePercentage)
	assert.Equal(t, domain.Amount("3"), token.PlatformSecondSalePercentage)

	err := f.applyErr(&domain.PlatformSalePercentageUpdated{TokenID: "99", FirstSalePercentage: "1", SecondSalePercentage: "1"})
	assert.True(t, domain.IsConsistencyError(err))
}

func TestGlobalConfig(t *testing.T) {
	t.Run("initialized from the source once and updated by events", func(t *testing.T) {
		f := newBareFixture(t)
		f.querier.EXPECT().GlobalConfig(gomock.Any(), uint64(101)).Return(defaultSnapshot, nil).Times(1)

		f.apply(&domain.PlatformAddressUpdated{PlatformAddress: aliceAddr})
		f.apply(&domain.DefaultPlatformSalePercentageUpdated{FirstSalePercentage: "15", SecondSalePercentage: "2"})
		f.apply(&domain.ArtistSecondSalePercentageUpdated{Percentage: "7"})

		cfg := getEntity[domain.GlobalConfig](t, f.store, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
		require.NotNil(t, cfg)
		require.NotNil(t, cfg.PlatformAddress)
		assert.Equal(t, aliceAddr, *cfg.PlatformAddress)
		assert.Equal(t, domain.Amount("15"), cfg.PlatformFirstSalePercentage)
		assert.Equal(t, domain.Amount("2"), cfg.PlatformSecondSalePercentage)
		assert.Equal(t, domain.Amount("7"), cfg.ArtistSecondSalePercentage)
		assert.Equal(t, domain.Amount("9"), cfg.ExpectedTotalSupply)
		assert.Equal(t, uint64(101), cfg.RefreshedAtBlock)
	})

	t.Run("creator whitelisting refreshes from the source", func(t *testing.T) {
		f := newBareFixture(t)
		refreshed := *defaultSnapshot
		refreshed.ExpectedTotalSupply = "14"
		gomock.InOrder(
			f.querier.EXPECT().GlobalConfig(gomock.Any(), uint64(101)).Return(defaultSnapshot, nil),
			f.querier.EXPECT().GlobalConfig(gomock.Any(), uint64(102)).Return(&refreshed, nil),
		)

		core, logs := observer.New(zapcore.InfoLevel)
		defer logger.Replace(zap.New(core))()

		f.apply(&domain.ArtistSecondSalePercentageUpdated{Percentage: "7"})
		f.apply(&domain.CreatorWhitelisted{Creator: creatorAddr, MasterTokenID: "10", LayerCount: "4"})

		assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
		whitelisted := logs.FilterMessage("Creator whitelisted").AllUntimed()
		require.Len(t, whitelisted, 1)
		assert.Equal(t, "10", whitelisted[0].ContextMap()["master_token_id"])
		assert.Equal(t, "4", whitelisted[0].ContextMap()["layer_count"])

		cfg := getEntity[domain.GlobalConfig](t, f.store, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
		assert.Equal(t, domain.Amount("14"), cfg.ExpectedTotalSupply)
		assert.Equal(t, uint64(102), cfg.RefreshedAtBlock)
		// Source values win on refresh
		assert.Equal(t, domain.Amount("10"), cfg.ArtistSecondSalePercentage)
		assert.NotNil(t, getEntity[domain.User](t, f.store, domain.EntityUser, creatorAddr))
	})

	t.Run("supply that does not match the whitelisted layers keeps the source value", func(t *testing.T) {
		f := newBareFixture(t)
		refreshed := *defaultSnapshot
		refreshed.ExpectedTotalSupply = "12"
		gomock.InOrder(
			f.querier.EXPECT().GlobalConfig(gomock.Any(), uint64(101)).Return(defaultSnapshot, nil),
			f.querier.EXPECT().GlobalConfig(gomock.Any(), uint64(102)).Return(&refreshed, nil),
		)

		core, logs := observer.New(zapcore.InfoLevel)
		defer logger.Replace(zap.New(core))()

		f.apply(&domain.ArtistSecondSalePercentageUpdated{Percentage: "7"})
		f.apply(&domain.CreatorWhitelisted{Creator: creatorAddr, MasterTokenID: "10", LayerCount: "4"})

		warnings := logs.FilterLevelExact(zapcore.WarnLevel).AllUntimed()
		require.Len(t, warnings, 1)
		assert.Equal(t, "9", warnings[0].ContextMap()["previous_supply"])
		assert.Equal(t, "12", warnings[0].ContextMap()["expected_total_supply"])

		cfg := getEntity[domain.GlobalConfig](t, f.store, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
		assert.Equal(t, domain.Amount("12"), cfg.ExpectedTotalSupply)
	})

	t.Run("source failure on first use is retryable and writes nothing", func(t *testing.T) {
		f := newBareFixture(t)
		f.querier.EXPECT().GlobalConfig(gomock.Any(), gomock.Any()).Return(nil, errors.New("rpc down"))

		err := f.applyErr(&domain.PlatformAddressUpdated{PlatformAddress: aliceAddr})
		assert.True(t, domain.IsRetryable(err))
		assert.Equal(t, 0, f.store.Writes())

		cursor, err := f.store.GetProjectionCursor(f.ctx, DefaultCursorName)
		require.NoError(t, err)
		assert.Nil(t, cursor)
	})
}
