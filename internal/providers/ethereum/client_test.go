package ethereum

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/mocks"
)

const testContract = "0x00000000000000000000000000000000000000C0"

var (
	testBidder = common.HexToAddress("0x2000000000000000000000000000000000000001")
	testArtist = common.HexToAddress("0x1000000000000000000000000000000000000002")
	testTx     = common.HexToHash("0xabc1")
	testTime   = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// buildLog packs a contract event the way the node would return it
func buildLog(t *testing.T, name string, blockNumber uint64, index uint, txHash common.Hash, indexed []common.Hash, data ...interface{}) types.Log {
	t.Helper()
	event, ok := layerContractABI.Events[name]
	require.True(t, ok, "event %s", name)

	packed, err := event.Inputs.NonIndexed().Pack(data...)
	require.NoError(t, err)

	return types.Log{
		Address:     common.HexToAddress(testContract),
		Topics:      append([]common.Hash{event.ID}, indexed...),
		Data:        packed,
		BlockNumber: blockNumber,
		TxHash:      txHash,
		Index:       index,
	}
}

func uintTopic(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

func addressTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

type clientMocks struct {
	eth    *mocks.MockEthClient
	blocks *mocks.MockBlockProvider
	client Client
}

func setupClient(t *testing.T) *clientMocks {
	ctrl := gomock.NewController(t)
	eth := mocks.NewMockEthClient(ctrl)
	blocks := mocks.NewMockBlockProvider(ctrl)
	return &clientMocks{
		eth:    eth,
		blocks: blocks,
		client: NewClient(testContract, eth, blocks),
	}
}

func (m *clientMocks) expectMetadata(blockNumber uint64, txHash common.Hash) {
	m.blocks.EXPECT().GetBlockTimestamp(gomock.Any(), blockNumber).Return(testTime, nil).AnyTimes()
	m.eth.EXPECT().TransactionReceipt(gomock.Any(), txHash).Return(&types.Receipt{
		GasUsed:           52000,
		EffectiveGasPrice: big.NewInt(30_000_000_000),
	}, nil)
}

func TestParseEventLog_BidProposed(t *testing.T) {
	m := setupClient(t)
	m.expectMetadata(500, testTx)

	vLog := buildLog(t, "BidProposed", 500, 3, testTx,
		[]common.Hash{uintTopic(6), addressTopic(testBidder)},
		big.NewInt(1_000_000))

	event, err := m.client.ParseEventLog(context.Background(), vLog)
	require.NoError(t, err)
	require.NotNil(t, event)

	assert.Equal(t, domain.EventKindBidProposed, event.Kind)
	assert.Equal(t, domain.Position{BlockNumber: 500, LogIndex: 3}, event.Position)
	assert.Equal(t, testTx.Hex(), event.TxHash)
	assert.Equal(t, testTime, event.Timestamp)
	assert.Equal(t, domain.Amount("30000000000"), event.GasPrice)
	assert.Equal(t, domain.Amount("52000"), event.GasUsed)
	assert.Equal(t, common.HexToAddress(testContract).Hex(), event.Contract)
	assert.Equal(t, &domain.BidProposed{TokenID: "6", Bidder: testBidder.Hex(), Amount: "1000000"}, event.Payload)
	assert.NoError(t, event.Validate())
}

func TestParseEventLog_ArtworkMinted(t *testing.T) {
	m := setupClient(t)
	m.expectMetadata(500, testTx)

	creator := common.HexToAddress("0x1000000000000000000000000000000000000001")
	vLog := buildLog(t, "ArtworkMinted", 500, 0, testTx,
		[]common.Hash{uintTopic(5), addressTopic(creator)},
		[]common.Address{testArtist, testArtist},
		[][]*big.Int{{big.NewInt(1), big.NewInt(2)}, {big.NewInt(1)}},
		[][]*big.Int{{big.NewInt(0), big.NewInt(-10)}, {big.NewInt(0)}},
		[][]*big.Int{{big.NewInt(100), big.NewInt(10)}, {big.NewInt(255)}},
		[][]*big.Int{{big.NewInt(50), big.NewInt(0)}, {big.NewInt(128)}},
		[]*big.Int{big.NewInt(10), big.NewInt(3)},
	)

	event, err := m.client.ParseEventLog(context.Background(), vLog)
	require.NoError(t, err)
	require.NotNil(t, event)

	minted, ok := event.Payload.(*domain.ArtworkMinted)
	require.True(t, ok)
	assert.Equal(t, "5", minted.MasterTokenID)
	assert.Equal(t, creator.Hex(), minted.Creator)
	assert.Equal(t, 2, minted.ControllerCount)
	require.Len(t, minted.Controllers, 2)
	assert.Equal(t, domain.ControllerSetup{
		Artist:            testArtist.Hex(),
		LeverIDs:          []string{"1", "2"},
		MinValues:         []domain.Amount{"0", "-10"},
		MaxValues:         []domain.Amount{"100", "10"},
		StartValues:       []domain.Amount{"50", "0"},
		NumAllowedUpdates: "10",
	}, minted.Controllers[0])
	assert.Equal(t, []string{"1"}, minted.Controllers[1].LeverIDs)
	assert.NoError(t, event.Validate())
}

func TestParseEventLog_ControlLeverUpdated(t *testing.T) {
	m := setupClient(t)
	m.expectMetadata(500, testTx)

	vLog := buildLog(t, "ControlLeverUpdated", 500, 1, testTx,
		[]common.Hash{uintTopic(7)},
		big.NewInt(2_000_000_000),
		big.NewInt(9),
		[]*big.Int{big.NewInt(1), big.NewInt(2)},
		[]*big.Int{big.NewInt(50), big.NewInt(-3)},
		[]*big.Int{big.NewInt(60), big.NewInt(-4)},
	)

	event, err := m.client.ParseEventLog(context.Background(), vLog)
	require.NoError(t, err)
	assert.Equal(t, &domain.ControlLeverUpdated{
		TokenID:             "7",
		PriorityTip:         "2000000000",
		NumRemainingUpdates: "9",
		LeverIDs:            []string{"1", "2"},
		PreviousValues:      []domain.Amount{"50", "-3"},
		UpdatedValues:       []domain.Amount{"60", "-4"},
	}, event.Payload)
}

func TestParseEventLog_EventsWithoutData(t *testing.T) {
	owner := common.HexToAddress("0x2000000000000000000000000000000000000002")

	tests := []struct {
		name     string
		event    string
		topics   []common.Hash
		expected domain.EventPayload
	}{
		{
			name:     "bid withdrawn",
			event:    "BidWithdrawn",
			topics:   []common.Hash{uintTopic(6)},
			expected: &domain.BidWithdrawn{TokenID: "6"},
		},
		{
			name:     "mint transfer",
			event:    "Transfer",
			topics:   []common.Hash{addressTopic(common.Address{}), addressTopic(owner), uintTopic(6)},
			expected: &domain.Transfer{TokenID: "6", From: domain.ETHEREUM_ZERO_ADDRESS, To: owner.Hex()},
		},
		{
			name:     "permission revoked",
			event:    "PermissionUpdated",
			topics:   []common.Hash{uintTopic(6), addressTopic(owner), addressTopic(common.Address{})},
			expected: &domain.PermissionUpdated{TokenID: "6", Owner: owner.Hex(), Permissioned: domain.ETHEREUM_ZERO_ADDRESS},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := setupClient(t)
			m.expectMetadata(500, testTx)

			event, err := m.client.ParseEventLog(context.Background(), buildLog(t, tt.event, 500, 0, testTx, tt.topics))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, event.Payload)
		})
	}
}

func TestParseEventLog_SkipsForeignLogs(t *testing.T) {
	m := setupClient(t)
	ctx := context.Background()

	removed := buildLog(t, "BidWithdrawn", 500, 0, testTx, []common.Hash{uintTopic(6)})
	removed.Removed = true

	otherContract := buildLog(t, "BidWithdrawn", 500, 0, testTx, []common.Hash{uintTopic(6)})
	otherContract.Address = common.HexToAddress("0x00000000000000000000000000000000000000C1")

	// ERC20 transfers have no indexed token id
	erc20 := buildLog(t, "Transfer", 500, 0, testTx, []common.Hash{addressTopic(testBidder), addressTopic(testArtist)})
	erc20.Data = common.BigToHash(big.NewInt(1)).Bytes()

	unknown := types.Log{
		Address: common.HexToAddress(testContract),
		Topics:  []common.Hash{common.HexToHash("0xdeadbeef")},
	}

	for _, vLog := range []types.Log{removed, otherContract, erc20, unknown} {
		event, err := m.client.ParseEventLog(ctx, vLog)
		require.NoError(t, err)
		assert.Nil(t, event)
	}
}

func TestParseEventLog_ReceiptCachedPerTransaction(t *testing.T) {
	m := setupClient(t)
	m.expectMetadata(500, testTx)
	ctx := context.Background()

	for i := uint(0); i < 3; i++ {
		vLog := buildLog(t, "BuyPriceSet", 500, i, testTx, []common.Hash{uintTopic(6)}, big.NewInt(int64(i)))
		event, err := m.client.ParseEventLog(ctx, vLog)
		require.NoError(t, err)
		assert.Equal(t, domain.Amount("52000"), event.GasUsed)
	}
}

func TestParseEventLog_MetadataFailures(t *testing.T) {
	ctx := context.Background()
	vLog := buildLog(t, "BidWithdrawn", 500, 0, testTx, []common.Hash{uintTopic(6)})

	t.Run("timestamp", func(t *testing.T) {
		m := setupClient(t)
		m.blocks.EXPECT().GetBlockTimestamp(gomock.Any(), uint64(500)).Return(time.Time{}, errors.New("rpc down"))

		_, err := m.client.ParseEventLog(ctx, vLog)
		assert.ErrorContains(t, err, "rpc down")
	})

	t.Run("receipt", func(t *testing.T) {
		m := setupClient(t)
		m.blocks.EXPECT().GetBlockTimestamp(gomock.Any(), uint64(500)).Return(testTime, nil)
		m.eth.EXPECT().TransactionReceipt(gomock.Any(), testTx).Return(nil, errors.New("not found"))

		_, err := m.client.ParseEventLog(ctx, vLog)
		assert.ErrorContains(t, err, "receipt")
	})
}

func TestFilterLogs_HalvesStepOnTooManyResults(t *testing.T) {
	m := setupClient(t)
	ctx := context.Background()

	query := ethereum.FilterQuery{FromBlock: big.NewInt(0), ToBlock: big.NewInt(149_999)}

	var ranges [][2]uint64
	m.eth.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
			from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
			ranges = append(ranges, [2]uint64{from, to})
			if to-from+1 > 50_000 {
				return nil, errors.New("query returned more than 10000 results")
			}
			return []types.Log{{BlockNumber: from}}, nil
		}).Times(4)

	logs, err := m.client.FilterLogs(ctx, query)
	require.NoError(t, err)
	assert.Len(t, logs, 3)
	assert.Equal(t, [][2]uint64{
		{0, 99_999},
		{0, 49_999},
		{50_000, 99_999},
		{100_000, 149_999},
	}, ranges)
}

func TestFilterLogs_ReturnsOtherErrors(t *testing.T) {
	m := setupClient(t)

	m.eth.EXPECT().FilterLogs(gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	_, err := m.client.FilterLogs(context.Background(), ethereum.FilterQuery{FromBlock: big.NewInt(1), ToBlock: big.NewInt(10)})
	assert.ErrorContains(t, err, "connection refused")
}
