package block_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/block"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/mocks"
)

func TestMain(m *testing.M) {
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// testBlockProviderMocks contains all the mocks needed for testing the block provider
type testBlockProviderMocks struct {
	ctrl     *gomock.Controller
	fetcher  *mocks.MockBlockFetcher
	clock    *mocks.MockClock
	provider block.BlockProvider
}

func setupTest(t *testing.T, config block.Config) *testBlockProviderMocks {
	ctrl := gomock.NewController(t)

	mockFetcher := mocks.NewMockBlockFetcher(ctrl)
	mockClock := mocks.NewMockClock(ctrl)

	return &testBlockProviderMocks{
		ctrl:     ctrl,
		fetcher:  mockFetcher,
		clock:    mockClock,
		provider: block.NewBlockProvider(mockFetcher, config, mockClock),
	}
}

var defaultConfig = block.Config{
	TTL:         10 * time.Second,
	StaleWindow: 2 * time.Minute,
}

func TestBlockProvider_GetLatestBlock_UsesCache_WithinTTL(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.clock.EXPECT().Now().Return(now)
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1000), nil)

	blockNum, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), blockNum)

	// Within TTL: no fetch
	tm.clock.EXPECT().Now().Return(now.Add(5 * time.Second))

	blockNum, err = tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), blockNum)
}

func TestBlockProvider_GetLatestBlock_RefreshesCache_AfterTTL(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.clock.EXPECT().Now().Return(now)
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1000), nil)
	_, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)

	tm.clock.EXPECT().Now().Return(now.Add(15 * time.Second))
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1100), nil)

	blockNum, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), blockNum)
}

func TestBlockProvider_GetLatestBlock_NeverMovesBackwards(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.clock.EXPECT().Now().Return(now)
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1000), nil)
	_, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)

	tm.clock.EXPECT().Now().Return(now.Add(15 * time.Second))
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(998), nil)

	blockNum, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), blockNum)
}

func TestBlockProvider_GetLatestBlock_UsesStaleCacheOnError_WithinStaleWindow(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.clock.EXPECT().Now().Return(now)
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1000), nil)
	_, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)

	tm.clock.EXPECT().Now().Return(now.Add(30 * time.Second))
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(0), errors.New("network error"))

	blockNum, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), blockNum)
}

func TestBlockProvider_GetLatestBlock_ReturnsError_WhenStaleCache_BeyondStaleWindow(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.clock.EXPECT().Now().Return(now)
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(1000), nil)
	_, err := tm.provider.GetLatestBlock(ctx)
	require.NoError(t, err)

	tm.clock.EXPECT().Now().Return(now.Add(3 * time.Minute))
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(0), errors.New("network error"))

	_, err = tm.provider.GetLatestBlock(ctx)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no valid cache available")
}

func TestBlockProvider_GetLatestBlock_ReturnsError_WhenNoCache_AndFetchFails(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()

	tm.clock.EXPECT().Now().Return(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(uint64(0), errors.New("network error"))

	_, err := tm.provider.GetLatestBlock(ctx)
	assert.Error(t, err)
}

func TestBlockProvider_GetSafeBlock(t *testing.T) {
	tests := []struct {
		name          string
		head          uint64
		confirmations uint64
		expected      uint64
	}{
		{name: "buried under confirmations", head: 1000, confirmations: 12, expected: 988},
		{name: "no confirmations", head: 1000, confirmations: 0, expected: 1000},
		{name: "chain shorter than confirmations", head: 5, confirmations: 12, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := setupTest(t, defaultConfig)
			ctx := context.Background()

			tm.clock.EXPECT().Now().Return(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			tm.fetcher.EXPECT().FetchLatestBlock(ctx).Return(tt.head, nil)

			safe, err := tm.provider.GetSafeBlock(ctx, tt.confirmations)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, safe)
		})
	}
}

func TestBlockProvider_GetBlockTimestamp_CachesForever(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	// Non-UTC timestamps are normalized
	blockTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.FixedZone("UTC+7", 7*3600))

	tm.fetcher.EXPECT().FetchBlockTimestamp(ctx, uint64(1000)).Return(blockTime, nil).Times(1)

	for i := 0; i < 3; i++ {
		timestamp, err := tm.provider.GetBlockTimestamp(ctx, 1000)
		require.NoError(t, err)
		assert.True(t, blockTime.Equal(timestamp))
		assert.Equal(t, time.UTC, timestamp.Location())
	}
}

func TestBlockProvider_GetBlockTimestamp_ReturnsError_WhenFetchFails(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()

	tm.fetcher.EXPECT().FetchBlockTimestamp(ctx, uint64(1000)).Return(time.Time{}, errors.New("network error"))

	_, err := tm.provider.GetBlockTimestamp(ctx, 1000)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "block 1000")
}

func TestBlockProvider_GetBlockTimestamp_EvictsLowestBlocks(t *testing.T) {
	tm := setupTest(t, block.Config{MaxCachedTimestamps: 2})
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for n := uint64(1); n <= 3; n++ {
		tm.fetcher.EXPECT().FetchBlockTimestamp(ctx, n).Return(base.Add(time.Duration(n)*12*time.Second), nil)
		_, err := tm.provider.GetBlockTimestamp(ctx, n)
		require.NoError(t, err)
	}

	// Blocks 2 and 3 are still cached; block 1 was evicted
	_, err := tm.provider.GetBlockTimestamp(ctx, 3)
	require.NoError(t, err)
	_, err = tm.provider.GetBlockTimestamp(ctx, 2)
	require.NoError(t, err)

	tm.fetcher.EXPECT().FetchBlockTimestamp(ctx, uint64(1)).Return(base.Add(12*time.Second), nil)
	_, err = tm.provider.GetBlockTimestamp(ctx, 1)
	require.NoError(t, err)
}

func TestBlockProvider_GetBlockTimestamp_ConcurrentAccess(t *testing.T) {
	tm := setupTest(t, defaultConfig)
	ctx := context.Background()
	blockTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tm.fetcher.EXPECT().FetchBlockTimestamp(ctx, uint64(1000)).Return(blockTime, nil).MinTimes(1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			timestamp, err := tm.provider.GetBlockTimestamp(ctx, 1000)
			assert.NoError(t, err)
			assert.Equal(t, blockTime, timestamp)
		}()
	}
	wg.Wait()
}
