package jetstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	natsjs "github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-layer-indexer/internal/adapter"
	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
	"github.com/feral-file/ff-layer-indexer/internal/messaging"
	"github.com/feral-file/ff-layer-indexer/internal/mocks"
	"github.com/feral-file/ff-layer-indexer/internal/providers/jetstream"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type publisherMocks struct {
	natsJS *mocks.MockNatsJetStream
	conn   *mocks.MockNatsConn
	js     *mocks.MockJetStream
}

func setupPublisherMocks(t *testing.T) *publisherMocks {
	ctrl := gomock.NewController(t)
	return &publisherMocks{
		natsJS: mocks.NewMockNatsJetStream(ctrl),
		conn:   mocks.NewMockNatsConn(ctrl),
		js:     mocks.NewMockJetStream(ctrl),
	}
}

var testConfig = jetstream.Config{
	URL:             "nats://localhost:4222",
	StreamName:      "LAYER_EVENTS",
	MaxReconnects:   3,
	ReconnectWait:   time.Second,
	ConnectionName:  "test-publisher",
	DuplicateWindow: 10 * time.Minute,
}

func testEvent() *domain.Event {
	return &domain.Event{
		Kind:      domain.EventKindBidProposed,
		Position:  domain.Position{BlockNumber: 500, LogIndex: 3},
		TxHash:    "0xabc",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		GasPrice:  "1",
		GasUsed:   "21000",
		Contract:  "0x00000000000000000000000000000000000000C0",
		Payload:   &domain.BidProposed{TokenID: "6", Bidder: "0x2000000000000000000000000000000000000001", Amount: "100"},
	}
}

func TestNewPublisher_EnsuresStream(t *testing.T) {
	m := setupPublisherMocks(t)
	ctx := context.Background()

	m.natsJS.EXPECT().Connect(testConfig.URL, gomock.Any()).Return(m.conn, m.js, nil)
	m.js.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).DoAndReturn(
		func(_ context.Context, cfg natsjs.StreamConfig) (*natsjs.StreamInfo, error) {
			assert.Equal(t, "LAYER_EVENTS", cfg.Name)
			assert.Equal(t, []string{messaging.SubjectFilter}, cfg.Subjects)
			assert.Equal(t, 10*time.Minute, cfg.Duplicates)
			return &natsjs.StreamInfo{Config: cfg}, nil
		})

	pub, err := jetstream.NewPublisher(ctx, testConfig, m.natsJS, adapter.NewCodec())
	require.NoError(t, err)
	require.NotNil(t, pub)

	m.conn.EXPECT().Close()
	pub.Close()
}

func TestNewPublisher_StreamFailureClosesConnection(t *testing.T) {
	m := setupPublisherMocks(t)
	ctx := context.Background()

	m.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(m.conn, m.js, nil)
	m.js.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(nil, errors.New("insufficient resources"))
	m.conn.EXPECT().Close()

	_, err := jetstream.NewPublisher(ctx, testConfig, m.natsJS, adapter.NewCodec())
	assert.ErrorContains(t, err, "insufficient resources")
}

func TestNewPublisher_ConnectFailure(t *testing.T) {
	m := setupPublisherMocks(t)

	m.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(nil, nil, errors.New("no servers available"))

	_, err := jetstream.NewPublisher(context.Background(), testConfig, m.natsJS, adapter.NewCodec())
	assert.ErrorContains(t, err, "no servers available")
}

func TestPublishEvent(t *testing.T) {
	m := setupPublisherMocks(t)
	ctx := context.Background()

	m.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(m.conn, m.js, nil)
	m.js.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)

	pub, err := jetstream.NewPublisher(ctx, testConfig, m.natsJS, adapter.NewCodec())
	require.NoError(t, err)

	event := testEvent()
	m.js.EXPECT().Publish(ctx, "events.layer.bid_proposed", gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, data []byte, opts ...natsjs.PublishOpt) (*natsjs.PubAck, error) {
			assert.Len(t, opts, 1)

			var decoded domain.Event
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, *event, decoded)
			return &natsjs.PubAck{Stream: "LAYER_EVENTS", Sequence: 1}, nil
		})

	require.NoError(t, pub.PublishEvent(ctx, event))
}

func TestPublishEvent_DuplicateIsNotAnError(t *testing.T) {
	m := setupPublisherMocks(t)
	ctx := context.Background()

	m.natsJS.EXPECT().Connect(gomock.Any(), gomock.Any()).Return(m.conn, m.js, nil)
	m.js.EXPECT().CreateOrUpdateStream(ctx, gomock.Any()).Return(&natsjs.StreamInfo{}, nil)

	pub, err := jetstream.NewPublisher(ctx, testConfig, m.natsJS, adapter.NewCodec())
	require.NoError(t, err)

	m.js.EXPECT().Publish(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(&natsjs.PubAck{Duplicate: true}, nil)
	assert.NoError(t, pub.PublishEvent(ctx, testEvent()))

	m.js.EXPECT().Publish(ctx, gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("timeout"))
	assert.ErrorContains(t, pub.PublishEvent(ctx, testEvent()), "500:3")
}
