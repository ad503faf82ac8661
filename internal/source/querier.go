package source

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// GlobalSnapshot is the contract-wide configuration as read from the chain
type GlobalSnapshot struct {
	ArtistSecondSalePercentage   domain.Amount
	PlatformFirstSalePercentage  domain.Amount
	PlatformSecondSalePercentage domain.Amount
	PlatformAddress              string
	ExpectedTotalSupply          domain.Amount
}

// Querier reads state the events do not carry from the authoritative source.
// Reads are pinned to a block so that replays see the same answers.
//
//go:generate mockgen -source=querier.go -destination=../mocks/querier.go -package=mocks -mock_names=Querier=MockQuerier
type Querier interface {
	// CurrentPermission returns the address the owner allowed to control the token, or nil when none
	CurrentPermission(ctx context.Context, tokenID string, owner string, blockNumber uint64) (*string, error)
	// GlobalConfig returns the fee percentages, platform address and expected supply
	GlobalConfig(ctx context.Context, blockNumber uint64) (*GlobalSnapshot, error)
}

// RetryConfig configures the exponential backoff of source reads
type RetryConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration

	// RequestsPerSecond caps attempts against the node, retries included.
	// Zero disables the limit.
	RequestsPerSecond float64
	Burst             int
}

type retryingQuerier struct {
	querier Querier
	config  RetryConfig
	limiter *rate.Limiter
}

// NewRetryingQuerier wraps a querier so that failed reads are retried with
// exponential backoff. A read that still fails is returned as a domain.UpstreamError.
func NewRetryingQuerier(querier Querier, config RetryConfig) Querier {
	r := &retryingQuerier{querier: querier, config: config}
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return r
}

// CurrentPermission returns the permissioned address, retrying failed reads
func (r *retryingQuerier) CurrentPermission(ctx context.Context, tokenID string, owner string, blockNumber uint64) (*string, error) {
	var permissioned *string
	err := r.retry(ctx, "currentPermission", func() error {
		var err error
		permissioned, err = r.querier.CurrentPermission(ctx, tokenID, owner, blockNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return permissioned, nil
}

// GlobalConfig returns the global configuration, retrying failed reads
func (r *retryingQuerier) GlobalConfig(ctx context.Context, blockNumber uint64) (*GlobalSnapshot, error) {
	var snapshot *GlobalSnapshot
	err := r.retry(ctx, "globalConfig", func() error {
		var err error
		snapshot, err = r.querier.GlobalConfig(ctx, blockNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

func (r *retryingQuerier) retry(ctx context.Context, op string, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.InitialInterval
	b.MaxInterval = r.config.MaxInterval
	b.MaxElapsedTime = r.config.MaxElapsedTime
	if b.InitialInterval == 0 {
		b.InitialInterval = 500 * time.Millisecond
	}
	if b.MaxInterval == 0 {
		b.MaxInterval = 10 * time.Second
	}

	var attemptCount int
	notifyOnError := func(err error, duration time.Duration) {
		attemptCount++
		logger.WarnCtx(ctx, "Source read failed, retrying",
			zap.String("op", op),
			zap.Error(err),
			zap.Int("attempt", attemptCount),
			zap.Duration("next_retry_in", duration),
		)
	}

	attempt := func() error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		return operation()
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(b, ctx), notifyOnError); err != nil {
		return domain.NewUpstreamError(op, err)
	}

	return nil
}
