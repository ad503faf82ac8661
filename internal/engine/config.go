package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// getOrInitConfig returns the configuration singleton, pulling it from the
// source at the event's block the first time it is needed
func (e *Engine) getOrInitConfig(ctx context.Context, u *unitOfWork, event *domain.Event) (*domain.GlobalConfig, error) {
	cfg, err := loadEntity[domain.GlobalConfig](ctx, u, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		return cfg, nil
	}

	cfg = newGlobalConfig()
	if err := e.pullConfig(ctx, cfg, event.BlockNumber); err != nil {
		return nil, err
	}
	if err := u.save(domain.EntityGlobalConfig, cfg.ID, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// refreshConfig re-pulls the source-owned fields of the singleton unconditionally
func (e *Engine) refreshConfig(ctx context.Context, u *unitOfWork, event *domain.Event) (*domain.GlobalConfig, error) {
	cfg, err := loadEntity[domain.GlobalConfig](ctx, u, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = newGlobalConfig()
	}

	if err := e.pullConfig(ctx, cfg, event.BlockNumber); err != nil {
		return nil, err
	}
	if err := u.save(domain.EntityGlobalConfig, cfg.ID, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (e *Engine) pullConfig(ctx context.Context, cfg *domain.GlobalConfig, blockNumber uint64) error {
	snapshot, err := e.querier.GlobalConfig(ctx, blockNumber)
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		return domain.NewUpstreamError("globalConfig", err)
	}

	cfg.ArtistSecondSalePercentage = snapshot.ArtistSecondSalePercentage.Normalize()
	cfg.PlatformFirstSalePercentage = snapshot.PlatformFirstSalePercentage.Normalize()
	cfg.PlatformSecondSalePercentage = snapshot.PlatformSecondSalePercentage.Normalize()
	cfg.PlatformAddress = domain.OptionalAddress(snapshot.PlatformAddress)
	cfg.ExpectedTotalSupply = snapshot.ExpectedTotalSupply.Normalize()
	cfg.RefreshedAtBlock = blockNumber
	return nil
}

func newGlobalConfig() *domain.GlobalConfig {
	return &domain.GlobalConfig{
		ID:                           domain.GLOBAL_CONFIG_ID,
		ArtistSecondSalePercentage:   domain.ZeroAmount,
		PlatformFirstSalePercentage:  domain.ZeroAmount,
		PlatformSecondSalePercentage: domain.ZeroAmount,
		ExpectedTotalSupply:          domain.ZeroAmount,
		TotalSaleAmount:              domain.ZeroAmount,
	}
}

func (e *Engine) handlePlatformAddressUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.PlatformAddressUpdated) error {
	cfg, err := e.getOrInitConfig(ctx, u, event)
	if err != nil {
		return err
	}

	cfg.PlatformAddress = domain.OptionalAddress(p.PlatformAddress)
	return u.save(domain.EntityGlobalConfig, cfg.ID, cfg)
}

func (e *Engine) handleDefaultPlatformSalePercentageUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.DefaultPlatformSalePercentageUpdated) error {
	cfg, err := e.getOrInitConfig(ctx, u, event)
	if err != nil {
		return err
	}

	cfg.PlatformFirstSalePercentage = p.FirstSalePercentage.Normalize()
	cfg.PlatformSecondSalePercentage = p.SecondSalePercentage.Normalize()
	return u.save(domain.EntityGlobalConfig, cfg.ID, cfg)
}

func (e *Engine) handleArtistSecondSalePercentageUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.ArtistSecondSalePercentageUpdated) error {
	cfg, err := e.getOrInitConfig(ctx, u, event)
	if err != nil {
		return err
	}

	cfg.ArtistSecondSalePercentage = p.Percentage.Normalize()
	return u.save(domain.EntityGlobalConfig, cfg.ID, cfg)
}

// handleCreatorWhitelisted refreshes the configuration: whitelisting reserves
// the master and its layers, so the expected supply grows by LayerCount+1.
// The source stays authoritative when it disagrees.
func (e *Engine) handleCreatorWhitelisted(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.CreatorWhitelisted) error {
	prev, err := loadEntity[domain.GlobalConfig](ctx, u, domain.EntityGlobalConfig, domain.GLOBAL_CONFIG_ID)
	if err != nil {
		return err
	}

	cfg, err := e.refreshConfig(ctx, u, event)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.String("creator", p.Creator),
		zap.String("master_token_id", p.MasterTokenID),
		zap.String("layer_count", string(p.LayerCount)),
		zap.String("expected_total_supply", string(cfg.ExpectedTotalSupply)),
	}
	if prev != nil {
		want := prev.ExpectedTotalSupply.Add(p.LayerCount).Add(domain.AmountFromUint64(1))
		if !cfg.ExpectedTotalSupply.Equal(want) {
			logger.WarnEvent(ctx, eventInfo(event), "Expected supply did not grow by the whitelisted layers",
				append(fields, zap.String("previous_supply", string(prev.ExpectedTotalSupply)))...)
		}
	}
	logger.InfoEvent(ctx, eventInfo(event), "Creator whitelisted", fields...)

	_, err = e.resolveUser(ctx, u, event, p.Creator)
	return err
}
