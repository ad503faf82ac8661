package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
	"github.com/feral-file/ff-layer-indexer/internal/logger"
)

// reconcile recomputes the master/controller linkage and the derived flags of
// the artwork a token belongs to. Absent records are logged and skipped; only
// store failures are returned.
func (e *Engine) reconcile(ctx context.Context, u *unitOfWork, tokenID string) error {
	token, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, tokenID)
	if err != nil {
		return err
	}
	if token == nil {
		logger.WarnCtx(ctx, "Reconcile skipped: token not found", zap.String("token_id", tokenID))
		return nil
	}

	masterID := token.ID
	if !token.IsMaster {
		if token.MasterID == nil {
			logger.WarnCtx(ctx, "Reconcile skipped: controller token has no master", zap.String("token_id", tokenID))
			return nil
		}
		masterID = *token.MasterID
	}

	return e.reconcileMaster(ctx, u, masterID)
}

func (e *Engine) reconcileMaster(ctx context.Context, u *unitOfWork, masterID string) error {
	master, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, masterID)
	if err != nil {
		return err
	}
	if master == nil {
		logger.WarnCtx(ctx, "Reconcile skipped: master token not found", zap.String("master_id", masterID))
		return nil
	}

	// Children are derived from the id range alone
	childIDs, err := domain.ControllerTokenIDs(master.ID, master.ControllerCount)
	if err != nil {
		logger.WarnCtx(ctx, "Reconcile skipped: invalid master id", zap.String("master_id", masterID), zap.Error(err))
		return nil
	}

	forSale := 0
	withBids := 0
	allAtDefault := true
	for _, childID := range childIDs {
		child, err := e.reconcileChild(ctx, u, master.ID, childID)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}

		if !child.BuyPrice.IsZero() {
			forSale++
		}
		if child.CurrentBid != nil {
			withBids++
		}
		allAtDefault = allAtDefault && child.LeversAtDefault
	}

	master.ControllerIDs = childIDs
	master.ControllersForSale = forSale
	master.ControllersWithBids = withBids
	master.AllControllersAtDefault = allAtDefault
	return u.save(domain.EntityToken, master.ID, master)
}

// reconcileChild links a controller token to its master and controller and
// recomputes whether its levers are at their start values
func (e *Engine) reconcileChild(ctx context.Context, u *unitOfWork, masterID, childID string) (*domain.Token, error) {
	child, err := loadEntity[domain.Token](ctx, u, domain.EntityToken, childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		logger.WarnCtx(ctx, "Reconcile: controller token not found",
			zap.String("master_id", masterID),
			zap.String("token_id", childID))
		return nil, nil
	}

	master := masterID
	child.MasterID = &master
	child.Controller = nil
	child.LeversAtDefault = true

	controllerKey := domain.ControllerKey(childID)
	controller, err := loadEntity[domain.TokenController](ctx, u, domain.EntityTokenController, controllerKey)
	if err != nil {
		return nil, err
	}
	if controller == nil {
		logger.WarnCtx(ctx, "Reconcile: token controller not found", zap.String("token_id", childID))
	} else {
		child.Controller = &controllerKey
		for _, leverID := range controller.LeverIDs {
			lever, err := loadEntity[domain.TokenControlLever](ctx, u, domain.EntityTokenControlLever, domain.LeverKey(childID, leverID))
			if err != nil {
				return nil, err
			}
			if lever == nil {
				logger.WarnCtx(ctx, "Reconcile: lever not found",
					zap.String("token_id", childID),
					zap.String("lever_id", leverID))
				continue
			}
			if !lever.AtDefault() {
				child.LeversAtDefault = false
			}
		}
	}

	if err := u.save(domain.EntityToken, child.ID, child); err != nil {
		return nil, err
	}
	return child, nil
}
