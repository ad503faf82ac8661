package engine

import (
	"context"
	"fmt"

	"github.com/feral-file/ff-layer-indexer/internal/domain"
)

// handleControlLeverUpdated applies one batch of lever changes as a single
// layer update and folds its cost into the controller's running average
func (e *Engine) handleControlLeverUpdated(ctx context.Context, u *unitOfWork, event *domain.Event, p *domain.ControlLeverUpdated) error {
	token, err := e.requireToken(ctx, u, event, p.TokenID)
	if err != nil {
		return err
	}

	controllerKey := domain.ControllerKey(token.ID)
	controller, err := loadEntity[domain.TokenController](ctx, u, domain.EntityTokenController, controllerKey)
	if err != nil {
		return err
	}
	if controller == nil {
		return domain.NewConsistencyError(event, fmt.Errorf("%w: %s", domain.ErrControllerNotFound, controllerKey))
	}

	updateNumber := controller.NumberOfUpdates + 1
	updateID := domain.LayerUpdateKey(token.ID, updateNumber)

	leverRefs := make([]string, 0, len(p.LeverIDs))
	for i, leverID := range p.LeverIDs {
		leverKey := domain.LeverKey(token.ID, leverID)
		lever, err := loadEntity[domain.TokenControlLever](ctx, u, domain.EntityTokenControlLever, leverKey)
		if err != nil {
			return err
		}
		if lever == nil {
			return domain.NewConsistencyError(event, fmt.Errorf("%w: %s", domain.ErrLeverNotFound, leverKey))
		}

		lever.PreviousValue = p.PreviousValues[i].Normalize()
		lever.CurrentValue = p.UpdatedValues[i].Normalize()
		lever.NumberOfUpdates++
		latest := updateID
		lever.LatestUpdate = &latest
		if err := u.save(domain.EntityTokenControlLever, lever.ID, lever); err != nil {
			return err
		}
		leverRefs = append(leverRefs, lever.ID)
	}

	cost := event.GasPrice.Mul(event.GasUsed)
	applyUpdateCost(controller, cost)
	controller.NumberOfRemainingUpdates = p.NumRemainingUpdates.Normalize()
	controller.LastUpdate = &updateID
	if err := u.save(domain.EntityTokenController, controller.ID, controller); err != nil {
		return err
	}
	u.appendLink(domain.EntityTokenController, controller.ID, domain.RelationUpdates, updateID)

	update := &domain.LayerUpdate{
		ID:           updateID,
		TokenID:      token.ID,
		Controller:   controller.ID,
		UpdateNumber: updateNumber,
		GasPrice:     event.GasPrice.Normalize(),
		GasUsed:      event.GasUsed.Normalize(),
		Cost:         cost,
		PriorityTip:  p.PriorityTip.Normalize(),
		Levers:       leverRefs,
		TxHash:       event.TxHash,
		BlockNumber:  event.BlockNumber,
		Timestamp:    event.Timestamp.UTC(),
	}
	if err := u.save(domain.EntityLayerUpdate, update.ID, update); err != nil {
		return err
	}

	return e.reconcile(ctx, u, token.ID)
}

// applyUpdateCost counts one more update and recomputes the average cost.
// The first sample sets the average directly. Later averages divide the exact
// running total, so the stored average is always sum/n truncated.
func applyUpdateCost(controller *domain.TokenController, cost domain.Amount) {
	previous := controller.NumberOfUpdates
	controller.NumberOfUpdates = previous + 1

	if previous == 0 {
		controller.TotalUpdateCost = cost
		controller.AverageUpdateCost = cost
		return
	}

	total := controller.TotalUpdateCost
	if total == "" {
		// Records written without a running total
		total = controller.AverageUpdateCost.Mul(domain.AmountFromUint64(previous))
	}
	total = total.Add(cost)

	controller.TotalUpdateCost = total
	controller.AverageUpdateCost = total.Quo(controller.NumberOfUpdates)
}
