package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"funding_harvester/internal/core"
	apperrors "funding_harvester/pkg/errors"
)

// PositionSize is the opening plan for one delta-neutral pair: how much
// spot to buy on top of what is already held, and the matching perp short.
type PositionSize struct {
	SpotQuantityToBuy        decimal.Decimal
	NewSpotCapitalRequired   decimal.Decimal
	TotalPerpQuantityToShort decimal.Decimal
	ExistingSpotUSDUtilized  decimal.Decimal
	PerpCapitalRequired      decimal.Decimal
}

// CalculatePositionSize splits totalUSDCapital across the two legs of a new
// position. Existing spot holdings count toward the spot leg, so only the
// shortfall is bought; the perp short always matches the full spot quantity
// after the trade. The plan is 1x by contract, so the perp margin equals
// the notional.
func CalculatePositionSize(totalUSDCapital, spotPrice, existingSpotUSD decimal.Decimal) (*PositionSize, error) {
	if !totalUSDCapital.IsPositive() {
		return nil, apperrors.ValidationError{Field: "totalUSDCapital", Value: totalUSDCapital.String(), Message: "must be positive"}
	}
	if !spotPrice.IsPositive() {
		return nil, apperrors.ValidationError{Field: "spotPrice", Value: spotPrice.String(), Message: "must be positive"}
	}
	if existingSpotUSD.IsNegative() {
		return nil, apperrors.ValidationError{Field: "existingSpotUSD", Value: existingSpotUSD.String(), Message: "must not be negative"}
	}

	utilized := decimal.Min(existingSpotUSD, totalUSDCapital)
	newSpotCapital := totalUSDCapital.Sub(utilized)
	return &PositionSize{
		SpotQuantityToBuy:        newSpotCapital.Div(spotPrice),
		NewSpotCapitalRequired:   newSpotCapital,
		TotalPerpQuantityToShort: totalUSDCapital.Div(spotPrice),
		ExistingSpotUSDUtilized:  utilized,
		PerpCapitalRequired:      totalUSDCapital,
	}, nil
}

// RebalanceLegAction names the two-leg adjustment that restores neutrality.
type RebalanceLegAction string

const (
	RebalanceNoAction                RebalanceLegAction = "NO_ACTION"
	RebalanceReduceSpotIncreaseShort RebalanceLegAction = "REDUCE_SPOT_INCREASE_SHORT"
	RebalanceIncreaseSpotReduceShort RebalanceLegAction = "INCREASE_SPOT_REDUCE_SHORT"
)

// RebalancePlan splits an imbalance across both legs. Sides are venue order
// sides: selling perp deepens the short, buying it back shrinks it.
type RebalancePlan struct {
	Action           RebalanceLegAction
	SpotSide         string
	PerpSide         string
	SpotQuantity     decimal.Decimal
	PerpQuantity     decimal.Decimal
	EstimatedCostUSD decimal.Decimal
}

// CalculateRebalanceQuantities halves the net delta across both legs so
// each moves the book the same distance toward neutral. Positions inside
// the imbalance threshold need no action.
func CalculateRebalanceQuantities(pos *core.AnalyzedPosition, spotPrice decimal.Decimal) RebalancePlan {
	if pos.ImbalancePct.LessThanOrEqual(ImbalanceThresholdPct) {
		return RebalancePlan{Action: RebalanceNoAction}
	}
	half := pos.NetDelta.Abs().Div(two)
	plan := RebalancePlan{
		SpotQuantity:     half,
		PerpQuantity:     half,
		EstimatedCostUSD: half.Mul(spotPrice),
	}
	if pos.NetDelta.IsPositive() {
		plan.Action = RebalanceReduceSpotIncreaseShort
		plan.SpotSide = core.SideSell
		plan.PerpSide = core.SideSell
	} else {
		plan.Action = RebalanceIncreaseSpotReduceShort
		plan.SpotSide = core.SideBuy
		plan.PerpSide = core.SideBuy
	}
	return plan
}

// ValidateStrategyPreconditions checks that each wallet can fund its leg
// and that the perp side is unlevered. An empty result means the strategy
// may proceed.
func ValidateStrategyPreconditions(spotBalanceUSD, perpBalanceUSD, minCapitalUSD decimal.Decimal, leverage int) []error {
	var errs []error
	if leverage != 1 {
		errs = append(errs, apperrors.ValidationError{
			Field:   "leverage",
			Value:   fmt.Sprintf("%dx", leverage),
			Message: "delta-neutral strategy requires 1x leverage",
		})
	}
	perLeg := minCapitalUSD.Div(two)
	if spotBalanceUSD.LessThan(perLeg) {
		errs = append(errs, apperrors.ValidationError{
			Field:   "spotBalanceUSD",
			Value:   spotBalanceUSD.String(),
			Message: fmt.Sprintf("insufficient spot balance, need %s per leg", perLeg.String()),
		})
	}
	if perpBalanceUSD.LessThan(perLeg) {
		errs = append(errs, apperrors.ValidationError{
			Field:   "perpBalanceUSD",
			Value:   perpBalanceUSD.String(),
			Message: fmt.Sprintf("insufficient perp balance, need %s per leg", perLeg.String()),
		})
	}
	return errs
}
