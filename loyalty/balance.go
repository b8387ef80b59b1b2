/*
balance.go - Balance Tracker

PURPOSE:
  Maintains the per-(company, client) counters. Inbound events are a
  completed purchase (RecordPurchase) or a manual admin grant (GrantPoints).

COUNTERS:
  Points:                lifetime tier points, never decreases
  SpendSinceLastReward:  spend accumulated toward the next spend reward
  PointsSinceLastRepeat: points accumulated toward the next repeat reward
  Baseline:              tier floor, owned by the Threshold Evaluator

ROLLOVER:
  A single payment may cover several spend targets. ApplySpend emits one
  spend reward per full target consumed and keeps the remainder:

    target 100, payment 250 -> 2 rewards, 50 carried over

EXAMPLE:
  ratio {amountUnit: 500, pointsPerUnit: 5}
  ApplyPointsFromSpend(1000) -> floor(1000/500) * 5 = 10 points
  ApplyPointsFromSpend(499)  -> 0 points, balance untouched

SEE ALSO:
  - evaluator.go: Tier and rollover reward issuance
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Purchase is a completed order reported by the order subsystem.
type Purchase struct {
	CompanyID CompanyID
	ClientID  ClientID
	Amount    decimal.Decimal
	OrderID   OrderID
}

type PurchaseResult struct {
	PointsAwarded int64
	PointsTotal   int64
	TierRewards   int
	SpendRewards  int
	RepeatRewards int
}

func (e *Engine) loadBalance(ctx context.Context, companyID CompanyID, clientID ClientID) (Balance, error) {
	b, ok, err := e.Store.GetBalance(ctx, BalanceKey{CompanyID: companyID, ClientID: clientID})
	if err != nil {
		return Balance{}, fmt.Errorf("load balance %s/%s: %w", companyID, clientID, err)
	}
	if !ok {
		return NewBalance(companyID, clientID), nil
	}
	return b, nil
}

func (e *Engine) saveBalance(ctx context.Context, b Balance) error {
	b.UpdatedAt = e.now()
	if err := e.Store.SaveBalance(ctx, b); err != nil {
		return fmt.Errorf("save balance %s/%s: %w", b.CompanyID, b.ClientID, err)
	}
	return nil
}

// PointsFor converts an amount into points under ratio, flooring both the
// number of units and the resulting points.
func PointsFor(ratio Ratio, amount decimal.Decimal) int64 {
	if !amount.IsPositive() || !ratio.AmountUnit.IsPositive() {
		return 0
	}
	units := amount.Div(ratio.AmountUnit).Floor()
	return units.Mul(ratio.PointsPerUnit).Floor().IntPart()
}

// =============================================================================
// POINTS
// =============================================================================

// ApplyPointsFromSpend credits floor(amount / amountUnit) * pointsPerUnit
// points. Nothing changes when that is zero. Tier rewards are evaluated
// separately by OnPointsChanged.
func (e *Engine) ApplyPointsFromSpend(ctx context.Context, companyID CompanyID, clientID ClientID, amount decimal.Decimal) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: purchase amount %s", ErrInvalidAmount, amount)
	}
	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return 0, err
	}

	awarded := PointsFor(program.Ratio, amount)
	if awarded <= 0 {
		return 0, nil
	}
	if _, err := e.creditPoints(ctx, companyID, clientID, awarded, "purchase"); err != nil {
		return 0, err
	}
	return awarded, nil
}

func (e *Engine) creditPoints(ctx context.Context, companyID CompanyID, clientID ClientID, points int64, source string) (Balance, error) {
	b, err := e.loadBalance(ctx, companyID, clientID)
	if err != nil {
		return Balance{}, err
	}
	b.Points += points
	if err := e.saveBalance(ctx, b); err != nil {
		return Balance{}, err
	}
	e.Metrics.ObservePointsAwarded(source, points)
	return b, nil
}

// GrantPoints is the manual admin path: it credits points directly and
// runs tier and repeat evaluation on the new total.
func (e *Engine) GrantPoints(ctx context.Context, companyID CompanyID, clientID ClientID, points int64) (*PurchaseResult, error) {
	if points <= 0 {
		return nil, fmt.Errorf("%w: granted points must be positive, got %d", ErrInvalidAmount, points)
	}
	if _, err := e.GetOrCreateProgram(ctx, companyID); err != nil {
		return nil, err
	}

	b, err := e.creditPoints(ctx, companyID, clientID, points, "grant")
	if err != nil {
		return nil, err
	}
	result := &PurchaseResult{PointsAwarded: points, PointsTotal: b.Points}

	if result.TierRewards, err = e.OnPointsChanged(ctx, companyID, clientID, b.Points); err != nil {
		return result, err
	}
	if result.RepeatRewards, err = e.ApplyRepeat(ctx, companyID, clientID, points); err != nil {
		return result, err
	}

	e.log().Info("loyalty points granted",
		"company_id", companyID,
		"client_id", clientID,
		"points", points,
		"total", b.Points,
	)
	return result, nil
}

// =============================================================================
// SPEND
// =============================================================================

// ApplySpend adds amount to the running spend and emits one spend reward
// per full target consumed. Returns the number of rewards emitted. Without
// a configured spend reward this is a no-op.
func (e *Engine) ApplySpend(ctx context.Context, companyID CompanyID, clientID ClientID, amount decimal.Decimal) (int, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: purchase amount %s", ErrInvalidAmount, amount)
	}
	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return 0, err
	}
	if program.SpendReward == nil || !program.SpendReward.TargetAmount.IsPositive() || !amount.IsPositive() {
		return 0, nil
	}
	target := program.SpendReward.TargetAmount

	b, err := e.loadBalance(ctx, companyID, clientID)
	if err != nil {
		return 0, err
	}

	running := b.SpendSinceLastReward.Add(amount)
	emitted := 0
	for running.GreaterThanOrEqual(target) {
		b.SpendRewardsIssued++
		key := RewardKey{
			CompanyID: companyID,
			ClientID:  clientID,
			Kind:      RewardSpend,
			Trigger:   target,
			Sequence:  b.SpendRewardsIssued,
		}
		if _, err := e.issueReward(ctx, key, InsertIfNoPending); err != nil {
			return emitted, err
		}
		running = running.Sub(target)
		emitted++
	}

	b.SpendSinceLastReward = running
	if err := e.saveBalance(ctx, b); err != nil {
		return emitted, err
	}
	return emitted, nil
}

// =============================================================================
// PURCHASE
// =============================================================================

// RecordPurchase is the entry point for the order subsystem: it credits
// points, evaluates tiers on the new total, then runs the spend and
// repeat rollovers.
func (e *Engine) RecordPurchase(ctx context.Context, p Purchase) (*PurchaseResult, error) {
	awarded, err := e.ApplyPointsFromSpend(ctx, p.CompanyID, p.ClientID, p.Amount)
	if err != nil {
		return nil, err
	}

	b, err := e.loadBalance(ctx, p.CompanyID, p.ClientID)
	if err != nil {
		return nil, err
	}
	result := &PurchaseResult{PointsAwarded: awarded, PointsTotal: b.Points}

	if awarded > 0 {
		if result.TierRewards, err = e.OnPointsChanged(ctx, p.CompanyID, p.ClientID, b.Points); err != nil {
			return result, err
		}
	}
	if result.SpendRewards, err = e.ApplySpend(ctx, p.CompanyID, p.ClientID, p.Amount); err != nil {
		return result, err
	}
	if result.RepeatRewards, err = e.ApplyRepeat(ctx, p.CompanyID, p.ClientID, awarded); err != nil {
		return result, err
	}

	e.log().Info("loyalty purchase recorded",
		"company_id", p.CompanyID,
		"client_id", p.ClientID,
		"order_id", p.OrderID,
		"amount", p.Amount.String(),
		"points_awarded", awarded,
		"rewards", result.TierRewards+result.SpendRewards+result.RepeatRewards,
	)
	return result, nil
}
