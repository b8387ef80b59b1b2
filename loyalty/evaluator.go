/*
evaluator.go - Threshold Evaluator

PURPOSE:
  Decides which rewards newly become due and writes them to the ledger
  through conditional inserts. Every entry point is idempotent: running it
  twice creates no second record.

TIER ADDED (OnTierAdded):
  Compare the new threshold with the highest threshold before insertion.

  Raises the bar (new > previous max):
    Every balance gets Baseline = Points. Clients already past the old
    maximum must earn the new tier through future points, not from having
    crossed the old one.

  Slots in below the previous max:
    Every client with Points >= threshold gets the tier now, unless an
    undelivered record for that threshold is already pending.

POINTS CHANGED (OnPointsChanged):
  For every tier with Baseline < PointsRequired <= newTotal, insert a tier
  record keyed (client, company, PointsRequired) unless one exists in any
  delivered state.

  Example, tiers [100, 200], baseline 0:
    total 10  -> nothing
    total 150 -> tier 100
    total 250 -> tier 200 (tier 100 already recorded, untouched)

REPEAT (ApplyRepeat):
  Same rollover shape as ApplySpend, counted in points.

SEE ALSO:
  - store.go: InsertScope semantics
  - balance.go: Callers
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// issueReward writes a reward for key unless scope forbids it.
func (e *Engine) issueReward(ctx context.Context, key RewardKey, scope InsertScope) (bool, error) {
	rec := RewardRecord{
		ID:        RewardID(e.newID()),
		CompanyID: key.CompanyID,
		ClientID:  key.ClientID,
		Kind:      key.Kind,
		Trigger:   key.Trigger,
		Sequence:  key.Sequence,
		CreatedAt: e.now(),
	}
	inserted, err := e.Store.InsertReward(ctx, rec, scope)
	if err != nil {
		return false, fmt.Errorf("insert %s reward for %s/%s: %w", key.Kind, key.CompanyID, key.ClientID, err)
	}
	if !inserted {
		return false, nil
	}

	e.Metrics.ObserveRewardIssued(string(key.Kind))
	e.log().Info("loyalty reward issued",
		"company_id", key.CompanyID,
		"client_id", key.ClientID,
		"reward_id", rec.ID,
		"kind", key.Kind,
		"trigger", key.Trigger.String(),
		"sequence", key.Sequence,
	)
	return true, nil
}

// OnTierAdded applies the baseline reset or the retroactive grant for a
// tier that was just inserted. previousMax is the highest threshold before
// the insertion. Returns the number of rewards created.
func (e *Engine) OnTierAdded(ctx context.Context, companyID CompanyID, tier Tier, previousMax int64) (int, error) {
	balances, err := e.Store.ListBalances(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("list balances for company %s: %w", companyID, err)
	}

	if tier.PointsRequired > previousMax {
		reset := 0
		for _, b := range balances {
			if b.Baseline == b.Points {
				continue
			}
			b.Baseline = b.Points
			if err := e.saveBalance(ctx, b); err != nil {
				return 0, err
			}
			reset++
		}
		e.log().Info("loyalty baselines reset",
			"company_id", companyID,
			"points_required", tier.PointsRequired,
			"clients", reset,
		)
		return 0, nil
	}

	granted := 0
	for _, b := range balances {
		if b.Points < tier.PointsRequired {
			continue
		}
		ok, err := e.issueReward(ctx, RewardKey{
			CompanyID: companyID,
			ClientID:  b.ClientID,
			Kind:      RewardTier,
			Trigger:   decimal.NewFromInt(tier.PointsRequired),
		}, InsertIfNoPending)
		if err != nil {
			return granted, err
		}
		if ok {
			granted++
		}
	}
	return granted, nil
}

// OnPointsChanged ensures a tier record exists for every tier the client
// has reached above its baseline. Returns the number of records created.
func (e *Engine) OnPointsChanged(ctx context.Context, companyID CompanyID, clientID ClientID, newTotal int64) (int, error) {
	program, err := e.Store.GetProgram(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("load program for company %s: %w", companyID, err)
	}
	if program == nil || len(program.Tiers) == 0 {
		return 0, nil
	}

	b, err := e.loadBalance(ctx, companyID, clientID)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, tier := range program.Tiers {
		if tier.PointsRequired > newTotal {
			break
		}
		if tier.PointsRequired <= b.Baseline {
			continue
		}
		ok, err := e.issueReward(ctx, RewardKey{
			CompanyID: companyID,
			ClientID:  clientID,
			Kind:      RewardTier,
			Trigger:   decimal.NewFromInt(tier.PointsRequired),
		}, InsertIfAbsent)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}

// ApplyRepeat adds points to the repeat counter and emits one repeat
// reward per full interval. Without a configured repeat reward it is a
// no-op returning 0.
func (e *Engine) ApplyRepeat(ctx context.Context, companyID CompanyID, clientID ClientID, points int64) (int, error) {
	if points <= 0 {
		return 0, nil
	}
	program, err := e.Store.GetProgram(ctx, companyID)
	if err != nil {
		return 0, fmt.Errorf("load program for company %s: %w", companyID, err)
	}
	if program == nil || program.RepeatReward == nil || program.RepeatReward.PointsInterval <= 0 {
		return 0, nil
	}
	interval := program.RepeatReward.PointsInterval

	b, err := e.loadBalance(ctx, companyID, clientID)
	if err != nil {
		return 0, err
	}

	running := b.PointsSinceLastRepeat + points
	emitted := 0
	for running >= interval {
		b.RepeatRewardsIssued++
		key := RewardKey{
			CompanyID: companyID,
			ClientID:  clientID,
			Kind:      RewardRepeat,
			Trigger:   decimal.NewFromInt(interval),
			Sequence:  b.RepeatRewardsIssued,
		}
		if _, err := e.issueReward(ctx, key, InsertIfNoPending); err != nil {
			return emitted, err
		}
		running -= interval
		emitted++
	}

	b.PointsSinceLastRepeat = running
	if err := e.saveBalance(ctx, b); err != nil {
		return emitted, err
	}
	return emitted, nil
}
