/*
fulfillment.go - Fulfillment Dispatcher

PURPOSE:
  Converts undelivered rewards into zero-cost orders and flips them to
  delivered. Triggered by an admin (deliver one / deliver all).

SEQUENCE PER REWARD:
  1. Claim:    conditional write, only one delivery can hold the record
  2. Depot:    latest order depot for the company, else the client's first
               affectation depot for the company
  3. Label:    spend/repeat label, tier label by threshold, or a fallback
  4. Order:    single zero-price line, Provenance = reward
  5. Flip:     delivered = true, only for the claim holder

FAILURE:
  No depot, missing client or a failed order releases the claim and leaves
  the record pending. The report lists it as skipped; running the delivery
  again retries it. A crash between claim and flip leaves a claim that
  expires after ClaimTTL.

SEE ALSO:
  - store.go: ClaimReward / ReleaseClaim / MarkRewardDelivered
  - ledger.go: Pure state transitions
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Skip reasons reported in DeliveryReport.
const (
	SkipClaimed        = "claimed"
	SkipClientNotFound = "client_not_found"
	SkipNoDepot        = "no_depot"
	SkipOrderFailed    = "order_failed"
)

type DeliveredReward struct {
	Reward  RewardRecord
	OrderID OrderID
	Label   string
}

type SkippedReward struct {
	Reward RewardRecord
	Reason string
}

// DeliveryReport lists what a delivery run fulfilled and what it left
// pending.
type DeliveryReport struct {
	Delivered []DeliveredReward
	Skipped   []SkippedReward
}

// Complete reports whether nothing was left pending.
func (r *DeliveryReport) Complete() bool {
	return len(r.Skipped) == 0
}

// Deliver fulfills the client's undelivered rewards matching trigger.
// Calling it again after success is a no-op.
func (e *Engine) Deliver(ctx context.Context, companyID CompanyID, clientID ClientID, trigger Trigger) (*DeliveryReport, error) {
	undelivered := false
	records, err := e.Store.ListRewards(ctx, RewardFilter{
		CompanyID: companyID,
		ClientID:  &clientID,
		Trigger:   &trigger,
		Delivered: &undelivered,
	})
	if err != nil {
		return nil, fmt.Errorf("list rewards for %s/%s: %w", companyID, clientID, err)
	}
	return e.deliver(ctx, companyID, records)
}

// DeliverAll fulfills every undelivered reward of the company.
func (e *Engine) DeliverAll(ctx context.Context, companyID CompanyID) (*DeliveryReport, error) {
	undelivered := false
	records, err := e.Store.ListRewards(ctx, RewardFilter{CompanyID: companyID, Delivered: &undelivered})
	if err != nil {
		return nil, fmt.Errorf("list rewards for company %s: %w", companyID, err)
	}
	return e.deliver(ctx, companyID, records)
}

func (e *Engine) deliver(ctx context.Context, companyID CompanyID, records []RewardRecord) (*DeliveryReport, error) {
	report := &DeliveryReport{}
	if len(records) == 0 {
		return report, nil
	}

	program, err := e.Store.GetProgram(ctx, companyID)
	if err != nil {
		return report, fmt.Errorf("load program for company %s: %w", companyID, err)
	}

	for _, rec := range records {
		delivered, reason, err := e.deliverOne(ctx, program, rec)
		if err != nil {
			return report, err
		}
		if reason != "" {
			e.Metrics.ObserveDeliverySkipped(reason)
			report.Skipped = append(report.Skipped, SkippedReward{Reward: rec, Reason: reason})
			continue
		}
		e.Metrics.ObserveRewardDelivered(string(rec.Kind))
		report.Delivered = append(report.Delivered, *delivered)
	}

	e.log().Info("loyalty delivery finished",
		"company_id", companyID,
		"delivered", len(report.Delivered),
		"skipped", len(report.Skipped),
	)
	return report, nil
}

// deliverOne returns either a delivered reward, a skip reason, or a store
// error that aborts the run.
func (e *Engine) deliverOne(ctx context.Context, program *Program, rec RewardRecord) (*DeliveredReward, string, error) {
	token := e.newID()
	ttl := e.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	won, err := e.Store.ClaimReward(ctx, rec.ID, token, e.now(), ttl)
	if err != nil {
		return nil, "", fmt.Errorf("claim reward %s: %w", rec.ID, err)
	}
	if !won {
		return nil, SkipClaimed, nil
	}

	release := func(reason string, cause error) (*DeliveredReward, string, error) {
		if err := e.Store.ReleaseClaim(ctx, rec.ID, token); err != nil {
			e.log().Warn("loyalty claim release failed", "reward_id", rec.ID, "error", err)
		}
		attrs := []any{
			"company_id", rec.CompanyID,
			"client_id", rec.ClientID,
			"reward_id", rec.ID,
			"reason", reason,
		}
		if cause != nil {
			attrs = append(attrs, "error", cause)
		}
		e.log().Warn("loyalty reward left pending", attrs...)
		return nil, reason, nil
	}

	client, err := e.Directory.GetClient(ctx, rec.ClientID)
	if err != nil {
		return release(SkipClientNotFound, err)
	}
	if client == nil {
		return release(SkipClientNotFound, nil)
	}

	depot, err := e.resolveDepot(ctx, rec.CompanyID, client)
	if err != nil {
		return release(SkipNoDepot, err)
	}
	if depot == nil {
		return release(SkipNoDepot, nil)
	}

	label := RewardLabel(program, rec)
	now := e.now()
	order := FulfillmentOrder{
		ID:         OrderID(e.newID()),
		CompanyID:  rec.CompanyID,
		ClientID:   rec.ClientID,
		DepotID:    depot.ID,
		DepotName:  depot.Name,
		ClientName: client.Name,
		Email:      client.Email,
		Phone:      client.Phone,
		Address:    client.Address,
		Latitude:   client.Latitude,
		Longitude:  client.Longitude,
		Lines: []OrderLine{{
			Label:     label,
			Quantity:  1,
			UnitPrice: decimal.Zero,
		}},
		Total:      decimal.Zero,
		Provenance: ProvenanceReward,
		RewardID:   rec.ID,
		CreatedAt:  now,
	}
	if err := e.Orders.CreateOrder(ctx, order); err != nil {
		return release(SkipOrderFailed, err)
	}

	flipped, err := e.Store.MarkRewardDelivered(ctx, rec.ID, token, now)
	if err != nil {
		return nil, "", fmt.Errorf("mark reward %s delivered after order %s: %w", rec.ID, order.ID, err)
	}
	if !flipped {
		// The order exists; the record was flipped or re-claimed elsewhere.
		e.log().Warn("loyalty claim lost after order creation",
			"reward_id", rec.ID,
			"order_id", order.ID,
		)
	}

	e.log().Info("loyalty reward delivered",
		"company_id", rec.CompanyID,
		"client_id", rec.ClientID,
		"reward_id", rec.ID,
		"order_id", order.ID,
		"depot_id", depot.ID,
	)
	return &DeliveredReward{Reward: rec, OrderID: order.ID, Label: label}, "", nil
}

// resolveDepot picks the depot of the client's latest order with the
// company, falling back to the client's first affectation to it. Returns
// nil when neither resolves to a known depot.
func (e *Engine) resolveDepot(ctx context.Context, companyID CompanyID, client *Client) (*Depot, error) {
	var candidates []DepotID

	latest, ok, err := e.Directory.LatestOrderDepot(ctx, companyID, client.ID)
	if err != nil {
		return nil, fmt.Errorf("latest order depot for client %s: %w", client.ID, err)
	}
	if ok && latest != "" {
		candidates = append(candidates, latest)
	}
	if a, ok := client.FirstAffectation(companyID); ok && a.DepotID != "" {
		candidates = append(candidates, a.DepotID)
	}

	for _, id := range candidates {
		depot, err := e.Directory.GetDepot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load depot %s: %w", id, err)
		}
		if depot != nil {
			return depot, nil
		}
	}
	return nil, nil
}

// RewardLabel returns the human-readable name of a reward. Tiers deleted
// since the reward was earned get a label built from the point value.
func RewardLabel(program *Program, rec RewardRecord) string {
	switch rec.Kind {
	case RewardSpend:
		if program != nil && program.SpendReward != nil && program.SpendReward.RewardLabel != "" {
			return program.SpendReward.RewardLabel
		}
		return "Spend reward"
	case RewardRepeat:
		if program != nil && program.RepeatReward != nil && program.RepeatReward.RewardLabel != "" {
			return program.RepeatReward.RewardLabel
		}
		return "Loyalty reward"
	default:
		if program != nil && rec.Trigger.IsInteger() {
			if tier, ok := program.TierAt(rec.Trigger.IntPart()); ok && tier.RewardLabel != "" {
				return tier.RewardLabel
			}
		}
		return fmt.Sprintf("Reward for %s points", rec.Trigger.String())
	}
}
