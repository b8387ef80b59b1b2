/*
ledger.go - Reward Ledger

PURPOSE:
  Read side and state transitions of the reward queue. Records are only
  ever appended (by the Threshold Evaluator) and flipped to delivered; they
  are never deleted.

  MarkDelivered and MarkAllDelivered are pure transitions and create no
  orders. Deliver/DeliverAll in fulfillment.go create the order first and
  flip the record afterwards.

SEE ALSO:
  - fulfillment.go: Order creation + flip
  - store.go: RewardStore
*/
package loyalty

import (
	"context"
	"fmt"
)

// ListPending returns the company's undelivered rewards, oldest first,
// with the client's display name.
func (e *Engine) ListPending(ctx context.Context, companyID CompanyID) ([]PendingReward, error) {
	undelivered := false
	records, err := e.Store.ListRewards(ctx, RewardFilter{CompanyID: companyID, Delivered: &undelivered})
	if err != nil {
		return nil, fmt.Errorf("list pending rewards for company %s: %w", companyID, err)
	}

	names := make(map[ClientID]string)
	pending := make([]PendingReward, 0, len(records))
	for _, r := range records {
		name, ok := names[r.ClientID]
		if !ok {
			client, err := e.Directory.GetClient(ctx, r.ClientID)
			if err != nil {
				return nil, fmt.Errorf("load client %s: %w", r.ClientID, err)
			}
			if client != nil {
				name = client.Name
			}
			names[r.ClientID] = name
		}
		pending = append(pending, PendingReward{RewardRecord: r, ClientName: name})
	}
	return pending, nil
}

// MarkDelivered flips the client's undelivered rewards matching trigger.
func (e *Engine) MarkDelivered(ctx context.Context, companyID CompanyID, clientID ClientID, trigger Trigger) (int, error) {
	n, err := e.Store.MarkDelivered(ctx, RewardFilter{
		CompanyID: companyID,
		ClientID:  &clientID,
		Trigger:   &trigger,
	}, e.now())
	if err != nil {
		return 0, fmt.Errorf("mark rewards delivered for %s/%s: %w", companyID, clientID, err)
	}
	return n, nil
}

// MarkAllDelivered flips every undelivered reward of the company.
func (e *Engine) MarkAllDelivered(ctx context.Context, companyID CompanyID) (int, error) {
	n, err := e.Store.MarkDelivered(ctx, RewardFilter{CompanyID: companyID}, e.now())
	if err != nil {
		return 0, fmt.Errorf("mark all rewards delivered for company %s: %w", companyID, err)
	}
	return n, nil
}
