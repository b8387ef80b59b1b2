/*
scenarios_test.go - Unit tests for demo scenarios

PURPOSE:
	Tests that each scenario correctly sets up the expected state:
	- Companies, depots and clients are created
	- Programs are applied from presets
	- Purchases leave the expected rewards pending

These tests double as integration tests of the engine over SQLite.
*/
package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
)

func pendingByClient(t *testing.T, h *Handler, companyID loyalty.CompanyID) map[loyalty.ClientID][]loyalty.PendingReward {
	t.Helper()
	pending, err := h.Engine.ListPending(context.Background(), companyID)
	require.NoError(t, err)

	byClient := make(map[loyalty.ClientID][]loyalty.PendingReward)
	for _, p := range pending {
		byClient[p.ClientID] = append(byClient[p.ClientID], p)
	}
	return byClient
}

func TestScenario_GroceryLadder(t *testing.T) {
	// GIVEN: Grocery ladder scenario
	// WHEN: Loading the scenario
	// THEN: Alice has tiers 100 and 250 pending, Bob nothing

	h := setupTestHandler(t)
	require.NoError(t, h.loadGroceryLadderScenario(context.Background()))

	byClient := pendingByClient(t, h, "fresh-market")
	require.Len(t, byClient["alice"], 2)
	assert.Equal(t, "100", byClient["alice"][0].Trigger.String())
	assert.Equal(t, "250", byClient["alice"][1].Trigger.String())
	assert.Empty(t, byClient["bob"])

	// Rewards ship to the depot of the latest purchase
	report, err := h.Engine.DeliverAll(context.Background(), "fresh-market")
	require.NoError(t, err)
	require.True(t, report.Complete())

	orders, err := h.Store.ListOrders(context.Background(), "fresh-market", "alice")
	require.NoError(t, err)
	for _, o := range orders {
		assert.Equal(t, loyalty.DepotID("fm-north"), o.DepotID)
	}
}

func TestScenario_CoffeeCard(t *testing.T) {
	// GIVEN: Coffee card scenario (5 visits of 21 -> 20 points)
	// WHEN: Loading the scenario
	// THEN: Welcome tier plus two repeat rewards

	h := setupTestHandler(t)
	require.NoError(t, h.loadCoffeeCardScenario(context.Background()))

	pending := pendingByClient(t, h, "brew-co")["carol"]
	require.Len(t, pending, 3)

	kinds := map[loyalty.RewardKind]int{}
	for _, p := range pending {
		kinds[p.Kind]++
	}
	assert.Equal(t, 1, kinds[loyalty.RewardTier])
	assert.Equal(t, 2, kinds[loyalty.RewardRepeat])

	b, ok, err := h.Store.GetBalance(context.Background(), loyalty.BalanceKey{CompanyID: "brew-co", ClientID: "carol"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(20), b.Points)
	assert.Equal(t, int64(0), b.PointsSinceLastRepeat)
}

func TestScenario_SpendClub(t *testing.T) {
	// GIVEN: Spend club scenario (2500 spent against a 1000 target)
	// WHEN: Loading the scenario
	// THEN: Two spend rewards, 500 carried, spend-only company hidden from Dan

	h := setupTestHandler(t)
	ctx := context.Background()
	require.NoError(t, h.loadSpendClubScenario(ctx))

	pending := pendingByClient(t, h, "bulk-barn")["dan"]
	require.Len(t, pending, 2)
	assert.Equal(t, loyalty.RewardSpend, pending[0].Kind)

	b, _, err := h.Store.GetBalance(ctx, loyalty.BalanceKey{CompanyID: "bulk-barn", ClientID: "dan"})
	require.NoError(t, err)
	assert.Equal(t, "500", b.SpendSinceLastReward.String())

	companies, err := h.Engine.AvailableForClient(ctx, "dan")
	require.NoError(t, err)
	require.Len(t, companies, 1)
	assert.Equal(t, loyalty.CompanyID("fresh-market"), companies[0].ID)
}

func TestScenario_LateTier(t *testing.T) {
	// GIVEN: Late tier scenario
	// WHEN: Loading the scenario
	// THEN: Retroactive 250 for both, 1000 only for Frank after his grant

	h := setupTestHandler(t)
	require.NoError(t, h.loadLateTierScenario(context.Background()))

	byClient := pendingByClient(t, h, "corner-shop")

	triggers := func(rs []loyalty.PendingReward) []string {
		var out []string
		for _, r := range rs {
			out = append(out, r.Trigger.String())
		}
		return out
	}
	assert.ElementsMatch(t, []string{"100", "250"}, triggers(byClient["erin"]))
	assert.ElementsMatch(t, []string{"100", "500", "250", "1000"}, triggers(byClient["frank"]))
}

func TestLoadScenario_Endpoint(t *testing.T) {
	// GIVEN: The router
	// WHEN: Loading a scenario, loading an unknown one, then resetting
	// THEN: Current scenario tracks each step

	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"coffee-card"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	current := decode[ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios/current", ""))
	assert.Equal(t, "coffee-card", current.ID)

	rec = do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Loading twice starts from a clean database
	rec = do(t, router, http.MethodPost, "/api/scenarios/load", `{"scenario_id":"coffee-card"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pending := decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/brew-co/loyalty/rewards/pending", ""))
	assert.Len(t, pending, 3)

	rec = do(t, router, http.MethodPost, "/api/scenarios/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/api/scenarios/current", "")
	assert.Equal(t, "null\n", rec.Body.String())

	companies := decode[[]CompanyDTO](t, do(t, router, http.MethodGet, "/api/companies", ""))
	assert.Empty(t, companies)

	scenarioList := decode[[]ScenarioDTO](t, do(t, router, http.MethodGet, "/api/scenarios", ""))
	assert.Len(t, scenarioList, len(scenarios))
}
