/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	loyalty data for demos. Each scenario creates companies, depots, clients
	and a program, then records purchases that leave rewards pending.

AVAILABLE SCENARIOS:

	grocery-ladder: Standard tier ladder, one client past two tiers
	coffee-card:    Welcome tier plus a free coffee every 10 points
	spend-club:     Spend-only program next to a tiered one
	late-tier:      Tiers added after clients accrued points

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create companies, depots and clients
 3. Apply a program from rewards presets via the factory
 4. Record purchases and grants through the engine

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "coffee-card"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Shared purchase path
  - rewards/presets.go: Program JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/rewards"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "grocery-ladder",
		Name:        "Grocery Ladder",
		Description: "Standard 100/250/500 point ladder; Alice has two rewards waiting",
		Category:    "tiers",
	},
	{
		ID:          "coffee-card",
		Name:        "Coffee Card",
		Description: "Welcome gift plus a free coffee every 10 points",
		Category:    "repeat",
	},
	{
		ID:          "spend-club",
		Name:        "Spend Club",
		Description: "Free crate every 1000 spent; spend-only programs stay hidden from clients",
		Category:    "spend",
	},
	{
		ID:          "late-tier",
		Name:        "Late Tier",
		Description: "Tiers added after accrual: retroactive grants below the top, baseline reset above it",
		Category:    "tiers",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var load func(context.Context) error
	switch req.ScenarioID {
	case "grocery-ladder":
		load = h.loadGroceryLadderScenario
	case "coffee-card":
		load = h.loadCoffeeCardScenario
	case "spend-club":
		load = h.loadSpendClubScenario
	case "late-tier":
		load = h.loadLateTierScenario
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	if err := load(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	h.Logger.Info("scenario loaded", "scenario", req.ScenarioID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) reset(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadGroceryLadderScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "fresh-market", "Fresh Market", "fm-north", "North depot"); err != nil {
		return err
	}
	if err := h.applyProgramJSON(ctx, "fresh-market", rewards.StandardProgramJSON()); err != nil {
		return err
	}
	if err := h.seedClient(ctx, "alice", "Alice Martin", seedAffectation{"fresh-market", "fm-north"}); err != nil {
		return err
	}
	if err := h.seedClient(ctx, "bob", "Bob Durand", seedAffectation{"fresh-market", "fm-north"}); err != nil {
		return err
	}

	// Alice: 26000 -> 260 points, tiers 100 and 250 pending
	for _, amount := range []int64{12000, 14000} {
		if err := h.seedPurchase(ctx, "fresh-market", "alice", "fm-north", amount); err != nil {
			return err
		}
	}
	// Bob: 8000 -> 80 points, nothing yet
	return h.seedPurchase(ctx, "fresh-market", "bob", "fm-north", 8000)
}

func (h *Handler) loadCoffeeCardScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "brew-co", "Brew & Co", "brew-main", "Main street"); err != nil {
		return err
	}
	if err := h.applyProgramJSON(ctx, "brew-co", rewards.CoffeeCardJSON(10, "Free coffee")); err != nil {
		return err
	}
	if err := h.seedClient(ctx, "carol", "Carol Petit", seedAffectation{"brew-co", "brew-main"}); err != nil {
		return err
	}

	// 5 visits of 21 -> 4 points each, 20 points: welcome gift and two coffees
	for i := 0; i < 5; i++ {
		if err := h.seedPurchase(ctx, "brew-co", "carol", "brew-main", 21); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadSpendClubScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "bulk-barn", "Bulk Barn", "bb-depot", "Warehouse"); err != nil {
		return err
	}
	if err := h.applyProgramJSON(ctx, "bulk-barn", rewards.SpendOnlyJSON("1000", "Free crate")); err != nil {
		return err
	}
	if err := h.seedCompany(ctx, "fresh-market", "Fresh Market", "fm-north", "North depot"); err != nil {
		return err
	}
	if err := h.applyProgramJSON(ctx, "fresh-market", rewards.StandardProgramJSON()); err != nil {
		return err
	}

	// Dan shops at both; only Fresh Market is listed for him
	if err := h.seedClient(ctx, "dan", "Dan Leroy",
		seedAffectation{"bulk-barn", "bb-depot"},
		seedAffectation{"fresh-market", "fm-north"},
	); err != nil {
		return err
	}

	// 2500 spent -> two crates, 500 carried over
	for _, amount := range []int64{900, 700, 900} {
		if err := h.seedPurchase(ctx, "bulk-barn", "dan", "bb-depot", amount); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadLateTierScenario(ctx context.Context) error {
	if err := h.seedCompany(ctx, "corner-shop", "Corner Shop", "cs-depot", "Back room"); err != nil {
		return err
	}
	if err := h.applyProgramJSON(ctx, "corner-shop", rewards.TieredProgramJSON("100", "1", []rewards.TierSpec{
		{Points: 100, Label: "Sticker pack"},
		{Points: 500, Label: "Mug"},
	})); err != nil {
		return err
	}
	if err := h.seedClient(ctx, "erin", "Erin Blanc", seedAffectation{"corner-shop", "cs-depot"}); err != nil {
		return err
	}
	if err := h.seedClient(ctx, "frank", "Frank Morel", seedAffectation{"corner-shop", "cs-depot"}); err != nil {
		return err
	}

	// Erin 300 points, Frank 600
	if err := h.seedPurchase(ctx, "corner-shop", "erin", "cs-depot", 30000); err != nil {
		return err
	}
	if err := h.seedPurchase(ctx, "corner-shop", "frank", "cs-depot", 60000); err != nil {
		return err
	}

	// Below the top: both clients receive the 250 tier now
	if _, err := h.Engine.AddTier(ctx, "corner-shop", loyalty.Tier{ID: "tote", PointsRequired: 250, RewardLabel: "Tote bag"}); err != nil {
		return err
	}
	// Above the top: balances are baselined, the 1000 tier must be earned
	if _, err := h.Engine.AddTier(ctx, "corner-shop", loyalty.Tier{ID: "hamper", PointsRequired: 1000, RewardLabel: "Hamper"}); err != nil {
		return err
	}

	// Frank goes from 600 to 1100 and earns it
	_, err := h.Engine.GrantPoints(ctx, "corner-shop", "frank", 500)
	return err
}

// =============================================================================
// SEED HELPERS
// =============================================================================

type seedAffectation struct {
	companyID loyalty.CompanyID
	depotID   loyalty.DepotID
}

func (h *Handler) seedCompany(ctx context.Context, id loyalty.CompanyID, name string, depotID loyalty.DepotID, depotName string) error {
	if err := h.Store.SaveCompany(ctx, loyalty.Company{ID: id, Name: name}); err != nil {
		return err
	}
	return h.Store.SaveDepot(ctx, loyalty.Depot{ID: depotID, CompanyID: id, Name: depotName})
}

func (h *Handler) seedClient(ctx context.Context, id loyalty.ClientID, name string, affectations ...seedAffectation) error {
	joined := time.Now().UTC().AddDate(0, -6, 0)
	client := loyalty.Client{
		ID:        id,
		Name:      name,
		Email:     fmt.Sprintf("%s@example.com", id),
		CreatedAt: joined,
	}
	for i, a := range affectations {
		client.Affectations = append(client.Affectations, loyalty.Affectation{
			CompanyID:  a.companyID,
			DepotID:    a.depotID,
			AssignedAt: joined.Add(time.Duration(i) * time.Hour),
		})
	}
	return h.Store.SaveClient(ctx, client)
}

func (h *Handler) seedPurchase(ctx context.Context, companyID loyalty.CompanyID, clientID loyalty.ClientID, depotID loyalty.DepotID, amount int64) error {
	_, err := h.recordPurchase(ctx, companyID, PurchaseRequest{
		ClientID: string(clientID),
		Amount:   decimal.NewFromInt(amount),
		DepotID:  string(depotID),
	})
	return err
}

func (h *Handler) applyProgramJSON(ctx context.Context, companyID loyalty.CompanyID, jsonStr string) error {
	cfg, err := h.Factory.ParseProgram(jsonStr)
	if err != nil {
		return err
	}
	_, err = h.Engine.ApplyProgramConfig(ctx, companyID, *cfg)
	return err
}
