/*
handlers.go - HTTP API handlers for the loyalty engine

PURPOSE:
  Exposes the loyalty engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to loyalty.Engine.

ENDPOINTS:
  Directory:
    GET    /api/companies                            List companies
    POST   /api/companies                            Create company
    GET    /api/companies/{companyID}                Get company
    GET    /api/companies/{companyID}/depots         List depots
    POST   /api/companies/{companyID}/depots         Create depot
    GET    /api/clients                              List clients (?company_id=)
    POST   /api/clients                              Create client with affectations
    GET    /api/clients/{clientID}                   Get client

  Program:
    GET    /api/companies/{companyID}/loyalty               Get (or create) program
    PUT    /api/companies/{companyID}/loyalty               Apply JSON program
    PUT    /api/companies/{companyID}/loyalty/ratio         Set ratio
    POST   /api/companies/{companyID}/loyalty/tiers         Add tier
    PUT    /api/companies/{companyID}/loyalty/tiers/{id}    Update tier
    DELETE /api/companies/{companyID}/loyalty/tiers/{id}    Remove tier
    PUT    /api/companies/{companyID}/loyalty/spend-reward  Set spend reward
    DELETE /api/companies/{companyID}/loyalty/spend-reward  Clear spend reward
    PUT    /api/companies/{companyID}/loyalty/repeat-reward Set repeat reward
    DELETE /api/companies/{companyID}/loyalty/repeat-reward Clear repeat reward

  Accrual:
    POST   /api/companies/{companyID}/loyalty/purchases     Record purchase
    POST   /api/companies/{companyID}/loyalty/grants        Grant points

  Rewards:
    GET    /api/companies/{companyID}/loyalty/rewards/pending        Pending list
    POST   /api/companies/{companyID}/loyalty/rewards/deliver        Deliver one trigger
    POST   /api/companies/{companyID}/loyalty/rewards/deliver-all    Deliver everything
    POST   /api/companies/{companyID}/loyalty/rewards/mark-delivered Mark without orders
    GET    /api/companies/{companyID}/orders                         Orders (?client_id=)

  Client view:
    GET    /api/clients/{clientID}/programs              Programs the client can see
    GET    /api/clients/{clientID}/programs/{companyID}  Client's standing

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Engine: Loyalty operations
  - Store: Directory writes, orders, reset
  - Factory: JSON to ProgramConfig conversion

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, invalid configuration, negative amounts
  - 404: Company, client, program or tier not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Admin endpoints must sit behind the
  platform's gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *loyalty.Engine
	Store   *sqlite.Store
	Factory *factory.ProgramFactory
	Logger  *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler. The engine is expected to run on store.
func NewHandler(engine *loyalty.Engine, store *sqlite.Store) *Handler {
	logger := engine.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:  engine,
		Store:   store,
		Factory: factory.NewProgramFactory(),
		Logger:  logger,
	}
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// ListCompanies returns all companies.
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.Store.ListCompanies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list companies", err)
		return
	}

	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = toCompanyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCompany returns a single company.
func (h *Handler) GetCompany(w http.ResponseWriter, r *http.Request) {
	id := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	company, err := h.Store.GetCompany(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get company", err)
		return
	}
	if company == nil {
		writeError(w, http.StatusNotFound, "Company not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toCompanyDTO(*company))
}

// CreateCompany creates or replaces a company.
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CompanyDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	company := loyalty.Company{ID: loyalty.CompanyID(req.ID), Name: req.Name, ImageRef: req.ImageRef}
	if err := h.Store.SaveCompany(r.Context(), company); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create company", err)
		return
	}

	writeJSON(w, http.StatusCreated, toCompanyDTO(company))
}

// ListDepots returns the company's depots.
func (h *Handler) ListDepots(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	depots, err := h.Store.ListDepots(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list depots", err)
		return
	}

	dtos := make([]DepotDTO, len(depots))
	for i, d := range depots {
		dtos[i] = toDepotDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateDepot creates a depot under the company in the path.
func (h *Handler) CreateDepot(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req DepotDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	company, err := h.Store.GetCompany(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get company", err)
		return
	}
	if company == nil {
		writeError(w, http.StatusNotFound, "Company not found", nil)
		return
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	depot := loyalty.Depot{
		ID:        loyalty.DepotID(req.ID),
		CompanyID: companyID,
		Name:      req.Name,
		Address:   req.Address,
	}
	if err := h.Store.SaveDepot(r.Context(), depot); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create depot", err)
		return
	}

	writeJSON(w, http.StatusCreated, toDepotDTO(depot))
}

// ListClients returns all clients, or those affiliated with ?company_id.
func (h *Handler) ListClients(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(r.URL.Query().Get("company_id"))

	clients, err := h.Store.ListClients(r.Context(), companyID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list clients", err)
		return
	}

	dtos := make([]ClientDTO, len(clients))
	for i, c := range clients {
		dtos[i] = toClientDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClient returns a single client with affectations.
func (h *Handler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := loyalty.ClientID(chi.URLParam(r, "clientID"))

	client, err := h.Store.GetClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get client", err)
		return
	}
	if client == nil {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toClientDTO(*client))
}

// CreateClient creates or replaces a client and its affectations.
func (h *Handler) CreateClient(w http.ResponseWriter, r *http.Request) {
	var req ClientDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	client := loyalty.Client{
		ID:        loyalty.ClientID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		Phone:     req.Phone,
		Address:   req.Address,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		CreatedAt: now,
	}
	for _, a := range req.Affectations {
		if a.CompanyID == "" {
			writeError(w, http.StatusBadRequest, "affectation company_id is required", nil)
			return
		}
		assignedAt := now
		if a.AssignedAt != "" {
			t, err := time.Parse(time.RFC3339, a.AssignedAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid assigned_at format (use RFC3339)", err)
				return
			}
			assignedAt = t
		}
		client.Affectations = append(client.Affectations, loyalty.Affectation{
			CompanyID:  loyalty.CompanyID(a.CompanyID),
			DepotID:    loyalty.DepotID(a.DepotID),
			AssignedAt: assignedAt,
		})
	}

	if err := h.Store.SaveClient(r.Context(), client); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create client", err)
		return
	}

	writeJSON(w, http.StatusCreated, toClientDTO(client))
}

// =============================================================================
// PROGRAM HANDLERS
// =============================================================================

// GetProgram returns the company's program, creating the default one on
// first access.
func (h *Handler) GetProgram(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	program, err := h.Engine.GetOrCreateProgram(r.Context(), companyID)
	if err != nil {
		writeEngineError(w, "Failed to get program", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// ApplyProgram applies a full JSON program definition.
func (h *Handler) ApplyProgram(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.ProgramJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, err := h.Factory.FromJSON(req)
	if err != nil {
		writeEngineError(w, "Invalid program", err)
		return
	}

	program, err := h.Engine.ApplyProgramConfig(r.Context(), companyID, *cfg)
	if err != nil {
		writeEngineError(w, "Failed to apply program", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// SetRatio changes the spend to points ratio for future purchases.
func (h *Handler) SetRatio(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.RatioJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, err := h.Engine.SetRatio(r.Context(), companyID, req.AmountUnit, req.PointsPerUnit)
	if err != nil {
		writeEngineError(w, "Failed to set ratio", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// AddTier adds a tier and issues retroactive rewards where they apply.
func (h *Handler) AddTier(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.TierJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tier, err := h.Engine.AddTier(r.Context(), companyID, tierFromJSON(req))
	if err != nil {
		writeEngineError(w, "Failed to add tier", err)
		return
	}

	writeJSON(w, http.StatusCreated, toTierJSON(tier))
}

// UpdateTier edits a tier in place. Existing rewards are untouched.
func (h *Handler) UpdateTier(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.TierJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "tierID")

	tier, err := h.Engine.UpdateTier(r.Context(), companyID, tierFromJSON(req))
	if err != nil {
		writeEngineError(w, "Failed to update tier", err)
		return
	}

	writeJSON(w, http.StatusOK, toTierJSON(tier))
}

// RemoveTier deletes a tier. Earned rewards stay pending.
func (h *Handler) RemoveTier(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))
	tierID := loyalty.TierID(chi.URLParam(r, "tierID"))

	if err := h.Engine.RemoveTier(r.Context(), companyID, tierID); err != nil {
		writeEngineError(w, "Failed to remove tier", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// SetSpendReward configures the cumulative spend reward.
func (h *Handler) SetSpendReward(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.SpendRewardJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, err := h.Engine.SetSpendReward(r.Context(), companyID, &loyalty.SpendReward{
		TargetAmount: req.TargetAmount,
		RewardLabel:  req.RewardLabel,
	})
	if err != nil {
		writeEngineError(w, "Failed to set spend reward", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// ClearSpendReward disables the spend reward.
func (h *Handler) ClearSpendReward(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	program, err := h.Engine.SetSpendReward(r.Context(), companyID, nil)
	if err != nil {
		writeEngineError(w, "Failed to clear spend reward", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// SetRepeatReward configures the points-interval reward.
func (h *Handler) SetRepeatReward(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req factory.RepeatRewardJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	program, err := h.Engine.SetRepeatReward(r.Context(), companyID, &loyalty.RepeatReward{
		PointsInterval: req.PointsInterval,
		RewardLabel:    req.RewardLabel,
	})
	if err != nil {
		writeEngineError(w, "Failed to set repeat reward", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// ClearRepeatReward disables the repeat reward.
func (h *Handler) ClearRepeatReward(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	program, err := h.Engine.SetRepeatReward(r.Context(), companyID, nil)
	if err != nil {
		writeEngineError(w, "Failed to clear repeat reward", err)
		return
	}

	writeJSON(w, http.StatusOK, toProgramDTO(h.Factory, *program))
}

// =============================================================================
// ACCRUAL HANDLERS
// =============================================================================

// RecordPurchase credits points and spend for a completed purchase.
func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", nil)
		return
	}

	result, err := h.recordPurchase(r.Context(), companyID, req)
	if err != nil {
		writeEngineError(w, "Failed to record purchase", err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseResultDTO(result))
}

// recordPurchase stores the purchase order when a depot is given, then
// runs the accrual. Scenarios share it.
func (h *Handler) recordPurchase(ctx context.Context, companyID loyalty.CompanyID, req PurchaseRequest) (*loyalty.PurchaseResult, error) {
	if req.Amount.IsNegative() {
		return nil, loyalty.ErrInvalidAmount
	}
	if req.OrderID == "" {
		req.OrderID = uuid.NewString()
	}

	if req.DepotID != "" {
		createdAt := time.Now().UTC()
		if h.Engine.Now != nil {
			createdAt = h.Engine.Now()
		}
		order := loyalty.FulfillmentOrder{
			ID:        loyalty.OrderID(req.OrderID),
			CompanyID: companyID,
			ClientID:  loyalty.ClientID(req.ClientID),
			DepotID:   loyalty.DepotID(req.DepotID),
			Lines: []loyalty.OrderLine{
				{Label: "Purchase", Quantity: 1, UnitPrice: req.Amount},
			},
			Total:      req.Amount,
			Provenance: loyalty.ProvenancePurchase,
			CreatedAt:  createdAt,
		}
		if err := h.Store.CreateOrder(ctx, order); err != nil {
			return nil, err
		}
	}

	return h.Engine.RecordPurchase(ctx, loyalty.Purchase{
		CompanyID: companyID,
		ClientID:  loyalty.ClientID(req.ClientID),
		Amount:    req.Amount,
		OrderID:   loyalty.OrderID(req.OrderID),
	})
}

// GrantPoints credits points directly, without spend.
func (h *Handler) GrantPoints(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", nil)
		return
	}

	result, err := h.Engine.GrantPoints(r.Context(), companyID, loyalty.ClientID(req.ClientID), req.Points)
	if err != nil {
		writeEngineError(w, "Failed to grant points", err)
		return
	}

	writeJSON(w, http.StatusOK, toPurchaseResultDTO(result))
}

// =============================================================================
// REWARD HANDLERS
// =============================================================================

// ListPendingRewards returns undelivered rewards with client names and
// display labels.
func (h *Handler) ListPendingRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	pending, err := h.Engine.ListPending(ctx, companyID)
	if err != nil {
		writeEngineError(w, "Failed to list pending rewards", err)
		return
	}

	program, err := h.Engine.Store.GetProgram(ctx, companyID)
	if err != nil {
		writeEngineError(w, "Failed to get program", err)
		return
	}

	dtos := make([]PendingRewardDTO, len(pending))
	for i, p := range pending {
		dtos[i] = PendingRewardDTO{
			ID:         string(p.ID),
			ClientID:   string(p.ClientID),
			ClientName: p.ClientName,
			Kind:       string(p.Kind),
			Trigger:    p.Trigger.String(),
			Sequence:   p.Sequence,
			Label:      loyalty.RewardLabel(program, p.RewardRecord),
			CreatedAt:  p.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// DeliverRewards fulfills one client's rewards for a trigger.
func (h *Handler) DeliverRewards(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req DeliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClientID == "" {
		writeError(w, http.StatusBadRequest, "client_id is required", nil)
		return
	}
	trigger, ok := parseTrigger(req.Kind, req.Trigger)
	if !ok {
		writeError(w, http.StatusBadRequest, "Invalid reward kind", nil)
		return
	}

	report, err := h.Engine.Deliver(r.Context(), companyID, loyalty.ClientID(req.ClientID), trigger)
	if err != nil {
		writeEngineError(w, "Failed to deliver rewards", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeliveryReportDTO(report))
}

// DeliverAllRewards fulfills every pending reward of the company.
func (h *Handler) DeliverAllRewards(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	report, err := h.Engine.DeliverAll(r.Context(), companyID)
	if err != nil {
		writeEngineError(w, "Failed to deliver rewards", err)
		return
	}

	writeJSON(w, http.StatusOK, toDeliveryReportDTO(report))
}

// MarkRewardsDelivered flips rewards to delivered without creating orders.
func (h *Handler) MarkRewardsDelivered(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	var req MarkDeliveredRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		n   int
		err error
	)
	if req.ClientID == "" {
		n, err = h.Engine.MarkAllDelivered(ctx, companyID)
	} else {
		if req.Trigger == nil {
			writeError(w, http.StatusBadRequest, "trigger is required with client_id", nil)
			return
		}
		trigger, ok := parseTrigger(req.Kind, *req.Trigger)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid reward kind", nil)
			return
		}
		n, err = h.Engine.MarkDelivered(ctx, companyID, loyalty.ClientID(req.ClientID), trigger)
	}
	if err != nil {
		writeEngineError(w, "Failed to mark rewards delivered", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"marked": n})
}

// ListOrders returns the company's orders, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))
	clientID := loyalty.ClientID(r.URL.Query().Get("client_id"))

	orders, err := h.Store.ListOrders(r.Context(), companyID, clientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list orders", err)
		return
	}

	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// CLIENT VIEW HANDLERS
// =============================================================================

// ListClientPrograms returns the companies whose tiered program the
// client can see.
func (h *Handler) ListClientPrograms(w http.ResponseWriter, r *http.Request) {
	clientID := loyalty.ClientID(chi.URLParam(r, "clientID"))

	companies, err := h.Engine.AvailableForClient(r.Context(), clientID)
	if err != nil {
		writeEngineError(w, "Failed to list programs", err)
		return
	}

	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = toCompanyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetClientProgram returns the client's standing with one company.
func (h *Handler) GetClientProgram(w http.ResponseWriter, r *http.Request) {
	clientID := loyalty.ClientID(chi.URLParam(r, "clientID"))
	companyID := loyalty.CompanyID(chi.URLParam(r, "companyID"))

	view, err := h.Engine.ClientProgram(r.Context(), companyID, clientID)
	if err != nil {
		writeEngineError(w, "Failed to get client program", err)
		return
	}

	dto := ClientProgramDTO{
		Program:              toProgramDTO(h.Factory, view.Program),
		Points:               view.Balance.Points,
		SpendSinceLastReward: view.Balance.SpendSinceLastReward.StringFixed(2),
	}
	if view.Company != nil {
		c := toCompanyDTO(*view.Company)
		dto.Company = &c
	}
	if view.NextTier != nil {
		t := toTierJSON(*view.NextTier)
		dto.NextTier = &t
		dto.PointsToNextTier = view.NextTier.PointsRequired - view.Balance.Points
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps loyalty errors to 400, 404 or 500.
func writeEngineError(w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case loyalty.IsClientError(err):
		status = http.StatusBadRequest
	case loyalty.IsNotFound(err):
		status = http.StatusNotFound
	}
	writeError(w, status, message, err)
}

func tierFromJSON(t factory.TierJSON) loyalty.Tier {
	return loyalty.Tier{
		ID:             loyalty.TierID(t.ID),
		PointsRequired: t.PointsRequired,
		RewardLabel:    t.RewardLabel,
		ImageRef:       t.ImageRef,
	}
}

func parseTrigger(kind string, value decimal.Decimal) (loyalty.Trigger, bool) {
	k := loyalty.RewardKind(kind)
	if k != "" && !k.Valid() {
		return loyalty.Trigger{}, false
	}
	return loyalty.Trigger{Kind: k, Value: value}, true
}
