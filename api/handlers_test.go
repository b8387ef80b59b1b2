/*
handlers_test.go - HTTP round trips through the router

Tests for:
- Directory create/get
- Program configuration and validation errors
- Purchase to delivery flow with orders
- Skip reporting and mark-delivered
- Client program views
- Metrics exposition
*/
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
	"github.com/warp/loyalty-engine/metrics"
	"github.com/warp/loyalty-engine/rewards"
	"github.com/warp/loyalty-engine/store/sqlite"
)

func setupTestHandler(t *testing.T, opts ...loyalty.Option) *Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts = append([]loyalty.Option{loyalty.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	engine := loyalty.NewEngine(store, store, store, opts...)
	h := NewHandler(engine, store)
	return h
}

func setupTestRouter(t *testing.T) (*Handler, http.Handler) {
	t.Helper()
	h := setupTestHandler(t)
	return h, NewRouter(h, RouterOptions{})
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// seedShop creates company "shop" with depot "d1" and client "c1" assigned
// to it.
func seedShop(t *testing.T, router http.Handler) {
	t.Helper()
	rec := do(t, router, http.MethodPost, "/api/companies", `{"id":"shop","name":"Shop"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/companies/shop/depots", `{"id":"d1","name":"Depot One"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/clients", `{
		"id": "c1", "name": "Camille",
		"affectations": [{"company_id": "shop", "depot_id": "d1", "assigned_at": "2025-01-01T00:00:00Z"}]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// =============================================================================
// DIRECTORY
// =============================================================================

func TestDirectory_CreateAndGet(t *testing.T) {
	// GIVEN: A company, a depot and an assigned client created over HTTP
	// WHEN: Reading them back
	// THEN: Affectations and depots round trip

	_, router := setupTestRouter(t)
	seedShop(t, router)

	rec := do(t, router, http.MethodGet, "/api/clients/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	client := decode[ClientDTO](t, rec)
	assert.Equal(t, "Camille", client.Name)
	require.Len(t, client.Affectations, 1)
	assert.Equal(t, "shop", client.Affectations[0].CompanyID)
	assert.Equal(t, "d1", client.Affectations[0].DepotID)

	rec = do(t, router, http.MethodGet, "/api/companies/shop/depots", "")
	depots := decode[[]DepotDTO](t, rec)
	require.Len(t, depots, 1)
	assert.Equal(t, "Depot One", depots[0].Name)

	rec = do(t, router, http.MethodGet, "/api/clients?company_id=shop", "")
	assert.Len(t, decode[[]ClientDTO](t, rec), 1)
}

func TestDirectory_NotFoundAndValidation(t *testing.T) {
	_, router := setupTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"unknown company", http.MethodGet, "/api/companies/nope", "", http.StatusNotFound},
		{"unknown client", http.MethodGet, "/api/clients/nope", "", http.StatusNotFound},
		{"depot for unknown company", http.MethodPost, "/api/companies/nope/depots", `{"name":"x"}`, http.StatusNotFound},
		{"company without name", http.MethodPost, "/api/companies", `{"id":"x"}`, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/clients", `{`, http.StatusBadRequest},
		{"bad assigned_at", http.MethodPost, "/api/clients", `{"name":"x","affectations":[{"company_id":"a","assigned_at":"yesterday"}]}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[ErrorResponse](t, rec).Error)
		})
	}
}

// =============================================================================
// PROGRAM
// =============================================================================

func TestProgram_DefaultCreatedOnRead(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodGet, "/api/companies/shop/loyalty", "")
	require.Equal(t, http.StatusOK, rec.Code)

	p := decode[ProgramDTO](t, rec)
	assert.Equal(t, "shop", p.CompanyID)
	require.NotNil(t, p.Config.Ratio)
	assert.Equal(t, "500", p.Config.Ratio.AmountUnit.String())
	assert.Equal(t, "5", p.Config.Ratio.PointsPerUnit.String())
	assert.Empty(t, p.Config.Tiers)
}

func TestProgram_ConfigErrors(t *testing.T) {
	_, router := setupTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"zero ratio", http.MethodPut, "/api/companies/shop/loyalty/ratio", `{"amount_unit":"0","points_per_unit":"5"}`, http.StatusBadRequest},
		{"zero threshold", http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"points_required":0,"reward_label":"x"}`, http.StatusBadRequest},
		{"zero spend target", http.MethodPut, "/api/companies/shop/loyalty/spend-reward", `{"target_amount":"0","reward_label":"x"}`, http.StatusBadRequest},
		{"zero repeat interval", http.MethodPut, "/api/companies/shop/loyalty/repeat-reward", `{"points_interval":0,"reward_label":"x"}`, http.StatusBadRequest},
		{"duplicate tier ids", http.MethodPut, "/api/companies/shop/loyalty", `{"tiers":[{"id":"a","points_required":10,"reward_label":"x"},{"id":"a","points_required":20,"reward_label":"y"}]}`, http.StatusBadRequest},
		{"update unknown tier", http.MethodPut, "/api/companies/shop/loyalty/tiers/ghost", `{"points_required":10,"reward_label":"x"}`, http.StatusNotFound},
		{"remove unknown tier", http.MethodDelete, "/api/companies/shop/loyalty/tiers/ghost", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, router, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestProgram_TierEditing(t *testing.T) {
	// GIVEN: A program with one tier added over HTTP
	// WHEN: Updating, adding and removing tiers
	// THEN: The program reflects each change, tiers sorted by threshold

	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"id":"gold","points_required":300,"reward_label":"Gold"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"points_required":100,"reward_label":"Bronze"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	bronze := decode[map[string]any](t, rec)
	assert.NotEmpty(t, bronze["id"], "id is generated when omitted")

	rec = do(t, router, http.MethodPut, "/api/companies/shop/loyalty/tiers/gold", `{"points_required":400,"reward_label":"Gold+"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p := decode[ProgramDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty", ""))
	require.Len(t, p.Config.Tiers, 2)
	assert.Equal(t, int64(100), p.Config.Tiers[0].PointsRequired)
	assert.Equal(t, "Gold+", p.Config.Tiers[1].RewardLabel)
	assert.Equal(t, int64(400), p.Config.Tiers[1].PointsRequired)

	rec = do(t, router, http.MethodDelete, "/api/companies/shop/loyalty/tiers/gold", "")
	require.Equal(t, http.StatusOK, rec.Code)

	p = decode[ProgramDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty", ""))
	assert.Len(t, p.Config.Tiers, 1)
}

func TestProgram_ReapplyingDefinitionIsStable(t *testing.T) {
	// GIVEN: A program applied over HTTP and a client past its first tier
	// WHEN: The same definition is PUT again and a tier is re-posted
	// THEN: The tier list and the pending rewards do not change

	_, router := setupTestRouter(t)
	seedShop(t, router)

	body := `{"tiers":[{"points_required":100,"reward_label":"A"},{"id":"b","points_required":200,"reward_label":"B"}]}`
	rec := do(t, router, http.MethodPut, "/api/companies/shop/loyalty", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/grants", `{"client_id":"c1","points":250}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	pending := decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty/rewards/pending", ""))
	require.Len(t, pending, 2)

	rec = do(t, router, http.MethodPut, "/api/companies/shop/loyalty", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"id":"b","points_required":200,"reward_label":"B"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	p := decode[ProgramDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty", ""))
	assert.Len(t, p.Config.Tiers, 2)
	pending = decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty/rewards/pending", ""))
	assert.Len(t, pending, 2)
}

func TestProgram_SpendAndRepeatRewardToggle(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPut, "/api/companies/shop/loyalty/spend-reward", `{"target_amount":"100","reward_label":"Crate"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = do(t, router, http.MethodPut, "/api/companies/shop/loyalty/repeat-reward", `{"points_interval":10,"reward_label":"Coffee"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	p := decode[ProgramDTO](t, rec)
	require.NotNil(t, p.Config.SpendReward)
	require.NotNil(t, p.Config.RepeatReward)
	assert.Equal(t, "100", p.Config.SpendReward.TargetAmount.String())

	p = decode[ProgramDTO](t, do(t, router, http.MethodDelete, "/api/companies/shop/loyalty/spend-reward", ""))
	assert.Nil(t, p.Config.SpendReward)
	p = decode[ProgramDTO](t, do(t, router, http.MethodDelete, "/api/companies/shop/loyalty/repeat-reward", ""))
	assert.Nil(t, p.Config.RepeatReward)
}

// =============================================================================
// PURCHASE TO DELIVERY
// =============================================================================

func TestPurchaseToDelivery(t *testing.T) {
	// GIVEN: The standard program and a client assigned to depot d1
	// WHEN: The client buys for 26000, then an admin delivers everything
	// THEN: Two tier rewards become two zero-price reward orders on d1

	_, router := setupTestRouter(t)
	seedShop(t, router)

	rec := do(t, router, http.MethodPut, "/api/companies/shop/loyalty", rewards.StandardProgramJSON())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/purchases", `{"client_id":"c1","amount":"26000","depot_id":"d1","order_id":"o-1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[PurchaseResultDTO](t, rec)
	assert.Equal(t, int64(260), result.PointsAwarded)
	assert.Equal(t, 2, result.TierRewards)

	pending := decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty/rewards/pending", ""))
	require.Len(t, pending, 2)
	labels := []string{pending[0].Label, pending[1].Label}
	assert.ElementsMatch(t, []string{"Tote bag", "Gift box"}, labels)
	assert.Equal(t, "Camille", pending[0].ClientName)

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/deliver-all", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[DeliveryReportDTO](t, rec)
	assert.True(t, report.Complete)
	assert.Len(t, report.Delivered, 2)

	orders := decode[[]OrderDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/orders?client_id=c1", ""))
	require.Len(t, orders, 3)
	var rewardOrders int
	for _, o := range orders {
		assert.Equal(t, "d1", o.DepotID)
		if o.Provenance == string(loyalty.ProvenanceReward) {
			rewardOrders++
			assert.Equal(t, "0.00", o.Total)
			assert.NotEmpty(t, o.RewardID)
		}
	}
	assert.Equal(t, 2, rewardOrders)

	pending = decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty/rewards/pending", ""))
	assert.Empty(t, pending)

	// Delivering again finds nothing
	report = decode[DeliveryReportDTO](t, do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/deliver-all", ""))
	assert.Empty(t, report.Delivered)
}

func TestRecordPurchase_Rejected(t *testing.T) {
	_, router := setupTestRouter(t)

	rec := do(t, router, http.MethodPost, "/api/companies/shop/loyalty/purchases", `{"client_id":"c1","amount":"-5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/purchases", `{"amount":"5"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/grants", `{"client_id":"c1","points":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeliver_SkipsWithoutDepot(t *testing.T) {
	// GIVEN: A client with no affectation and no prior order holding a tier reward
	// WHEN: Delivering that tier
	// THEN: The reward is skipped with no_depot and stays pending

	_, router := setupTestRouter(t)
	do(t, router, http.MethodPost, "/api/companies", `{"id":"shop","name":"Shop"}`)
	do(t, router, http.MethodPost, "/api/clients", `{"id":"loner","name":"Lou"}`)
	do(t, router, http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"id":"pin","points_required":10,"reward_label":"Pin"}`)

	rec := do(t, router, http.MethodPost, "/api/companies/shop/loyalty/grants", `{"client_id":"loner","points":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[PurchaseResultDTO](t, rec).TierRewards)

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/deliver", `{"client_id":"loner","kind":"tier","trigger":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[DeliveryReportDTO](t, rec)
	assert.False(t, report.Complete)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, loyalty.SkipNoDepot, report.Skipped[0].Reason)

	pending := decode[[]PendingRewardDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/loyalty/rewards/pending", ""))
	assert.Len(t, pending, 1)

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/deliver", `{"client_id":"loner","kind":"bogus","trigger":10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkDelivered(t *testing.T) {
	// GIVEN: Two pending tier rewards
	// WHEN: Marking one by trigger, then the rest company-wide
	// THEN: Counts reflect each step and no orders are created

	_, router := setupTestRouter(t)
	seedShop(t, router)
	do(t, router, http.MethodPut, "/api/companies/shop/loyalty", rewards.StandardProgramJSON())
	do(t, router, http.MethodPost, "/api/companies/shop/loyalty/grants", `{"client_id":"c1","points":300}`)

	rec := do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/mark-delivered", `{"client_id":"c1","kind":"tier","trigger":100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[map[string]int](t, rec)["marked"])

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/mark-delivered", `{}`)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["marked"])

	rec = do(t, router, http.MethodPost, "/api/companies/shop/loyalty/rewards/mark-delivered", `{"client_id":"c1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	orders := decode[[]OrderDTO](t, do(t, router, http.MethodGet, "/api/companies/shop/orders", ""))
	assert.Empty(t, orders)
}

// =============================================================================
// CLIENT VIEW
// =============================================================================

func TestClientProgramView(t *testing.T) {
	_, router := setupTestRouter(t)
	seedShop(t, router)
	do(t, router, http.MethodPut, "/api/companies/shop/loyalty", rewards.StandardProgramJSON())
	do(t, router, http.MethodPost, "/api/companies/shop/loyalty/purchases", `{"client_id":"c1","amount":"12000"}`)

	companies := decode[[]CompanyDTO](t, do(t, router, http.MethodGet, "/api/clients/c1/programs", ""))
	require.Len(t, companies, 1)
	assert.Equal(t, "shop", companies[0].ID)

	rec := do(t, router, http.MethodGet, "/api/clients/c1/programs/shop", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	view := decode[ClientProgramDTO](t, rec)
	assert.Equal(t, int64(120), view.Points)
	require.NotNil(t, view.NextTier)
	assert.Equal(t, int64(250), view.NextTier.PointsRequired)
	assert.Equal(t, int64(130), view.PointsToNextTier)
	require.NotNil(t, view.Company)
	assert.Equal(t, "Shop", view.Company.Name)

	rec = do(t, router, http.MethodGet, "/api/clients/ghost/programs/shop", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	companies = decode[[]CompanyDTO](t, do(t, router, http.MethodGet, "/api/clients/ghost/programs", ""))
	assert.Empty(t, companies)
}

// =============================================================================
// METRICS
// =============================================================================

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := setupTestHandler(t, loyalty.WithMetrics(metrics.New(reg)))
	router := NewRouter(h, RouterOptions{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	do(t, router, http.MethodPost, "/api/companies/shop/loyalty/tiers", `{"points_required":5,"reward_label":"Pin"}`)
	do(t, router, http.MethodPost, "/api/companies/shop/loyalty/grants", `{"client_id":"c1","points":5}`)

	rec := do(t, router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loyalty_points_awarded_total")
	assert.Contains(t, rec.Body.String(), `loyalty_rewards_issued_total{kind="tier"} 1`)
}
