/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the loyalty domain model from the external API contract. Money values
  are serialized as decimal strings, points as integers.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Directory:
    CompanyDTO, DepotDTO, ClientDTO, AffectationDTO

  Program:
    ProgramDTO (wraps factory.ProgramJSON), factory.RatioJSON,
    factory.TierJSON, factory.SpendRewardJSON, factory.RepeatRewardJSON

  Accrual:
    PurchaseRequest, GrantRequest, PurchaseResultDTO

  Rewards:
    PendingRewardDTO, DeliverRequest, MarkDeliveredRequest,
    DeliveryReportDTO

  Orders:
    OrderDTO, OrderLineDTO

  Client view:
    ClientProgramDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the engine, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/program.go: ProgramJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/factory"
	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// DIRECTORY
// =============================================================================

type CompanyDTO struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ImageRef string `json:"image_ref,omitempty"`
}

type DepotDTO struct {
	ID        string `json:"id"`
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
	Address   string `json:"address,omitempty"`
}

type AffectationDTO struct {
	CompanyID  string `json:"company_id"`
	DepotID    string `json:"depot_id,omitempty"`
	AssignedAt string `json:"assigned_at,omitempty"`
}

// ClientDTO is used both to create a client and to return one.
type ClientDTO struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Email        string           `json:"email,omitempty"`
	Phone        string           `json:"phone,omitempty"`
	Address      string           `json:"address,omitempty"`
	Latitude     float64          `json:"latitude,omitempty"`
	Longitude    float64          `json:"longitude,omitempty"`
	Affectations []AffectationDTO `json:"affectations"`
	CreatedAt    string           `json:"created_at,omitempty"`
}

// =============================================================================
// PROGRAM
// =============================================================================

// ProgramDTO represents a company's loyalty program in API responses.
type ProgramDTO struct {
	CompanyID string              `json:"company_id"`
	Config    factory.ProgramJSON `json:"config"`
	CreatedAt string              `json:"created_at,omitempty"`
	UpdatedAt string              `json:"updated_at,omitempty"`
}

// =============================================================================
// ACCRUAL
// =============================================================================

// PurchaseRequest reports a completed purchase. DepotID, when set, records
// the purchase as an order so later rewards ship to the same depot.
type PurchaseRequest struct {
	ClientID string          `json:"client_id"`
	Amount   decimal.Decimal `json:"amount"`
	OrderID  string          `json:"order_id,omitempty"`
	DepotID  string          `json:"depot_id,omitempty"`
}

type GrantRequest struct {
	ClientID string `json:"client_id"`
	Points   int64  `json:"points"`
}

type PurchaseResultDTO struct {
	PointsAwarded int64 `json:"points_awarded"`
	PointsTotal   int64 `json:"points_total"`
	TierRewards   int   `json:"tier_rewards"`
	SpendRewards  int   `json:"spend_rewards"`
	RepeatRewards int   `json:"repeat_rewards"`
}

// =============================================================================
// REWARDS
// =============================================================================

type PendingRewardDTO struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	ClientName string `json:"client_name"`
	Kind       string `json:"kind"`
	Trigger    string `json:"trigger"`
	Sequence   int64  `json:"sequence,omitempty"`
	Label      string `json:"label"`
	CreatedAt  string `json:"created_at"`
}

// DeliverRequest selects a client's rewards by trigger. An empty Kind
// matches every kind with that trigger value.
type DeliverRequest struct {
	ClientID string          `json:"client_id"`
	Kind     string          `json:"kind,omitempty"`
	Trigger  decimal.Decimal `json:"trigger"`
}

// MarkDeliveredRequest marks rewards delivered without creating orders.
// Without a client it marks every pending reward of the company.
type MarkDeliveredRequest struct {
	ClientID string           `json:"client_id,omitempty"`
	Kind     string           `json:"kind,omitempty"`
	Trigger  *decimal.Decimal `json:"trigger,omitempty"`
}

type DeliveredRewardDTO struct {
	RewardID string `json:"reward_id"`
	ClientID string `json:"client_id"`
	Kind     string `json:"kind"`
	Trigger  string `json:"trigger"`
	OrderID  string `json:"order_id"`
	Label    string `json:"label"`
}

type SkippedRewardDTO struct {
	RewardID string `json:"reward_id"`
	ClientID string `json:"client_id"`
	Kind     string `json:"kind"`
	Trigger  string `json:"trigger"`
	Reason   string `json:"reason"`
}

type DeliveryReportDTO struct {
	Delivered []DeliveredRewardDTO `json:"delivered"`
	Skipped   []SkippedRewardDTO   `json:"skipped"`
	Complete  bool                 `json:"complete"`
}

// =============================================================================
// ORDERS
// =============================================================================

type OrderLineDTO struct {
	Label     string `json:"label"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type OrderDTO struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"client_id"`
	DepotID    string         `json:"depot_id"`
	DepotName  string         `json:"depot_name,omitempty"`
	Total      string         `json:"total"`
	Provenance string         `json:"provenance"`
	RewardID   string         `json:"reward_id,omitempty"`
	Lines      []OrderLineDTO `json:"lines"`
	CreatedAt  string         `json:"created_at"`
}

// =============================================================================
// CLIENT VIEW
// =============================================================================

type ClientProgramDTO struct {
	Company              *CompanyDTO       `json:"company,omitempty"`
	Program              ProgramDTO        `json:"program"`
	Points               int64             `json:"points"`
	SpendSinceLastReward string            `json:"spend_since_last_reward"`
	NextTier             *factory.TierJSON `json:"next_tier,omitempty"`
	PointsToNextTier     int64             `json:"points_to_next_tier,omitempty"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toCompanyDTO(c loyalty.Company) CompanyDTO {
	return CompanyDTO{ID: string(c.ID), Name: c.Name, ImageRef: c.ImageRef}
}

func toDepotDTO(d loyalty.Depot) DepotDTO {
	return DepotDTO{ID: string(d.ID), CompanyID: string(d.CompanyID), Name: d.Name, Address: d.Address}
}

func toClientDTO(c loyalty.Client) ClientDTO {
	dto := ClientDTO{
		ID:           string(c.ID),
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
		Address:      c.Address,
		Latitude:     c.Latitude,
		Longitude:    c.Longitude,
		Affectations: make([]AffectationDTO, len(c.Affectations)),
	}
	if !c.CreatedAt.IsZero() {
		dto.CreatedAt = c.CreatedAt.Format(time.RFC3339)
	}
	for i, a := range c.Affectations {
		dto.Affectations[i] = AffectationDTO{
			CompanyID: string(a.CompanyID),
			DepotID:   string(a.DepotID),
		}
		if !a.AssignedAt.IsZero() {
			dto.Affectations[i].AssignedAt = a.AssignedAt.Format(time.RFC3339)
		}
	}
	return dto
}

func toProgramDTO(f *factory.ProgramFactory, p loyalty.Program) ProgramDTO {
	dto := ProgramDTO{
		CompanyID: string(p.CompanyID),
		Config:    f.ToJSON(p),
	}
	if !p.CreatedAt.IsZero() {
		dto.CreatedAt = p.CreatedAt.Format(time.RFC3339)
	}
	if !p.UpdatedAt.IsZero() {
		dto.UpdatedAt = p.UpdatedAt.Format(time.RFC3339)
	}
	return dto
}

func toTierJSON(t loyalty.Tier) factory.TierJSON {
	return factory.TierJSON{
		ID:             string(t.ID),
		PointsRequired: t.PointsRequired,
		RewardLabel:    t.RewardLabel,
		ImageRef:       t.ImageRef,
	}
}

func toPurchaseResultDTO(r *loyalty.PurchaseResult) PurchaseResultDTO {
	return PurchaseResultDTO{
		PointsAwarded: r.PointsAwarded,
		PointsTotal:   r.PointsTotal,
		TierRewards:   r.TierRewards,
		SpendRewards:  r.SpendRewards,
		RepeatRewards: r.RepeatRewards,
	}
}

func toOrderDTO(o loyalty.FulfillmentOrder) OrderDTO {
	dto := OrderDTO{
		ID:         string(o.ID),
		ClientID:   string(o.ClientID),
		DepotID:    string(o.DepotID),
		DepotName:  o.DepotName,
		Total:      o.Total.StringFixed(2),
		Provenance: string(o.Provenance),
		RewardID:   string(o.RewardID),
		Lines:      make([]OrderLineDTO, len(o.Lines)),
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
	}
	for i, l := range o.Lines {
		dto.Lines[i] = OrderLineDTO{Label: l.Label, Quantity: l.Quantity, UnitPrice: l.UnitPrice.StringFixed(2)}
	}
	return dto
}

func toDeliveryReportDTO(r *loyalty.DeliveryReport) DeliveryReportDTO {
	dto := DeliveryReportDTO{
		Delivered: make([]DeliveredRewardDTO, len(r.Delivered)),
		Skipped:   make([]SkippedRewardDTO, len(r.Skipped)),
		Complete:  r.Complete(),
	}
	for i, d := range r.Delivered {
		dto.Delivered[i] = DeliveredRewardDTO{
			RewardID: string(d.Reward.ID),
			ClientID: string(d.Reward.ClientID),
			Kind:     string(d.Reward.Kind),
			Trigger:  d.Reward.Trigger.String(),
			OrderID:  string(d.OrderID),
			Label:    d.Label,
		}
	}
	for i, s := range r.Skipped {
		dto.Skipped[i] = SkippedRewardDTO{
			RewardID: string(s.Reward.ID),
			ClientID: string(s.Reward.ClientID),
			Kind:     string(s.Reward.Kind),
			Trigger:  s.Reward.Trigger.String(),
			Reason:   s.Reason,
		}
	}
	return dto
}
