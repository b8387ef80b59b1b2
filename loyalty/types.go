/*
Package loyalty provides the rewards accrual and fulfillment engine.

PURPOSE:
  Companies run a points-based loyalty program for their clients. This
  package tracks per-(client, company) balances, detects threshold crossings,
  records each earned reward exactly once, and turns approved rewards into
  zero-cost fulfillment orders.

KEY CONCEPTS IN THIS FILE (types.go):
  - Program: A company's configuration (ratio, tiers, spend/repeat reward)
  - Balance: Per (company, client) counters (points, spend, baseline)
  - RewardRecord: An earned, possibly undelivered, reward
  - FulfillmentOrder: The order created when a reward is delivered
  - Directory types: Company, Depot, Client (owned by other subsystems)

DESIGN PRINCIPLES:
  1. Precision: Money uses decimal.Decimal, points are whole int64
  2. Type Safety: Distinct ID types so a ClientID never keys a company
  3. Idempotency: Every reward carries a natural key (RewardKey)
  4. Explicit provenance: Reward orders are tagged, never inferred from a zero total

SEE ALSO:
  - registry.go: Program Registry
  - balance.go: Balance Tracker
  - evaluator.go: Threshold Evaluator
  - ledger.go: Reward Ledger
  - fulfillment.go: Fulfillment Dispatcher
  - eligibility.go: Eligibility View
*/
package loyalty

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CompanyID string
type ClientID string
type DepotID string
type TierID string
type RewardID string
type OrderID string

// =============================================================================
// PROGRAM - One loyalty configuration per company
// =============================================================================

// Default ratio applied when a program is created lazily.
var (
	DefaultAmountUnit    = decimal.NewFromInt(500)
	DefaultPointsPerUnit = decimal.NewFromInt(5)
)

// Ratio converts money spent into points: every AmountUnit spent earns
// PointsPerUnit points.
type Ratio struct {
	AmountUnit    decimal.Decimal
	PointsPerUnit decimal.Decimal
}

func DefaultRatio() Ratio {
	return Ratio{AmountUnit: DefaultAmountUnit, PointsPerUnit: DefaultPointsPerUnit}
}

// Tier is a fixed point threshold that earns a named reward once crossed.
type Tier struct {
	ID             TierID
	PointsRequired int64
	RewardLabel    string
	ImageRef       string
}

// SpendReward is earned each time cumulative spend reaches TargetAmount.
type SpendReward struct {
	TargetAmount decimal.Decimal
	RewardLabel  string
}

// RepeatReward is earned each time PointsInterval new points accrue.
type RepeatReward struct {
	PointsInterval int64
	RewardLabel    string
}

type Program struct {
	CompanyID    CompanyID
	Ratio        Ratio
	Tiers        []Tier
	SpendReward  *SpendReward
	RepeatReward *RepeatReward
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SortTiers keeps Tiers ascending by PointsRequired. Equal thresholds keep
// their insertion order.
func (p *Program) SortTiers() {
	sort.SliceStable(p.Tiers, func(i, j int) bool {
		return p.Tiers[i].PointsRequired < p.Tiers[j].PointsRequired
	})
}

func (p *Program) TierIndex(id TierID) int {
	for i, t := range p.Tiers {
		if t.ID == id {
			return i
		}
	}
	return -1
}

// TierAt returns the first tier whose threshold equals points.
func (p *Program) TierAt(points int64) (Tier, bool) {
	for _, t := range p.Tiers {
		if t.PointsRequired == points {
			return t, true
		}
	}
	return Tier{}, false
}

// =============================================================================
// BALANCE - Per (company, client) loyalty state
// =============================================================================

// BalanceKey is the association key between a client and a company program.
type BalanceKey struct {
	CompanyID CompanyID
	ClientID  ClientID
}

// Balance is the loyalty state a client holds with one company.
//
// Points only grows. SpendSinceLastReward wraps to the remainder after each
// spend reward, PointsSinceLastRepeat likewise after each repeat reward.
// Baseline is the floor at or below which tiers are not re-evaluated.
type Balance struct {
	CompanyID             CompanyID
	ClientID              ClientID
	Points                int64
	SpendSinceLastReward  decimal.Decimal
	Baseline              int64
	PointsSinceLastRepeat int64
	SpendRewardsIssued    int64
	RepeatRewardsIssued   int64
	UpdatedAt             time.Time
}

func (b Balance) Key() BalanceKey {
	return BalanceKey{CompanyID: b.CompanyID, ClientID: b.ClientID}
}

// NewBalance returns the zero state for a pair never seen before.
func NewBalance(companyID CompanyID, clientID ClientID) Balance {
	return Balance{
		CompanyID:            companyID,
		ClientID:             clientID,
		SpendSinceLastReward: decimal.Zero,
	}
}

// =============================================================================
// REWARD RECORD
// =============================================================================

type RewardKind string

const (
	RewardTier   RewardKind = "tier"
	RewardSpend  RewardKind = "spend"
	RewardRepeat RewardKind = "repeat"
)

func (k RewardKind) Valid() bool {
	switch k {
	case RewardTier, RewardSpend, RewardRepeat:
		return true
	}
	return false
}

// Trigger selects rewards by the value that produced them: the tier
// threshold for tier rewards, the spend target for spend rewards and the
// points interval for repeat rewards. An empty Kind matches any kind.
type Trigger struct {
	Kind  RewardKind
	Value decimal.Decimal
}

func TierTrigger(points int64) Trigger {
	return Trigger{Kind: RewardTier, Value: decimal.NewFromInt(points)}
}

func (t Trigger) Matches(r RewardRecord) bool {
	if t.Kind != "" && t.Kind != r.Kind {
		return false
	}
	return t.Value.Equal(r.Trigger)
}

// RewardKey is the natural identity of a reward. Sequence is 0 for tier
// rewards and the cycle ordinal (1, 2, ...) for spend and repeat rewards.
type RewardKey struct {
	CompanyID CompanyID
	ClientID  ClientID
	Kind      RewardKind
	Trigger   decimal.Decimal
	Sequence  int64
}

type RewardRecord struct {
	ID          RewardID
	CompanyID   CompanyID
	ClientID    ClientID
	Kind        RewardKind
	Trigger     decimal.Decimal
	Sequence    int64
	Delivered   bool
	ClaimToken  string
	ClaimedAt   *time.Time
	CreatedAt   time.Time
	DeliveredAt *time.Time
}

func (r RewardRecord) Key() RewardKey {
	return RewardKey{
		CompanyID: r.CompanyID,
		ClientID:  r.ClientID,
		Kind:      r.Kind,
		Trigger:   r.Trigger,
		Sequence:  r.Sequence,
	}
}

// SameKey compares keys with decimal equality rather than struct equality.
func (k RewardKey) SameKey(o RewardKey) bool {
	return k.CompanyID == o.CompanyID &&
		k.ClientID == o.ClientID &&
		k.Kind == o.Kind &&
		k.Sequence == o.Sequence &&
		k.Trigger.Equal(o.Trigger)
}

// PendingReward is a RewardRecord joined with display data for admins.
type PendingReward struct {
	RewardRecord
	ClientName string
}

// =============================================================================
// FULFILLMENT ORDER
// =============================================================================

type OrderProvenance string

const (
	ProvenancePurchase OrderProvenance = "purchase"
	ProvenanceReward   OrderProvenance = "reward"
)

type OrderLine struct {
	Label     string
	Quantity  int
	UnitPrice decimal.Decimal
}

// FulfillmentOrder is a regular order carrying a single zero-price line.
// Provenance marks it so revenue reporting can exclude it.
type FulfillmentOrder struct {
	ID         OrderID
	CompanyID  CompanyID
	ClientID   ClientID
	DepotID    DepotID
	DepotName  string
	ClientName string
	Email      string
	Phone      string
	Address    string
	Latitude   float64
	Longitude  float64
	Lines      []OrderLine
	Total      decimal.Decimal
	Provenance OrderProvenance
	RewardID   RewardID
	CreatedAt  time.Time
}

// =============================================================================
// DIRECTORY TYPES - Owned by other subsystems, read by the engine
// =============================================================================

type Company struct {
	ID       CompanyID
	Name     string
	ImageRef string
}

type Depot struct {
	ID        DepotID
	CompanyID CompanyID
	Name      string
	Address   string
}

// Affectation assigns a client to a company, served from one depot.
type Affectation struct {
	CompanyID  CompanyID
	DepotID    DepotID
	AssignedAt time.Time
}

type Client struct {
	ID           ClientID
	Name         string
	Email        string
	Phone        string
	Address      string
	Latitude     float64
	Longitude    float64
	Affectations []Affectation
	CreatedAt    time.Time
}

// CompanyIDs returns the distinct companies the client is affiliated with,
// in affectation order.
func (c *Client) CompanyIDs() []CompanyID {
	seen := make(map[CompanyID]bool)
	var ids []CompanyID
	for _, a := range c.Affectations {
		if seen[a.CompanyID] {
			continue
		}
		seen[a.CompanyID] = true
		ids = append(ids, a.CompanyID)
	}
	return ids
}

// FirstAffectation returns the earliest affectation to the given company.
func (c *Client) FirstAffectation(companyID CompanyID) (Affectation, bool) {
	var (
		first Affectation
		found bool
	)
	for _, a := range c.Affectations {
		if a.CompanyID != companyID {
			continue
		}
		if !found || a.AssignedAt.Before(first.AssignedAt) {
			first = a
			found = true
		}
	}
	return first, found
}
