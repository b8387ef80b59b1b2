/*
store.go - Persistence interfaces consumed by the engine

PURPOSE:
  Defines the interface between the loyalty engine and the database.
  The engine never caches state between calls: every operation re-reads
  the program, balance and reward rows it needs.

KEY INTERFACES:
  ProgramStore:  One Program per company
  BalanceStore:  Balance per (company, client)
  RewardStore:   Reward records with conditional insert and atomic claim
  Directory:     Read access to clients, companies, depots and orders
  OrderWriter:   Creates fulfillment orders

CONDITIONAL INSERT:
  InsertReward never duplicates. InsertIfNoPending refuses when an
  undelivered record with the same RewardKey exists; InsertIfAbsent refuses
  when any record with that key exists, delivered or not.

CLAIM:
  ClaimReward is a single conditional write that succeeds only while the
  record is undelivered and not held by a live claim. Two concurrent
  deliveries of the same reward cannot both win, so at most one order is
  created per reward.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - loyalty/store/memory.go: In-memory for tests

SEE ALSO:
  - fulfillment.go: Claim -> order -> MarkRewardDelivered sequence
*/
package loyalty

import (
	"context"
	"time"
)

// =============================================================================
// PROGRAM / BALANCE STORES
// =============================================================================

type ProgramStore interface {
	// GetProgram returns nil, nil when the company has no program yet.
	GetProgram(ctx context.Context, companyID CompanyID) (*Program, error)
	SaveProgram(ctx context.Context, program Program) error
	// ListPrograms returns programs for the given companies that exist.
	ListPrograms(ctx context.Context, companyIDs []CompanyID) ([]Program, error)
}

type BalanceStore interface {
	// GetBalance returns false when the pair has no balance yet.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, bool, error)
	SaveBalance(ctx context.Context, balance Balance) error
	// ListBalances returns every balance held with a company.
	ListBalances(ctx context.Context, companyID CompanyID) ([]Balance, error)
}

// =============================================================================
// REWARD STORE
// =============================================================================

type InsertScope int

const (
	// InsertIfNoPending skips the insert while an undelivered record with
	// the same key exists.
	InsertIfNoPending InsertScope = iota
	// InsertIfAbsent skips the insert when any record with the same key
	// exists, delivered or not.
	InsertIfAbsent
)

// RewardFilter narrows ListRewards. Nil fields do not filter.
type RewardFilter struct {
	CompanyID CompanyID
	ClientID  *ClientID
	Trigger   *Trigger
	Delivered *bool
}

func (f RewardFilter) Matches(r RewardRecord) bool {
	if r.CompanyID != f.CompanyID {
		return false
	}
	if f.ClientID != nil && r.ClientID != *f.ClientID {
		return false
	}
	if f.Trigger != nil && !f.Trigger.Matches(r) {
		return false
	}
	if f.Delivered != nil && r.Delivered != *f.Delivered {
		return false
	}
	return true
}

type RewardStore interface {
	// InsertReward stores rec unless the scope forbids it. Returns whether
	// a row was written.
	InsertReward(ctx context.Context, rec RewardRecord, scope InsertScope) (bool, error)

	// ListRewards returns matching records ordered by creation time.
	ListRewards(ctx context.Context, filter RewardFilter) ([]RewardRecord, error)

	// ClaimReward sets the claim token when the record is undelivered and
	// either unclaimed or claimed before now-ttl. Returns whether it won.
	ClaimReward(ctx context.Context, id RewardID, token string, now time.Time, ttl time.Duration) (bool, error)

	// ReleaseClaim clears the claim if it is still held by token.
	ReleaseClaim(ctx context.Context, id RewardID, token string) error

	// MarkRewardDelivered flips the record held by token to delivered.
	MarkRewardDelivered(ctx context.Context, id RewardID, token string, at time.Time) (bool, error)

	// MarkDelivered flips every undelivered record matching filter,
	// regardless of claims. Returns the number of records flipped.
	MarkDelivered(ctx context.Context, filter RewardFilter, at time.Time) (int, error)
}

// Store is everything the engine persists itself.
type Store interface {
	ProgramStore
	BalanceStore
	RewardStore
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// Directory reads entities owned by other subsystems. Lookups return
// nil, nil for missing entities.
type Directory interface {
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	GetCompany(ctx context.Context, id CompanyID) (*Company, error)
	GetDepot(ctx context.Context, id DepotID) (*Depot, error)

	// LatestOrderDepot returns the depot of the client's most recent order
	// with the company.
	LatestOrderDepot(ctx context.Context, companyID CompanyID, clientID ClientID) (DepotID, bool, error)
}

type OrderWriter interface {
	CreateOrder(ctx context.Context, order FulfillmentOrder) error
}
