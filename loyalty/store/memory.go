// Package store provides in-memory implementations of the loyalty stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements loyalty.Store, loyalty.Directory and loyalty.OrderWriter.
type Memory struct {
	mu        sync.RWMutex
	programs  map[loyalty.CompanyID]loyalty.Program
	balances  map[loyalty.BalanceKey]loyalty.Balance
	rewards   []loyalty.RewardRecord
	companies map[loyalty.CompanyID]loyalty.Company
	depots    map[loyalty.DepotID]loyalty.Depot
	clients   map[loyalty.ClientID]loyalty.Client
	orders    []loyalty.FulfillmentOrder
}

var (
	_ loyalty.Store       = (*Memory)(nil)
	_ loyalty.Directory   = (*Memory)(nil)
	_ loyalty.OrderWriter = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		programs:  make(map[loyalty.CompanyID]loyalty.Program),
		balances:  make(map[loyalty.BalanceKey]loyalty.Balance),
		companies: make(map[loyalty.CompanyID]loyalty.Company),
		depots:    make(map[loyalty.DepotID]loyalty.Depot),
		clients:   make(map[loyalty.ClientID]loyalty.Client),
	}
}

// =============================================================================
// PROGRAMS
// =============================================================================

func (m *Memory) GetProgram(_ context.Context, companyID loyalty.CompanyID) (*loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.programs[companyID]
	if !ok {
		return nil, nil
	}
	p = cloneProgram(p)
	return &p, nil
}

func (m *Memory) SaveProgram(_ context.Context, program loyalty.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.programs[program.CompanyID] = cloneProgram(program)
	return nil
}

func (m *Memory) ListPrograms(_ context.Context, companyIDs []loyalty.CompanyID) ([]loyalty.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.Program
	for _, id := range companyIDs {
		if p, ok := m.programs[id]; ok {
			result = append(result, cloneProgram(p))
		}
	}
	return result, nil
}

// Programs share no slices or pointers with callers.
func cloneProgram(p loyalty.Program) loyalty.Program {
	p.Tiers = append([]loyalty.Tier(nil), p.Tiers...)
	if p.SpendReward != nil {
		s := *p.SpendReward
		p.SpendReward = &s
	}
	if p.RepeatReward != nil {
		r := *p.RepeatReward
		p.RepeatReward = &r
	}
	return p
}

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key loyalty.BalanceKey) (loyalty.Balance, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[key]
	return b, ok, nil
}

func (m *Memory) SaveBalance(_ context.Context, balance loyalty.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[balance.Key()] = balance
	return nil
}

func (m *Memory) ListBalances(_ context.Context, companyID loyalty.CompanyID) ([]loyalty.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.Balance
	for k, b := range m.balances {
		if k.CompanyID == companyID {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ClientID < result[j].ClientID })
	return result, nil
}

// =============================================================================
// REWARDS
// =============================================================================

func (m *Memory) InsertReward(_ context.Context, rec loyalty.RewardRecord, scope loyalty.InsertScope) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.Key()
	for _, existing := range m.rewards {
		if !existing.Key().SameKey(key) {
			continue
		}
		if scope == loyalty.InsertIfAbsent || !existing.Delivered {
			return false, nil
		}
	}
	m.rewards = append(m.rewards, rec)
	return true, nil
}

func (m *Memory) ListRewards(_ context.Context, filter loyalty.RewardFilter) ([]loyalty.RewardRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.RewardRecord
	for _, r := range m.rewards {
		if filter.Matches(r) {
			result = append(result, r)
		}
	}
	return result, nil
}

func (m *Memory) ClaimReward(_ context.Context, id loyalty.RewardID, token string, now time.Time, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.rewardIndex(id)
	if i < 0 {
		return false, nil
	}
	r := &m.rewards[i]
	if r.Delivered {
		return false, nil
	}
	if r.ClaimToken != "" && r.ClaimedAt != nil && !r.ClaimedAt.Before(now.Add(-ttl)) {
		return false, nil
	}
	claimedAt := now
	r.ClaimToken = token
	r.ClaimedAt = &claimedAt
	return true, nil
}

func (m *Memory) ReleaseClaim(_ context.Context, id loyalty.RewardID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i := m.rewardIndex(id); i >= 0 && m.rewards[i].ClaimToken == token {
		m.rewards[i].ClaimToken = ""
		m.rewards[i].ClaimedAt = nil
	}
	return nil
}

func (m *Memory) MarkRewardDelivered(_ context.Context, id loyalty.RewardID, token string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.rewardIndex(id)
	if i < 0 {
		return false, nil
	}
	r := &m.rewards[i]
	if r.Delivered || r.ClaimToken != token {
		return false, nil
	}
	deliver(r, at)
	return true, nil
}

func (m *Memory) MarkDelivered(_ context.Context, filter loyalty.RewardFilter, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for i := range m.rewards {
		r := &m.rewards[i]
		if r.Delivered || !filter.Matches(*r) {
			continue
		}
		deliver(r, at)
		n++
	}
	return n, nil
}

func deliver(r *loyalty.RewardRecord, at time.Time) {
	deliveredAt := at
	r.Delivered = true
	r.DeliveredAt = &deliveredAt
	r.ClaimToken = ""
	r.ClaimedAt = nil
}

func (m *Memory) rewardIndex(id loyalty.RewardID) int {
	for i := range m.rewards {
		if m.rewards[i].ID == id {
			return i
		}
	}
	return -1
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveCompany(_ context.Context, c loyalty.Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companies[c.ID] = c
	return nil
}

func (m *Memory) SaveDepot(_ context.Context, d loyalty.Depot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depots[d.ID] = d
	return nil
}

func (m *Memory) SaveClient(_ context.Context, c loyalty.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Affectations = append([]loyalty.Affectation(nil), c.Affectations...)
	m.clients[c.ID] = c
	return nil
}

func (m *Memory) GetClient(_ context.Context, id loyalty.ClientID) (*loyalty.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, nil
	}
	c.Affectations = append([]loyalty.Affectation(nil), c.Affectations...)
	return &c, nil
}

func (m *Memory) GetCompany(_ context.Context, id loyalty.CompanyID) (*loyalty.Company, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.companies[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetDepot(_ context.Context, id loyalty.DepotID) (*loyalty.Depot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.depots[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) LatestOrderDepot(_ context.Context, companyID loyalty.CompanyID, clientID loyalty.ClientID) (loyalty.DepotID, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Orders are appended in creation order; the last match is the latest.
	for i := len(m.orders) - 1; i >= 0; i-- {
		o := m.orders[i]
		if o.CompanyID == companyID && o.ClientID == clientID {
			return o.DepotID, true, nil
		}
	}
	return "", false, nil
}

// =============================================================================
// ORDERS
// =============================================================================

func (m *Memory) CreateOrder(_ context.Context, order loyalty.FulfillmentOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	order.Lines = append([]loyalty.OrderLine(nil), order.Lines...)
	m.orders = append(m.orders, order)
	return nil
}

// Orders returns every order of the client with the company.
func (m *Memory) Orders(companyID loyalty.CompanyID, clientID loyalty.ClientID) []loyalty.FulfillmentOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []loyalty.FulfillmentOrder
	for _, o := range m.orders {
		if o.CompanyID == companyID && o.ClientID == clientID {
			result = append(result, o)
		}
	}
	return result
}
