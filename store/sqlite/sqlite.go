/*
Package sqlite provides a SQLite-backed implementation of the loyalty storage interfaces.

PURPOSE:
  Implements loyalty.Store (programs, balances, rewards), loyalty.Directory
  (companies, depots, clients) and loyalty.OrderWriter using SQLite. The
  same schema ports to PostgreSQL with minor dialect differences.

INTERFACES IMPLEMENTED:
  loyalty.Store:       Programs, balances and the reward ledger
  loyalty.Directory:   Client, company and depot lookups, latest order depot
  loyalty.OrderWriter: Fulfillment order creation

KEY TABLES:
  programs:            One row per company; tiers and rewards as JSON
  client_balances:     Counters per (company, client)
  rewards:             Reward ledger; rows are flipped, never deleted
  companies, depots:   Directory
  clients:             Directory, with client_affectations in list order
  orders, order_lines: Purchase and reward orders

REWARD UNIQUENESS:
  idx_rewards_pending_key is a partial unique index over the reward key
  restricted to delivered = 0. It is what makes concurrent evaluations
  unable to create two pending records for the same key:

    INSERT ... ON CONFLICT DO NOTHING           -> InsertIfNoPending
    INSERT ... WHERE NOT EXISTS (any delivered) -> InsertIfAbsent

CLAIMS:
  ClaimReward is a single conditional UPDATE:

    UPDATE rewards SET claim_token = ?, claimed_at = ?
    WHERE id = ? AND delivered = 0
      AND (claim_token IS NULL OR claimed_at < now - ttl)

  RowsAffected = 1 means the caller holds the record.

TIMESTAMPS:
  Stored as fixed-width UTC text (timeLayout) so that lexical order is
  chronological order.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := loyalty.NewEngine(store, store, store)

SEE ALSO:
  - loyalty/store.go: Interface definitions
  - loyalty/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// timeLayout is RFC3339 with fixed nanoseconds.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ loyalty.Store       = (*Store)(nil)
	_ loyalty.Directory   = (*Store)(nil)
	_ loyalty.OrderWriter = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Programs (one per company)
	CREATE TABLE IF NOT EXISTS programs (
		company_id TEXT PRIMARY KEY,
		amount_unit TEXT NOT NULL,
		points_per_unit TEXT NOT NULL,
		tiers_json TEXT NOT NULL DEFAULT '[]',
		spend_reward_json TEXT,
		repeat_reward_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Balances
	CREATE TABLE IF NOT EXISTS client_balances (
		company_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		points INTEGER NOT NULL DEFAULT 0,
		baseline INTEGER NOT NULL DEFAULT 0,
		spend_since_last_reward TEXT NOT NULL DEFAULT '0',
		points_since_last_repeat INTEGER NOT NULL DEFAULT 0,
		spend_rewards_issued INTEGER NOT NULL DEFAULT 0,
		repeat_rewards_issued INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (company_id, client_id)
	);

	-- Reward ledger
	CREATE TABLE IF NOT EXISTS rewards (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		trigger_value TEXT NOT NULL,
		sequence INTEGER NOT NULL DEFAULT 0,
		delivered INTEGER NOT NULL DEFAULT 0,
		claim_token TEXT,
		claimed_at TEXT,
		created_at TEXT NOT NULL,
		delivered_at TEXT
	);

	-- CRITICAL: At most one undelivered record per reward key
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rewards_pending_key
		ON rewards(company_id, client_id, kind, trigger_value, sequence)
		WHERE delivered = 0;

	-- Admin queue (pending rewards per company)
	CREATE INDEX IF NOT EXISTS idx_rewards_company_delivered
		ON rewards(company_id, delivered);

	-- Directory
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		image_ref TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS depots (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		address TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_depots_company
		ON depots(company_id);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		phone TEXT,
		address TEXT,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS client_affectations (
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		company_id TEXT NOT NULL,
		depot_id TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		PRIMARY KEY (client_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_affectations_company
		ON client_affectations(company_id);

	-- Orders (purchases and reward fulfillment)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		client_id TEXT NOT NULL,
		depot_id TEXT NOT NULL,
		depot_name TEXT,
		client_name TEXT,
		email TEXT,
		phone TEXT,
		address TEXT,
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		total TEXT NOT NULL,
		provenance TEXT NOT NULL DEFAULT 'purchase',
		reward_id TEXT,
		created_at TEXT NOT NULL
	);

	-- Latest order depot lookup (hot path for fulfillment)
	CREATE INDEX IF NOT EXISTS idx_orders_company_client_date
		ON orders(company_id, client_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS order_lines (
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		label TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		PRIMARY KEY (order_id, position)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PROGRAM STORE
// =============================================================================

type tierJSON struct {
	ID             string `json:"id"`
	PointsRequired int64  `json:"points_required"`
	RewardLabel    string `json:"reward_label"`
	ImageRef       string `json:"image_ref,omitempty"`
}

type spendRewardJSON struct {
	TargetAmount decimal.Decimal `json:"target_amount"`
	RewardLabel  string          `json:"reward_label"`
}

type repeatRewardJSON struct {
	PointsInterval int64  `json:"points_interval"`
	RewardLabel    string `json:"reward_label"`
}

// SaveProgram upserts a company's program.
func (s *Store) SaveProgram(ctx context.Context, p loyalty.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tiers := make([]tierJSON, len(p.Tiers))
	for i, t := range p.Tiers {
		tiers[i] = tierJSON{ID: string(t.ID), PointsRequired: t.PointsRequired, RewardLabel: t.RewardLabel, ImageRef: t.ImageRef}
	}
	tiersJSON, err := json.Marshal(tiers)
	if err != nil {
		return fmt.Errorf("failed to encode tiers: %w", err)
	}

	var spendJSON, repeatJSON sql.NullString
	if p.SpendReward != nil {
		b, err := json.Marshal(spendRewardJSON{TargetAmount: p.SpendReward.TargetAmount, RewardLabel: p.SpendReward.RewardLabel})
		if err != nil {
			return fmt.Errorf("failed to encode spend reward: %w", err)
		}
		spendJSON = nullString(string(b))
	}
	if p.RepeatReward != nil {
		b, err := json.Marshal(repeatRewardJSON{PointsInterval: p.RepeatReward.PointsInterval, RewardLabel: p.RepeatReward.RewardLabel})
		if err != nil {
			return fmt.Errorf("failed to encode repeat reward: %w", err)
		}
		repeatJSON = nullString(string(b))
	}

	query := `
		INSERT INTO programs (company_id, amount_unit, points_per_unit, tiers_json,
		                      spend_reward_json, repeat_reward_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			amount_unit = excluded.amount_unit,
			points_per_unit = excluded.points_per_unit,
			tiers_json = excluded.tiers_json,
			spend_reward_json = excluded.spend_reward_json,
			repeat_reward_json = excluded.repeat_reward_json,
			updated_at = excluded.updated_at
	`

	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.db.ExecContext(ctx, query,
		string(p.CompanyID),
		p.Ratio.AmountUnit.String(),
		p.Ratio.PointsPerUnit.String(),
		string(tiersJSON),
		spendJSON,
		repeatJSON,
		formatTime(createdAt),
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save program: %w", err)
	}
	return nil
}

const programColumns = `company_id, amount_unit, points_per_unit, tiers_json,
	spend_reward_json, repeat_reward_json, created_at, updated_at`

// GetProgram retrieves a company's program, or nil if none exists.
func (s *Store) GetProgram(ctx context.Context, companyID loyalty.CompanyID) (*loyalty.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+programColumns+" FROM programs WHERE company_id = ?",
		string(companyID),
	)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPrograms returns the existing programs among companyIDs, in the
// order given.
func (s *Store) ListPrograms(ctx context.Context, companyIDs []loyalty.CompanyID) ([]loyalty.Program, error) {
	if len(companyIDs) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(companyIDs))
	for i, id := range companyIDs {
		args[i] = string(id)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+programColumns+" FROM programs WHERE company_id IN ("+placeholders(len(args))+")",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query programs: %w", err)
	}
	defer rows.Close()

	byCompany := make(map[loyalty.CompanyID]loyalty.Program)
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		byCompany[p.CompanyID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var programs []loyalty.Program
	for _, id := range companyIDs {
		if p, ok := byCompany[id]; ok {
			programs = append(programs, p)
		}
	}
	return programs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProgram(row rowScanner) (loyalty.Program, error) {
	var p loyalty.Program
	var companyID, tiersJSON, createdAt, updatedAt string
	var spendJSON, repeatJSON sql.NullString

	if err := row.Scan(&companyID, &p.Ratio.AmountUnit, &p.Ratio.PointsPerUnit, &tiersJSON,
		&spendJSON, &repeatJSON, &createdAt, &updatedAt); err != nil {
		return p, err
	}
	p.CompanyID = loyalty.CompanyID(companyID)

	var tiers []tierJSON
	if err := json.Unmarshal([]byte(tiersJSON), &tiers); err != nil {
		return p, fmt.Errorf("failed to decode tiers of %s: %w", companyID, err)
	}
	for _, t := range tiers {
		p.Tiers = append(p.Tiers, loyalty.Tier{
			ID:             loyalty.TierID(t.ID),
			PointsRequired: t.PointsRequired,
			RewardLabel:    t.RewardLabel,
			ImageRef:       t.ImageRef,
		})
	}

	if spendJSON.Valid {
		var sr spendRewardJSON
		if err := json.Unmarshal([]byte(spendJSON.String), &sr); err != nil {
			return p, fmt.Errorf("failed to decode spend reward of %s: %w", companyID, err)
		}
		p.SpendReward = &loyalty.SpendReward{TargetAmount: sr.TargetAmount, RewardLabel: sr.RewardLabel}
	}
	if repeatJSON.Valid {
		var rr repeatRewardJSON
		if err := json.Unmarshal([]byte(repeatJSON.String), &rr); err != nil {
			return p, fmt.Errorf("failed to decode repeat reward of %s: %w", companyID, err)
		}
		p.RepeatReward = &loyalty.RepeatReward{PointsInterval: rr.PointsInterval, RewardLabel: rr.RewardLabel}
	}

	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// BALANCE STORE
// =============================================================================

const balanceColumns = `company_id, client_id, points, baseline, spend_since_last_reward,
	points_since_last_repeat, spend_rewards_issued, repeat_rewards_issued, updated_at`

// SaveBalance upserts the counters of one (company, client) pair.
func (s *Store) SaveBalance(ctx context.Context, b loyalty.Balance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO client_balances (` + balanceColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id, client_id) DO UPDATE SET
			points = excluded.points,
			baseline = excluded.baseline,
			spend_since_last_reward = excluded.spend_since_last_reward,
			points_since_last_repeat = excluded.points_since_last_repeat,
			spend_rewards_issued = excluded.spend_rewards_issued,
			repeat_rewards_issued = excluded.repeat_rewards_issued,
			updated_at = excluded.updated_at
	`

	updatedAt := b.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, query,
		string(b.CompanyID),
		string(b.ClientID),
		b.Points,
		b.Baseline,
		b.SpendSinceLastReward.String(),
		b.PointsSinceLastRepeat,
		b.SpendRewardsIssued,
		b.RepeatRewardsIssued,
		formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// GetBalance retrieves a balance. ok is false when none was ever saved.
func (s *Store) GetBalance(ctx context.Context, key loyalty.BalanceKey) (loyalty.Balance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+balanceColumns+" FROM client_balances WHERE company_id = ? AND client_id = ?",
		string(key.CompanyID), string(key.ClientID),
	)
	b, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Balance{}, false, nil
	}
	if err != nil {
		return loyalty.Balance{}, false, err
	}
	return b, true, nil
}

// ListBalances returns every balance of the company ordered by client.
func (s *Store) ListBalances(ctx context.Context, companyID loyalty.CompanyID) ([]loyalty.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+balanceColumns+" FROM client_balances WHERE company_id = ? ORDER BY client_id",
		string(companyID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []loyalty.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

func scanBalance(row rowScanner) (loyalty.Balance, error) {
	var b loyalty.Balance
	var companyID, clientID, updatedAt string
	err := row.Scan(&companyID, &clientID, &b.Points, &b.Baseline, &b.SpendSinceLastReward,
		&b.PointsSinceLastRepeat, &b.SpendRewardsIssued, &b.RepeatRewardsIssued, &updatedAt)
	if err != nil {
		return b, err
	}
	b.CompanyID = loyalty.CompanyID(companyID)
	b.ClientID = loyalty.ClientID(clientID)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// REWARD STORE
// =============================================================================

const rewardColumns = `id, company_id, client_id, kind, trigger_value, sequence, delivered,
	claim_token, claimed_at, created_at, delivered_at`

// InsertReward writes rec unless scope forbids it. Returns whether a row
// was written.
func (s *Store) InsertReward(ctx context.Context, rec loyalty.RewardRecord, scope loyalty.InsertScope) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	args := []any{
		string(rec.ID),
		string(rec.CompanyID),
		string(rec.ClientID),
		string(rec.Kind),
		rec.Trigger.String(),
		rec.Sequence,
		formatTime(rec.CreatedAt),
	}

	var query string
	switch scope {
	case loyalty.InsertIfAbsent:
		query = `
			INSERT INTO rewards (id, company_id, client_id, kind, trigger_value, sequence, created_at)
			SELECT ?, ?, ?, ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM rewards
				WHERE company_id = ? AND client_id = ? AND kind = ?
				  AND trigger_value = ? AND sequence = ?
			)
			ON CONFLICT DO NOTHING
		`
		args = append(args,
			string(rec.CompanyID),
			string(rec.ClientID),
			string(rec.Kind),
			rec.Trigger.String(),
			rec.Sequence,
		)
	default:
		query = `
			INSERT INTO rewards (id, company_id, client_id, kind, trigger_value, sequence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to insert reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListRewards returns matching records in creation order.
func (s *Store) ListRewards(ctx context.Context, filter loyalty.RewardFilter) ([]loyalty.RewardRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := rewardWhere(filter)
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+rewardColumns+" FROM rewards WHERE "+where+" ORDER BY created_at ASC, rowid ASC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query rewards: %w", err)
	}
	defer rows.Close()

	var records []loyalty.RewardRecord
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ClaimReward takes the record for token when it is undelivered and either
// unclaimed or claimed before now-ttl.
func (s *Store) ClaimReward(ctx context.Context, id loyalty.RewardID, token string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE rewards SET claim_token = ?, claimed_at = ?
		WHERE id = ? AND delivered = 0
		  AND (claim_token IS NULL OR claimed_at IS NULL OR claimed_at < ?)
	`, token, formatTime(now), string(id), formatTime(now.Add(-ttl)))
	if err != nil {
		return false, fmt.Errorf("failed to claim reward: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseClaim clears the claim if token still holds it.
func (s *Store) ReleaseClaim(ctx context.Context, id loyalty.RewardID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"UPDATE rewards SET claim_token = NULL, claimed_at = NULL WHERE id = ? AND claim_token = ?",
		string(id), token,
	)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	return nil
}

// MarkRewardDelivered flips the record held by token.
func (s *Store) MarkRewardDelivered(ctx context.Context, id loyalty.RewardID, token string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE rewards SET delivered = 1, delivered_at = ?, claim_token = NULL, claimed_at = NULL
		WHERE id = ? AND delivered = 0 AND claim_token = ?
	`, formatTime(at), string(id), token)
	if err != nil {
		return false, fmt.Errorf("failed to mark reward delivered: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkDelivered flips every undelivered record matching filter, ignoring
// claims.
func (s *Store) MarkDelivered(ctx context.Context, filter loyalty.RewardFilter, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	undelivered := false
	filter.Delivered = &undelivered
	where, args := rewardWhere(filter)

	res, err := s.db.ExecContext(ctx,
		"UPDATE rewards SET delivered = 1, delivered_at = ?, claim_token = NULL, claimed_at = NULL WHERE "+where,
		append([]any{formatTime(at)}, args...)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark rewards delivered: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func rewardWhere(f loyalty.RewardFilter) (string, []any) {
	clauses := []string{"company_id = ?"}
	args := []any{string(f.CompanyID)}

	if f.ClientID != nil {
		clauses = append(clauses, "client_id = ?")
		args = append(args, string(*f.ClientID))
	}
	if f.Trigger != nil {
		if f.Trigger.Kind != "" {
			clauses = append(clauses, "kind = ?")
			args = append(args, string(f.Trigger.Kind))
		}
		clauses = append(clauses, "trigger_value = ?")
		args = append(args, f.Trigger.Value.String())
	}
	if f.Delivered != nil {
		clauses = append(clauses, "delivered = ?")
		args = append(args, boolInt(*f.Delivered))
	}
	return strings.Join(clauses, " AND "), args
}

func scanReward(row rowScanner) (loyalty.RewardRecord, error) {
	var r loyalty.RewardRecord
	var id, companyID, clientID, kind, trigger, createdAt string
	var delivered int
	var claimToken, claimedAt, deliveredAt sql.NullString

	err := row.Scan(&id, &companyID, &clientID, &kind, &trigger, &r.Sequence, &delivered,
		&claimToken, &claimedAt, &createdAt, &deliveredAt)
	if err != nil {
		return r, err
	}

	r.ID = loyalty.RewardID(id)
	r.CompanyID = loyalty.CompanyID(companyID)
	r.ClientID = loyalty.ClientID(clientID)
	r.Kind = loyalty.RewardKind(kind)
	r.Trigger, err = decimal.NewFromString(trigger)
	if err != nil {
		return r, fmt.Errorf("invalid trigger value %q on reward %s: %w", trigger, id, err)
	}
	r.Delivered = delivered == 1
	r.ClaimToken = claimToken.String
	r.ClaimedAt = parseNullTime(claimedAt)
	r.CreatedAt = parseTime(createdAt)
	r.DeliveredAt = parseNullTime(deliveredAt)
	return r, nil
}

// =============================================================================
// DIRECTORY - Companies
// =============================================================================

// SaveCompany upserts a company.
func (s *Store) SaveCompany(ctx context.Context, c loyalty.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO companies (id, name, image_ref, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			image_ref = excluded.image_ref
	`
	_, err := s.db.ExecContext(ctx, query,
		string(c.ID), c.Name, nullString(c.ImageRef), formatTime(time.Now()),
	)
	return err
}

// GetCompany retrieves a company by ID, or nil.
func (s *Store) GetCompany(ctx context.Context, id loyalty.CompanyID) (*loyalty.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c loyalty.Company
	var cid string
	var imageRef sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, image_ref FROM companies WHERE id = ?",
		string(id),
	).Scan(&cid, &c.Name, &imageRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.ID = loyalty.CompanyID(cid)
	c.ImageRef = imageRef.String
	return &c, nil
}

// ListCompanies returns all companies ordered by name.
func (s *Store) ListCompanies(ctx context.Context) ([]loyalty.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, image_ref FROM companies ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var companies []loyalty.Company
	for rows.Next() {
		var c loyalty.Company
		var id string
		var imageRef sql.NullString
		if err := rows.Scan(&id, &c.Name, &imageRef); err != nil {
			return nil, err
		}
		c.ID = loyalty.CompanyID(id)
		c.ImageRef = imageRef.String
		companies = append(companies, c)
	}
	return companies, rows.Err()
}

// =============================================================================
// DIRECTORY - Depots
// =============================================================================

// SaveDepot upserts a depot. Its company must exist.
func (s *Store) SaveDepot(ctx context.Context, d loyalty.Depot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO depots (id, company_id, name, address)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			name = excluded.name,
			address = excluded.address
	`
	_, err := s.db.ExecContext(ctx, query,
		string(d.ID), string(d.CompanyID), d.Name, nullString(d.Address),
	)
	return err
}

// GetDepot retrieves a depot by ID, or nil.
func (s *Store) GetDepot(ctx context.Context, id loyalty.DepotID) (*loyalty.Depot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := scanDepot(s.db.QueryRowContext(ctx,
		"SELECT id, company_id, name, address FROM depots WHERE id = ?",
		string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDepots returns the company's depots ordered by name.
func (s *Store) ListDepots(ctx context.Context, companyID loyalty.CompanyID) ([]loyalty.Depot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, company_id, name, address FROM depots WHERE company_id = ? ORDER BY name",
		string(companyID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var depots []loyalty.Depot
	for rows.Next() {
		d, err := scanDepot(rows)
		if err != nil {
			return nil, err
		}
		depots = append(depots, d)
	}
	return depots, rows.Err()
}

func scanDepot(row rowScanner) (loyalty.Depot, error) {
	var d loyalty.Depot
	var id, companyID string
	var address sql.NullString
	if err := row.Scan(&id, &companyID, &d.Name, &address); err != nil {
		return d, err
	}
	d.ID = loyalty.DepotID(id)
	d.CompanyID = loyalty.CompanyID(companyID)
	d.Address = address.String
	return d, nil
}

// =============================================================================
// DIRECTORY - Clients
// =============================================================================

// SaveClient upserts a client and replaces its affectations, keeping
// their order.
func (s *Store) SaveClient(ctx context.Context, c loyalty.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO clients (id, name, email, phone, address, latitude, longitude, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			latitude = excluded.latitude,
			longitude = excluded.longitude
	`, string(c.ID), c.Name, nullString(c.Email), nullString(c.Phone), nullString(c.Address),
		c.Latitude, c.Longitude, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx, "DELETE FROM client_affectations WHERE client_id = ?", string(c.ID)); err != nil {
		return fmt.Errorf("failed to clear affectations: %w", err)
	}
	for i, a := range c.Affectations {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO client_affectations (client_id, position, company_id, depot_id, assigned_at)
			VALUES (?, ?, ?, ?, ?)
		`, string(c.ID), i, string(a.CompanyID), string(a.DepotID), formatTime(a.AssignedAt))
		if err != nil {
			return fmt.Errorf("failed to save affectation: %w", err)
		}
	}

	return sqlTx.Commit()
}

const clientColumns = "id, name, email, phone, address, latitude, longitude, created_at"

// GetClient retrieves a client with its affectations, or nil.
func (s *Store) GetClient(ctx context.Context, id loyalty.ClientID) (*loyalty.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanClient(s.db.QueryRowContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE id = ?",
		string(id),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Affectations, err = s.loadAffectations(ctx, c.ID); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClients returns clients ordered by name. A non-empty companyID
// restricts the list to clients affected to that company.
func (s *Store) ListClients(ctx context.Context, companyID loyalty.CompanyID) ([]loyalty.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + clientColumns + " FROM clients ORDER BY name"
	var args []any
	if companyID != "" {
		query = "SELECT " + clientColumns + ` FROM clients
			WHERE id IN (SELECT client_id FROM client_affectations WHERE company_id = ?)
			ORDER BY name`
		args = append(args, string(companyID))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var clients []loyalty.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		clients = append(clients, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range clients {
		if clients[i].Affectations, err = s.loadAffectations(ctx, clients[i].ID); err != nil {
			return nil, err
		}
	}
	return clients, nil
}

func scanClient(row rowScanner) (loyalty.Client, error) {
	var c loyalty.Client
	var id, createdAt string
	var email, phone, address sql.NullString
	if err := row.Scan(&id, &c.Name, &email, &phone, &address, &c.Latitude, &c.Longitude, &createdAt); err != nil {
		return c, err
	}
	c.ID = loyalty.ClientID(id)
	c.Email = email.String
	c.Phone = phone.String
	c.Address = address.String
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) loadAffectations(ctx context.Context, clientID loyalty.ClientID) ([]loyalty.Affectation, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT company_id, depot_id, assigned_at FROM client_affectations WHERE client_id = ? ORDER BY position",
		string(clientID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query affectations: %w", err)
	}
	defer rows.Close()

	var affectations []loyalty.Affectation
	for rows.Next() {
		var companyID, depotID, assignedAt string
		if err := rows.Scan(&companyID, &depotID, &assignedAt); err != nil {
			return nil, err
		}
		affectations = append(affectations, loyalty.Affectation{
			CompanyID:  loyalty.CompanyID(companyID),
			DepotID:    loyalty.DepotID(depotID),
			AssignedAt: parseTime(assignedAt),
		})
	}
	return affectations, rows.Err()
}

// =============================================================================
// ORDERS
// =============================================================================

// CreateOrder writes an order and its lines atomically.
func (s *Store) CreateOrder(ctx context.Context, o loyalty.FulfillmentOrder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	provenance := o.Provenance
	if provenance == "" {
		provenance = loyalty.ProvenancePurchase
	}
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO orders (id, company_id, client_id, depot_id, depot_name, client_name, email, phone,
		                    address, latitude, longitude, total, provenance, reward_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(o.ID), string(o.CompanyID), string(o.ClientID), string(o.DepotID),
		nullString(o.DepotName), nullString(o.ClientName), nullString(o.Email), nullString(o.Phone),
		nullString(o.Address), o.Latitude, o.Longitude,
		o.Total.String(), string(provenance), nullString(string(o.RewardID)),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	for i, line := range o.Lines {
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO order_lines (order_id, position, label, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, string(o.ID), i, line.Label, line.Quantity, line.UnitPrice.String())
		if err != nil {
			return fmt.Errorf("failed to create order line: %w", err)
		}
	}

	return sqlTx.Commit()
}

// LatestOrderDepot returns the depot of the client's most recent order
// with the company.
func (s *Store) LatestOrderDepot(ctx context.Context, companyID loyalty.CompanyID, clientID loyalty.ClientID) (loyalty.DepotID, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var depotID string
	err := s.db.QueryRowContext(ctx, `
		SELECT depot_id FROM orders
		WHERE company_id = ? AND client_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, string(companyID), string(clientID)).Scan(&depotID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return loyalty.DepotID(depotID), true, nil
}

// ListOrders returns the company's orders, newest first. A non-empty
// clientID restricts them to that client.
func (s *Store) ListOrders(ctx context.Context, companyID loyalty.CompanyID, clientID loyalty.ClientID) ([]loyalty.FulfillmentOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, company_id, client_id, depot_id, depot_name, client_name, email, phone,
		       address, latitude, longitude, total, provenance, reward_id, created_at
		FROM orders WHERE company_id = ?`
	args := []any{string(companyID)}
	if clientID != "" {
		query += " AND client_id = ?"
		args = append(args, string(clientID))
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []loyalty.FulfillmentOrder
	for rows.Next() {
		var o loyalty.FulfillmentOrder
		var id, cid, clid, depotID, provenance, createdAt string
		var depotName, clientName, email, phone, address, rewardID sql.NullString
		if err := rows.Scan(&id, &cid, &clid, &depotID, &depotName, &clientName, &email, &phone,
			&address, &o.Latitude, &o.Longitude, &o.Total, &provenance, &rewardID, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		o.ID = loyalty.OrderID(id)
		o.CompanyID = loyalty.CompanyID(cid)
		o.ClientID = loyalty.ClientID(clid)
		o.DepotID = loyalty.DepotID(depotID)
		o.DepotName = depotName.String
		o.ClientName = clientName.String
		o.Email = email.String
		o.Phone = phone.String
		o.Address = address.String
		o.Provenance = loyalty.OrderProvenance(provenance)
		o.RewardID = loyalty.RewardID(rewardID.String)
		o.CreatedAt = parseTime(createdAt)
		orders = append(orders, o)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range orders {
		if orders[i].Lines, err = s.loadOrderLines(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *Store) loadOrderLines(ctx context.Context, orderID loyalty.OrderID) ([]loyalty.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT label, quantity, unit_price FROM order_lines WHERE order_id = ? ORDER BY position",
		string(orderID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query order lines: %w", err)
	}
	defer rows.Close()

	var lines []loyalty.OrderLine
	for rows.Next() {
		var l loyalty.OrderLine
		if err := rows.Scan(&l.Label, &l.Quantity, &l.UnitPrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"order_lines", "orders", "rewards", "client_balances", "programs",
		"client_affectations", "clients", "depots", "companies",
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
