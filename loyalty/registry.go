/*
registry.go - Program Registry

PURPOSE:
  Holds one loyalty configuration per company. Programs are created lazily
  with the default ratio (500 spent -> 5 points) on first read or write and
  are never deleted by the engine.

TIER ORDERING:
  Every mutation leaves Program.Tiers sorted ascending by PointsRequired.
  AddTier additionally runs the Threshold Evaluator (OnTierAdded) so that
  clients are baselined or granted the new tier retroactively. Re-adding a
  tier with the same ID and threshold does not evaluate again.

SEE ALSO:
  - evaluator.go: OnTierAdded
  - factory/program.go: JSON program definitions fed to ApplyProgramConfig
*/
package loyalty

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ProgramConfig is a full program definition applied in one call.
type ProgramConfig struct {
	Ratio        *Ratio
	Tiers        []Tier
	SpendReward  *SpendReward
	RepeatReward *RepeatReward
}

// =============================================================================
// PROGRAM LIFECYCLE
// =============================================================================

// GetOrCreateProgram returns the company's program, creating and persisting
// a default one first if none exists.
func (e *Engine) GetOrCreateProgram(ctx context.Context, companyID CompanyID) (*Program, error) {
	if strings.TrimSpace(string(companyID)) == "" {
		return nil, configError("company_id", "is required")
	}

	program, err := e.Store.GetProgram(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("load program for company %s: %w", companyID, err)
	}
	if program != nil {
		return program, nil
	}

	now := e.now()
	program = &Program{
		CompanyID: companyID,
		Ratio:     e.DefaultRatio,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Store.SaveProgram(ctx, *program); err != nil {
		return nil, fmt.Errorf("create program for company %s: %w", companyID, err)
	}
	e.log().Info("loyalty program created", "company_id", companyID)
	return program, nil
}

func (e *Engine) saveProgram(ctx context.Context, program *Program) error {
	program.SortTiers()
	program.UpdatedAt = e.now()
	if err := e.Store.SaveProgram(ctx, *program); err != nil {
		return fmt.Errorf("save program for company %s: %w", program.CompanyID, err)
	}
	return nil
}

// SetRatio replaces the point ratio. Both values must be positive.
func (e *Engine) SetRatio(ctx context.Context, companyID CompanyID, amountUnit, pointsPerUnit decimal.Decimal) (*Program, error) {
	ratio := Ratio{AmountUnit: amountUnit, PointsPerUnit: pointsPerUnit}
	if err := validateRatio(ratio); err != nil {
		return nil, err
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return nil, err
	}
	program.Ratio = ratio
	if err := e.saveProgram(ctx, program); err != nil {
		return nil, err
	}
	return program, nil
}

// SetSpendReward configures the spend reward. Nil removes it.
func (e *Engine) SetSpendReward(ctx context.Context, companyID CompanyID, reward *SpendReward) (*Program, error) {
	if reward != nil {
		if err := validateSpendReward(*reward); err != nil {
			return nil, err
		}
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return nil, err
	}
	program.SpendReward = reward
	if err := e.saveProgram(ctx, program); err != nil {
		return nil, err
	}
	return program, nil
}

// SetRepeatReward configures the repeat reward. Nil removes it.
func (e *Engine) SetRepeatReward(ctx context.Context, companyID CompanyID, reward *RepeatReward) (*Program, error) {
	if reward != nil {
		if err := validateRepeatReward(*reward); err != nil {
			return nil, err
		}
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return nil, err
	}
	program.RepeatReward = reward
	if err := e.saveProgram(ctx, program); err != nil {
		return nil, err
	}
	return program, nil
}

// =============================================================================
// TIERS
// =============================================================================

// AddTier inserts a tier and runs OnTierAdded. A tier whose ID is already
// present replaces the existing one; evaluation then runs only when its
// threshold moved, and against the highest threshold of the other tiers.
func (e *Engine) AddTier(ctx context.Context, companyID CompanyID, tier Tier) (Tier, error) {
	if err := validateTier(tier); err != nil {
		return Tier{}, err
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return Tier{}, err
	}
	if tier.ID == "" {
		tier.ID = TierID(e.newID())
	}

	i := program.TierIndex(tier.ID)
	previousMax := maxThresholdWithout(program.Tiers, i)
	moved := true
	if i >= 0 {
		moved = program.Tiers[i].PointsRequired != tier.PointsRequired
		program.Tiers[i] = tier
	} else {
		program.Tiers = append(program.Tiers, tier)
	}
	if err := e.saveProgram(ctx, program); err != nil {
		return Tier{}, err
	}

	e.log().Info("loyalty tier added",
		"company_id", companyID,
		"tier_id", tier.ID,
		"points_required", tier.PointsRequired,
		"previous_max", previousMax,
		"replaced", i >= 0,
	)

	if !moved {
		return tier, nil
	}
	if _, err := e.OnTierAdded(ctx, companyID, tier, previousMax); err != nil {
		return tier, err
	}
	return tier, nil
}

// maxThresholdWithout returns the highest threshold, ignoring tiers[skip].
func maxThresholdWithout(tiers []Tier, skip int) int64 {
	var max int64
	for i, t := range tiers {
		if i != skip && t.PointsRequired > max {
			max = t.PointsRequired
		}
	}
	return max
}

// UpdateTier replaces an existing tier's threshold, label and image.
func (e *Engine) UpdateTier(ctx context.Context, companyID CompanyID, tier Tier) (Tier, error) {
	if err := validateTier(tier); err != nil {
		return Tier{}, err
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return Tier{}, err
	}
	i := program.TierIndex(tier.ID)
	if i < 0 {
		return Tier{}, fmt.Errorf("%w: %s", ErrTierNotFound, tier.ID)
	}
	program.Tiers[i] = tier
	if err := e.saveProgram(ctx, program); err != nil {
		return Tier{}, err
	}
	return tier, nil
}

// RemoveTier deletes a tier. Rewards already earned for it stay in the
// ledger and are delivered under a fallback label.
func (e *Engine) RemoveTier(ctx context.Context, companyID CompanyID, tierID TierID) error {
	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return err
	}
	i := program.TierIndex(tierID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrTierNotFound, tierID)
	}
	program.Tiers = append(program.Tiers[:i], program.Tiers[i+1:]...)
	return e.saveProgram(ctx, program)
}

// ApplyProgramConfig validates a whole definition, then applies the ratio,
// spend and repeat rewards, and replaces the tier list. Incoming tiers match
// existing ones by ID, or by threshold and label when they carry no ID, so
// applying the same definition twice changes nothing. Tiers absent from the
// definition are removed; the rest go through AddTier.
func (e *Engine) ApplyProgramConfig(ctx context.Context, companyID CompanyID, cfg ProgramConfig) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	program, err := e.GetOrCreateProgram(ctx, companyID)
	if err != nil {
		return nil, err
	}

	tiers := matchTiers(program.Tiers, cfg.Tiers)
	keep := make(map[TierID]bool, len(tiers))
	for _, t := range tiers {
		if t.ID != "" {
			keep[t.ID] = true
		}
	}
	kept := program.Tiers[:0]
	for _, t := range program.Tiers {
		if keep[t.ID] {
			kept = append(kept, t)
		}
	}
	program.Tiers = kept

	if cfg.Ratio != nil {
		program.Ratio = *cfg.Ratio
	}
	program.SpendReward = cfg.SpendReward
	program.RepeatReward = cfg.RepeatReward
	if err := e.saveProgram(ctx, program); err != nil {
		return nil, err
	}

	for _, tier := range tiers {
		if _, err := e.AddTier(ctx, companyID, tier); err != nil {
			return nil, err
		}
	}
	return e.GetOrCreateProgram(ctx, companyID)
}

// matchTiers gives each incoming tier without an ID the ID of an unclaimed
// existing tier with the same threshold and label.
func matchTiers(existing, incoming []Tier) []Tier {
	claimed := make(map[TierID]bool)
	for _, t := range incoming {
		if t.ID != "" {
			claimed[t.ID] = true
		}
	}

	out := make([]Tier, len(incoming))
	for i, t := range incoming {
		if t.ID == "" {
			for _, cur := range existing {
				if claimed[cur.ID] {
					continue
				}
				if cur.PointsRequired == t.PointsRequired && cur.RewardLabel == t.RewardLabel {
					t.ID = cur.ID
					claimed[cur.ID] = true
					break
				}
			}
		}
		out[i] = t
	}
	return out
}

// =============================================================================
// VALIDATION
// =============================================================================

func (c ProgramConfig) Validate() error {
	if c.Ratio != nil {
		if err := validateRatio(*c.Ratio); err != nil {
			return err
		}
	}
	for _, t := range c.Tiers {
		if err := validateTier(t); err != nil {
			return err
		}
	}
	if c.SpendReward != nil {
		if err := validateSpendReward(*c.SpendReward); err != nil {
			return err
		}
	}
	if c.RepeatReward != nil {
		if err := validateRepeatReward(*c.RepeatReward); err != nil {
			return err
		}
	}
	return nil
}

func validateRatio(r Ratio) error {
	if !r.AmountUnit.IsPositive() {
		return configError("amount_unit", "must be positive")
	}
	if !r.PointsPerUnit.IsPositive() {
		return configError("points_per_unit", "must be positive")
	}
	return nil
}

func validateTier(t Tier) error {
	if t.PointsRequired <= 0 {
		return configError("points_required", "must be positive")
	}
	if strings.TrimSpace(t.RewardLabel) == "" {
		return configError("reward_label", "is required")
	}
	return nil
}

func validateSpendReward(r SpendReward) error {
	if !r.TargetAmount.IsPositive() {
		return configError("target_amount", "must be positive")
	}
	return nil
}

func validateRepeatReward(r RepeatReward) error {
	if r.PointsInterval <= 0 {
		return configError("points_interval", "must be positive")
	}
	return nil
}
