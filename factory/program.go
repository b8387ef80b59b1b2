/*
Package factory provides JSON to Go loyalty program conversion.

PURPOSE:
  Converts JSON program definitions into loyalty.ProgramConfig values that
  Engine.ApplyProgramConfig applies in one call. Admin tooling and the demo
  scenarios define programs in JSON; the factory validates them before any
  state changes.

JSON SCHEMA:
  {
    "ratio": {"amount_unit": "500", "points_per_unit": "5"},
    "tiers": [
      {"id": "bronze", "points_required": 100, "reward_label": "Tote bag"},
      {"id": "silver", "points_required": 250, "reward_label": "Gift box",
       "image_ref": "gifts/box.png"}
    ],
    "spend_reward":  {"target_amount": "1000", "reward_label": "Free crate"},
    "repeat_reward": {"points_interval": 50, "reward_label": "Coffee"}
  }

  Money values accept JSON strings or numbers. Omitted sections leave the
  ratio unchanged and clear the spend and repeat rewards.

USAGE:
  factory := NewProgramFactory()

  cfg, err := factory.ParseProgram(jsonString)
  program, err := engine.ApplyProgramConfig(ctx, companyID, *cfg)

  // From a preset
  cfg, err := factory.ParseProgram(rewards.StandardProgramJSON())

SEE ALSO:
  - loyalty/registry.go: ProgramConfig and ApplyProgramConfig
  - rewards/presets.go: Ready-made program definitions
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/loyalty-engine/loyalty"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProgramJSON is the JSON representation of a program definition.
type ProgramJSON struct {
	Ratio        *RatioJSON        `json:"ratio,omitempty"`
	Tiers        []TierJSON        `json:"tiers,omitempty"`
	SpendReward  *SpendRewardJSON  `json:"spend_reward,omitempty"`
	RepeatReward *RepeatRewardJSON `json:"repeat_reward,omitempty"`
}

type RatioJSON struct {
	AmountUnit    decimal.Decimal `json:"amount_unit"`
	PointsPerUnit decimal.Decimal `json:"points_per_unit"`
}

type TierJSON struct {
	ID             string `json:"id,omitempty"`
	PointsRequired int64  `json:"points_required"`
	RewardLabel    string `json:"reward_label"`
	ImageRef       string `json:"image_ref,omitempty"`
}

type SpendRewardJSON struct {
	TargetAmount decimal.Decimal `json:"target_amount"`
	RewardLabel  string          `json:"reward_label"`
}

type RepeatRewardJSON struct {
	PointsInterval int64  `json:"points_interval"`
	RewardLabel    string `json:"reward_label"`
}

// =============================================================================
// PROGRAM FACTORY
// =============================================================================

// ProgramFactory converts JSON programs to loyalty configurations.
type ProgramFactory struct{}

func NewProgramFactory() *ProgramFactory {
	return &ProgramFactory{}
}

// ParseProgram parses and validates a JSON program definition.
func (f *ProgramFactory) ParseProgram(jsonStr string) (*loyalty.ProgramConfig, error) {
	var pj ProgramJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("failed to parse program JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a ProgramJSON into a validated ProgramConfig.
func (f *ProgramFactory) FromJSON(pj ProgramJSON) (*loyalty.ProgramConfig, error) {
	cfg := &loyalty.ProgramConfig{}

	if pj.Ratio != nil {
		cfg.Ratio = &loyalty.Ratio{
			AmountUnit:    pj.Ratio.AmountUnit,
			PointsPerUnit: pj.Ratio.PointsPerUnit,
		}
	}

	seen := make(map[string]bool)
	for _, tj := range pj.Tiers {
		if tj.ID != "" {
			if seen[tj.ID] {
				return nil, &loyalty.ConfigError{Field: "tiers", Reason: fmt.Sprintf("duplicate tier id %q", tj.ID)}
			}
			seen[tj.ID] = true
		}
		cfg.Tiers = append(cfg.Tiers, loyalty.Tier{
			ID:             loyalty.TierID(tj.ID),
			PointsRequired: tj.PointsRequired,
			RewardLabel:    tj.RewardLabel,
			ImageRef:       tj.ImageRef,
		})
	}

	if pj.SpendReward != nil {
		cfg.SpendReward = &loyalty.SpendReward{
			TargetAmount: pj.SpendReward.TargetAmount,
			RewardLabel:  pj.SpendReward.RewardLabel,
		}
	}
	if pj.RepeatReward != nil {
		cfg.RepeatReward = &loyalty.RepeatReward{
			PointsInterval: pj.RepeatReward.PointsInterval,
			RewardLabel:    pj.RepeatReward.RewardLabel,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON converts a stored program back into its JSON definition.
func (f *ProgramFactory) ToJSON(p loyalty.Program) ProgramJSON {
	pj := ProgramJSON{
		Ratio: &RatioJSON{AmountUnit: p.Ratio.AmountUnit, PointsPerUnit: p.Ratio.PointsPerUnit},
	}
	for _, t := range p.Tiers {
		pj.Tiers = append(pj.Tiers, TierJSON{
			ID:             string(t.ID),
			PointsRequired: t.PointsRequired,
			RewardLabel:    t.RewardLabel,
			ImageRef:       t.ImageRef,
		})
	}
	if p.SpendReward != nil {
		pj.SpendReward = &SpendRewardJSON{TargetAmount: p.SpendReward.TargetAmount, RewardLabel: p.SpendReward.RewardLabel}
	}
	if p.RepeatReward != nil {
		pj.RepeatReward = &RepeatRewardJSON{PointsInterval: p.RepeatReward.PointsInterval, RewardLabel: p.RepeatReward.RewardLabel}
	}
	return pj
}
