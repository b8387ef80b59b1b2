/*
Package rewards provides pre-built loyalty program definitions.

PURPOSE:
  Ready-to-use JSON program definitions for common retail setups. They
  construct JSON strings directly so the package does not depend on the
  factory; parse them with factory.ParseProgram.

AVAILABLE PROGRAMS:
  StandardProgramJSON:
    - Default ratio (500 spent -> 5 points)
    - Three tiers: 100, 250, 500 points

  SpendOnlyJSON:
    - No tiers, one reward every targetAmount spent
    - Not listed to clients as a program (no tier)

  CoffeeCardJSON:
    - One free item every pointsInterval points
    - One tier so the program is visible to clients

  TieredProgramJSON:
    - Custom ratio and tier ladder

EXAMPLE:
  cfg, err := factory.NewProgramFactory().ParseProgram(rewards.StandardProgramJSON())
  program, err := engine.ApplyProgramConfig(ctx, "acme", *cfg)

SEE ALSO:
  - factory/program.go: JSON schema and parsing
  - api/scenarios.go: Demo scenarios built on these presets
*/
package rewards

import (
	"encoding/json"
	"fmt"
)

// TierSpec is one rung of a custom tier ladder.
type TierSpec struct {
	Points int64
	Label  string
}

// StandardProgramJSON returns the default three-tier program.
func StandardProgramJSON() string {
	return TieredProgramJSON("500", "5", []TierSpec{
		{Points: 100, Label: "Tote bag"},
		{Points: 250, Label: "Gift box"},
		{Points: 500, Label: "Premium hamper"},
	})
}

// SpendOnlyJSON returns a program with only a spend reward.
func SpendOnlyJSON(targetAmount, label string) string {
	pj := map[string]interface{}{
		"spend_reward": map[string]interface{}{
			"target_amount": targetAmount,
			"reward_label":  label,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// CoffeeCardJSON returns a repeat-reward program with a single welcome tier.
func CoffeeCardJSON(pointsInterval int64, label string) string {
	pj := map[string]interface{}{
		"ratio": map[string]interface{}{
			"amount_unit":     "5",
			"points_per_unit": "1",
		},
		"tiers": []map[string]interface{}{{
			"id":              "welcome",
			"points_required": 1,
			"reward_label":    "Welcome " + label,
		}},
		"repeat_reward": map[string]interface{}{
			"points_interval": pointsInterval,
			"reward_label":    label,
		},
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}

// TieredProgramJSON returns a program with a custom ratio and tier ladder.
// Tier IDs are derived from the threshold.
func TieredProgramJSON(amountUnit, pointsPerUnit string, tiers []TierSpec) string {
	tierList := make([]map[string]interface{}, 0, len(tiers))
	for _, t := range tiers {
		tierList = append(tierList, map[string]interface{}{
			"id":              fmt.Sprintf("tier-%d", t.Points),
			"points_required": t.Points,
			"reward_label":    t.Label,
		})
	}
	pj := map[string]interface{}{
		"ratio": map[string]interface{}{
			"amount_unit":     amountUnit,
			"points_per_unit": pointsPerUnit,
		},
		"tiers": tierList,
	}
	b, _ := json.MarshalIndent(pj, "", "  ")
	return string(b)
}
