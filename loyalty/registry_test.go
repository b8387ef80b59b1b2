package loyalty_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loyalty-engine/loyalty"
)

func TestGetOrCreateProgram_Defaults(t *testing.T) {
	// GIVEN: A company with no program
	// WHEN: The program is read twice
	// THEN: A default program (500 -> 5) is created once and persisted

	e, mem := newTestEngine(t)
	ctx := context.Background()

	p, err := e.GetOrCreateProgram(ctx, companyID)
	require.NoError(t, err)
	assert.True(t, p.Ratio.AmountUnit.Equal(loyalty.DefaultAmountUnit))
	assert.True(t, p.Ratio.PointsPerUnit.Equal(loyalty.DefaultPointsPerUnit))
	assert.Empty(t, p.Tiers)
	assert.Nil(t, p.SpendReward)
	assert.Equal(t, testNow, p.CreatedAt)

	stored, err := mem.GetProgram(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, stored)

	again, err := e.GetOrCreateProgram(ctx, companyID)
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)
}

func TestGetOrCreateProgram_EmptyCompany(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.GetOrCreateProgram(context.Background(), "  ")
	require.Error(t, err)
	assert.True(t, loyalty.IsClientError(err))
}

func TestSetRatio_Validation(t *testing.T) {
	tests := []struct {
		name          string
		amountUnit    int64
		pointsPerUnit int64
		field         string
	}{
		{"zero amount unit", 0, 5, "amount_unit"},
		{"negative amount unit", -10, 5, "amount_unit"},
		{"zero points", 500, 0, "points_per_unit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			_, err := e.SetRatio(context.Background(), companyID, dec(tt.amountUnit), dec(tt.pointsPerUnit))
			require.Error(t, err)
			assert.ErrorIs(t, err, loyalty.ErrInvalidConfig)

			var cfgErr *loyalty.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestSetRatio_ChangesAccrual(t *testing.T) {
	// GIVEN: Ratio 100 -> 2
	// WHEN: 350 is spent
	// THEN: 6 points

	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.SetRatio(ctx, companyID, dec(100), dec(2))
	require.NoError(t, err)

	awarded, err := e.ApplyPointsFromSpend(ctx, companyID, clientID, dec(350))
	require.NoError(t, err)
	assert.Equal(t, int64(6), awarded)
}

func TestAddTier_Validation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AddTier(ctx, companyID, loyalty.Tier{PointsRequired: 0, RewardLabel: "Gift"})
	assert.ErrorIs(t, err, loyalty.ErrInvalidConfig)

	_, err = e.AddTier(ctx, companyID, loyalty.Tier{PointsRequired: 10, RewardLabel: " "})
	assert.ErrorIs(t, err, loyalty.ErrInvalidConfig)

	p, err := e.GetOrCreateProgram(ctx, companyID)
	require.NoError(t, err)
	assert.Empty(t, p.Tiers, "rejected tiers must not be stored")
}

func TestUpdateAndRemoveTier_NotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.UpdateTier(ctx, companyID, loyalty.Tier{ID: "missing", PointsRequired: 10, RewardLabel: "X"})
	assert.ErrorIs(t, err, loyalty.ErrTierNotFound)
	assert.True(t, loyalty.IsNotFound(err))

	err = e.RemoveTier(ctx, companyID, "missing")
	assert.ErrorIs(t, err, loyalty.ErrTierNotFound)
}

func TestUpdateTier_DoesNotEvaluate(t *testing.T) {
	// GIVEN: Tier 500 and a client with 200 points
	// WHEN: The tier is lowered to 100
	// THEN: No reward is created until points change again

	e, mem := newTestEngine(t)
	ctx := context.Background()

	tier, err := e.AddTier(ctx, companyID, loyalty.Tier{PointsRequired: 500, RewardLabel: "Big"})
	require.NoError(t, err)
	_, err = e.GrantPoints(ctx, companyID, clientID, 200)
	require.NoError(t, err)

	tier.PointsRequired = 100
	_, err = e.UpdateTier(ctx, companyID, tier)
	require.NoError(t, err)
	assert.Empty(t, rewardsFor(t, mem, companyID))

	_, err = e.GrantPoints(ctx, companyID, clientID, 1)
	require.NoError(t, err)
	assert.Len(t, rewardsFor(t, mem, companyID), 1)
}

func TestSetSpendReward_Clear(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.SetSpendReward(ctx, companyID, &loyalty.SpendReward{TargetAmount: dec(0), RewardLabel: "X"})
	assert.ErrorIs(t, err, loyalty.ErrInvalidConfig)

	p, err := e.SetSpendReward(ctx, companyID, &loyalty.SpendReward{TargetAmount: dec(100), RewardLabel: "X"})
	require.NoError(t, err)
	require.NotNil(t, p.SpendReward)

	p, err = e.SetSpendReward(ctx, companyID, nil)
	require.NoError(t, err)
	assert.Nil(t, p.SpendReward)
}

func TestApplyProgramConfig(t *testing.T) {
	// GIVEN: A full definition with one invalid tier
	// WHEN: It is applied
	// THEN: Nothing changes; the valid definition then applies in one call

	e, _ := newTestEngine(t)
	ctx := context.Background()

	ratio := loyalty.Ratio{AmountUnit: dec(100), PointsPerUnit: dec(1)}
	bad := loyalty.ProgramConfig{
		Ratio: &ratio,
		Tiers: []loyalty.Tier{
			{PointsRequired: 50, RewardLabel: "A"},
			{PointsRequired: -1, RewardLabel: "B"},
		},
	}
	_, err := e.ApplyProgramConfig(ctx, companyID, bad)
	require.ErrorIs(t, err, loyalty.ErrInvalidConfig)

	p, err := e.GetOrCreateProgram(ctx, companyID)
	require.NoError(t, err)
	assert.Empty(t, p.Tiers)
	assert.True(t, p.Ratio.AmountUnit.Equal(dec(500)))

	good := loyalty.ProgramConfig{
		Ratio: &ratio,
		Tiers: []loyalty.Tier{
			{PointsRequired: 200, RewardLabel: "B"},
			{PointsRequired: 50, RewardLabel: "A"},
		},
		SpendReward:  &loyalty.SpendReward{TargetAmount: dec(1000), RewardLabel: "Crate"},
		RepeatReward: &loyalty.RepeatReward{PointsInterval: 75, RewardLabel: "Coffee"},
	}
	p, err = e.ApplyProgramConfig(ctx, companyID, good)
	require.NoError(t, err)
	require.Len(t, p.Tiers, 2)
	assert.Equal(t, int64(50), p.Tiers[0].PointsRequired)
	assert.Equal(t, int64(200), p.Tiers[1].PointsRequired)
	assert.True(t, p.Ratio.AmountUnit.Equal(dec(100)))
	require.NotNil(t, p.RepeatReward)
	assert.Equal(t, int64(75), p.RepeatReward.PointsInterval)
}

func TestApplyProgramConfig_SameDefinitionTwice(t *testing.T) {
	// GIVEN: A two-tier definition without tier IDs and a client past tier 100
	// WHEN: The definition is applied twice
	// THEN: Tier IDs are kept, the list does not grow, no reward is re-issued

	e, mem := newTestEngine(t)
	seedDefault(t, mem)
	ctx := context.Background()

	cfg := loyalty.ProgramConfig{
		Tiers: []loyalty.Tier{
			{PointsRequired: 100, RewardLabel: "A"},
			{PointsRequired: 200, RewardLabel: "B"},
		},
	}
	first, err := e.ApplyProgramConfig(ctx, companyID, cfg)
	require.NoError(t, err)
	require.Len(t, first.Tiers, 2)

	_, err = e.GrantPoints(ctx, companyID, clientID, 150)
	require.NoError(t, err)
	require.Len(t, rewardsFor(t, mem, companyID), 1)

	second, err := e.ApplyProgramConfig(ctx, companyID, cfg)
	require.NoError(t, err)
	require.Len(t, second.Tiers, 2)
	assert.Equal(t, first.Tiers[0].ID, second.Tiers[0].ID)
	assert.Equal(t, first.Tiers[1].ID, second.Tiers[1].ID)
	assert.Len(t, rewardsFor(t, mem, companyID), 1)
}

func TestApplyProgramConfig_ReplacesTierList(t *testing.T) {
	// GIVEN: Tiers A(100) and B(200)
	// WHEN: A definition with A(100) and C(300) is applied
	// THEN: B is removed, A keeps its ID, C is added

	e, _ := newTestEngine(t)
	ctx := context.Background()

	first, err := e.ApplyProgramConfig(ctx, companyID, loyalty.ProgramConfig{
		Tiers: []loyalty.Tier{
			{PointsRequired: 100, RewardLabel: "A"},
			{PointsRequired: 200, RewardLabel: "B"},
		},
	})
	require.NoError(t, err)

	p, err := e.ApplyProgramConfig(ctx, companyID, loyalty.ProgramConfig{
		Tiers: []loyalty.Tier{
			{PointsRequired: 300, RewardLabel: "C"},
			{PointsRequired: 100, RewardLabel: "A"},
		},
	})
	require.NoError(t, err)
	require.Len(t, p.Tiers, 2)
	assert.Equal(t, first.Tiers[0].ID, p.Tiers[0].ID)
	assert.Equal(t, "A", p.Tiers[0].RewardLabel)
	assert.Equal(t, "C", p.Tiers[1].RewardLabel)
	assert.Equal(t, int64(300), p.Tiers[1].PointsRequired)
}
