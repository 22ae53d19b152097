package play_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/play"
	"github.com/chidi150c/perpbacktest/sizing"
	"github.com/chidi150c/perpbacktest/tf"
	"github.com/chidi150c/perpbacktest/warmup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validPlay() play.Play {
	return play.Play{
		ID:     "p1",
		Symbol: "BTCUSDT",
		RoleTF: warmup.RoleTFMap{
			warmup.RoleExec: tf.M15,
			warmup.RoleMTF:  tf.H1,
		},
		StrategyID:      "ema_cross",
		StrategyVersion: "v1",
		StrategyParams:  map[string]float64{"fast": 12, "slow": 26},

		StartingEquityUSDT: 10000,
		Fees:               play.FeeModel{TakerBps: 5.5, MakerBps: 2},
		SlippageBps:        1,
		MaxLeverage:        3,
		FundingEnabled:     true,

		Risk: play.RiskPolicy{
			SizingModel:          sizing.ModelPercentEquity,
			RiskPerTradePct:      1,
			MinLiqDistancePct:    10,
			MaxPositionEquityPct: 50,
		},
		Position: play.PositionPolicy{MaxPositionsPerSymbol: 1},
	}
}

func TestValidate_AcceptsWellFormedPlay(t *testing.T) {
	p := validPlay()
	assert.NoError(t, p.Validate())
}

func TestValidate_RejectsEmptySymbol(t *testing.T) {
	p := validPlay()
	p.Symbol = ""
	require.Error(t, p.Validate())
}

func TestValidate_RejectsMissingExecRole(t *testing.T) {
	p := validPlay()
	p.RoleTF = warmup.RoleTFMap{warmup.RoleMTF: tf.H1}
	require.Error(t, p.Validate())
}

func TestValidate_RejectsUnknownTimeframe(t *testing.T) {
	p := validPlay()
	p.RoleTF[warmup.RoleMTF] = tf.Timeframe("banana")
	require.Error(t, p.Validate())
}

func TestValidate_RejectsNonPositiveStartingEquity(t *testing.T) {
	p := validPlay()
	p.StartingEquityUSDT = 0
	require.Error(t, p.Validate())
}

func TestValidate_RejectsNonPositiveMaxLeverage(t *testing.T) {
	p := validPlay()
	p.MaxLeverage = 0
	require.Error(t, p.Validate())
}

func TestValidate_RejectsNonPositiveMaxPositions(t *testing.T) {
	p := validPlay()
	p.Position.MaxPositionsPerSymbol = 0
	require.Error(t, p.Validate())
}

func TestValidate_DelegatesToSizingConfigValidation(t *testing.T) {
	p := validPlay()
	p.Risk.MaxPositionEquityPct = 150
	require.Error(t, p.Validate())
}

func TestSizingConfig_MapsFieldsAndHardcodesDefaults(t *testing.T) {
	p := validPlay()
	cfg := p.SizingConfig()

	assert.Equal(t, p.Risk.SizingModel, cfg.SizingModel)
	assert.Equal(t, p.Risk.RiskPerTradePct, cfg.RiskPerTradePct)
	assert.Equal(t, p.MaxLeverage, cfg.MaxLeverage)
	assert.Equal(t, p.Risk.MaxPositionEquityPct, cfg.MaxPositionEquityPct)
	assert.Equal(t, p.Risk.MinLiqDistancePct, cfg.MinLiqDistancePct)
	assert.InDelta(t, 0.00055, cfg.TakerFeeRate, 1e-12)
	assert.True(t, cfg.ReserveFeeBuffer)
	assert.InDelta(t, 0.005, cfg.MaintenanceMarginRate, 1e-12)
}

func TestExecTF_ReturnsExecRoleTimeframe(t *testing.T) {
	p := validPlay()
	assert.Equal(t, tf.M15, p.ExecTF())
}

func TestConfigHash_SameLogicalPlayHashesIdentically(t *testing.T) {
	a := validPlay()
	b := validPlay()
	// Rebuild b's maps with different insertion order; map iteration order
	// in Go is randomized, so this is already exercised across runs, but
	// construct it explicitly to make the intent clear.
	b.RoleTF = warmup.RoleTFMap{}
	b.RoleTF[warmup.RoleMTF] = tf.H1
	b.RoleTF[warmup.RoleExec] = tf.M15
	b.StrategyParams = map[string]float64{}
	b.StrategyParams["slow"] = 26
	b.StrategyParams["fast"] = 12

	ha, err := a.ConfigHash()
	require.NoError(t, err)
	hb, err := b.ConfigHash()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestConfigHash_ChangesWhenAFieldChanges(t *testing.T) {
	a := validPlay()
	b := validPlay()
	b.MaxLeverage = a.MaxLeverage + 1

	ha, err := a.ConfigHash()
	require.NoError(t, err)
	hb, err := b.ConfigHash()
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)
}

func TestConfigHash_IsStableAcrossRepeatedCalls(t *testing.T) {
	p := validPlay()
	h1, err := p.ConfigHash()
	require.NoError(t, err)
	h2, err := p.ConfigHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}
