package warmup_test

import (
	"testing"
	"time"

	"github.com/chidi150c/perpbacktest/tf"
	"github.com/chidi150c/perpbacktest/warmup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_TakesMaxLookbackPerRole(t *testing.T) {
	loadStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	specs := []warmup.LookbackSpec{
		{Role: warmup.RoleExec, Key: "ema_8", Lookback: 8},
		{Role: warmup.RoleExec, Key: "ema_21", Lookback: 21},
		{Role: warmup.RoleMTF, Key: "rsi_14", Lookback: 14},
	}
	roleTF := warmup.RoleTFMap{warmup.RoleExec: tf.M15, warmup.RoleMTF: tf.H1}

	res, err := warmup.Resolve(specs, roleTF, loadStart)
	require.NoError(t, err)
	assert.Equal(t, 21, res.WarmupBars[warmup.RoleExec])
	assert.Equal(t, 14, res.WarmupBars[warmup.RoleMTF])
}

func TestResolve_LoadStartPrimeIsEarliestAcrossRoles(t *testing.T) {
	loadStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	specs := []warmup.LookbackSpec{
		{Role: warmup.RoleExec, Key: "ema_21", Lookback: 21}, // 21 * 15m = 5h15m back
		{Role: warmup.RoleMTF, Key: "rsi_14", Lookback: 14},  // 14 * 1h = 14h back, earlier
	}
	roleTF := warmup.RoleTFMap{warmup.RoleExec: tf.M15, warmup.RoleMTF: tf.H1}

	res, err := warmup.Resolve(specs, roleTF, loadStart)
	require.NoError(t, err)
	expectedMTF := loadStart.Add(-14 * time.Hour)
	assert.Equal(t, expectedMTF, res.LoadStartPrime)
}

func TestResolve_NoLookbacksLeavesLoadStartUnchanged(t *testing.T) {
	loadStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	roleTF := warmup.RoleTFMap{warmup.RoleExec: tf.M15}

	res, err := warmup.Resolve(nil, roleTF, loadStart)
	require.NoError(t, err)
	assert.Equal(t, loadStart, res.LoadStartPrime)
	assert.Equal(t, 0, res.WarmupBars[warmup.RoleExec])
}

func TestResolve_IgnoresSpecForRoleNotInMap(t *testing.T) {
	loadStart := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	specs := []warmup.LookbackSpec{
		{Role: warmup.RoleHTF, Key: "ema_200", Lookback: 200},
	}
	roleTF := warmup.RoleTFMap{warmup.RoleExec: tf.M15}

	res, err := warmup.Resolve(specs, roleTF, loadStart)
	require.NoError(t, err)
	assert.Equal(t, loadStart, res.LoadStartPrime)
}
