package feature_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/feature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAssignsStableOrderedIndices(t *testing.T) {
	r := feature.NewRegistry()
	a := r.Register("ema_8")
	b := r.Register("ema_21")
	again := r.Register("ema_8")

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, a, again, "re-registering an existing key must return its original index")
	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []feature.Key{"ema_8", "ema_21"}, r.Keys())
}

func TestRegistry_MustIndex_UnknownKeyErrors(t *testing.T) {
	r := feature.NewRegistry()
	r.Register("ema_8")
	_, err := r.MustIndex("rsi_14")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnknownFeature))
}

func TestRegistry_SortedKeysDoesNotAffectIndexAssignment(t *testing.T) {
	r := feature.NewRegistry()
	r.Register("zeta")
	r.Register("alpha")
	assert.Equal(t, []feature.Key{"alpha", "zeta"}, r.SortedKeys())
	assert.Equal(t, []feature.Key{"zeta", "alpha"}, r.Keys())
}

func TestValues_Get_UnregisteredKeyIsNotOkNotPanic(t *testing.T) {
	r := feature.NewRegistry()
	r.Register("ema_8")
	vals := r.NewValues()
	vals.V[0] = 42
	vals.Ready[0] = true

	v, ok := vals.Get(r, "ema_8")
	assert.True(t, ok)
	assert.Equal(t, 42.0, v)

	_, ok = vals.Get(r, "missing")
	assert.False(t, ok)
}
