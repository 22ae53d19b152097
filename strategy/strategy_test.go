package strategy_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/errs"
	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/strategy"
	"github.com/chidi150c/perpbacktest/warmup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStrategy struct {
	id, version string
	tag         string
}

func (f fakeStrategy) ID() string      { return f.id }
func (f fakeStrategy) Version() string { return f.version }
func (f fakeStrategy) Evaluate(_ feature.RuntimeSnapshot, _ map[string]float64) (*strategy.Signal, error) {
	return nil, nil
}
func (f fakeStrategy) Lookbacks() []warmup.LookbackSpec { return nil }

func TestRegistry_RegisterThenLookupReturnsSameStrategy(t *testing.T) {
	r := strategy.NewRegistry()
	s := fakeStrategy{id: "ema_cross", version: "v1"}
	r.Register(s)

	got, err := r.Lookup("ema_cross", "v1")
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestRegistry_LookupUnknownErrors(t *testing.T) {
	r := strategy.NewRegistry()
	_, err := r.Lookup("nope", "v1")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnknownStrategy))
}

func TestRegistry_DifferentVersionsAreDistinctEntries(t *testing.T) {
	r := strategy.NewRegistry()
	r.Register(fakeStrategy{id: "ema_cross", version: "v1"})
	r.Register(fakeStrategy{id: "ema_cross", version: "v2"})

	v1, err := r.Lookup("ema_cross", "v1")
	require.NoError(t, err)
	v2, err := r.Lookup("ema_cross", "v2")
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)
}

func TestRegistry_ReregisteringSameKeyOverwrites(t *testing.T) {
	r := strategy.NewRegistry()
	first := fakeStrategy{id: "ema_cross", version: "v1", tag: "first"}
	second := fakeStrategy{id: "ema_cross", version: "v1", tag: "second"}
	r.Register(first)
	r.Register(second)

	got, err := r.Lookup("ema_cross", "v1")
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
