package feature_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func barHL(high, low float64) provider.Bar { return provider.Bar{High: high, Low: low} }

func TestSwingDetector_ConfirmsOnlyAfterRightBarsClose(t *testing.T) {
	d := feature.NewSwingDetector(1, 1)
	highs := []float64{1, 5, 2, 3, 1}

	var allPivots []feature.Pivot
	for i, h := range highs {
		pivots := d.Update(barHL(h, h-1))
		if i < 2 {
			assert.Empty(t, pivots, "a pivot cannot be confirmed before rightBars close")
		}
		allPivots = append(allPivots, pivots...)
	}
	require.Len(t, allPivots, 1)
	assert.Equal(t, 1, allPivots[0].Index)
	assert.Equal(t, feature.PivotHigh, allPivots[0].Kind)
	assert.Equal(t, 5.0, allPivots[0].Price)
}

func TestSwingDetector_NoPivotWhenNotStrictExtremum(t *testing.T) {
	d := feature.NewSwingDetector(1, 1)
	highs := []float64{1, 3, 3, 1}
	var allPivots []feature.Pivot
	for _, h := range highs {
		allPivots = append(allPivots, d.Update(barHL(h, h-1))...)
	}
	assert.Empty(t, allPivots, "a tied extremum is not a strict pivot")
}

func TestZoneTracker_MergesNearbyTouchesAndSeparatesFarOnes(t *testing.T) {
	z := feature.NewZoneTracker(0.01, 10)
	z.Observe(feature.Pivot{Kind: feature.PivotHigh, Index: 0, Price: 100})
	z.Observe(feature.Pivot{Kind: feature.PivotHigh, Index: 1, Price: 100.5})
	z.Observe(feature.Pivot{Kind: feature.PivotHigh, Index: 2, Price: 200})

	zones := z.Zones(feature.ZoneResistance)
	require.Len(t, zones, 2)
	assert.Equal(t, 2, zones[0].Touches)
	assert.Equal(t, 1, zones[1].Touches)
}

func TestZoneTracker_NearestDistancePicksClosestZone(t *testing.T) {
	z := feature.NewZoneTracker(0.01, 10)
	z.Observe(feature.Pivot{Kind: feature.PivotHigh, Index: 0, Price: 100})
	z.Observe(feature.Pivot{Kind: feature.PivotHigh, Index: 1, Price: 200})

	dist, ok := z.NearestDistance(150, feature.ZoneResistance)
	require.True(t, ok)
	assert.InDelta(t, 48.0, dist, 0.01)
}

func TestZoneTracker_EvictsLeastRecentlyTouchedWhenOverCapacity(t *testing.T) {
	z := feature.NewZoneTracker(0.0001, 2)
	z.Observe(feature.Pivot{Kind: feature.PivotLow, Index: 0, Price: 10})
	z.Observe(feature.Pivot{Kind: feature.PivotLow, Index: 1, Price: 20})
	z.Observe(feature.Pivot{Kind: feature.PivotLow, Index: 2, Price: 30})

	zones := z.Zones(feature.ZoneSupport)
	require.Len(t, zones, 2)
	for _, zn := range zones {
		assert.False(t, zn.Low <= 10 && 10 <= zn.High, "the earliest-touched zone (around price 10) must have been evicted")
	}
}

func TestZoneTracker_NearestDistanceReportsNotFoundWhenEmpty(t *testing.T) {
	z := feature.NewZoneTracker(0.01, 10)
	_, ok := z.NearestDistance(100, feature.ZoneSupport)
	assert.False(t, ok)
}
