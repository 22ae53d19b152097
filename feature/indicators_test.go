package feature_test

import (
	"testing"

	"github.com/chidi150c/perpbacktest/feature"
	"github.com/chidi150c/perpbacktest/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func closeBar(c float64) provider.Bar { return provider.Bar{Close: c} }

func TestEMA_SeedsFromSMAThenSmooths(t *testing.T) {
	e := feature.NewEMA("ema_3", 3)
	_, ready := e.Update(closeBar(1))
	assert.False(t, ready)
	_, ready = e.Update(closeBar(2))
	assert.False(t, ready)
	v, ready := e.Update(closeBar(3))
	require.True(t, ready)
	assert.InDelta(t, 2.0, v, 1e-9)

	v, ready = e.Update(closeBar(4))
	require.True(t, ready)
	assert.InDelta(t, 3.0, v, 1e-9)
}

func TestSMA_SlidesWindow(t *testing.T) {
	s := feature.NewSMA("sma_3", 3)
	for _, c := range []float64{1, 2} {
		_, ready := s.Update(closeBar(c))
		assert.False(t, ready)
	}
	v, ready := s.Update(closeBar(3))
	require.True(t, ready)
	assert.InDelta(t, 2.0, v, 1e-9)

	v, _ = s.Update(closeBar(4))
	assert.InDelta(t, 3.0, v, 1e-9)
	v, _ = s.Update(closeBar(5))
	assert.InDelta(t, 4.0, v, 1e-9)
}

func TestRSI_WilderSmoothing(t *testing.T) {
	r := feature.NewRSI("rsi_2", 2)
	_, ready := r.Update(closeBar(1))
	assert.False(t, ready)
	_, ready = r.Update(closeBar(2))
	assert.False(t, ready)
	v, ready := r.Update(closeBar(1))
	require.True(t, ready)
	assert.InDelta(t, 50.0, v, 1e-9)

	v, ready = r.Update(closeBar(3))
	require.True(t, ready)
	assert.InDelta(t, 83.3333, v, 1e-3)
}

func TestRSI_AllGainsSaturatesAt100(t *testing.T) {
	r := feature.NewRSI("rsi_2", 2)
	r.Update(closeBar(1))
	r.Update(closeBar(2))
	v, ready := r.Update(closeBar(3))
	require.True(t, ready)
	assert.InDelta(t, 100.0, v, 1e-9)
}

func TestATR_WilderSmoothingOfTrueRange(t *testing.T) {
	a := feature.NewATR("atr_2", 2)
	_, ready := a.Update(provider.Bar{High: 10, Low: 8, Close: 9})
	assert.False(t, ready)
	v, ready := a.Update(provider.Bar{High: 11, Low: 9, Close: 10})
	require.True(t, ready)
	assert.InDelta(t, 2.0, v, 1e-9)

	v, ready = a.Update(provider.Bar{High: 12, Low: 10, Close: 11})
	require.True(t, ready)
	assert.InDelta(t, 2.0, v, 1e-9)
}

func TestBollinger_UpperMidLowerAroundMean(t *testing.T) {
	upper := feature.NewBollinger("bb_u", 3, 2, feature.BollingerUpper)
	mid := feature.NewBollinger("bb_m", 3, 2, feature.BollingerMid)
	lower := feature.NewBollinger("bb_l", 3, 2, feature.BollingerLower)
	for _, c := range []float64{2, 4, 6} {
		upper.Update(closeBar(c))
		mid.Update(closeBar(c))
		lower.Update(closeBar(c))
	}
	m, ready := mid.Update(closeBar(8)) // window becomes [4,6,8]
	require.True(t, ready)
	assert.InDelta(t, 6.0, m, 1e-9)

	u, _ := upper.Update(closeBar(8))
	l, _ := lower.Update(closeBar(8))
	assert.Greater(t, u, m)
	assert.Less(t, l, m)
	assert.InDelta(t, m-l, u-m, 1e-9, "bands must be symmetric around the mean")
}

func TestDonchian_UpperAndLowerOverWindow(t *testing.T) {
	upper := feature.NewDonchian("dc_u", 3, feature.DonchianUpper)
	lower := feature.NewDonchian("dc_l", 3, feature.DonchianLower)
	bars := []provider.Bar{
		{High: 10, Low: 5},
		{High: 12, Low: 4},
		{High: 9, Low: 6},
	}
	var u, l float64
	var ready bool
	for _, b := range bars {
		u, ready = upper.Update(b)
		l, _ = lower.Update(b)
	}
	require.True(t, ready)
	assert.Equal(t, 12.0, u)
	assert.Equal(t, 4.0, l)
}

func TestMACD_ValueSignalHistogramConsistency(t *testing.T) {
	value := feature.NewMACD("macd", 2, 3, 2, feature.MACDValue)
	signal := feature.NewMACD("macd_sig", 2, 3, 2, feature.MACDSignal)
	hist := feature.NewMACD("macd_hist", 2, 3, 2, feature.MACDHist)

	var v, s, h float64
	var vReady, sReady, hReady bool
	for _, c := range []float64{1, 2, 3, 4, 5, 6, 7} {
		v, vReady = value.Update(closeBar(c))
		s, sReady = signal.Update(closeBar(c))
		h, hReady = hist.Update(closeBar(c))
	}
	require.True(t, vReady)
	require.True(t, sReady)
	require.True(t, hReady)
	assert.InDelta(t, v-s, h, 1e-9)
}

func TestOBV_AccumulatesSignedVolume(t *testing.T) {
	o := feature.NewOBV("obv")
	v, ready := o.Update(provider.Bar{Close: 100, Volume: 10})
	require.True(t, ready)
	assert.Equal(t, 0.0, v)

	v, _ = o.Update(provider.Bar{Close: 105, Volume: 5})
	assert.Equal(t, 5.0, v)

	v, _ = o.Update(provider.Bar{Close: 102, Volume: 3})
	assert.Equal(t, 2.0, v)

	v, _ = o.Update(provider.Bar{Close: 102, Volume: 7})
	assert.Equal(t, 2.0, v, "unchanged close must not move OBV")
}

func TestVWAP_NotReadyUntilVolumeSeen(t *testing.T) {
	w := feature.NewVWAP("vwap")
	_, ready := w.Update(provider.Bar{High: 10, Low: 8, Close: 9, Volume: 0})
	assert.False(t, ready)

	v, ready := w.Update(provider.Bar{High: 12, Low: 10, Close: 11, Volume: 10})
	require.True(t, ready)
	assert.InDelta(t, 11.0, v, 1e-9)
}
