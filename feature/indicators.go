// Evaluators for the streaming indicator set. Each Evaluator advances by
// exactly one closed bar per Update call and reports (value, ready).
// "ready" becomes true once the evaluator has seen enough bars to satisfy
// its own lookback — before that it must not be read into a snapshot.
//
// Indicators are computed incrementally, one closed bar at a time, rather
// than over a batch slice, so the same evaluator instance can run inside
// the bar-by-bar event loop without recomputing history on every step.
package feature

import (
	"math"

	"github.com/chidi150c/perpbacktest/provider"
)

// Evaluator is one incremental indicator or structure detector.
type Evaluator interface {
	Key() Key
	Update(bar provider.Bar) (value float64, ready bool)
}

// --- EMA ---

type EMA struct {
	key      Key
	period   int
	alpha    float64
	value    float64
	seen     int
	smaAccum float64
}

func NewEMA(key Key, period int) *EMA {
	return &EMA{key: key, period: period, alpha: 2.0 / (float64(period) + 1.0)}
}

func (e *EMA) Key() Key { return e.key }

func (e *EMA) Update(bar provider.Bar) (float64, bool) {
	e.seen++
	if e.seen < e.period {
		e.smaAccum += bar.Close
		return 0, false
	}
	if e.seen == e.period {
		e.smaAccum += bar.Close
		e.value = e.smaAccum / float64(e.period)
		return e.value, true
	}
	e.value = bar.Close*e.alpha + e.value*(1-e.alpha)
	return e.value, true
}

// --- SMA ---

type SMA struct {
	key    Key
	period int
	window []float64
	sum    float64
}

func NewSMA(key Key, period int) *SMA {
	return &SMA{key: key, period: period, window: make([]float64, 0, period)}
}

func (s *SMA) Key() Key { return s.key }

func (s *SMA) Update(bar provider.Bar) (float64, bool) {
	s.window = append(s.window, bar.Close)
	s.sum += bar.Close
	if len(s.window) > s.period {
		s.sum -= s.window[0]
		s.window = s.window[1:]
	}
	if len(s.window) < s.period {
		return 0, false
	}
	return s.sum / float64(s.period), true
}

// --- RSI (Wilder smoothing) ---

type RSI struct {
	key        Key
	period     int
	prevClose  float64
	have       bool
	seen       int
	gainAccum  float64
	lossAccum  float64
	avgGain    float64
	avgLoss    float64
}

func NewRSI(key Key, period int) *RSI {
	return &RSI{key: key, period: period}
}

func (r *RSI) Key() Key { return r.key }

func (r *RSI) Update(bar provider.Bar) (float64, bool) {
	if !r.have {
		r.prevClose = bar.Close
		r.have = true
		return 0, false
	}
	d := bar.Close - r.prevClose
	r.prevClose = bar.Close
	r.seen++

	if r.seen <= r.period {
		if d > 0 {
			r.gainAccum += d
		} else {
			r.lossAccum -= d
		}
		if r.seen == r.period {
			r.avgGain = r.gainAccum / float64(r.period)
			r.avgLoss = r.lossAccum / float64(r.period)
			return rsiFromAverages(r.avgGain, r.avgLoss), true
		}
		return 0, false
	}

	gain, loss := 0.0, 0.0
	if d > 0 {
		gain = d
	} else {
		loss = -d
	}
	r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
	r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	return rsiFromAverages(r.avgGain, r.avgLoss), true
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}

// --- ATR (Wilder) ---

type ATR struct {
	key       Key
	period    int
	prevClose float64
	have      bool
	seen      int
	accum     float64
	value     float64
}

func NewATR(key Key, period int) *ATR {
	return &ATR{key: key, period: period}
}

func (a *ATR) Key() Key { return a.key }

func (a *ATR) Update(bar provider.Bar) (float64, bool) {
	tr := bar.High - bar.Low
	if a.have {
		tr = math.Max(tr, math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	}
	a.prevClose = bar.Close
	a.have = true
	a.seen++

	if a.seen < a.period {
		a.accum += tr
		return 0, false
	}
	if a.seen == a.period {
		a.accum += tr
		a.value = a.accum / float64(a.period)
		return a.value, true
	}
	a.value = (a.value*float64(a.period-1) + tr) / float64(a.period)
	return a.value, true
}

// --- Bollinger Bands (reports one band; wrap three instances for
// upper/mid/lower under three registry keys) ---

type BollingerBand int

const (
	BollingerUpper BollingerBand = iota
	BollingerMid
	BollingerLower
)

type Bollinger struct {
	key     Key
	period  int
	numStd  float64
	band    BollingerBand
	window  []float64
	sum     float64
	sumSq   float64
}

func NewBollinger(key Key, period int, numStd float64, band BollingerBand) *Bollinger {
	return &Bollinger{key: key, period: period, numStd: numStd, band: band, window: make([]float64, 0, period)}
}

func (b *Bollinger) Key() Key { return b.key }

func (b *Bollinger) Update(bar provider.Bar) (float64, bool) {
	x := bar.Close
	b.window = append(b.window, x)
	b.sum += x
	b.sumSq += x * x
	if len(b.window) > b.period {
		y := b.window[0]
		b.sum -= y
		b.sumSq -= y * y
		b.window = b.window[1:]
	}
	if len(b.window) < b.period {
		return 0, false
	}
	mean := b.sum / float64(b.period)
	variance := math.Max(b.sumSq/float64(b.period)-mean*mean, 0)
	std := math.Sqrt(variance)
	switch b.band {
	case BollingerUpper:
		return mean + b.numStd*std, true
	case BollingerLower:
		return mean - b.numStd*std, true
	default:
		return mean, true
	}
}

// --- Donchian Channel ---

type DonchianSide int

const (
	DonchianUpper DonchianSide = iota
	DonchianLower
)

type Donchian struct {
	key    Key
	period int
	side   DonchianSide
	highs  []float64
	lows   []float64
}

func NewDonchian(key Key, period int, side DonchianSide) *Donchian {
	return &Donchian{key: key, period: period, side: side}
}

func (d *Donchian) Key() Key { return d.key }

func (d *Donchian) Update(bar provider.Bar) (float64, bool) {
	d.highs = append(d.highs, bar.High)
	d.lows = append(d.lows, bar.Low)
	if len(d.highs) > d.period {
		d.highs = d.highs[1:]
		d.lows = d.lows[1:]
	}
	if len(d.highs) < d.period {
		return 0, false
	}
	if d.side == DonchianUpper {
		m := d.highs[0]
		for _, h := range d.highs {
			if h > m {
				m = h
			}
		}
		return m, true
	}
	m := d.lows[0]
	for _, l := range d.lows {
		if l < m {
			m = l
		}
	}
	return m, true
}

// --- MACD (fast/slow EMA difference, plus a signal EMA of that
// difference and the histogram); matches teacher's strategy.go MACD use. ---

type MACDLine int

const (
	MACDValue MACDLine = iota
	MACDSignal
	MACDHist
)

type MACD struct {
	key        Key
	fast, slow *EMA
	signalN    int
	signalEMA  *EMA
	line       MACDLine
	lastMACD   float64
	lastSignal float64
}

func NewMACD(key Key, fastN, slowN, signalN int, line MACDLine) *MACD {
	return &MACD{
		key:       key,
		fast:      NewEMA("__macd_fast", fastN),
		slow:      NewEMA("__macd_slow", slowN),
		signalN:   signalN,
		signalEMA: NewEMA("__macd_signal", signalN),
		line:      line,
	}
}

func (m *MACD) Key() Key { return m.key }

func (m *MACD) Update(bar provider.Bar) (float64, bool) {
	fastV, fastReady := m.fast.Update(bar)
	slowV, slowReady := m.slow.Update(bar)
	if !fastReady || !slowReady {
		return 0, false
	}
	macd := fastV - slowV
	m.lastMACD = macd
	sigBar := provider.Bar{Close: macd}
	sigV, sigReady := m.signalEMA.Update(sigBar)
	if m.line == MACDValue {
		return macd, true
	}
	if !sigReady {
		return 0, false
	}
	m.lastSignal = sigV
	if m.line == MACDSignal {
		return sigV, true
	}
	return macd - sigV, true
}

// --- OBV (On-Balance Volume) ---

type OBV struct {
	key       Key
	value     float64
	prevClose float64
	have      bool
}

func NewOBV(key Key) *OBV { return &OBV{key: key} }

func (o *OBV) Key() Key { return o.key }

func (o *OBV) Update(bar provider.Bar) (float64, bool) {
	if !o.have {
		o.prevClose = bar.Close
		o.have = true
		return o.value, true
	}
	switch {
	case bar.Close > o.prevClose:
		o.value += bar.Volume
	case bar.Close < o.prevClose:
		o.value -= bar.Volume
	}
	o.prevClose = bar.Close
	return o.value, true
}

// --- VWAP (session-less running VWAP over the whole series) ---

type VWAP struct {
	key           Key
	cumPV, cumVol float64
}

func NewVWAP(key Key) *VWAP { return &VWAP{key: key} }

func (v *VWAP) Key() Key { return v.key }

func (v *VWAP) Update(bar provider.Bar) (float64, bool) {
	typical := (bar.High + bar.Low + bar.Close) / 3.0
	v.cumPV += typical * bar.Volume
	v.cumVol += bar.Volume
	if v.cumVol == 0 {
		return 0, false
	}
	return v.cumPV / v.cumVol, true
}

// --- ADX (Wilder, +DI/-DI smoothing) ---

type ADX struct {
	key                   Key
	period                int
	prevHigh, prevLow, prevClose float64
	have                  bool
	seen                  int
	sumTR, sumPlusDM, sumMinusDM float64
	smTR, smPlusDM, smMinusDM    float64
	adx                   float64
	dxSeen                int
	dxAccum               float64
}

func NewADX(key Key, period int) *ADX {
	return &ADX{key: key, period: period}
}

func (a *ADX) Key() Key { return a.key }

func (a *ADX) Update(bar provider.Bar) (float64, bool) {
	if !a.have {
		a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close
		a.have = true
		return 0, false
	}
	upMove := bar.High - a.prevHigh
	downMove := a.prevLow - bar.Low
	plusDM, minusDM := 0.0, 0.0
	if upMove > downMove && upMove > 0 {
		plusDM = upMove
	}
	if downMove > upMove && downMove > 0 {
		minusDM = downMove
	}
	tr := math.Max(bar.High-bar.Low, math.Max(math.Abs(bar.High-a.prevClose), math.Abs(bar.Low-a.prevClose)))
	a.prevHigh, a.prevLow, a.prevClose = bar.High, bar.Low, bar.Close
	a.seen++

	if a.seen < a.period {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM
		return 0, false
	}
	if a.seen == a.period {
		a.sumTR += tr
		a.sumPlusDM += plusDM
		a.sumMinusDM += minusDM
		a.smTR, a.smPlusDM, a.smMinusDM = a.sumTR, a.sumPlusDM, a.sumMinusDM
	} else {
		a.smTR = a.smTR - a.smTR/float64(a.period) + tr
		a.smPlusDM = a.smPlusDM - a.smPlusDM/float64(a.period) + plusDM
		a.smMinusDM = a.smMinusDM - a.smMinusDM/float64(a.period) + minusDM
	}

	if a.smTR == 0 {
		return 0, false
	}
	plusDI := 100.0 * a.smPlusDM / a.smTR
	minusDI := 100.0 * a.smMinusDM / a.smTR
	dx := 0.0
	if plusDI+minusDI != 0 {
		dx = 100.0 * math.Abs(plusDI-minusDI) / (plusDI + minusDI)
	}
	a.dxSeen++
	if a.dxSeen < a.period {
		a.dxAccum += dx
		return 0, false
	}
	if a.dxSeen == a.period {
		a.dxAccum += dx
		a.adx = a.dxAccum / float64(a.period)
		return a.adx, true
	}
	a.adx = (a.adx*float64(a.period-1) + dx) / float64(a.period)
	return a.adx, true
}

// --- SuperTrend ---

type SuperTrend struct {
	key          Key
	atr          *ATR
	multiplier   float64
	upperBand    float64
	lowerBand    float64
	trendUp      bool
	haveTrend    bool
	value        float64
	prevClose    float64
}

func NewSuperTrend(key Key, period int, multiplier float64) *SuperTrend {
	return &SuperTrend{key: key, atr: NewATR("__supertrend_atr", period), multiplier: multiplier}
}

func (s *SuperTrend) Key() Key { return s.key }

func (s *SuperTrend) Update(bar provider.Bar) (float64, bool) {
	atrV, ready := s.atr.Update(bar)
	hl2 := (bar.High + bar.Low) / 2.0
	if !ready {
		s.prevClose = bar.Close
		return 0, false
	}
	basicUpper := hl2 + s.multiplier*atrV
	basicLower := hl2 - s.multiplier*atrV

	if !s.haveTrend {
		s.upperBand, s.lowerBand = basicUpper, basicLower
		s.trendUp = bar.Close >= hl2
		s.haveTrend = true
	} else {
		if basicUpper < s.upperBand || s.prevClose > s.upperBand {
			s.upperBand = basicUpper
		}
		if basicLower > s.lowerBand || s.prevClose < s.lowerBand {
			s.lowerBand = basicLower
		}
		switch {
		case s.trendUp && bar.Close < s.lowerBand:
			s.trendUp = false
		case !s.trendUp && bar.Close > s.upperBand:
			s.trendUp = true
		}
	}
	s.prevClose = bar.Close
	if s.trendUp {
		s.value = s.lowerBand
	} else {
		s.value = s.upperBand
	}
	return s.value, true
}
