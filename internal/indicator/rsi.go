package indicator

// RSI calculates the Relative Strength Index over the last period deltas.
//
// Rolling smoothing averages the gain/loss window directly, matching the
// cold recompute. Wilder smoothing feeds the same deltas through a pair of
// SMMAs. Both are maintained on every update so the mode can be switched
// without a reseed. Update is O(period) for rolling and O(1) for Wilder.
type RSI struct {
	period    int
	smoothing Smoothing

	gains  []float64 // circular window of the last period gains
	losses []float64
	idx    int // next write position; oldest entry once full
	deltas int // deltas seen in total

	wGain *SMMA
	wLoss *SMMA

	prev    float64
	hasPrev bool
	current float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int, smoothing Smoothing) *RSI {
	return &RSI{
		period:    period,
		smoothing: smoothing,
		gains:     make([]float64, period),
		losses:    make([]float64, period),
		wGain:     NewSMMA(period),
		wLoss:     NewSMMA(period),
	}
}


func (r *RSI) Update(price float64) {
	if !r.hasPrev {
		// First price: record it, no delta yet
		r.prev = price
		r.hasPrev = true
		return
	}

	gain, loss := splitDelta(price - r.prev)
	r.prev = price

	r.gains[r.idx] = gain
	r.losses[r.idx] = loss
	r.idx = (r.idx + 1) % r.period
	r.deltas++
	r.wGain.Update(gain)
	r.wLoss.Update(loss)

	if r.deltas < r.period {
		return
	}
	r.current = rsiFromAverages(r.averages())
}

// averages returns the gain/loss averages for the configured smoothing.
func (r *RSI) averages() (float64, float64) {
	if r.smoothing == SmoothingWilder {
		return r.wGain.Value(), r.wLoss.Value()
	}
	return r.windowMean(r.gains), r.windowMean(r.losses)
}

// windowMean sums the window oldest first so the result is bit-identical
// to the cold recompute.
func (r *RSI) windowMean(buf []float64) float64 {
	sum := 0.0
	for i := 0; i < r.period; i++ {
		sum += buf[(r.idx+i)%r.period]
	}
	return sum / float64(r.period)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.deltas >= r.period }

// Peek computes what RSI would be with an additional price without mutating state.
func (r *RSI) Peek(price float64) float64 {
	if !r.hasPrev || r.deltas+1 < r.period {
		return r.current
	}
	gain, loss := splitDelta(price - r.prev)
	if r.smoothing == SmoothingWilder {
		return rsiFromAverages(r.wGain.Peek(gain), r.wLoss.Peek(loss))
	}
	// Replace the oldest slot with the new delta
	p := float64(r.period)
	g := r.windowMean(r.gains)*p - r.gains[r.idx] + gain
	l := r.windowMean(r.losses)*p - r.losses[r.idx] + loss
	return rsiFromAverages(g/p, l/p)
}

// seed loads the last price, the newest gain/loss deltas (oldest first),
// the total delta count and the Wilder averages.
func (r *RSI) seed(prev float64, gains, losses []float64, deltas int, wilderGain, wilderLoss float64) {
	if len(gains) > r.period {
		gains = gains[len(gains)-r.period:]
		losses = losses[len(losses)-r.period:]
	}
	for i := range r.gains {
		r.gains[i], r.losses[i] = 0, 0
	}
	copy(r.gains, gains)
	copy(r.losses, losses)
	r.idx = len(gains) % r.period
	r.deltas = deltas
	r.prev = prev
	r.hasPrev = true
	r.wGain.seed(wilderGain, deltas)
	r.wLoss.seed(wilderLoss, deltas)
	r.current = 0
	if r.deltas >= r.period {
		r.current = rsiFromAverages(r.averages())
	}
}

func (r *RSI) copyFrom(src *RSI) {
	copy(r.gains, src.gains)
	copy(r.losses, src.losses)
	r.idx = src.idx
	r.deltas = src.deltas
	*r.wGain = *src.wGain
	*r.wLoss = *src.wLoss
	r.prev = src.prev
	r.hasPrev = src.hasPrev
	r.current = src.current
	r.smoothing = src.smoothing
}

// Checkpoint serializes the RSI scalars. The gain/loss window is rebuilt
// from the price ring on restore.
func (r *RSI) Checkpoint() Checkpoint {
	return Checkpoint{
		Type:      "RSI",
		Period:    r.period,
		Count:     r.deltas,
		Current:   r.current,
		PrevClose: r.prev,
		AvgGain:   r.wGain.Value(),
		AvgLoss:   r.wLoss.Value(),
	}
}
