package indicator

// EMA calculates an Exponential Moving Average with α = 2/(span+1).
// The first value seeds the average (no SMA warmup), so EMA is ready
// after one update. O(1) per update, no window storage.
type EMA struct {
	span    int
	alpha   float64
	current float64
	count   int
}

// NewEMA creates a new EMA indicator with the given span.
func NewEMA(span int) *EMA {
	return &EMA{
		span:  span,
		alpha: 2.0 / float64(span+1),
	}
}


func (e *EMA) Update(v float64) {
	e.count++
	if e.count == 1 {
		e.current = v
		return
	}
	// EMA = v*α + EMA_prev*(1-α)
	e.current = v*e.alpha + e.current*(1-e.alpha)
}

func (e *EMA) Value() float64 { return e.current }
func (e *EMA) Ready() bool    { return e.count > 0 }

// Peek computes what Value() would be with an additional value without mutating state.
func (e *EMA) Peek(v float64) float64 {
	if e.count == 0 {
		return v
	}
	return v*e.alpha + e.current*(1-e.alpha)
}

// seed sets the running value as if count values had been applied.
func (e *EMA) seed(current float64, count int) {
	e.current = current
	e.count = count
}

// Checkpoint serializes the EMA state.
func (e *EMA) Checkpoint() Checkpoint {
	return Checkpoint{Type: "EMA", Period: e.span, Count: e.count, Current: e.current}
}
