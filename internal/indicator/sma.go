package indicator

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}


func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Peek computes what Value() would be with an additional value without mutating state.
func (s *SMA) Peek(v float64) float64 {
	if s.count < s.period {
		// Not fully ready: partial average including this value
		return (s.sum + v) / float64(s.count+1)
	}
	// Preview: replace the oldest value (at idx) with v
	return (s.sum - s.buf[s.idx] + v) / float64(s.period)
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}

// seed loads the newest values (oldest first) as if count values had been
// applied in total. The running sum is recomputed from the window.
func (s *SMA) seed(window []float64, count int) {
	s.Reset()
	if len(window) > s.period {
		window = window[len(window)-s.period:]
	}
	for _, v := range window {
		s.buf[s.idx] = v
		s.sum += v
		s.idx = (s.idx + 1) % s.period
	}
	s.count = count
	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) copyFrom(src *SMA) {
	buf := s.buf
	if len(buf) != len(src.buf) {
		buf = make([]float64, len(src.buf))
	}
	copy(buf, src.buf)
	*s = *src
	s.buf = buf
}
