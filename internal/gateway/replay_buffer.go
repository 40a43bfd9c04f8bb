package gateway

import (
	"sync"

	"stock-sentinel/internal/ringbuf"
)

// replayEntry is one alert envelope kept for replay.
type replayEntry struct {
	Seq  int64
	Code string // instrument code, for per-client filtering
	Data []byte // envelope JSON
}

// ReplayBuffer keeps the newest alert envelopes. New clients receive them
// as their initial state; reconnecting clients pass the last seq they saw
// and receive only what they missed.
type ReplayBuffer struct {
	mu   sync.RWMutex
	ring *ringbuf.Ring[replayEntry]
}

// NewReplayBuffer creates a buffer holding capacity envelopes (default 100).
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &ReplayBuffer{ring: ringbuf.New[replayEntry](capacity)}
}

// Push stores a copy of data, evicting the oldest envelope when full.
func (rb *ReplayBuffer) Push(seq int64, code string, data []byte) {
	e := replayEntry{Seq: seq, Code: code, Data: append([]byte(nil), data...)}
	rb.mu.Lock()
	rb.ring.Push(e)
	rb.mu.Unlock()
}

// Latest returns up to n of the newest envelopes with Seq > since that
// keep accepts, oldest first. A nil keep accepts everything.
func (rb *ReplayBuffer) Latest(n int, since int64, keep func(code string) bool) []replayEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var picked []replayEntry
	for i := rb.ring.Len() - 1; i >= 0 && len(picked) < n; i-- {
		e := rb.ring.At(i)
		if e.Seq <= since {
			break
		}
		if keep == nil || keep(e.Code) {
			picked = append(picked, e)
		}
	}
	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Len returns the number of envelopes held.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.ring.Len()
}
