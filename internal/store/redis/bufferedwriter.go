package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"stock-sentinel/internal/model"
)

const flushTimeout = 10 * time.Second

// BufferedFeed wraps an alert feed whose calls go through a circuit
// breaker. While the circuit is open, pushes are buffered locally and
// replayed in order when the circuit closes again.
type BufferedFeed struct {
	next model.AlertFeed

	mu     sync.Mutex
	buffer []model.Alert
	maxBuf int // max buffered alerts before dropping oldest (default: 1000)

	// Callbacks
	OnBuffer func()          // called when an alert is buffered (for metrics)
	OnFlush  func(count int) // called after flushing buffered alerts
}

// NewBufferedFeed wraps next and registers a flush on cb closing.
func NewBufferedFeed(next model.AlertFeed, cb *CircuitBreaker, maxBufferSize int) *BufferedFeed {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bf := &BufferedFeed{
		next:   next,
		buffer: make([]model.Alert, 0, 64),
		maxBuf: maxBufferSize,
	}

	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bf.flush()
		}
	}

	return bf
}

// PushAlert forwards a. If the circuit is open the alert is buffered and
// nil is returned.
func (bf *BufferedFeed) PushAlert(ctx context.Context, a model.Alert) error {
	err := bf.next.PushAlert(ctx, a)
	if errors.Is(err, ErrCircuitOpen) {
		bf.bufferAlert(a)
		return nil
	}
	return err
}

// LatestAlerts reads through to the wrapped feed.
func (bf *BufferedFeed) LatestAlerts(ctx context.Context, n int) ([]model.Alert, error) {
	return bf.next.LatestAlerts(ctx, n)
}

func (bf *BufferedFeed) bufferAlert(a model.Alert) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	if len(bf.buffer) >= bf.maxBuf {
		bf.buffer = bf.buffer[1:]
	}
	bf.buffer = append(bf.buffer, a)

	if bf.OnBuffer != nil {
		bf.OnBuffer()
	}
}

// flush replays all buffered alerts through the wrapped feed. Alerts that
// fail again are put back at the front of the buffer.
func (bf *BufferedFeed) flush() {
	bf.mu.Lock()
	if len(bf.buffer) == 0 {
		bf.mu.Unlock()
		return
	}
	toFlush := bf.buffer
	bf.buffer = make([]model.Alert, 0, 64)
	bf.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	flushed := 0
	for i, a := range toFlush {
		if err := bf.next.PushAlert(ctx, a); err != nil {
			log.Printf("[buffered-feed] flush stopped after %d alerts: %v", flushed, err)
			bf.requeue(toFlush[i:])
			break
		}
		flushed++
	}

	log.Printf("[buffered-feed] flushed %d buffered alerts", flushed)
	if bf.OnFlush != nil {
		bf.OnFlush(flushed)
	}
}

func (bf *BufferedFeed) requeue(rest []model.Alert) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	merged := append(append(make([]model.Alert, 0, len(rest)+len(bf.buffer)), rest...), bf.buffer...)
	if len(merged) > bf.maxBuf {
		merged = merged[len(merged)-bf.maxBuf:]
	}
	bf.buffer = merged
}

// PendingCount returns the number of buffered alerts waiting to be flushed.
func (bf *BufferedFeed) PendingCount() int {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return len(bf.buffer)
}
