// Package universe tracks the set of monitored instruments as immutable,
// versioned snapshots. Changes are staged and only promoted between cycles
// once a cooldown has elapsed, so a cycle never sees the set change under it.
package universe

import (
	"log"
	"sync"
	"time"

	"stock-sentinel/internal/model"
)

// Snapshot is an immutable version of the instrument set.
type Snapshot struct {
	Version     int64              `json:"version"`
	Instruments []model.Instrument `json:"instruments"`
	At          time.Time          `json:"at"`
}

// Codes returns the instrument codes in snapshot order.
func (s Snapshot) Codes() []string {
	codes := make([]string, len(s.Instruments))
	for i, inst := range s.Instruments {
		codes[i] = inst.Code
	}
	return codes
}

// Lookup returns the instrument with the given code.
func (s Snapshot) Lookup(code string) (model.Instrument, bool) {
	for _, inst := range s.Instruments {
		if inst.Code == code {
			return inst, true
		}
	}
	return model.Instrument{}, false
}

// Diff lists instruments added and removed between two snapshots.
type Diff struct {
	Added   []model.Instrument `json:"added"`
	Removed []model.Instrument `json:"removed"`
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// DiffSnapshots compares two snapshots by instrument code. A renamed
// instrument with the same code is not a change.
func DiffSnapshots(old, cur Snapshot) Diff {
	var d Diff
	oldSet := make(map[string]bool, len(old.Instruments))
	for _, inst := range old.Instruments {
		oldSet[inst.Code] = true
	}
	curSet := make(map[string]bool, len(cur.Instruments))
	for _, inst := range cur.Instruments {
		curSet[inst.Code] = true
		if !oldSet[inst.Code] {
			d.Added = append(d.Added, inst)
		}
	}
	for _, inst := range old.Instruments {
		if !curSet[inst.Code] {
			d.Removed = append(d.Removed, inst)
		}
	}
	return d
}

// Registry holds the current snapshot and at most one staged change.
type Registry struct {
	mu       sync.Mutex
	current  Snapshot
	staged   *Snapshot
	cooldown time.Duration
}

// NewRegistry creates a registry with version 1 holding initial.
func NewRegistry(initial []model.Instrument, cooldown time.Duration, now time.Time) *Registry {
	return &Registry{
		current:  Snapshot{Version: 1, Instruments: normalize(initial), At: now},
		cooldown: cooldown,
	}
}

// Propose stages a new instrument list. A later proposal replaces an
// earlier staged one and restarts the cooldown. Returns false when the
// list matches the current snapshot and nothing is staged.
func (r *Registry) Propose(list []model.Instrument, at time.Time) bool {
	list = normalize(list)
	r.mu.Lock()
	defer r.mu.Unlock()

	next := Snapshot{Version: r.current.Version + 1, Instruments: list, At: at}
	if r.staged == nil && DiffSnapshots(r.current, next).Empty() && sameOrder(r.current.Instruments, list) {
		return false
	}
	r.staged = &next
	log.Printf("[universe] staged v%d with %d instruments", next.Version, len(list))
	return true
}

// Current promotes a staged snapshot whose cooldown elapsed and returns the
// snapshot to use for the next cycle along with the diff from the previous
// one. Call it only between cycles.
func (r *Registry) Current(now time.Time) (Snapshot, Diff) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.staged == nil || now.Sub(r.staged.At) < r.cooldown {
		return r.current, Diff{}
	}
	prev := r.current
	r.current = *r.staged
	r.current.At = now
	r.staged = nil
	d := DiffSnapshots(prev, r.current)
	log.Printf("[universe] promoted v%d: +%d -%d instruments",
		r.current.Version, len(d.Added), len(d.Removed))
	return r.current, d
}

// Peek returns the current snapshot without promoting.
func (r *Registry) Peek() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Pending returns the staged snapshot, if any.
func (r *Registry) Pending() (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.staged == nil {
		return Snapshot{}, false
	}
	return *r.staged, true
}

// normalize drops empty codes and duplicates, keeping first occurrence.
func normalize(list []model.Instrument) []model.Instrument {
	out := make([]model.Instrument, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, inst := range list {
		if inst.Code == "" || seen[inst.Code] {
			continue
		}
		seen[inst.Code] = true
		out = append(out, inst)
	}
	return out
}

func sameOrder(a, b []model.Instrument) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
