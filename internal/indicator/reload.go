package indicator

import (
	"log"

	"stock-sentinel/internal/model"
	"stock-sentinel/internal/universe"
)

// Apply reconciles engine slots with an instrument set change. Added
// instruments get an empty slot and cold-start on their first sample;
// removed instruments have their state dropped. Instruments present in
// both sets keep their accumulated state.
func (e *Engine) Apply(d universe.Diff) (created, dropped int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, inst := range d.Added {
		if _, ok := e.slots[inst.Code]; ok {
			continue
		}
		e.slots[inst.Code] = &slot{inst: inst}
		created++
	}
	for _, inst := range d.Removed {
		if _, ok := e.slots[inst.Code]; !ok {
			continue
		}
		delete(e.slots, inst.Code)
		dropped++
	}

	if created > 0 || dropped > 0 {
		log.Printf("[indicator] instrument set applied: %d created, %d dropped, %d tracked",
			created, dropped, len(e.slots))
	}
	return created, dropped
}

// Track makes sure every instrument has a slot. Used at startup.
func (e *Engine) Track(insts []model.Instrument) int {
	created, _ := e.Apply(universe.Diff{Added: insts})
	return created
}
