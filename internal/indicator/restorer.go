package indicator

import (
	"context"
	"log"

	"stock-sentinel/internal/model"
)

// SnapshotStore persists encoded engine snapshots. Load returns nil data
// when no snapshot exists.
type SnapshotStore interface {
	SaveEngineSnapshot(ctx context.Context, data []byte) error
	LoadEngineSnapshot(ctx context.Context) ([]byte, error)
}

// NamedStore labels a SnapshotStore for logging.
type NamedStore struct {
	Name  string
	Store SnapshotStore
}

// Restorer orchestrates indicator engine state restoration on startup.
// It follows a priority chain: first store with a usable snapshot wins
// (Redis, then SQLite), otherwise cold start.
type Restorer struct {
	cfg     Config
	history model.HistorySource
	stores  []NamedStore
}

// NewRestorer creates a Restorer trying stores in order.
func NewRestorer(cfg Config, history model.HistorySource, stores ...NamedStore) *Restorer {
	return &Restorer{cfg: cfg, history: history, stores: stores}
}

// Restore returns an engine from the first usable snapshot, or a fresh
// engine when none is found. It never fails: a broken snapshot only
// means a cold start.
func (r *Restorer) Restore(ctx context.Context) *Engine {
	for _, ns := range r.stores {
		data, err := ns.Store.LoadEngineSnapshot(ctx)
		if err != nil {
			log.Printf("[restorer] WARNING: %s snapshot load failed: %v", ns.Name, err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		snap, err := DecodeSnapshot(data)
		if err != nil {
			log.Printf("[restorer] WARNING: %s snapshot unusable: %v", ns.Name, err)
			continue
		}
		e, err := RestoreEngine(r.cfg, r.history, snap)
		if err != nil {
			log.Printf("[restorer] WARNING: %s snapshot restore failed: %v", ns.Name, err)
			continue
		}
		log.Printf("[restorer] ✅ restored %d instrument states from %s (taken %s)",
			len(snap.States), ns.Name, snap.TakenAt.Format("2006-01-02 15:04:05"))
		return e
	}
	log.Println("[restorer] no snapshot found, cold starting indicator engine")
	return NewEngine(r.cfg, r.history)
}

// Save encodes the engine state and writes it to every store. Returns the
// first error; remaining stores are still attempted.
func (r *Restorer) Save(ctx context.Context, snap *EngineSnapshot) error {
	if snap == nil {
		return nil
	}
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	var first error
	for _, ns := range r.stores {
		if err := ns.Store.SaveEngineSnapshot(ctx, data); err != nil {
			log.Printf("[restorer] WARNING: %s snapshot save failed: %v", ns.Name, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
