package sentinel

import (
	"context"
	"time"

	"stock-sentinel/internal/indicator"
)

// snapshotLoop periodically checkpoints engine state to every snapshot store.
func (svc *Service) snapshotLoop(ctx context.Context) {
	if len(svc.deps.Snapshots) == 0 {
		return
	}
	ticker := time.NewTicker(svc.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			svc.saveSnapshot(ctx)
		}
	}
}

// saveSnapshot writes one checkpoint. Failures are logged by the restorer.
func (svc *Service) saveSnapshot(ctx context.Context) {
	if len(svc.deps.Snapshots) == 0 {
		return
	}
	snap := indicator.SnapshotEngine(svc.Engine(), svc.now())
	if err := svc.restorer.Save(ctx, snap); err != nil {
		svc.log.Warn("engine checkpoint incomplete", "error", err)
		return
	}
	svc.log.Debug("engine checkpoint saved", "states", len(snap.States))
}
