package world

import (
	"fmt"

	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/lane"
)

// ImportSnapshot replaces the registry with the snapshot's lanes and belts.
// It sets the world's tick to snapshotTick+1 (the next tick to simulate).
//
// This must be called only when the world is stopped or from the world loop goroutine.
func (w *World) ImportSnapshot(s snapshot.SnapshotV1) error {
	if s.Header.Version != snapshot.Version {
		return fmt.Errorf("unsupported snapshot version: %d", s.Header.Version)
	}
	if s.Header.WorldID != "" && s.Header.WorldID != w.cfg.ID {
		return fmt.Errorf("snapshot world mismatch: cfg=%s snap=%s", w.cfg.ID, s.Header.WorldID)
	}

	// Operational parameters: snapshot is authoritative when present.
	if s.SnapshotEveryTicks > 0 {
		w.cfg.SnapshotEveryTicks = s.SnapshotEveryTicks
	}
	if s.Workers > 0 {
		w.cfg.Workers = s.Workers
	}

	specs, belts, err := SpecsFromSnapshot(s)
	if err != nil {
		return err
	}
	if err := w.install(specs, belts); err != nil {
		return err
	}
	w.tick.Store(s.Header.Tick + 1)
	w.nextItem.Store(s.Counters.NextItem)
	if s.Header.RunID != "" {
		w.runID = s.Header.RunID
	}
	w.publishCurrent()
	return nil
}

// SpecsFromSnapshot converts snapshot records back into construction specs.
func SpecsFromSnapshot(s snapshot.SnapshotV1) ([]LaneSpec, []Belt, error) {
	specs := make([]LaneSpec, 0, len(s.Lanes))
	for _, l := range s.Lanes {
		exit, err := lane.ParseExitPolicy(l.Exit)
		if err != nil {
			return nil, nil, fmt.Errorf("lane %s: %w", l.ID, err)
		}
		items := make([]lane.Slot, 0, len(l.Items))
		for _, it := range l.Items {
			items = append(items, lane.Slot{Pos: it.Pos, Item: lane.Item{ID: it.ItemID, Kind: it.Kind}})
		}
		specs = append(specs, LaneSpec{
			ID: lane.ID(l.ID),
			Params: lane.Params{
				Length: l.Length,
				Speed:  l.Speed,
				Out:    lane.ID(l.Out),
				Exit:   exit,
			},
			Items: items,
		})
	}
	belts := make([]Belt, 0, len(s.Belts))
	for _, b := range s.Belts {
		dir, err := ParseDirection(b.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("belt %s: %w", b.ID, err)
		}
		belts = append(belts, Belt{
			ID:    b.ID,
			Pos:   Coordinate{X: b.Pos[0], Y: b.Pos[1]},
			Dir:   dir,
			Left:  lane.ID(b.Left),
			Right: lane.ID(b.Right),
		})
	}
	return specs, belts, nil
}
