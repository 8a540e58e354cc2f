package world

import (
	"beltline.ai/internal/persistence/snapshot"
)

// ExportSnapshot captures the state after nowTick completed.
// It must be called from the world loop goroutine.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.SnapshotV1 {
	lanes := make([]snapshot.LaneV1, 0, len(w.order))
	for _, id := range w.order {
		l := w.lanes[id]
		out, _ := l.ConnectionOut()
		items := l.Items()
		slots := make([]snapshot.SlotV1, 0, len(items))
		for _, s := range items {
			slots = append(slots, snapshot.SlotV1{Pos: s.Pos, ItemID: s.Item.ID, Kind: s.Item.Kind})
		}
		lanes = append(lanes, snapshot.LaneV1{
			ID:     string(id),
			Length: l.Length(),
			Speed:  l.Speed(),
			Out:    string(out),
			Exit:   l.Exit().String(),
			Items:  slots,
		})
	}

	belts := make([]snapshot.BeltV1, 0, len(w.belts))
	for _, b := range w.Belts() {
		belts = append(belts, snapshot.BeltV1{
			ID:    b.ID,
			Pos:   [2]int{b.Pos.X, b.Pos.Y},
			Dir:   b.Dir.String(),
			Left:  string(b.Left),
			Right: string(b.Right),
		})
	}

	return snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			WorldID: w.cfg.ID,
			Tick:    nowTick,
			RunID:   w.runID,
		},
		TickRate:           w.cfg.TickRateHz,
		Workers:            w.cfg.Workers,
		SnapshotEveryTicks: w.cfg.SnapshotEveryTicks,
		Lanes:              lanes,
		Belts:              belts,
		Counters:           snapshot.CountersV1{NextItem: w.nextItem.Load()},
	}
}
