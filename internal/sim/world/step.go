package world

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/tick"
)

// StepOnce advances the world by a single tick using the same ordering semantics as the server.
// It is primarily intended for deterministic replays/tests.
func (w *World) StepOnce(inserts []InsertRequest, takes []TakeRequest) (nowTick uint64, digest string, err error) {
	entry, err := w.stepInternal(inserts, takes)
	return entry.Tick, entry.Digest, err
}

// stepInternal applies boundary requests (takes, then inserts, in arrival
// order), computes every lane against the current generation, merges
// transfers and swaps all lanes at once. If any lane's next state is invalid
// nothing is swapped and the tick counter does not advance.
func (w *World) stepInternal(inserts []InsertRequest, takes []TakeRequest) (TickLogEntry, error) {
	stepStart := time.Now()
	nowTick := w.tick.Load()
	entry := TickLogEntry{Tick: nowTick}

	for _, req := range takes {
		resp := TakeResponse{Tick: nowTick}
		rec := RecordedTake{Lane: req.Lane}
		if l := w.lanes[req.Lane]; l == nil {
			resp.Err = fmt.Errorf("%w: %q", ErrUnknownLane, req.Lane)
		} else if it, ok := l.TakeAtExit(); ok {
			resp.Item, resp.OK = it, true
			rec.ItemID = it.ID
			w.takenTotal++
		}
		entry.Takes = append(entry.Takes, rec)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	for _, req := range inserts {
		n := w.nextItem.Add(1)
		it := req.Item
		if it.ID == "" {
			it.ID = w.newItemID(n)
		}
		resp := InsertResponse{Tick: nowTick, Item: it}
		rec := RecordedInsert{Lane: req.Lane, Pos: req.Pos, Item: it}
		if l := w.lanes[req.Lane]; l == nil {
			resp.Err = fmt.Errorf("%w: %q", ErrUnknownLane, req.Lane)
		} else if err := l.Insert(it, req.Pos); err != nil {
			resp.Err = err
		} else {
			w.insertedTotal++
		}
		if resp.Err != nil {
			rec.Error = resp.Err.Error()
		}
		entry.Inserts = append(entry.Inserts, rec)
		if req.Resp != nil {
			req.Resp <- resp
		}
	}

	results := w.computeAll()
	next, err := w.merge(results, &entry)
	if err != nil {
		return entry, fmt.Errorf("tick %d: %w", nowTick, err)
	}

	// Barrier: validate every lane before any lane swaps.
	var errs []error
	for _, id := range w.order {
		if err := lane.Validate(next[id], w.lanes[id].Length()); err != nil {
			errs = append(errs, fmt.Errorf("lane %s: %w", id, err))
		}
	}
	if len(errs) > 0 {
		return entry, fmt.Errorf("tick %d: %w", nowTick, errors.Join(errs...))
	}
	for _, id := range w.order {
		if err := w.lanes[id].Commit(next[id]); err != nil {
			return entry, fmt.Errorf("tick %d: %w", nowTick, err)
		}
	}

	entry.Digest = w.stateDigest(nowTick)
	nextTick := w.tick.Add(1)
	w.publish(nextTick, entry.Digest)

	if w.tickLogger != nil {
		_ = w.tickLogger.WriteTick(entry)
	}

	// Observer stream (read-only).
	w.stepObservers(nowTick, entry)

	// Snapshot every N ticks, starting after tick 0.
	if w.snapshotSink != nil && nowTick != 0 && w.cfg.SnapshotEveryTicks > 0 {
		every := uint64(w.cfg.SnapshotEveryTicks)
		if nowTick%every == 0 {
			snap := w.ExportSnapshot(nowTick)
			select {
			case w.snapshotSink <- snap:
			default:
				// Drop snapshot if sink is backed up.
			}
		}
	}

	w.storeMetrics(nextTick, float64(time.Since(stepStart).Microseconds())/1000.0)
	return entry, nil
}

// computeAll runs the tick engine for every lane in parallel. Each lane reads
// only the current generation and writes only its own result slot.
func (w *World) computeAll() []tick.Result {
	results := make([]tick.Result, len(w.order))
	var g errgroup.Group
	if w.cfg.Workers > 0 {
		g.SetLimit(w.cfg.Workers)
	}
	for i, id := range w.order {
		src := w.lanes[id]
		var dest tick.Destination
		if out, ok := src.ConnectionOut(); ok {
			if d := w.lanes[out]; d != nil {
				dest = d
			}
		}
		g.Go(func() error {
			results[i] = tick.Compute(src, dest)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// merge resolves transfers into their destinations' next lists in a fixed
// order: destination id, then source id. An item refused here returns to
// position 0 of its source; Compute left that spot clear.
func (w *World) merge(results []tick.Result, entry *TickLogEntry) (map[lane.ID][]lane.Slot, error) {
	next := make(map[lane.ID][]lane.Slot, len(w.order))
	outgoing := map[lane.ID]bool{}
	byDest := map[lane.ID][]tick.Transfer{}
	for i, id := range w.order {
		r := results[i]
		next[id] = r.Next
		for _, it := range r.Consumed {
			entry.Consumed = append(entry.Consumed, RecordedConsume{Lane: id, ItemID: it.ID})
			w.consumedTotal++
		}
		if r.Transfer != nil {
			if _, ok := w.lanes[r.Transfer.To]; !ok {
				return nil, fmt.Errorf("lane %s: transfer to unknown lane %q", id, r.Transfer.To)
			}
			outgoing[id] = true
			byDest[r.Transfer.To] = append(byDest[r.Transfer.To], *r.Transfer)
		}
	}
	if len(byDest) == 0 {
		return next, nil
	}

	dests := make([]lane.ID, 0, len(byDest))
	for id := range byDest {
		dests = append(dests, id)
	}
	sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })

	for _, to := range dests {
		trs := byDest[to]
		sort.Slice(trs, func(i, j int) bool { return trs[i].From < trs[j].From })
		dl := w.lanes[to]
		for _, tr := range trs {
			view := next[to]
			if outgoing[to] {
				// to's own lead may still bounce back to its position 0.
				view = append([]lane.Slot{{Pos: 0}}, view...)
			}
			pos, ok := lane.Admit(view, dl.Length(), tr.Want)
			delete(outgoing, tr.From)
			if ok {
				grown := make([]lane.Slot, 0, len(next[to])+1)
				grown = append(grown, next[to]...)
				next[to] = append(grown, lane.Slot{Pos: pos, Item: tr.Item})
				entry.Transfers = append(entry.Transfers, RecordedTransfer{From: tr.From, To: to, ItemID: tr.Item.ID, Pos: pos})
				w.transfersTotal++
				continue
			}
			back := make([]lane.Slot, 0, len(next[tr.From])+1)
			back = append(back, lane.Slot{Pos: 0, Item: tr.Item})
			next[tr.From] = append(back, next[tr.From]...)
			entry.Refused = append(entry.Refused, RecordedTransfer{From: tr.From, To: to, ItemID: tr.Item.ID, Pos: 0})
			w.refusedTotal++
		}
	}
	return next, nil
}
