package world

import (
	"context"
	"time"

	"beltline.ai/internal/sim/lane"
)

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingInserts []InsertRequest
	var pendingTakes []TakeRequest
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case req := <-w.insert:
			pendingInserts = append(pendingInserts, req)
		case req := <-w.take:
			pendingTakes = append(pendingTakes, req)
		case <-ticker.C:
			if _, err := w.stepInternal(pendingInserts, pendingTakes); err != nil {
				return err
			}
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingInserts = pendingInserts[:0]
			pendingTakes = pendingTakes[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// Insert queues an item for the next tick boundary and waits for the result.
// It is safe to call from other goroutines while Run is active.
func (w *World) Insert(ctx context.Context, id lane.ID, pos int, it lane.Item) (InsertResponse, error) {
	resp := make(chan InsertResponse, 1)
	select {
	case w.insert <- InsertRequest{Lane: id, Pos: pos, Item: it, Resp: resp}:
	case <-ctx.Done():
		return InsertResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, r.Err
	case <-ctx.Done():
		return InsertResponse{}, ctx.Err()
	}
}


// Take removes the item held at a lane's exit at the next tick boundary.
func (w *World) Take(ctx context.Context, id lane.ID) (TakeResponse, error) {
	resp := make(chan TakeResponse, 1)
	select {
	case w.take <- TakeRequest{Lane: id, Resp: resp}:
	case <-ctx.Done():
		return TakeResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		if r.Err != nil {
			return r, r.Err
		}
		if !r.OK {
			return r, ErrNothingAtExit
		}
		return r, nil
	case <-ctx.Done():
		return TakeResponse{}, ctx.Err()
	}
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
