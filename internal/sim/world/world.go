package world

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/lane"
)

// World owns the lane registry and drives ticks. Lane state is only touched
// by the goroutine calling Run or StepOnce; other goroutines read the
// published Generation and Metrics.
type World struct {
	cfg   WorldConfig
	runID string

	tick atomic.Uint64

	lanes map[lane.ID]*lane.Lane
	order []lane.ID
	belts map[Coordinate]Belt

	nextItem atomic.Uint64

	insertedTotal  uint64
	takenTotal     uint64
	transfersTotal uint64
	refusedTotal   uint64
	consumedTotal  uint64

	gen     atomic.Pointer[Generation]
	metrics atomic.Value

	insert        chan InsertRequest
	take          chan TakeRequest
	admin         chan adminSnapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	observers map[string]*observerClient

	// Optional (may be nil). Implemented in internal/persistence/*.
	tickLogger TickLogger

	// Optional snapshot sink (may be nil). Snapshot writing should be off-thread.
	snapshotSink chan<- snapshot.SnapshotV1
}

func New(cfg WorldConfig, lanes []LaneSpec, belts []Belt) (*World, error) {
	cfg.applyDefaults()
	w := &World{
		cfg:           cfg,
		runID:         uuid.Must(uuid.NewV7()).String(),
		insert:        make(chan InsertRequest, 1024),
		take:          make(chan TakeRequest, 1024),
		admin:         make(chan adminSnapshotReq, 16),
		observerJoin:  make(chan ObserverJoinRequest, 64),
		observerSub:   make(chan ObserverSubscribeRequest, 256),
		observerLeave: make(chan string, 64),
		stop:          make(chan struct{}),
		observers:     map[string]*observerClient{},
	}
	if err := w.install(lanes, belts); err != nil {
		return nil, err
	}
	return w, nil
}

// install replaces the registry. Connections must name registered lanes and
// items must already satisfy the lane invariants.
func (w *World) install(specs []LaneSpec, belts []Belt) error {
	lanes := make(map[lane.ID]*lane.Lane, len(specs))
	order := make([]lane.ID, 0, len(specs))
	for _, s := range specs {
		if _, dup := lanes[s.ID]; dup {
			return fmt.Errorf("duplicate lane id %q", s.ID)
		}
		l, err := lane.New(s.ID, s.Params)
		if err != nil {
			return err
		}
		if err := l.Commit(s.Items); err != nil {
			return err
		}
		lanes[s.ID] = l
		order = append(order, s.ID)
	}
	for _, id := range order {
		out, ok := lanes[id].ConnectionOut()
		if !ok {
			continue
		}
		if out == id {
			return fmt.Errorf("lane %s connects to itself", id)
		}
		if _, ok := lanes[out]; !ok {
			return fmt.Errorf("lane %s connects to unknown lane %q", id, out)
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	byPos := make(map[Coordinate]Belt, len(belts))
	for _, b := range belts {
		if _, dup := byPos[b.Pos]; dup {
			return fmt.Errorf("two belts at %s", b.Pos)
		}
		for _, id := range []lane.ID{b.Left, b.Right} {
			if id == "" {
				continue
			}
			if _, ok := lanes[id]; !ok {
				return fmt.Errorf("belt %s references unknown lane %q", b.ID, id)
			}
		}
		byPos[b.Pos] = b
	}

	w.lanes = lanes
	w.order = order
	w.belts = byPos
	w.publishCurrent()
	return nil
}

func (w *World) SetTickLogger(l TickLogger)                    { w.tickLogger = l }
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) CurrentTick() uint64 { return w.tick.Load() }

func (w *World) Config() WorldConfig {
	if w == nil {
		return WorldConfig{}
	}
	return w.cfg
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) RunID() string { return w.runID }

// LaneIDs returns every registered lane in step order.
func (w *World) LaneIDs() []lane.ID {
	out := make([]lane.ID, len(w.order))
	copy(out, w.order)
	return out
}

// LaneParams returns a lane's immutable parameters.
func (w *World) LaneParams(id lane.ID) (lane.Params, bool) {
	l, ok := w.lanes[id]
	if !ok {
		return lane.Params{}, false
	}
	return l.Params(), true
}

// Belts returns belts ordered by position.
func (w *World) Belts() []Belt {
	out := make([]Belt, 0, len(w.belts))
	for _, b := range w.belts {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pos.Y != out[j].Pos.Y {
			return out[i].Pos.Y < out[j].Pos.Y
		}
		return out[i].Pos.X < out[j].Pos.X
	})
	return out
}

// Generation returns the latest published lane state. Safe from any goroutine.
func (w *World) Generation() *Generation {
	return w.gen.Load()
}

func (w *World) publish(nextTick uint64, digest string) {
	g := &Generation{
		Tick:   nextTick,
		Digest: digest,
		Lanes:  make(map[lane.ID][]lane.Slot, len(w.order)),
	}
	for _, id := range w.order {
		// Lane slices are replaced, never mutated, so sharing them is safe.
		g.Lanes[id] = w.lanes[id].Items()
	}
	w.gen.Store(g)
}

// publishCurrent republishes the registry outside a step. The digest is the
// one the last completed tick would have logged.
func (w *World) publishCurrent() {
	next := w.tick.Load()
	last := next
	if last > 0 {
		last--
	}
	w.publish(next, w.stateDigest(last))
}

func (w *World) newItemID(n uint64) string {
	return fmt.Sprintf("I%06d", n)
}
