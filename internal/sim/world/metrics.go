package world

// WorldMetrics is a thread-safe read-only view of key world runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Lanes     int `json:"lanes"`
	Items     int `json:"items"`
	Observers int `json:"observers"`

	// Backpressured counts connected lanes whose lead is held at the exit.
	Backpressured int `json:"backpressured"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`

	InsertedTotal  uint64 `json:"inserted_total"`
	TakenTotal     uint64 `json:"taken_total"`
	TransfersTotal uint64 `json:"transfers_total"`
	RefusedTotal   uint64 `json:"refused_total"`
	ConsumedTotal  uint64 `json:"consumed_total"`
}

type QueueDepths struct {
	Insert int `json:"insert"`
	Take   int `json:"take"`
	Admin  int `json:"admin"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) storeMetrics(nextTick uint64, stepMS float64) {
	items := 0
	held := 0
	for _, id := range w.order {
		l := w.lanes[id]
		cur := l.Items()
		items += len(cur)
		if _, ok := l.ConnectionOut(); ok && len(cur) > 0 && cur[0].Pos == 0 {
			held++
		}
	}
	w.metrics.Store(WorldMetrics{
		Tick:          nextTick,
		Lanes:         len(w.order),
		Items:         items,
		Observers:     len(w.observers),
		Backpressured: held,
		QueueDepths: QueueDepths{
			Insert: len(w.insert),
			Take:   len(w.take),
			Admin:  len(w.admin),
		},
		StepMS:         stepMS,
		InsertedTotal:  w.insertedTotal,
		TakenTotal:     w.takenTotal,
		TransfersTotal: w.transfersTotal,
		RefusedTotal:   w.refusedTotal,
		ConsumedTotal:  w.consumedTotal,
	})
}
