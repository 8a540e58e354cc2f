// Package replay re-executes tick logs from a snapshot and checks digests.
package replay

import (
	"fmt"
	"path/filepath"

	tlog "beltline.ai/internal/persistence/log"
	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/world"
)

type Options struct {
	// FromTick starts verification (inclusive). Zero means the first replayed tick.
	FromTick uint64
	// ToTick stops after this tick (inclusive). Zero means run to the end.
	ToTick uint64
}

type Result struct {
	SnapshotTick uint64
	Checked      uint64
	LastTick     uint64
	LastDigest   string
}

// DigestMismatchError reports the first tick whose recomputed digest differs.
type DigestMismatchError struct {
	Tick uint64
	Got  string
	Want string
}

func (e *DigestMismatchError) Error() string {
	return fmt.Sprintf("digest mismatch at tick %d: got=%s want=%s", e.Tick, e.Got, e.Want)
}

// NewWorld builds a world positioned right after the snapshot tick.
func NewWorld(snap snapshot.SnapshotV1) (*world.World, error) {
	w, err := world.New(world.WorldConfig{
		ID:                 snap.Header.WorldID,
		TickRateHz:         snap.TickRate,
		Workers:            snap.Workers,
		SnapshotEveryTicks: snap.SnapshotEveryTicks,
	}, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := w.ImportSnapshot(snap); err != nil {
		return nil, fmt.Errorf("import snapshot: %w", err)
	}
	return w, nil
}

// Run replays every entry in files, in order, against w.
func Run(w *world.World, files []string, opts Options) (Result, error) {
	res := Result{}
	start := w.CurrentTick()
	if start > 0 {
		res.SnapshotTick = start - 1
	}
	verifyFrom := opts.FromTick
	if verifyFrom == 0 {
		verifyFrom = start
	}

	for _, path := range files {
		err := tlog.ScanTicks(path, func(entry world.TickLogEntry) error {
			if entry.Tick < start {
				return nil
			}
			if opts.ToTick != 0 && entry.Tick > opts.ToTick {
				return tlog.ErrStop
			}
			if entry.Tick != w.CurrentTick() {
				return fmt.Errorf("tick mismatch: want=%d got=%d (file=%s)", w.CurrentTick(), entry.Tick, filepath.Base(path))
			}
			tick, got, err := w.StepOnce(Requests(entry))
			if err != nil {
				return err
			}
			if tick != entry.Tick {
				return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d (file=%s)", tick, entry.Tick, filepath.Base(path))
			}
			res.LastTick, res.LastDigest = tick, got
			if tick >= verifyFrom {
				res.Checked++
				if got != entry.Digest {
					return &DigestMismatchError{Tick: tick, Got: got, Want: entry.Digest}
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
		if opts.ToTick != 0 && w.CurrentTick() > opts.ToTick {
			break
		}
	}
	return res, nil
}

// Requests rebuilds the boundary requests a logged tick applied.
func Requests(entry world.TickLogEntry) ([]world.InsertRequest, []world.TakeRequest) {
	inserts := make([]world.InsertRequest, 0, len(entry.Inserts))
	for _, in := range entry.Inserts {
		inserts = append(inserts, world.InsertRequest{Lane: in.Lane, Pos: in.Pos, Item: in.Item})
	}
	takes := make([]world.TakeRequest, 0, len(entry.Takes))
	for _, tk := range entry.Takes {
		takes = append(takes, world.TakeRequest{Lane: tk.Lane})
	}
	return inserts, takes
}
