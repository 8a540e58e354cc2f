package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	tlog "beltline.ai/internal/persistence/log"
	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/tuning"
	"beltline.ai/internal/sim/world"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	Layout        string
	Tuning        string
	Ticks         int
	Out           string
	SnapshotEvery int
}

// TickTrace is one stepped tick as reported by run.
type TickTrace struct {
	Tick      uint64                   `json:"tick"`
	Digest    string                   `json:"digest"`
	Transfers []world.RecordedTransfer `json:"transfers,omitempty"`
	Refused   []world.RecordedTransfer `json:"refused,omitempty"`
	Consumed  []world.RecordedConsume  `json:"consumed,omitempty"`
	Lanes     map[lane.ID][]lane.Slot  `json:"lanes"`
}

type RunResult struct {
	WorldID   string      `json:"world_id"`
	NextTick  uint64      `json:"next_tick"`
	Items     int         `json:"items"`
	Snapshots []string    `json:"snapshots,omitempty"`
	Trace     []TickTrace `json:"trace"`
}

func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Step a layout headless and print a per-tick trace",
		Long: `Build a world from a layout and step it a fixed number of ticks.

With --out the tick log and snapshots are written under the given world
directory, in the same layout the server uses, so the run can be replayed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Layout, "layout", "", "layout yaml (required)")
	cmd.Flags().StringVar(&opts.Tuning, "tuning", "", "tuning yaml (optional)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 10, "number of ticks to step")
	cmd.Flags().StringVar(&opts.Out, "out", "", "world directory for tick logs and snapshots")
	cmd.Flags().IntVar(&opts.SnapshotEvery, "snapshot-every", 0, "snapshot every N ticks (0 uses tuning)")
	_ = cmd.MarkFlagRequired("layout")
	return cmd
}

// traceLogger captures each tick's log entry and forwards it to next, if set.
type traceLogger struct {
	last world.TickLogEntry
	next world.TickLogger
}

func (t *traceLogger) WriteTick(e world.TickLogEntry) error {
	t.last = e
	if t.next != nil {
		return t.next.WriteTick(e)
	}
	return nil
}

func runRun(rootOpts *RootOptions, opts *RunOptions, cmd *cobra.Command) error {
	f := newFormatter(rootOpts, cmd)
	if opts.Ticks < 0 {
		return f.Fail(ExitCommandError, ErrCodeStep, fmt.Sprintf("--ticks must be >= 0, got %d", opts.Ticks), nil)
	}

	tun := tuning.Defaults()
	if opts.Tuning != "" {
		var err error
		if tun, err = tuning.Load(opts.Tuning); err != nil {
			return f.Fail(ExitCommandError, ErrCodeIO, "cannot load tuning", err)
		}
	}
	every := tun.SnapshotEveryTicks
	if opts.SnapshotEvery > 0 {
		every = opts.SnapshotEvery
	}

	l, err := loadLayout(f, opts.Layout, tun.DefaultLaneLength)
	if err != nil {
		return err
	}
	cfg := world.WorldConfig{TickRateHz: tun.TickRateHz, Workers: tun.Workers}
	if opts.Out != "" {
		cfg.SnapshotEveryTicks = every
	}
	w, err := l.NewWorld(cfg)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeLayout, "cannot build world", err)
	}

	trace := &traceLogger{}
	var sink chan snapshot.SnapshotV1
	res := RunResult{WorldID: w.ID()}
	if opts.Out != "" {
		tl := tlog.NewTickLogger(opts.Out)
		defer tl.Close()
		trace.next = tl
		sink = make(chan snapshot.SnapshotV1, 4)
		w.SetSnapshotSink(sink)
	}
	w.SetTickLogger(trace)

	var lastSnap *uint64
	writeSnap := func(s snapshot.SnapshotV1) error {
		path := snapshot.Path(opts.Out, s.Header.Tick)
		if err := snapshot.WriteSnapshot(path, s); err != nil {
			return err
		}
		tick := s.Header.Tick
		lastSnap = &tick
		res.Snapshots = append(res.Snapshots, path)
		slog.Debug("snapshot written", "tick", s.Header.Tick, "path", path)
		return nil
	}

	for i := 0; i < opts.Ticks; i++ {
		tick, digest, err := w.StepOnce(nil, nil)
		if err != nil {
			return f.Fail(ExitFailure, ErrCodeStep, fmt.Sprintf("tick %d failed", tick), err)
		}
		e := trace.last
		res.Trace = append(res.Trace, TickTrace{
			Tick:      tick,
			Digest:    digest,
			Transfers: e.Transfers,
			Refused:   e.Refused,
			Consumed:  e.Consumed,
			Lanes:     w.Generation().Lanes,
		})
		slog.Debug("tick", "tick", tick, "digest", digest)
		for drained := false; !drained; {
			select {
			case s := <-sink:
				if err := writeSnap(s); err != nil {
					return f.Fail(ExitCommandError, ErrCodeIO, "cannot write snapshot", err)
				}
			default:
				drained = true
			}
		}
	}

	if opts.Out != "" && opts.Ticks > 0 {
		last := w.CurrentTick() - 1
		if lastSnap == nil || *lastSnap != last {
			if err := writeSnap(w.ExportSnapshot(last)); err != nil {
				return f.Fail(ExitCommandError, ErrCodeIO, "cannot write snapshot", err)
			}
		}
	}

	res.NextTick = w.CurrentTick()
	for _, slots := range w.Generation().Lanes {
		res.Items += len(slots)
	}
	ids := w.LaneIDs()
	return f.Success(res, func(out io.Writer) {
		for _, t := range res.Trace {
			writeTickTrace(out, ids, t)
		}
		fmt.Fprintf(out, "done: world=%s next_tick=%d items=%d\n", res.WorldID, res.NextTick, res.Items)
		for _, p := range res.Snapshots {
			fmt.Fprintf(out, "snapshot: %s\n", p)
		}
	})
}

func writeTickTrace(out io.Writer, ids []lane.ID, t TickTrace) {
	fmt.Fprintf(out, "tick %d: transfers=%d refused=%d consumed=%d\n", t.Tick, len(t.Transfers), len(t.Refused), len(t.Consumed))
	for _, tr := range t.Transfers {
		fmt.Fprintf(out, "  transfer %s %s -> %s @%d\n", tr.ItemID, tr.From, tr.To, tr.Pos)
	}
	for _, tr := range t.Refused {
		fmt.Fprintf(out, "  refused %s %s -> %s\n", tr.ItemID, tr.From, tr.To)
	}
	for _, c := range t.Consumed {
		fmt.Fprintf(out, "  consumed %s on %s\n", c.ItemID, c.Lane)
	}
	for _, id := range ids {
		fmt.Fprintf(out, "  %s: %s\n", id, formatSlots(t.Lanes[id]))
	}
}

func formatSlots(slots []lane.Slot) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(slots))
	for _, s := range slots {
		parts = append(parts, fmt.Sprintf("%d:%s", s.Pos, s.Item.ID))
	}
	return strings.Join(parts, " ")
}
