package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"beltline.ai/internal/persistence/snapshot"
)

func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "inspect <snapshot.snap.zst>",
		Short:         "Print a snapshot's header, lanes and items",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			snap, err := snapshot.ReadSnapshot(args[0])
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeSnapshot, "cannot read snapshot", err)
			}
			return f.Success(snap, func(out io.Writer) { writeSnapshot(out, snap) })
		},
	}
}

func writeSnapshot(w io.Writer, s snapshot.SnapshotV1) {
	fmt.Fprintf(w, "world %s tick %d (v%d)\n", s.Header.WorldID, s.Header.Tick, s.Header.Version)
	fmt.Fprintf(w, "run %s\n", s.Header.RunID)
	fmt.Fprintf(w, "lanes %d belts %d items %d next_item %d\n", len(s.Lanes), len(s.Belts), s.ItemCount(), s.Counters.NextItem)
	for _, l := range s.Lanes {
		out := l.Out
		if out == "" {
			out = "-"
		}
		fmt.Fprintf(w, "  %s len=%d speed=%d out=%s exit=%s:", l.ID, l.Length, l.Speed, out, l.Exit)
		if len(l.Items) == 0 {
			fmt.Fprint(w, " -")
		}
		for _, it := range l.Items {
			fmt.Fprintf(w, " %d:%s", it.Pos, it.ItemID)
		}
		fmt.Fprintln(w)
	}
}
