package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	tlog "beltline.ai/internal/persistence/log"
	"beltline.ai/internal/persistence/snapshot"
	"beltline.ai/internal/sim/replay"
)

type ReplayOptions struct {
	Snapshot string
	Events   string
	From     uint64
	To       uint64
}

type ReplayReport struct {
	WorldID      string `json:"world_id"`
	SnapshotTick uint64 `json:"snapshot_tick"`
	Files        int    `json:"files"`
	Checked      uint64 `json:"checked"`
	LastTick     uint64 `json:"last_tick"`
	LastDigest   string `json:"last_digest,omitempty"`
}

func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{}
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute tick logs from a snapshot and verify digests",
		Long: `Load a snapshot, re-apply every logged tick after it and compare each
recomputed state digest with the logged one. The first mismatch fails
the command.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(rootOpts, opts, cmd)
		},
	}
	cmd.Flags().StringVar(&opts.Snapshot, "snapshot", "", "path to .snap.zst (required)")
	cmd.Flags().StringVar(&opts.Events, "events", "", "events dir (default: <world>/events next to the snapshot)")
	cmd.Flags().Uint64Var(&opts.From, "from", 0, "first tick to verify")
	cmd.Flags().Uint64Var(&opts.To, "to", 0, "last tick to replay (0 = end of log)")
	_ = cmd.MarkFlagRequired("snapshot")
	return cmd
}

func runReplay(rootOpts *RootOptions, opts *ReplayOptions, cmd *cobra.Command) error {
	f := newFormatter(rootOpts, cmd)

	snap, err := snapshot.ReadSnapshot(opts.Snapshot)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeSnapshot, "cannot read snapshot", err)
	}
	events := opts.Events
	if events == "" {
		// <world>/snapshots/N.snap.zst -> <world>/events
		events = tlog.EventsDir(filepath.Dir(filepath.Dir(opts.Snapshot)))
	}
	files, err := tlog.ListEventFiles(events)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeIO, "cannot list tick logs", err)
	}
	slog.Info("replaying", "snapshot_tick", snap.Header.Tick, "events", events, "files", len(files))

	w, err := replay.NewWorld(snap)
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeSnapshot, "cannot restore snapshot", err)
	}
	res, err := replay.Run(w, files, replay.Options{FromTick: opts.From, ToTick: opts.To})
	if err != nil {
		var mm *replay.DigestMismatchError
		if errors.As(err, &mm) {
			return f.Fail(ExitFailure, ErrCodeMismatch, fmt.Sprintf("digest mismatch at tick %d", mm.Tick), err)
		}
		return f.Fail(ExitFailure, ErrCodeReplay, "replay failed", err)
	}

	rep := ReplayReport{
		WorldID:      snap.Header.WorldID,
		SnapshotTick: snap.Header.Tick,
		Files:        len(files),
		Checked:      res.Checked,
		LastTick:     res.LastTick,
		LastDigest:   res.LastDigest,
	}
	return f.Success(rep, func(out io.Writer) {
		if rep.Checked == 0 {
			fmt.Fprintf(out, "✓ nothing to replay after tick %d\n", rep.SnapshotTick)
			return
		}
		fmt.Fprintf(out, "✓ replay ok: world=%s ticks %d..%d checked=%d\n", rep.WorldID, rep.SnapshotTick+1, rep.LastTick, rep.Checked)
		if f.Verbose {
			fmt.Fprintf(out, "  last digest %s\n", rep.LastDigest)
		}
	})
}
