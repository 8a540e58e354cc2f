package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/spf13/cobra"

	"beltline.ai/internal/sim/layout"
)

// LayoutSummary describes a layout that passed validation.
type LayoutSummary struct {
	WorldID string `json:"world_id"`
	Belts   int    `json:"belts"`
	Lanes   int    `json:"lanes"`
	Items   int    `json:"items"`
}

func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <layout.yaml>",
		Short: "Validate a belt layout",
		Long: `Validate a belt layout file without running it.

Checks the document against the layout schema, resolves belt links and
verifies every starting item respects lane spacing.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd)
	l, err := loadLayout(f, path, 0)
	if err != nil {
		return err
	}
	sum := LayoutSummary{WorldID: l.WorldID, Belts: len(l.Belts), Lanes: len(l.Lanes), Items: l.ItemCount()}
	slog.Debug("layout valid", "path", path, "belts", sum.Belts, "lanes", sum.Lanes)
	return f.Success(sum, func(w io.Writer) {
		fmt.Fprintf(w, "✓ layout %q valid: %d belts, %d lanes, %d items\n", sum.WorldID, sum.Belts, sum.Lanes, sum.Items)
	})
}

// loadLayout reads a layout and reports failures through f.
func loadLayout(f *OutputFormatter, path string, defaultLength int) (*layout.Layout, error) {
	l, err := layout.LoadWithDefaultLength(path, defaultLength)
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, f.Fail(ExitCommandError, ErrCodeIO, "layout not found: "+path, nil)
	case errors.Is(err, layout.ErrInvalidLayout):
		return nil, f.Fail(ExitFailure, ErrCodeLayout, "invalid layout", err)
	default:
		return nil, f.Fail(ExitCommandError, ErrCodeIO, "cannot read layout", err)
	}
}
