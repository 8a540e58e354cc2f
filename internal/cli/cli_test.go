package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beltline.ai/internal/persistence/snapshot"
)

// execute runs beltctl with args and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "validate", filepath.Join("testdata", "line.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestValidate_Text(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "line.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "✓ layout \"line\" valid: 2 belts, 4 lanes, 2 items\n", out)
}

func TestValidate_JSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", filepath.Join("..", "..", "configs", "layout.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string        `json:"status"`
		Data   LayoutSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, LayoutSummary{WorldID: "demo", Belts: 4, Lanes: 8, Items: 3}, resp.Data)
}

func TestValidate_Failures(t *testing.T) {
	out, err := execute(t, "validate", filepath.Join("testdata", "bad_spacing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeLayout)

	out, err = execute(t, "--format", "json", "validate", filepath.Join("testdata", "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeIO, resp.Error.Code)
}

func TestRun_TraceGolden(t *testing.T) {
	out, err := execute(t, "run", "--layout", filepath.Join("testdata", "line.yaml"), "--ticks", "14")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "run_line", []byte(out))
}

func TestRun_RequiresLayout(t *testing.T) {
	_, err := execute(t, "run", "--ticks", "3")
	require.Error(t, err)
}

func TestRun_OutThenReplayAndInspect(t *testing.T) {
	worldDir := t.TempDir()
	out, err := execute(t, "--format", "json", "run",
		"--layout", filepath.Join("testdata", "line.yaml"),
		"--ticks", "14",
		"--snapshot-every", "5",
		"--out", worldDir,
	)
	require.NoError(t, err)

	var run struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, uint64(14), run.Data.NextTick)
	assert.Len(t, run.Data.Trace, 14)
	assert.Equal(t, []string{
		snapshot.Path(worldDir, 5),
		snapshot.Path(worldDir, 10),
		snapshot.Path(worldDir, 13),
	}, run.Data.Snapshots)
	assert.Equal(t, snapshot.Path(worldDir, 13), snapshot.Latest(worldDir))

	out, err = execute(t, "--format", "json", "replay", "--snapshot", snapshot.Path(worldDir, 5))
	require.NoError(t, err)
	var rep struct {
		Status string       `json:"status"`
		Data   ReplayReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, "ok", rep.Status)
	assert.Equal(t, uint64(5), rep.Data.SnapshotTick)
	assert.Equal(t, uint64(8), rep.Data.Checked)
	assert.Equal(t, uint64(13), rep.Data.LastTick)
	assert.Equal(t, run.Data.Trace[13].Digest, rep.Data.LastDigest)

	out, err = execute(t, "inspect", snapshot.Path(worldDir, 13))
	require.NoError(t, err)
	assert.Contains(t, out, "world line tick 13 (v1)")
	assert.Contains(t, out, "lanes 4 belts 2 items 1")
	assert.Contains(t, out, "  a.L len=100 speed=8 out=b.L exit=HOLD: -")
	assert.Contains(t, out, "  b.L len=100 speed=8 out=- exit=CONSUME: 67:y")
}

func TestReplay_MissingSnapshot(t *testing.T) {
	_, err := execute(t, "replay", "--snapshot", filepath.Join(t.TempDir(), "none.snap.zst"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), ErrCodeSnapshot)
}

func TestExitError(t *testing.T) {
	err := WrapExitError(ExitCommandError, "boom", assert.AnError)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
	assert.Equal(t, "plain", NewExitError(ExitFailure, "plain").Error())
}
