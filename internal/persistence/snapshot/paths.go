package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const fileSuffix = ".snap.zst"

func Dir(worldDir string) string { return filepath.Join(worldDir, "snapshots") }

// Path names the snapshot file for tick under worldDir.
func Path(worldDir string, tick uint64) string {
	return filepath.Join(Dir(worldDir), fmt.Sprintf("%d%s", tick, fileSuffix))
}

// Latest returns the highest-tick snapshot under worldDir, or "" when there is none.
func Latest(worldDir string) string {
	dir := Dir(worldDir)
	ents, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var best string
	var bestTick uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || tick > bestTick {
			bestTick = tick
			best = filepath.Join(dir, name)
		}
	}
	return best
}
