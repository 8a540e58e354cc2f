package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"beltline.ai/internal/persistence/snapshot"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "clear":
			clearCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "transfers":
			transfersCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "worlds")
	if *worldID != "" {
		base = filepath.Join(base, *worldID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// clearCmd writes a copy of a snapshot with the named lanes emptied. The
// server picks it up on the next start with -snapshot.
func clearCmd(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id")
	snapPath := fs.String("snapshot", "", "snapshot to clear from (optional; defaults to latest)")
	lanes := fs.String("lanes", "", "comma-separated lane ids to empty (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		fmt.Fprintln(os.Stderr, "missing -world")
		os.Exit(2)
	}
	ids := splitList(*lanes)
	if len(ids) == 0 {
		fmt.Fprintln(os.Stderr, "missing -lanes")
		os.Exit(2)
	}

	worldDir := filepath.Join(*dataDir, "worlds", *worldID)
	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" {
		snapshotToLoad = snapshot.Latest(worldDir)
	}
	if snapshotToLoad == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}

	snap, err := snapshot.ReadSnapshot(snapshotToLoad)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	removed, missing := clearLanes(&snap, ids)
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "unknown lanes: %s\n", strings.Join(missing, ","))
		os.Exit(2)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(snapshot.Dir(worldDir), fmt.Sprintf("%d.cleared.snap.zst", snap.Header.Tick))
	}
	if err := snapshot.WriteSnapshot(*outPath, snap); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}

	fmt.Printf("clear ok: snapshot=%s tick=%d lanes=%s removed=%d out=%s\n",
		filepath.Base(snapshotToLoad), snap.Header.Tick, strings.Join(ids, ","), removed, *outPath)
}

// clearLanes empties the given lanes in place. Item ids stay retired:
// Counters.NextItem is left alone.
func clearLanes(snap *snapshot.SnapshotV1, ids []string) (removed int, missing []string) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	for i := range snap.Lanes {
		l := &snap.Lanes[i]
		if !want[l.ID] {
			continue
		}
		delete(want, l.ID)
		removed += len(l.Items)
		l.Items = nil
	}
	for id := range want {
		missing = append(missing, id)
	}
	sort.Strings(missing)
	return removed, missing
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
