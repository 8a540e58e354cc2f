package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	laneID := fs.String("lane", "", "lane filter (transfers, lanes)")
	itemID := fs.String("item", "", "item id (trail)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*worldID) == "" {
			fmt.Fprintln(os.Stderr, "missing -world or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "worlds", *worldID, "index", "world.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := runQuery(os.Stdout, db, q, queryArgs{Limit: *limit, Lane: *laneID, Item: *itemID}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type queryArgs struct {
	Limit int
	Lane  string
	Item  string
}

// runQuery prints one JSON object per row.
func runQuery(out io.Writer, db *sql.DB, q string, a queryArgs) error {
	if a.Limit <= 0 {
		a.Limit = 20
	}
	switch q {
	case "snapshots":
		rows, err := db.Query(`SELECT tick,path,run_id,lanes,items FROM snapshots ORDER BY tick DESC LIMIT ?`, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick  int64  `json:"tick"`
				Path  string `json:"path"`
				RunID string `json:"run_id"`
				Lanes int    `json:"lanes"`
				Items int    `json:"items"`
			}
			if err := rows.Scan(&r.Tick, &r.Path, &r.RunID, &r.Lanes, &r.Items); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "ticks":
		rows, err := db.Query(`SELECT tick,digest,inserts,takes,transfers,refused,consumed FROM ticks ORDER BY tick DESC LIMIT ?`, a.Limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick      int64  `json:"tick"`
				Digest    string `json:"digest"`
				Inserts   int    `json:"inserts"`
				Takes     int    `json:"takes"`
				Transfers int    `json:"transfers"`
				Refused   int    `json:"refused"`
				Consumed  int    `json:"consumed"`
			}
			if err := rows.Scan(&r.Tick, &r.Digest, &r.Inserts, &r.Takes, &r.Transfers, &r.Refused, &r.Consumed); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "transfers", "trail":
		var rows *sql.Rows
		var err error
		if q == "trail" {
			if strings.TrimSpace(a.Item) == "" {
				return fmt.Errorf("trail requires -item")
			}
			rows, err = db.Query(`SELECT tick,from_lane,to_lane,item_id,pos,refused FROM transfers WHERE item_id=? ORDER BY tick, seq`, a.Item)
		} else if strings.TrimSpace(a.Lane) != "" {
			rows, err = db.Query(`SELECT tick,from_lane,to_lane,item_id,pos,refused FROM transfers WHERE from_lane=? ORDER BY tick DESC, seq DESC LIMIT ?`, a.Lane, a.Limit)
		} else {
			rows, err = db.Query(`SELECT tick,from_lane,to_lane,item_id,pos,refused FROM transfers ORDER BY tick DESC, seq DESC LIMIT ?`, a.Limit)
		}
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Tick    int64  `json:"tick"`
				From    string `json:"from"`
				To      string `json:"to"`
				ItemID  string `json:"item_id"`
				Pos     int    `json:"pos"`
				Refused bool   `json:"refused"`
			}
			if err := rows.Scan(&r.Tick, &r.From, &r.To, &r.ItemID, &r.Pos, &r.Refused); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			printJSON(out, r)
		}
		return rows.Err()

	case "lanes":
		query := `SELECT lane_id,tick,length,speed,COALESCE(out_lane,''),exit,items,items_json FROM lane_state`
		var params []any
		if strings.TrimSpace(a.Lane) != "" {
			query += ` WHERE lane_id=?`
			params = append(params, a.Lane)
		}
		query += ` ORDER BY lane_id`
		rows, err := db.Query(query, params...)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				LaneID string          `json:"lane_id"`
				Tick   int64           `json:"tick"`
				Length int             `json:"length"`
				Speed  int             `json:"speed"`
				Out    string          `json:"out,omitempty"`
				Exit   string          `json:"exit"`
				Count  int             `json:"items"`
				Slots  json.RawMessage `json:"slots"`
			}
			var raw string
			if err := rows.Scan(&r.LaneID, &r.Tick, &r.Length, &r.Speed, &r.Out, &r.Exit, &r.Count, &raw); err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			r.Slots = json.RawMessage(raw)
			printJSON(out, r)
		}
		return rows.Err()

	default:
		return fmt.Errorf("unknown query %q (snapshots|ticks|transfers|trail|lanes)", q)
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
