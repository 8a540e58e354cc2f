package indexdb

import (
	"context"
	"database/sql"
	"errors"
)

type TransferRow struct {
	Tick    uint64 `json:"tick"`
	From    string `json:"from"`
	To      string `json:"to"`
	ItemID  string `json:"item_id"`
	Pos     int    `json:"pos"`
	Refused bool   `json:"refused"`
}

// LatestTick returns the highest indexed tick.
func (s *SQLiteIndex) LatestTick(ctx context.Context) (tick uint64, digest string, ok bool, err error) {
	var t int64
	err = s.db.QueryRowContext(ctx, `SELECT tick, digest FROM ticks ORDER BY tick DESC LIMIT 1`).Scan(&t, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return uint64(t), digest, true, nil
}

// Transfers lists the most recent transfers leaving lane, newest first.
func (s *SQLiteIndex) Transfers(ctx context.Context, lane string, limit int) ([]TransferRow, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, from_lane, to_lane, item_id, pos, refused FROM transfers
		 WHERE from_lane = ? ORDER BY tick DESC, seq DESC LIMIT ?`, lane, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRow
	for rows.Next() {
		var r TransferRow
		var tick int64
		if err := rows.Scan(&tick, &r.From, &r.To, &r.ItemID, &r.Pos, &r.Refused); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ItemTrail lists every recorded hop of one item, oldest first.
func (s *SQLiteIndex) ItemTrail(ctx context.Context, itemID string) ([]TransferRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tick, from_lane, to_lane, item_id, pos, refused FROM transfers
		 WHERE item_id = ? ORDER BY tick, seq`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferRow
	for rows.Next() {
		var r TransferRow
		var tick int64
		if err := rows.Scan(&tick, &r.From, &r.To, &r.ItemID, &r.Pos, &r.Refused); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}
