package world

type WorldConfig struct {
	ID         string
	TickRateHz int

	// Workers bounds the lane compute pool. Zero means one worker per lane.
	Workers int

	// Operational parameters. These are included in snapshots for deterministic replay/resume.
	SnapshotEveryTicks int
}

func (c *WorldConfig) applyDefaults() {
	if c.ID == "" {
		c.ID = "world_1"
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 5
	}
	if c.Workers < 0 {
		c.Workers = 0
	}
	if c.SnapshotEveryTicks < 0 {
		c.SnapshotEveryTicks = 0
	}
}
