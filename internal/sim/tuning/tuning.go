package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version" json:"protocol_version"`

	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	Workers            int `yaml:"workers" json:"workers"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	DefaultLaneLength  int `yaml:"default_lane_length" json:"default_lane_length"`
	// ArchiveEveryTicks keeps a copy of snapshots at multiples of this tick. Zero disables.
	ArchiveEveryTicks  int `yaml:"archive_every_ticks" json:"archive_every_ticks"`

	Observer Observer `yaml:"observer" json:"observer"`
}

type Observer struct {
	MaxSessions int `yaml:"max_sessions" json:"max_sessions"`
	// FrameBuffer is the per-session TICK queue; slow sessions keep only the latest frames.
	FrameBuffer int `yaml:"frame_buffer" json:"frame_buffer"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:    "1.0",
		TickRateHz:         5,
		SnapshotEveryTicks: 3000,
		DefaultLaneLength:  256,
		Observer: Observer{
			MaxSessions: 64,
			FrameBuffer: 4,
		},
	}
}

// Load reads a tuning file over Defaults. Missing keys keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	switch {
	case t.TickRateHz <= 0 || t.TickRateHz > 1000:
		return fmt.Errorf("tick_rate_hz out of range: %d", t.TickRateHz)
	case t.Workers < 0:
		return fmt.Errorf("workers must be >= 0: %d", t.Workers)
	case t.SnapshotEveryTicks < 0:
		return fmt.Errorf("snapshot_every_ticks must be >= 0: %d", t.SnapshotEveryTicks)
	case t.ArchiveEveryTicks < 0:
		return fmt.Errorf("archive_every_ticks must be >= 0: %d", t.ArchiveEveryTicks)
	case t.DefaultLaneLength < 1:
		return fmt.Errorf("default_lane_length must be positive: %d", t.DefaultLaneLength)
	case t.Observer.MaxSessions < 0 || t.Observer.FrameBuffer < 1:
		return fmt.Errorf("observer limits invalid: %+v", t.Observer)
	}
	return nil
}
