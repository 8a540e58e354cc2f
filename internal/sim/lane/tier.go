package lane

import (
	"fmt"
	"strings"
)

// Tier is a belt speed class.
type Tier uint8

const (
	TierRegular Tier = iota + 1
	TierFast
	TierExpress
	TierTurbo
)

// PositionsPerTick returns how far an unobstructed item advances in one tick.
func (t Tier) PositionsPerTick() int {
	switch t {
	case TierRegular:
		return 8
	case TierFast:
		return 16
	case TierExpress:
		return 24
	case TierTurbo:
		return 32
	}
	return 0
}

func (t Tier) String() string {
	switch t {
	case TierRegular:
		return "REGULAR"
	case TierFast:
		return "FAST"
	case TierExpress:
		return "EXPRESS"
	case TierTurbo:
		return "TURBO"
	}
	return fmt.Sprintf("TIER(%d)", uint8(t))
}

func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "REGULAR":
		return TierRegular, nil
	case "FAST":
		return TierFast, nil
	case "EXPRESS":
		return TierExpress, nil
	case "TURBO":
		return TierTurbo, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}
