package world

import (
	"fmt"
	"strings"

	"beltline.ai/internal/sim/lane"
)

// Coordinate is a belt's grid cell.
type Coordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (c Coordinate) String() string { return fmt.Sprintf("%d,%d", c.X, c.Y) }

type Direction uint8

const (
	North Direction = iota
	East
	South
	West
)

func (d Direction) String() string {
	switch d {
	case North:
		return "N"
	case East:
		return "E"
	case South:
		return "S"
	case West:
		return "W"
	}
	return "?"
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "N", "NORTH":
		return North, nil
	case "E", "EAST":
		return East, nil
	case "S", "SOUTH":
		return South, nil
	case "W", "WEST":
		return West, nil
	}
	return North, fmt.Errorf("unknown direction %q", s)
}

// Neighbor returns the adjacent cell in direction d. North is -Y.
func (c Coordinate) Neighbor(d Direction) Coordinate {
	switch d {
	case North:
		return Coordinate{X: c.X, Y: c.Y - 1}
	case East:
		return Coordinate{X: c.X + 1, Y: c.Y}
	case South:
		return Coordinate{X: c.X, Y: c.Y + 1}
	case West:
		return Coordinate{X: c.X - 1, Y: c.Y}
	}
	return c
}

// Belt groups the two lanes laid on one cell. It carries no simulation state.
type Belt struct {
	ID    string
	Pos   Coordinate
	Dir   Direction
	Left  lane.ID
	Right lane.ID
}
