package lane

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// Capacity is the hard ceiling on occupied slots per lane.
	Capacity = 8
	// MinGap is the target distance between adjacent items.
	MinGap = 64
	// DefaultLength applies when Params.Length is zero.
	DefaultLength = 256
)

type ID string

// Item is the opaque payload carried along a lane.
type Item struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"`
}

// Slot is an occupied lane position. Position 0 is the exit.
type Slot struct {
	Pos  int  `json:"pos"`
	Item Item `json:"item"`
}

type ExitPolicy uint8

const (
	// ExitHold keeps an unconnected lead item at position 0 until it is taken.
	ExitHold ExitPolicy = iota
	// ExitConsume removes an unconnected lead item once it reaches position 0.
	ExitConsume
)

func (p ExitPolicy) String() string {
	if p == ExitConsume {
		return "CONSUME"
	}
	return "HOLD"
}

func ParseExitPolicy(s string) (ExitPolicy, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "HOLD":
		return ExitHold, nil
	case "CONSUME":
		return ExitConsume, nil
	}
	return ExitHold, fmt.Errorf("unknown exit policy %q", s)
}

// Params are fixed at construction.
type Params struct {
	Length int
	Speed  int
	Out    ID
	Exit   ExitPolicy
}

// Lane holds the current generation of one lane. The items slice is replaced
// wholesale on every write and never mutated in place, so Items may hand it out.
type Lane struct {
	id    ID
	p     Params
	items []Slot
}

func New(id ID, p Params) (*Lane, error) {
	if id == "" {
		return nil, fmt.Errorf("lane: empty id")
	}
	if p.Length == 0 {
		p.Length = DefaultLength
	}
	if p.Length < 1 {
		return nil, fmt.Errorf("lane %s: length must be positive, got %d", id, p.Length)
	}
	if p.Speed <= 0 {
		return nil, fmt.Errorf("lane %s: speed must be positive, got %d", id, p.Speed)
	}
	return &Lane{id: id, p: p}, nil
}

func (l *Lane) ID() ID           { return l.id }
func (l *Lane) Length() int      { return l.p.Length }
func (l *Lane) Speed() int       { return l.p.Speed }
func (l *Lane) Exit() ExitPolicy { return l.p.Exit }
func (l *Lane) Params() Params   { return l.p }
func (l *Lane) Items() []Slot    { return l.items }
func (l *Lane) Len() int         { return len(l.items) }
func (l *Lane) ConnectionOut() (ID, bool) {
	return l.p.Out, l.p.Out != ""
}

// Tail returns the item closest to the entry.
func (l *Lane) Tail() (Slot, bool) {
	if len(l.items) == 0 {
		return Slot{}, false
	}
	return l.items[len(l.items)-1], true
}

// Commit installs next as the current generation. On error the lane is unchanged.
func (l *Lane) Commit(next []Slot) error {
	if err := Validate(next, l.p.Length); err != nil {
		return fmt.Errorf("lane %s: %w", l.id, err)
	}
	l.items = clone(next)
	return nil
}

// Insert places an item at pos, keeping slots ordered. Inserted items may sit
// closer than MinGap to their neighbours; the tick engine never worsens that.
func (l *Lane) Insert(it Item, pos int) error {
	if len(l.items) >= Capacity {
		return fmt.Errorf("lane %s: %w: already holds %d items", l.id, ErrCapacityExceeded, len(l.items))
	}
	if pos < 0 || pos >= l.p.Length {
		return fmt.Errorf("lane %s: %w: %d not in [0,%d)", l.id, ErrInvalidPosition, pos, l.p.Length)
	}
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].Pos >= pos })
	if i < len(l.items) && l.items[i].Pos == pos {
		return fmt.Errorf("lane %s: %w: position %d occupied", l.id, ErrOrderViolation, pos)
	}
	next := make([]Slot, 0, len(l.items)+1)
	next = append(next, l.items[:i]...)
	next = append(next, Slot{Pos: pos, Item: it})
	next = append(next, l.items[i:]...)
	l.items = next
	return nil
}

// TakeAtExit removes the item held at position 0, if any.
func (l *Lane) TakeAtExit() (Item, bool) {
	if len(l.items) == 0 || l.items[0].Pos != 0 {
		return Item{}, false
	}
	it := l.items[0].Item
	l.items = clone(l.items[1:])
	return it, true
}

// Validate checks capacity, strict ordering and range.
func Validate(slots []Slot, length int) error {
	if len(slots) > Capacity {
		return fmt.Errorf("%w: %d slots", ErrCapacityExceeded, len(slots))
	}
	for i, s := range slots {
		if s.Pos < 0 || s.Pos >= length {
			return fmt.Errorf("%w: slot %d at %d not in [0,%d)", ErrInvalidPosition, i, s.Pos, length)
		}
		if i > 0 && s.Pos <= slots[i-1].Pos {
			return fmt.Errorf("%w: slot %d at %d after %d", ErrOrderViolation, i, s.Pos, slots[i-1].Pos)
		}
	}
	return nil
}

// Admit reports where an item arriving at the entry end may land, given the
// slots already queued for a lane of the given length. want is clamped into
// range and pushed back to honour MinGap behind the current tail. A full lane,
// or one whose tail leaves no gap before the entry, refuses.
func Admit(slots []Slot, length, want int) (int, bool) {
	if len(slots) >= Capacity {
		return 0, false
	}
	p := want
	if p > length-1 {
		p = length - 1
	}
	if p < 0 {
		p = 0
	}
	if n := len(slots); n > 0 {
		floor := slots[n-1].Pos + MinGap
		if floor > length-1 {
			return 0, false
		}
		if p < floor {
			p = floor
		}
	}
	return p, true
}

func clone(s []Slot) []Slot {
	if len(s) == 0 {
		return nil
	}
	out := make([]Slot, len(s))
	copy(out, s)
	return out
}
