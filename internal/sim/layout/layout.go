// Package layout loads belt layouts from YAML and turns them into world
// construction specs.
package layout

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"beltline.ai/internal/sim/lane"
	"beltline.ai/internal/sim/world"
)

var ErrInvalidLayout = errors.New("invalid layout")

// File is the on-disk layout document.
type File struct {
	WorldID       string `yaml:"world_id"`
	DefaultLength int    `yaml:"default_length"`
	AutoLink      bool   `yaml:"auto_link"`
	Belts         []Belt `yaml:"belts"`
	Items         []Item `yaml:"items"`
}

type Belt struct {
	ID        string  `yaml:"id"`
	Pos       [2]int  `yaml:"pos"`
	Dir       string  `yaml:"dir"`
	Tier      string  `yaml:"tier"`
	Length    int     `yaml:"length"`
	Exit      string  `yaml:"exit"`
	LeftNext  *[2]int `yaml:"left_next"`
	RightNext *[2]int `yaml:"right_next"`
}

type Item struct {
	Lane string `yaml:"lane"`
	Pos  int    `yaml:"pos"`
	ID   string `yaml:"id"`
	Kind string `yaml:"kind"`
}

// Layout is a validated, normalised layout ready to build a world from.
type Layout struct {
	WorldID string
	Lanes   []world.LaneSpec
	Belts   []world.Belt
}

// LeftLane and RightLane name the lanes a belt contributes.
func LeftLane(beltID string) lane.ID  { return lane.ID(beltID + ".L") }
func RightLane(beltID string) lane.ID { return lane.ID(beltID + ".R") }

func Load(path string) (*Layout, error) {
	return LoadWithDefaultLength(path, 0)
}

// LoadWithDefaultLength is Load with a lane length for layouts that set no
// default_length. Zero falls back to lane.DefaultLength.
func LoadWithDefaultLength(path string, n int) (*Layout, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l, err := parse(raw, n)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

// Parse checks raw YAML against the layout schema, then builds lanes.
func Parse(raw []byte) (*Layout, error) {
	return parse(raw, 0)
}

func parse(raw []byte, defaultLength int) (*Layout, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidLayout, err)
	}
	if err := checkSchema(doc); err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: yaml: %v", ErrInvalidLayout, err)
	}
	if f.DefaultLength == 0 {
		f.DefaultLength = defaultLength
	}
	return Build(f)
}

func checkSchema(doc any) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("layout.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("layout schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Layout"))
	v := def.Unify(ctx.Encode(doc))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		msgs := []string{}
		for _, e := range cueerrors.Errors(err) {
			msgs = append(msgs, e.Error())
		}
		return fmt.Errorf("%w: %s", ErrInvalidLayout, strings.Join(msgs, "; "))
	}
	return nil
}

func normID(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Build turns a decoded layout into lane specs. Each belt contributes a left
// and a right lane. A lane's connection comes from left_next/right_next, or
// with auto_link from the belt the direction points at.
func Build(f File) (*Layout, error) {
	defLen := f.DefaultLength
	if defLen == 0 {
		defLen = lane.DefaultLength
	}

	type placed struct {
		b    Belt
		dir  world.Direction
		tier lane.Tier
		exit lane.ExitPolicy
	}
	byPos := map[world.Coordinate]*placed{}
	ids := map[string]bool{}
	belts := make([]*placed, 0, len(f.Belts))
	for _, b := range f.Belts {
		b.ID = normID(b.ID)
		if b.ID == "" {
			return nil, fmt.Errorf("%w: belt with empty id", ErrInvalidLayout)
		}
		if ids[b.ID] {
			return nil, fmt.Errorf("%w: duplicate belt id %q", ErrInvalidLayout, b.ID)
		}
		ids[b.ID] = true
		p := &placed{b: b}
		var err error
		if p.dir, err = world.ParseDirection(b.Dir); err != nil {
			return nil, fmt.Errorf("%w: belt %s: %v", ErrInvalidLayout, b.ID, err)
		}
		p.tier = lane.TierRegular
		if b.Tier != "" {
			if p.tier, err = lane.ParseTier(b.Tier); err != nil {
				return nil, fmt.Errorf("%w: belt %s: %v", ErrInvalidLayout, b.ID, err)
			}
		}
		if p.exit, err = lane.ParseExitPolicy(b.Exit); err != nil {
			return nil, fmt.Errorf("%w: belt %s: %v", ErrInvalidLayout, b.ID, err)
		}
		pos := world.Coordinate{X: b.Pos[0], Y: b.Pos[1]}
		if other := byPos[pos]; other != nil {
			return nil, fmt.Errorf("%w: belts %s and %s both at %s", ErrInvalidLayout, other.b.ID, b.ID, pos)
		}
		byPos[pos] = p
		belts = append(belts, p)
	}

	next := func(p *placed, explicit *[2]int) (string, error) {
		var at world.Coordinate
		switch {
		case explicit != nil:
			at = world.Coordinate{X: explicit[0], Y: explicit[1]}
			if byPos[at] == nil {
				return "", fmt.Errorf("%w: belt %s points at empty cell %s", ErrInvalidLayout, p.b.ID, at)
			}
		case f.AutoLink:
			at = world.Coordinate{X: p.b.Pos[0], Y: p.b.Pos[1]}.Neighbor(p.dir)
			if byPos[at] == nil {
				return "", nil
			}
		default:
			return "", nil
		}
		if at == (world.Coordinate{X: p.b.Pos[0], Y: p.b.Pos[1]}) {
			return "", fmt.Errorf("%w: belt %s points at itself", ErrInvalidLayout, p.b.ID)
		}
		return byPos[at].b.ID, nil
	}

	out := &Layout{WorldID: normID(f.WorldID)}
	specs := map[lane.ID]*world.LaneSpec{}
	for _, p := range belts {
		length := p.b.Length
		if length == 0 {
			length = defLen
		}
		leftTo, err := next(p, p.b.LeftNext)
		if err != nil {
			return nil, err
		}
		rightTo, err := next(p, p.b.RightNext)
		if err != nil {
			return nil, err
		}
		mk := func(id lane.ID, to lane.ID) {
			s := &world.LaneSpec{
				ID:     id,
				Params: lane.Params{Length: length, Speed: p.tier.PositionsPerTick(), Out: to, Exit: p.exit},
			}
			specs[id] = s
		}
		var l, r lane.ID
		if leftTo != "" {
			l = LeftLane(leftTo)
		}
		if rightTo != "" {
			r = RightLane(rightTo)
		}
		mk(LeftLane(p.b.ID), l)
		mk(RightLane(p.b.ID), r)
		out.Belts = append(out.Belts, world.Belt{
			ID:    p.b.ID,
			Pos:   world.Coordinate{X: p.b.Pos[0], Y: p.b.Pos[1]},
			Dir:   p.dir,
			Left:  LeftLane(p.b.ID),
			Right: RightLane(p.b.ID),
		})
	}

	for i, it := range f.Items {
		id := lane.ID(normID(it.Lane))
		s := specs[id]
		if s == nil {
			return nil, fmt.Errorf("%w: item %d on unknown lane %q", ErrInvalidLayout, i, it.Lane)
		}
		itemID := normID(it.ID)
		if itemID == "" {
			itemID = fmt.Sprintf("%s@%d", id, it.Pos)
		}
		s.Items = append(s.Items, lane.Slot{Pos: it.Pos, Item: lane.Item{ID: itemID, Kind: it.Kind}})
	}

	laneIDs := make([]lane.ID, 0, len(specs))
	for id := range specs {
		laneIDs = append(laneIDs, id)
	}
	sort.Slice(laneIDs, func(i, j int) bool { return laneIDs[i] < laneIDs[j] })
	for _, id := range laneIDs {
		s := specs[id]
		sort.SliceStable(s.Items, func(i, j int) bool { return s.Items[i].Pos < s.Items[j].Pos })
		if err := lane.Validate(s.Items, s.Params.Length); err != nil {
			return nil, fmt.Errorf("%w: lane %s: %v", ErrInvalidLayout, id, err)
		}
		out.Lanes = append(out.Lanes, *s)
	}
	return out, nil
}

// NewWorld builds a world from the layout. cfg.ID defaults to the layout's world id.
func (l *Layout) NewWorld(cfg world.WorldConfig) (*world.World, error) {
	if cfg.ID == "" {
		cfg.ID = l.WorldID
	}
	return world.New(cfg, l.Lanes, l.Belts)
}

// ItemCount returns the number of items placed by the layout.
func (l *Layout) ItemCount() int {
	n := 0
	for _, s := range l.Lanes {
		n += len(s.Items)
	}
	return n
}
