// Package rank holds the rank hierarchy and the progression engine that moves participants
// through it as they earn or lose points.
//
// The hierarchy is a flat, totally ordered list. Some ranks are parent-group boundaries:
// crossing one while upgrading re-bases the participant's points on the new rank's threshold.
// One rank may be exempt: automatic upgrades never land on it.
package rank

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidInput is returned by the engine for degenerate inputs.
	ErrInvalidInput = errors.New("invalid progression input")

	ErrNotFound     = errors.New("rank not found")
	ErrNameExists   = errors.New("a rank with this name already exists")
	ErrOrderExists  = errors.New("a rank with this order already exists")
	ErrExemptExists = errors.New("an exempt rank already exists")
)

type Rank struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Order     int       `json:"order"`
	Threshold int       `json:"threshold"`
	IsParent  bool      `json:"is_parent"`
	IsExempt  bool      `json:"is_exempt"`
	Parent    string    `json:"parent,omitempty"` // name of the parent-group boundary this rank belongs to
	CreatedAt time.Time `json:"created_at"`       // UTC
	UpdatedAt time.Time `json:"updated_at"`       // UTC
}

// Directory is a read-only snapshot of the rank hierarchy.
type Directory struct {
	ranks      []Rank
	positions  map[string]int // {rankID: position}
	boundaries []int          // positions of parent ranks, ascending
}

// NewDirectory orders ranks by Rank.Order (ties keep the given order) and indexes them.
func NewDirectory(ranks []Rank) (*Directory, error) {
	if len(ranks) == 0 {
		return nil, errors.Wrap(ErrInvalidInput, "empty rank directory")
	}

	sorted := make([]Rank, len(ranks))
	copy(sorted, ranks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	dir := &Directory{
		ranks:     sorted,
		positions: make(map[string]int, len(sorted)),
	}
	for pos, r := range sorted {
		if r.ID == "" {
			return nil, errors.Wrapf(ErrInvalidInput, "rank %q has no ID", r.Name)
		}
		if _, dup := dir.positions[r.ID]; dup {
			return nil, errors.Wrapf(ErrInvalidInput, "duplicate rank ID %q", r.ID)
		}
		dir.positions[r.ID] = pos
		if r.IsParent {
			dir.boundaries = append(dir.boundaries, pos)
		}
	}
	return dir, nil
}

func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.ranks)
}

// Ranks returns a copy of the ordered hierarchy, lowest first.
func (d *Directory) Ranks() []Rank {
	ranks := make([]Rank, d.Len())
	if d != nil {
		copy(ranks, d.ranks)
	}
	return ranks
}

func (d *Directory) Get(id string) (Rank, bool) {
	pos, ok := d.Position(id)
	if !ok {
		return Rank{}, false
	}
	return d.ranks[pos], true
}

// Position returns the position of the rank in the total order.
func (d *Directory) Position(id string) (int, bool) {
	if d == nil {
		return 0, false
	}
	pos, ok := d.positions[id]
	return pos, ok
}

func (d *Directory) Lowest() Rank {
	return d.ranks[0]
}

// Boundaries returns the parent-group boundary ranks, lowest first.
func (d *Directory) Boundaries() []Rank {
	bounds := make([]Rank, 0, len(d.boundaries))
	for _, pos := range d.boundaries {
		bounds = append(bounds, d.ranks[pos])
	}
	return bounds
}

// Exempt returns the rank automatic upgrades skip, if any.
func (d *Directory) Exempt() (Rank, bool) {
	for _, r := range d.ranks {
		if r.IsExempt {
			return r, true
		}
	}
	return Rank{}, false
}

func (d *Directory) rankAt(pos int) *Rank {
	r := d.ranks[pos]
	return &r
}

// crossedBoundary returns the first boundary lying in (from, to].
func (d *Directory) crossedBoundary(from, to int) (int, bool) {
	for _, bp := range d.boundaries {
		if from < bp && to >= bp {
			return bp, true
		}
	}
	return 0, false
}

// enclosingBoundary returns the boundary whose group holds the rank at pos.
// A rank is in a boundary's group when it is the boundary itself or names it as Parent.
// Ranks without an explicit Parent fall back to the "<boundary>*" naming convention.
func (d *Directory) enclosingBoundary(pos int) (int, bool) {
	r := d.ranks[pos]
	for _, bp := range d.boundaries {
		if pos < bp {
			continue
		}
		b := d.ranks[bp]
		if pos == bp {
			return bp, true
		}
		if r.Parent != "" {
			if r.Parent == b.Name {
				return bp, true
			}
			continue
		}
		if r.Name == b.Name+"*" {
			return bp, true
		}
	}
	return 0, false
}
