package rank

import "github.com/pkg/errors"

// State is the progression state of a participant. An empty RankID means no rank was assigned yet.
type State struct {
	Points int    `json:"points"`
	RankID string `json:"rank_id"`
}

// Result is the state computed by the engine.
type Result struct {
	Points      int   `json:"points"`
	Rank        *Rank `json:"rank"` // nil when still unset
	RankChanged bool  `json:"rank_changed"`
	PointsReset bool  `json:"points_reset"`
	Boundary    *Rank `json:"boundary,omitempty"` // parent boundary crossed on upgrade
}

// State returns the progression state to persist.
func (res Result) State() State {
	st := State{Points: res.Points}
	if res.Rank != nil {
		st.RankID = res.Rank.ID
	}
	return st
}

// current validates the common preconditions and returns the position used for comparisons
// along with the current rank (nil when unset).
// An unset rank compares as the lowest position.
func (d *Directory) current(state State, delta int) (int, *Rank, error) {
	if d.Len() == 0 {
		return 0, nil, errors.Wrap(ErrInvalidInput, "empty rank directory")
	}
	if delta < 0 {
		return 0, nil, errors.Wrapf(ErrInvalidInput, "negative points delta %d", delta)
	}
	if state.Points < 0 {
		return 0, nil, errors.Wrapf(ErrInvalidInput, "negative points total %d", state.Points)
	}
	if state.RankID == "" {
		return 0, nil, nil
	}
	pos, ok := d.Position(state.RankID)
	if !ok {
		return 0, nil, errors.Wrapf(ErrInvalidInput, "unknown rank %q", state.RankID)
	}
	return pos, d.rankAt(pos), nil
}

// Upgrade adds pointsToAdd to the participant and promotes them to the highest rank their new
// total qualifies for. Points are re-based on the new rank's threshold when a parent boundary is crossed.
func Upgrade(dir *Directory, state State, pointsToAdd int) (Result, error) {
	curPos, curRank, err := dir.current(state, pointsToAdd)
	if err != nil {
		return Result{}, err
	}

	total := state.Points + pointsToAdd
	res := Result{Points: total, Rank: curRank}

	newPos := -1
	for pos := dir.Len() - 1; pos > curPos; pos-- {
		r := dir.ranks[pos]
		if r.IsExempt {
			continue
		}
		if total >= r.Threshold {
			newPos = pos
			break
		}
	}
	if newPos < 0 {
		return res, nil
	}

	res.Rank = dir.rankAt(newPos)
	res.RankChanged = curRank == nil || curRank.ID != res.Rank.ID

	if bp, crossed := dir.crossedBoundary(curPos, newPos); crossed {
		res.Points = total - res.Rank.Threshold
		if res.Points < 0 {
			res.Points = 0
		}
		res.PointsReset = true
		res.Boundary = dir.rankAt(bp)
	}
	return res, nil
}

// Downgrade removes pointsToDeduct from the participant, never going below zero.
// The participant only loses a rank when their total reaches exactly zero: they fall back below
// the parent group they belong to, or one rank back otherwise, holding the landing rank's threshold.
func Downgrade(dir *Directory, state State, pointsToDeduct int) (Result, error) {
	curPos, curRank, err := dir.current(state, pointsToDeduct)
	if err != nil {
		return Result{}, err
	}

	total := state.Points - pointsToDeduct
	if total < 0 {
		total = 0
	}
	res := Result{Points: total, Rank: curRank}

	if total != 0 || curRank == nil || curPos == 0 {
		return res, nil
	}

	landing := curPos - 1
	if bp, ok := dir.enclosingBoundary(curPos); ok && bp > 0 {
		landing = bp - 1
	}

	// TODO: confirm with HR whether landing should hold threshold-1 instead of the threshold.
	res.Rank = dir.rankAt(landing)
	res.Points = res.Rank.Threshold
	res.RankChanged = true
	return res, nil
}

// NextUpgrade returns the closest rank above rankID that an automatic upgrade may land on.
// An empty rankID is compared as the lowest position.
func (d *Directory) NextUpgrade(rankID string) (*Rank, bool) {
	var cur int
	if rankID != "" {
		pos, ok := d.Position(rankID)
		if !ok {
			return nil, false
		}
		cur = pos
	}
	for pos := cur + 1; pos < d.Len(); pos++ {
		if !d.ranks[pos].IsExempt {
			return d.rankAt(pos), true
		}
	}
	return nil, false
}

// Apply dispatches a signed delta to Upgrade or Downgrade.
func Apply(dir *Directory, state State, delta int) (Result, error) {
	if delta < 0 {
		return Downgrade(dir, state, -delta)
	}
	return Upgrade(dir, state, delta)
}
