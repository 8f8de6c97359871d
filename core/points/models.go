package points

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/rank"
)

// Progression is the persisted progression state of a participant.
type Progression struct {
	UserID    string    `json:"user_id"`
	Points    int       `json:"points"`
	RankID    string    `json:"rank_id"`
	UpdatedAt time.Time `json:"updated_at"` // UTC
	isNew     bool
}

func (p Progression) State() rank.State {
	return rank.State{Points: p.Points, RankID: p.RankID}
}

// IsNew reports whether the participant had no persisted progression yet.
func (p Progression) IsNew() bool { return p.isNew }

// NewProgression returns the progression of a participant who has none persisted yet.
func NewProgression(userID string) Progression {
	return Progression{UserID: userID, isNew: true}
}

// Event is an append-only ledger entry recording one effective point change and its cause.
type Event struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Delta        int       `json:"delta"`
	Reason       string    `json:"reason"`
	TaskID       string    `json:"task_id,omitempty"`
	PointsBefore int       `json:"points_before"`
	PointsAfter  int       `json:"points_after"`
	RankBefore   string    `json:"rank_before,omitempty"`
	RankAfter    string    `json:"rank_after,omitempty"`
	PointsReset  bool      `json:"points_reset"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"` // UTC
}

func (e Event) RankChanged() bool { return e.RankBefore != e.RankAfter }

// Adjustment is a signed point change for one participant.
type Adjustment struct {
	UserID    string `json:"user_id" validate:"required"`
	Delta     int    `json:"delta" validate:"ne=0"`
	Reason    string `json:"reason" validate:"required,notblank,max=255"`
	TaskID    string `json:"task_id" validate:"omitempty,uuid"`
	CreatedBy string `json:"-"`
}

func (adj *Adjustment) Validate(validate *validator.Validate) error {
	adj.Reason = core.CleanString(adj.Reason)
	return validate.Struct(adj)
}

// BatchAdjustment applies the same signed point change to many participants.
type BatchAdjustment struct {
	UserIDs   []string `json:"user_ids" validate:"required,min=1,max=500,dive,required"`
	Delta     int      `json:"delta" validate:"ne=0"`
	Reason    string   `json:"reason" validate:"required,notblank,max=255"`
	TaskID    string   `json:"task_id" validate:"omitempty,uuid"`
	CreatedBy string   `json:"-"`
}

func (ba *BatchAdjustment) Validate(validate *validator.Validate) error {
	ba.Reason = core.CleanString(ba.Reason)
	return validate.Struct(ba)
}

func (ba BatchAdjustment) adjustment(userID string) Adjustment {
	return Adjustment{
		UserID:    userID,
		Delta:     ba.Delta,
		Reason:    ba.Reason,
		TaskID:    ba.TaskID,
		CreatedBy: ba.CreatedBy,
	}
}

// RankAssignment places a participant on a rank directly, keeping their points.
// It is the only way onto the exempt rank.
type RankAssignment struct {
	UserID    string `json:"user_id" validate:"required"`
	RankID    string `json:"rank_id" validate:"required"`
	Reason    string `json:"reason" validate:"required,notblank,max=255"`
	CreatedBy string `json:"-"`
}

func (ra *RankAssignment) Validate(validate *validator.Validate) error {
	ra.Reason = core.CleanString(ra.Reason)
	return validate.Struct(ra)
}

// Outcome describes the effect of an Adjustment.
type Outcome struct {
	UserID     string      `json:"user_id"`
	Before     rank.State  `json:"before"`
	Result     rank.Result `json:"result"`
	PrevRank   *rank.Rank  `json:"prev_rank,omitempty"`
	Event      *Event      `json:"event,omitempty"` // nil when nothing changed
	Adjustment Adjustment  `json:"-"`
}

// Changed reports whether the adjustment changed the persisted progression.
func (o Outcome) Changed() bool { return o.Event != nil }

// BatchResult is the per-participant report of a BatchAdjustment.
type BatchResult struct {
	UserID  string   `json:"user_id"`
	Outcome *Outcome `json:"outcome,omitempty"`
	Err     error    `json:"-"`
}

func (br BatchResult) OK() bool { return br.Err == nil }

// Progress is the current standing of a participant.
type Progress struct {
	UserID       string     `json:"user_id"`
	Points       int        `json:"points"`
	Rank         *rank.Rank `json:"rank"`
	NextRank     *rank.Rank `json:"next_rank,omitempty"`
	PointsToNext int        `json:"points_to_next,omitempty"`
}

// Standing is a leaderboard row.
type Standing struct {
	UserID    string `json:"user_id" db:"user_id"`
	Name      string `json:"name" db:"name"`
	Username  string `json:"username" db:"username"`
	Points    int    `json:"points" db:"points"`
	RankID    string `json:"rank_id" db:"rank_id"`
	RankName  string `json:"rank_name" db:"rank_name"`
	RankOrder int    `json:"rank_order" db:"rank_order"`
}

type EventFilter struct {
	UserID string    `query:"-"`
	TaskID string    `query:"task_id"`
	From   time.Time `query:"from"`
	To     time.Time `query:"to"`
	Limit  int       `query:"limit"`
	Offset int       `query:"offset"`
}
