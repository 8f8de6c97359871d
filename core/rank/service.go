package rank

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
)

type (
	Repository interface {
		// CheckUniqueness returns ErrNameExists or ErrOrderExists when another rank, not in excludedRanks, clashes.
		CheckUniqueness(ctx context.Context, name string, order int, excludedRanks []Rank, exec ...core.DBExecutor) error
		CreateRank(ctx context.Context, r Rank, exec ...core.DBExecutor) (Rank, error)
		// QueryRanks returns all ranks ordered by Rank.Order.
		QueryRanks(ctx context.Context, exec ...core.DBExecutor) ([]Rank, error)
		GetRank(ctx context.Context, id string, exec ...core.DBExecutor) (Rank, error)
		UpdateRank(ctx context.Context, r Rank, exec ...core.DBExecutor) (Rank, error)
		DeleteRanksByID(ctx context.Context, ids []string, exec ...core.DBExecutor) (int, error)
	}

	Service struct {
		repo Repository
	}
)

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (svc *Service) checkUniqueness(ctx context.Context, r Rank, exclRanks ...Rank) error {
	if err := svc.repo.CheckUniqueness(ctx, r.Name, r.Order, exclRanks); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrNameExists:
			field = "name"
		case ErrOrderExists:
			field = "order"
		default:
			return errors.Wrap(err, "checking rank uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}

	if r.IsExempt {
		ranks, err := svc.repo.QueryRanks(ctx)
		if err != nil {
			return errors.Wrap(err, "querying ranks")
		}
		for _, other := range ranks {
			if other.IsExempt && !isExcluded(other, exclRanks) {
				return core.NewValidationError(ErrExemptExists, core.FieldError{Field: "is_exempt", Error: ErrExemptExists.Error()})
			}
		}
	}
	return nil
}

func isExcluded(r Rank, excluded []Rank) bool {
	for _, e := range excluded {
		if e.ID == r.ID {
			return true
		}
	}
	return false
}

func (svc *Service) Create(ctx context.Context, nr NewRank) (Rank, error) {
	now := time.Now().UTC()
	r := Rank{
		ID:        uuid.New().String(),
		Name:      nr.Name,
		Order:     *nr.Order,
		Threshold: *nr.Threshold,
		IsParent:  nr.IsParent,
		IsExempt:  nr.IsExempt,
		Parent:    nr.Parent,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return svc.repo.CreateRank(ctx, r)
}

func (svc *Service) Query(ctx context.Context) ([]Rank, error) {
	return svc.repo.QueryRanks(ctx)
}

func (svc *Service) GetByID(ctx context.Context, id string) (Rank, error) {
	return svc.repo.GetRank(ctx, id)
}

// Update saves a rank previously merged by UpdateRank.Validate.
func (svc *Service) Update(ctx context.Context, r Rank) (Rank, error) {
	r.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateRank(ctx, r)
}

func (svc *Service) Delete(ctx context.Context, ids ...string) error {
	_, err := svc.repo.DeleteRanksByID(ctx, ids)
	return err
}

// Directory loads a snapshot of the hierarchy. Callers load it once per request or batch.
func (svc *Service) Directory(ctx context.Context, exec ...core.DBExecutor) (*Directory, error) {
	ranks, err := svc.repo.QueryRanks(ctx, exec...)
	if err != nil {
		return nil, errors.Wrap(err, "querying ranks")
	}
	return NewDirectory(ranks)
}
