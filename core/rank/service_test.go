package rank_test

import (
	"context"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/rank"
	"github.com/trezcool/voluntas/storage/database/inmem"
)

func intPtr(i int) *int { return &i }

func setup(t *testing.T) (*rank.Service, *validator.Validate) {
	t.Helper()
	validate := validator.New()
	core.InitValidators(validate, core.NewTranslator())
	return rank.NewService(inmemdb.NewRankRepository(inmemdb.Open())), validate
}

func create(t *testing.T, svc *rank.Service, validate *validator.Validate, nr rank.NewRank) rank.Rank {
	t.Helper()
	require.NoError(t, nr.Validate(context.Background(), validate, svc))
	r, err := svc.Create(context.Background(), nr)
	require.NoError(t, err)
	return r
}

func TestService_Create(t *testing.T) {
	svc, validate := setup(t)
	ctx := context.Background()
	create(t, svc, validate, rank.NewRank{Name: "Recruit", Order: intPtr(0), Threshold: intPtr(0)})
	create(t, svc, validate, rank.NewRank{Name: "Ambassador", Order: intPtr(5), Threshold: intPtr(400), IsExempt: true})

	tests := []struct {
		name      string
		nr        rank.NewRank
		wantField string
	}{
		{name: "valid", nr: rank.NewRank{Name: " Volunteer ", Order: intPtr(1), Threshold: intPtr(50), IsParent: true}},
		{name: "name required", nr: rank.NewRank{Name: " ", Order: intPtr(2), Threshold: intPtr(50)}, wantField: "name"},
		{name: "order required", nr: rank.NewRank{Name: "Leader", Threshold: intPtr(50)}, wantField: "order"},
		{name: "negative threshold", nr: rank.NewRank{Name: "Leader", Order: intPtr(2), Threshold: intPtr(-1)}, wantField: "threshold"},
		{name: "own parent", nr: rank.NewRank{Name: "Leader", Order: intPtr(2), Threshold: intPtr(1), Parent: "Leader"}, wantField: "parent"},
		{name: "name taken", nr: rank.NewRank{Name: "Recruit", Order: intPtr(2), Threshold: intPtr(1)}, wantField: "name"},
		{name: "order taken", nr: rank.NewRank{Name: "Leader", Order: intPtr(0), Threshold: intPtr(1)}, wantField: "order"},
		{name: "second exempt", nr: rank.NewRank{Name: "Leader", Order: intPtr(2), Threshold: intPtr(1), IsExempt: true}, wantField: "is_exempt"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.nr.Validate(ctx, validate, svc)
			if tc.wantField == "" {
				require.NoError(t, err)
				assert.Equal(t, "Volunteer", tc.nr.Name)
				return
			}
			require.Error(t, err)
			switch vErr := errors.Cause(err).(type) {
			case validator.ValidationErrors:
				require.Len(t, vErr, 1)
				assert.Equal(t, tc.wantField, vErr[0].Field())
			case *core.ValidationError:
				require.Len(t, vErr.Fields, 1)
				assert.Equal(t, tc.wantField, vErr.Fields[0].Field)
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestService_UpdateAndDirectory(t *testing.T) {
	svc, validate := setup(t)
	ctx := context.Background()
	recruit := create(t, svc, validate, rank.NewRank{Name: "Recruit", Order: intPtr(0), Threshold: intPtr(0)})
	volunteer := create(t, svc, validate, rank.NewRank{Name: "Volunteer", Order: intPtr(1), Threshold: intPtr(50)})
	leader := create(t, svc, validate, rank.NewRank{Name: "Leader", Order: intPtr(2), Threshold: intPtr(500), IsExempt: true})

	// the rank keeps its own exemption
	ur := rank.UpdateRank{Threshold: intPtr(600), IsParent: new(bool)}
	updated, err := ur.Validate(ctx, leader, validate, svc)
	require.NoError(t, err)
	assert.True(t, updated.IsExempt)
	assert.Equal(t, 600, updated.Threshold)

	exempt := true
	ur = rank.UpdateRank{IsExempt: &exempt}
	_, err = ur.Validate(ctx, volunteer, validate, svc)
	assert.True(t, core.IsValidationError(err))

	ur = rank.UpdateRank{Order: intPtr(0)}
	_, err = ur.Validate(ctx, volunteer, validate, svc)
	assert.True(t, core.IsValidationError(err))

	// swap to a fresh order
	ur = rank.UpdateRank{Name: "Volunteer+", Order: intPtr(3)}
	updated, err = ur.Validate(ctx, volunteer, validate, svc)
	require.NoError(t, err)
	_, err = svc.Update(ctx, updated)
	require.NoError(t, err)

	dir, err := svc.Directory(ctx)
	require.NoError(t, err)
	names := make([]string, 0, dir.Len())
	for _, r := range dir.Ranks() {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Recruit", "Leader", "Volunteer+"}, names)
	assert.Equal(t, recruit.ID, dir.Lowest().ID)

	require.NoError(t, svc.Delete(ctx, recruit.ID, leader.ID, volunteer.ID))
	_, err = svc.GetByID(ctx, recruit.ID)
	assert.Equal(t, rank.ErrNotFound, errors.Cause(err))

	_, err = svc.Directory(ctx)
	assert.Equal(t, rank.ErrInvalidInput, errors.Cause(err))
}
