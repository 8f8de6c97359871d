package rank

import (
	"context"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/voluntas/core"
)

// NewRank contains information needed to create a new Rank.
type NewRank struct {
	Name      string `json:"name" validate:"required,notblank,max=64"`
	Order     *int   `json:"order" validate:"required,min=0"`
	Threshold *int   `json:"threshold" validate:"required,min=0"`
	IsParent  bool   `json:"is_parent"`
	IsExempt  bool   `json:"is_exempt"`
	Parent    string `json:"parent" validate:"omitempty,max=64,nefield=Name"`
}

func (nr *NewRank) Validate(ctx context.Context, validate *validator.Validate, svc *Service) error {
	nr.Name = core.CleanString(nr.Name)
	nr.Parent = core.CleanString(nr.Parent)

	if err := validate.Struct(nr); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, Rank{Name: nr.Name, Order: *nr.Order, IsExempt: nr.IsExempt})
}

// UpdateRank defines what information may be provided to modify an existing Rank.
type UpdateRank struct {
	Name      string  `json:"name" validate:"omitempty,max=64"`
	Order     *int    `json:"order" validate:"omitempty,min=0"`
	Threshold *int    `json:"threshold" validate:"omitempty,min=0"`
	IsParent  *bool   `json:"is_parent"`
	IsExempt  *bool   `json:"is_exempt"`
	Parent    *string `json:"parent" validate:"omitempty,max=64"`
}

// Validate merges the update into origRank and validates the outcome.
func (ur *UpdateRank) Validate(ctx context.Context, origRank Rank, validate *validator.Validate, svc *Service) (Rank, error) {
	if err := validate.Struct(ur); err != nil {
		return Rank{}, err
	}

	r := origRank
	if name := core.CleanString(ur.Name); name != "" {
		r.Name = name
	}
	if ur.Order != nil {
		r.Order = *ur.Order
	}
	if ur.Threshold != nil {
		r.Threshold = *ur.Threshold
	}
	if ur.IsParent != nil {
		r.IsParent = *ur.IsParent
	}
	if ur.IsExempt != nil {
		r.IsExempt = *ur.IsExempt
	}
	if ur.Parent != nil {
		r.Parent = core.CleanString(*ur.Parent)
	}
	if r.Parent != "" && r.Parent == r.Name {
		return Rank{}, core.NewValidationError(nil, core.FieldError{Field: "parent", Error: "a rank cannot be its own parent"})
	}
	return r, svc.checkUniqueness(ctx, r, origRank)
}
