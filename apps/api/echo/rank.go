package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core/rank"
)

var errRankNotFoundInCtx = errors.New("rank object not found in echo.Context")

type rankApi struct {
	svc      *rank.Service
	validate *validator.Validate
}

func registerRankAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := rankApi{
		svc:      deps.RankSvc,
		validate: deps.Validate,
	}

	rg := g.Group("/ranks", jwt)
	rg.GET("", api.query)
	rg.POST("", api.create, adminMiddleware())

	dg := rg.Group("/:id", api.ctxRankMiddleware)
	dg.GET("", api.retrieve)
	dg.PUT("", api.update, adminMiddleware())
	dg.DELETE("", api.destroy, adminMiddleware())
}

func (api *rankApi) ctxRankMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		r, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == rank.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding rank by ID")
		}
		ctx.Set(contextObjectKey, r)
		return next(ctx)
	}
}

func contextObjectRank(ctx echo.Context) (rank.Rank, error) {
	r, ok := ctx.Get(contextObjectKey).(rank.Rank)
	if !ok {
		return rank.Rank{}, errors.Wrap(errRankNotFoundInCtx, "retrieving object from context")
	}
	return r, nil
}

func (api *rankApi) query(ctx echo.Context) error {
	ranks, err := api.svc.Query(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "querying ranks")
	}
	if ranks == nil {
		ranks = []rank.Rank{}
	}
	return ctx.JSON(http.StatusOK, ranks)
}

func (api *rankApi) create(ctx echo.Context) error {
	var data rank.NewRank
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRank")
	}
	rctx := ctx.Request().Context()
	if err := data.Validate(rctx, api.validate, api.svc); err != nil {
		return err
	}

	r, err := api.svc.Create(rctx, data)
	if err != nil {
		return errors.Wrap(err, "creating rank")
	}
	return ctx.JSON(http.StatusCreated, r)
}

func (api *rankApi) retrieve(ctx echo.Context) error {
	r, err := contextObjectRank(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *rankApi) update(ctx echo.Context) error {
	r, err := contextObjectRank(ctx)
	if err != nil {
		return err
	}

	var data rank.UpdateRank
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRank")
	}
	rctx := ctx.Request().Context()
	if r, err = data.Validate(rctx, r, api.validate, api.svc); err != nil {
		return err
	}

	if r, err = api.svc.Update(rctx, r); err != nil {
		return errors.Wrap(err, "updating rank")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *rankApi) destroy(ctx echo.Context) error {
	r, err := contextObjectRank(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), r.ID); err != nil {
		return errors.Wrap(err, "deleting rank")
	}
	return ctx.NoContent(http.StatusNoContent)
}
