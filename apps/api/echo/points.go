package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/points"
	"github.com/trezcool/voluntas/core/user"
)

type pointsApi struct {
	svc      *points.Service
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerPointsAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := pointsApi{
		svc:      deps.PointsSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	pg := g.Group("/points", jwt)
	pg.GET("/leaderboard", api.leaderboard)
	pg.POST("/adjust", api.adjust, staffMiddleware(user.RoleStaffHR))
	pg.POST("/adjust-batch", api.adjustBatch, staffMiddleware(user.RoleStaffHR))
	pg.POST("/set-rank", api.setRank, staffMiddleware(user.RoleStaffHR))
}

func (api *pointsApi) adjust(ctx echo.Context) error {
	var data points.Adjustment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Adjustment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if _, err := api.usrSvc.GetByID(rctx, data.UserID); err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: user.ErrNotFound.Error()})
		}
		return errors.Wrap(err, "finding user by ID")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data.CreatedBy = ctxUsr.ID

	out, err := api.svc.Adjust(rctx, data)
	if err != nil {
		return errors.Wrap(err, "adjusting points")
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *pointsApi) adjustBatch(ctx echo.Context) error {
	var data points.BatchAdjustment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BatchAdjustment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data.CreatedBy = ctxUsr.ID

	// unknown users are reported, not adjusted
	rctx := ctx.Request().Context()
	resp := make([]BatchResultResponse, 0, len(data.UserIDs))
	known := make([]string, 0, len(data.UserIDs))
	seen := make(map[string]bool, len(data.UserIDs))
	for _, id := range data.UserIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err = api.usrSvc.GetByID(rctx, id); err != nil {
			if errors.Cause(err) != user.ErrNotFound {
				return errors.Wrap(err, "finding user by ID")
			}
			resp = append(resp, BatchResultResponse{UserID: id, Error: user.ErrNotFound.Error()})
			continue
		}
		known = append(known, id)
	}

	if len(known) > 0 {
		data.UserIDs = known
		results, err := api.svc.AdjustMany(rctx, data)
		if err != nil {
			return errors.Wrap(err, "adjusting points")
		}
		for _, res := range results {
			r := BatchResultResponse{UserID: res.UserID, OK: res.OK(), Outcome: res.Outcome}
			if !res.OK() {
				r.Error = errors.Cause(res.Err).Error()
			}
			resp = append(resp, r)
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}

func (api *pointsApi) setRank(ctx echo.Context) error {
	var data points.RankAssignment
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RankAssignment")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	if _, err := api.usrSvc.GetByID(rctx, data.UserID); err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return core.NewValidationError(nil, core.FieldError{Field: "user_id", Error: user.ErrNotFound.Error()})
		}
		return errors.Wrap(err, "finding user by ID")
	}

	ctxUsr, err := getContextUser(ctx, api.usrSvc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	data.CreatedBy = ctxUsr.ID

	out, err := api.svc.SetRank(rctx, data)
	if err != nil {
		return errors.Wrap(err, "setting rank")
	}
	return ctx.JSON(http.StatusOK, out)
}

func (api *pointsApi) leaderboard(ctx echo.Context) error {
	var query LeaderboardRequest
	if err := ctx.Bind(&query); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "limit", Error: "must be a number"})
	}

	standings, err := api.svc.Leaderboard(ctx.Request().Context(), query.Limit)
	if err != nil {
		return errors.Wrap(err, "querying leaderboard")
	}
	if standings == nil {
		standings = []points.Standing{}
	}
	return ctx.JSON(http.StatusOK, standings)
}

type (
	LeaderboardRequest struct {
		Limit int `query:"limit"`
	}

	BatchResultResponse struct {
		UserID  string          `json:"user_id"`
		OK      bool            `json:"ok"`
		Error   string          `json:"error,omitempty"`
		Outcome *points.Outcome `json:"outcome,omitempty"`
	}
)
