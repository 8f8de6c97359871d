package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/voluntas/core"
	"github.com/trezcool/voluntas/core/task"
	"github.com/trezcool/voluntas/core/user"
)

var errTaskNotFoundInCtx = errors.New("task object not found in echo.Context")

type taskApi struct {
	svc      *task.Service
	usrSvc   user.ServiceInterface
	validate *validator.Validate
}

func registerTaskAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := taskApi{
		svc:      deps.TaskSvc,
		usrSvc:   deps.UserSvc,
		validate: deps.Validate,
	}

	tg := g.Group("/tasks", jwt)
	tg.GET("", api.query)
	tg.POST("", api.create, staffMiddleware())

	dg := tg.Group("/:id", api.ctxTaskMiddleware)
	dg.GET("", api.retrieve)
	dg.GET("/assignments", api.assignments)
	dg.POST("/assign", api.assign, staffMiddleware())
	dg.POST("/submit", api.submit)
	dg.POST("/review", api.review, staffMiddleware())
}

func (api *taskApi) ctxTaskMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		t, err := api.svc.GetByID(ctx.Request().Context(), ctx.Param("id"))
		if err != nil {
			if errors.Cause(err) == task.ErrNotFound {
				return errHttpNotFound
			}
			return errors.Wrap(err, "finding task by ID")
		}
		ctx.Set(contextObjectKey, t)
		return next(ctx)
	}
}

func contextObjectTask(ctx echo.Context) (task.Task, error) {
	t, ok := ctx.Get(contextObjectKey).(task.Task)
	if !ok {
		return task.Task{}, errors.Wrap(errTaskNotFoundInCtx, "retrieving object from context")
	}
	return t, nil
}

func (api *taskApi) query(ctx echo.Context) error {
	filter := new(task.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []task.Task{})
	}
	filter.Search = core.CleanString(filter.Search)

	tasks, err := api.svc.Query(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying tasks")
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	return ctx.JSON(http.StatusOK, tasks)
}

func (api *taskApi) create(ctx echo.Context) error {
	var data task.NewTask
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewTask")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	t, err := api.svc.Create(ctx.Request().Context(), data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "creating task")
	}
	return ctx.JSON(http.StatusCreated, t)
}

func (api *taskApi) retrieve(ctx echo.Context) error {
	t, err := contextObjectTask(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, t)
}

// assignments lists the assignments of the task. Members only see their own.
func (api *taskApi) assignments(ctx echo.Context) error {
	t, err := contextObjectTask(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var filter task.AssignmentFilter
	if err = ctx.Bind(&filter); err != nil {
		return core.NewValidationError(err, core.FieldError{Field: "query", Error: "invalid query parameters"})
	}
	filter.TaskID = t.ID
	if !(claims.IsAdmin || claims.IsStaff) {
		filter.UserID = claims.Subject
	}

	as, err := api.svc.Assignments(ctx.Request().Context(), filter)
	if err != nil {
		return errors.Wrap(err, "querying assignments")
	}
	if as == nil {
		as = []task.Assignment{}
	}
	return ctx.JSON(http.StatusOK, as)
}

func (api *taskApi) assign(ctx echo.Context) error {
	t, err := contextObjectTask(ctx)
	if err != nil {
		return err
	}

	var data task.Assign
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Assign")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	rctx := ctx.Request().Context()
	for _, id := range data.UserIDs {
		if _, err = api.usrSvc.GetByID(rctx, id); err != nil {
			if errors.Cause(err) == user.ErrNotFound {
				return core.NewValidationError(nil, core.FieldError{Field: "user_ids", Error: "unknown user: " + id})
			}
			return errors.Wrap(err, "finding user by ID")
		}
	}

	created, err := api.svc.Assign(rctx, t, data.UserIDs...)
	if err != nil {
		return errors.Wrap(err, "assigning task")
	}
	return ctx.JSON(http.StatusOK, created)
}

func (api *taskApi) submit(ctx echo.Context) error {
	t, err := contextObjectTask(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data task.Submit
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Submit")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	a, err := api.svc.Submit(ctx.Request().Context(), t, claims.Subject, data)
	if err != nil {
		return errors.Wrap(err, "submitting task")
	}
	return ctx.JSON(http.StatusOK, a)
}

func (api *taskApi) review(ctx echo.Context) error {
	t, err := contextObjectTask(ctx)
	if err != nil {
		return err
	}
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var data task.Review
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Review")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	a, err := api.svc.Review(ctx.Request().Context(), t, data, claims.Subject)
	if err != nil {
		return errors.Wrap(err, "reviewing task")
	}
	return ctx.JSON(http.StatusOK, a)
}
