package echoapi

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

type (
	recordResponse struct {
		progress.Record
		AccruedTimeSeconds int64 `json:"accrued_time_seconds"`
	}

	writeResponse struct {
		recordResponse
		Completed       bool     `json:"completed"`
		Duplicate       bool     `json:"duplicate"`
		UnlockedCourses []string `json:"unlocked_courses"`
	}

	startResponse struct {
		writeResponse
		ResumeState *string `json:"resume_state"`
	}

	resumeResponse struct {
		ResumeState *string `json:"resume_state"`
	}
)

func newWriteResponse(res progress.Result) writeResponse {
	unlocked := make([]string, 0, len(res.Cascade.Unlocked))
	for _, agg := range res.Cascade.Unlocked {
		unlocked = append(unlocked, agg.CourseID)
	}
	return writeResponse{
		recordResponse: recordResponse{
			Record:             res.Record,
			AccruedTimeSeconds: res.Record.AccruedSeconds(),
		},
		Completed:       res.Completed,
		Duplicate:       res.Duplicate,
		UnlockedCourses: unlocked,
	}
}

type progressApi struct {
	svc      *progress.Service
	validate *validator.Validate
	logger   core.Logger
}

func registerProgressAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc *progress.Service,
	validate *validator.Validate,
	logger core.Logger,
) {
	api := progressApi{
		svc:      svc,
		validate: validate,
		logger:   logger,
	}

	pg := g.Group("/progress", jwt, sessionMiddleware)
	pg.POST("/start", api.start)
	pg.POST("/update", api.update)
	pg.POST("/complete", api.complete)
	pg.GET("/resume", api.resume)
	pg.GET("/course", api.course)

	// admin endpoints
	pg.POST("/reset", api.reset, adminMiddleware())
	pg.POST("/recascade", api.recascade, adminMiddleware())
}

// session is always set on this group, see sessionMiddleware.
func (api *progressApi) session(ctx echo.Context) (core.Session, error) {
	sess, ok := getContextSession(ctx)
	if !ok {
		return core.Session{}, errUnauthorized
	}
	return sess, nil
}

// Handlers

func (api *progressApi) start(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.StartRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to StartRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Start(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "starting content")
	}
	return ctx.JSON(http.StatusOK, startResponse{
		writeResponse: newWriteResponse(res),
		ResumeState:   res.ResumeState,
	})
}

func (api *progressApi) update(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.UpdateRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Update(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "updating progress")
	}
	return ctx.JSON(http.StatusOK, newWriteResponse(res))
}

func (api *progressApi) complete(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.CompleteRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CompleteRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Complete(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "completing content")
	}
	return ctx.JSON(http.StatusOK, newWriteResponse(res))
}

// resume never blocks the player: internal failures answer null.
func (api *progressApi) resume(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.Target
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Target")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	state, err := api.svc.Resume(ctx.Request().Context(), sess, data)
	if err != nil {
		if _, surfaced := progressStatus(errors.Cause(err)); surfaced {
			return errors.Wrap(err, "getting resume state")
		}
		api.logger.Error(fmt.Sprintf("getting resume state: %v", err), err, sess)
		state = nil
	}
	return ctx.JSON(http.StatusOK, resumeResponse{ResumeState: state})
}

func (api *progressApi) course(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.CourseTarget
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseTarget")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	view, err := api.svc.CourseProgress(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "getting course progress")
	}
	return ctx.JSON(http.StatusOK, view)
}

func (api *progressApi) reset(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.Target
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to Target")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Reset(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "resetting progress")
	}
	return ctx.JSON(http.StatusOK, newWriteResponse(res))
}

func (api *progressApi) recascade(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	var data progress.CourseTarget
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CourseTarget")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	agg, err := api.svc.Recascade(ctx.Request().Context(), sess, data)
	if err != nil {
		return errors.Wrap(err, "recascading course progress")
	}
	return ctx.JSON(http.StatusOK, agg)
}
