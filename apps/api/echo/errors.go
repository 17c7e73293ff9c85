package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/suivi/core"
	"github.com/trezcool/suivi/core/progress"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")

	// progressStatuses maps the tracking engine's errors to the status codes callers act on.
	progressStatuses = []struct {
		err  error
		code int
	}{
		{progress.ErrNotFound, http.StatusNotFound},
		{progress.ErrForbidden, http.StatusForbidden},
		{progress.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge},
		{progress.ErrConflict, http.StatusConflict},
		{progress.ErrUnknownContentType, http.StatusBadRequest},
	}
)

func progressStatus(cause error) (int, bool) {
	for _, ps := range progressStatuses {
		if cause == ps.err {
			return ps.code, true
		}
	}
	return 0, false
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch origErr := cause.(type) {
		case *echo.HTTPError:
			if origErr == middleware.ErrJWTMissing {
				code = http.StatusUnauthorized
				message = origErr.Message
				break
			}
			if origErr.Internal != nil {
				if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
					origErr = herr
				}
			}
			code = origErr.Code
			message = origErr.Message
		case validator.ValidationErrors:
			fldErrs := make(map[string]string, len(origErr))
			for _, vErr := range origErr {
				fldErrs[vErr.Field()] = vErr.Translate(translator)
			}
			code = http.StatusBadRequest
			message = fldErrs
		case *core.ValidationError:
			if origErr.Fields != nil {
				fldErrs := make(map[string]string, len(origErr.Fields))
				for _, fErr := range origErr.Fields {
					fldErrs[fErr.Field] = fErr.Error
				}
				message = fldErrs
			} else {
				message = origErr.Error()
			}
			code = http.StatusBadRequest
		default:
			if status, ok := progressStatus(cause); ok {
				code = status
				message = cause.Error()
				break
			}

			// any other error is a server error
			code = http.StatusInternalServerError
			msg := http.StatusText(http.StatusInternalServerError)
			message = msg

			args := []interface{}{errors.Wrap(err, msg)}
			if sess, ok := getContextSession(ctx); ok {
				args = append(args, sess)
			}
			logger.Error(msg, args...)

			// shutting down...
			if core.IsShutdown(err) {
				signalShutdown()
			}
		}

		if ctx.Echo().Debug {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
