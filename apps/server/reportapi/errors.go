package reportapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/academic"
)

var (
	errUnauthorized = echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	errForbidden    = echo.NewHTTPError(http.StatusForbidden, "permission denied")
	errNotFound     = echo.NewHTTPError(http.StatusNotFound, "not found")
)

// newHTTPErrorHandler maps service sentinels onto HTTP codes; anything
// unknown is a 500 and gets logged.
func newHTTPErrorHandler(logger core.Logger) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		switch {
		case isHTTPError(cause):
			herr := cause.(*echo.HTTPError)
			code = herr.Code
			message = herr.Message
		case errors.Is(cause, academic.ErrCourseNotFound),
			errors.Is(cause, academic.ErrSectionNotFound),
			errors.Is(cause, academic.ErrTermNotFound):
			code = http.StatusNotFound
			message = cause.Error()
		default:
			code = http.StatusInternalServerError
			message = http.StatusText(code)
			logger.Error("report api error", "path", ctx.Path(), "err", err)
		}

		if !ctx.Response().Committed {
			_ = ctx.JSON(code, echo.Map{"error": message})
		}
	}
}

func isHTTPError(err error) bool {
	_, ok := err.(*echo.HTTPError)
	return ok
}
