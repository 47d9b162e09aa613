package responses

import (
	"errors"
	"net/http"

	"github.com/getsentry/sentry-go"
	sentryecho "github.com/getsentry/sentry-go/echo"
	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          bool   `json:"error"`
	Code           int    `json:"code"`
	Message        string `json:"message"`
	HttpStatusCode int    `json:"-"`
}

var GeneralServerError = ErrorResponse{
	Error:          true,
	Code:           6,
	Message:        "Something went wrong. Please try again later",
	HttpStatusCode: 500,
}

var NotFoundError = ErrorResponse{
	Error:          true,
	Code:           4,
	Message:        "not found",
	HttpStatusCode: 404,
}

var TooManyRequestsError = ErrorResponse{
	Error:          true,
	Code:           9,
	Message:        "too many requests",
	HttpStatusCode: 429,
}

// HTTPErrorHandler renders every unhandled error as an ErrorResponse and
// reports server side failures to sentry.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	resp := toErrorResponse(err)
	if isErrAllowedForSentry(resp) {
		c.Logger().Error(err)
		if hub := sentryecho.GetHubFromContext(c); hub != nil {
			hub.WithScope(func(scope *sentry.Scope) {
				scope.SetExtra("Path", c.Path())
				hub.CaptureException(err)
			})
		}
	}
	if err := c.JSON(resp.HttpStatusCode, resp); err != nil {
		c.Logger().Error(err)
	}
}

func toErrorResponse(err error) ErrorResponse {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return GeneralServerError
	}
	switch he.Code {
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		resp := NotFoundError
		resp.HttpStatusCode = he.Code
		return resp
	case http.StatusTooManyRequests:
		return TooManyRequestsError
	}
	resp := GeneralServerError
	resp.HttpStatusCode = he.Code
	if msg, ok := he.Message.(string); ok {
		resp.Message = msg
	}
	return resp
}

// client errors are noise for sentry
func isErrAllowedForSentry(resp ErrorResponse) bool {
	return resp.HttpStatusCode >= http.StatusInternalServerError
}
