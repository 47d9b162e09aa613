package transport

import (
	v2controllers "github.com/Abidoyesimze/StackPay/controllers_v2"
	"github.com/labstack/echo/v4"
)

func RegisterOperationalEndpoints(e *echo.Echo, health *v2controllers.HealthController, logMw echo.MiddlewareFunc) {
	e.GET("/health", health.Check, logMw)
}
