package v2controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is satisfied by *bun.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthController struct {
	db      Pinger
	timeout time.Duration
}

func NewHealthController(db Pinger) *HealthController {
	return &HealthController{db: db, timeout: 2 * time.Second}
}

type HealthResponse struct {
	Result   string `json:"result"`
	Database string `json:"database"`
}

// Check reports 503 when the database cannot be reached, since the
// reconciler can make no progress without it.
func (controller *HealthController) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), controller.timeout)
	defer cancel()

	if err := controller.db.PingContext(ctx); err != nil {
		c.Logger().Errorf("health: database ping failed: %v", err)
		return c.JSON(http.StatusServiceUnavailable, &HealthResponse{
			Result:   "UNAVAILABLE",
			Database: "unreachable",
		})
	}
	return c.JSON(http.StatusOK, &HealthResponse{
		Result:   "OK",
		Database: "ok",
	})
}
