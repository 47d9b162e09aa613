package v2controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

func checkHealth(t *testing.T, db Pinger) (int, HealthResponse) {
	e := echo.New()
	e.GET("/health", NewHealthController(db).Check)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	body := HealthResponse{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return rec.Code, body
}

func TestHealthOK(t *testing.T) {
	code, body := checkHealth(t, pingFunc(func(ctx context.Context) error { return nil }))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body.Result)
}

func TestHealthDatabaseDown(t *testing.T) {
	code, body := checkHealth(t, pingFunc(func(ctx context.Context) error { return errors.New("connection refused") }))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unreachable", body.Database)
}
