package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kiranshivaraju/clipforge/internal/api/handler"
	"github.com/stretchr/testify/assert"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthy(context.Context) error { return nil }

func TestHealth_OK(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": pingerFunc(healthy),
		"cache":    pingerFunc(healthy),
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	data := ackBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "ok", data["status"])
	assert.Equal(t, map[string]any{"database": "ok", "cache": "ok"}, data["checks"])
}

func TestHealth_DependencyDown(t *testing.T) {
	h := handler.NewHealthHandler(map[string]handler.Pinger{
		"database": pingerFunc(healthy),
		"cache":    pingerFunc(func(context.Context) error { return errors.New("dial tcp: refused") }),
	})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	errObj := ackBody(t, w)["error"].(map[string]any)
	assert.Equal(t, "UNHEALTHY", errObj["code"])
	assert.Equal(t, "unavailable", errObj["details"].(map[string]any)["cache"])
}
