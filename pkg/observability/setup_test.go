package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/example/spaceryder/pkg/observability"
)

func TestSetupLoggerLevel(t *testing.T) {
	logger := observability.SetupLogger("tripservice", "warn")
	require.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	require.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger = observability.SetupLogger("tripservice", "chatty")
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestMetricsRouter(t *testing.T) {
	healthy := true
	h := observability.MetricsRouter(map[string]observability.Check{
		"redis": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		},
	})

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	require.Equal(t, http.StatusOK, get("/healthz").Code)
	require.Equal(t, http.StatusOK, get("/readyz").Code)
	require.Equal(t, http.StatusOK, get("/metrics").Code)

	healthy = false
	rec := get("/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis")
}
