package main

import (
	"bufio"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/shelter-access/internal/config"
	"github.com/sells-group/shelter-access/internal/model"
	"github.com/sells-group/shelter-access/internal/simulate"
)

func TestRouterHTTP_UsesRouterTimeout(t *testing.T) {
	h := config.HTTPConfig{UserAgent: "ua", TimeoutSecs: 30, MaxRetries: 2}

	got := routerHTTP(h, config.RouterConfig{TimeoutSecs: 90})
	assert.Equal(t, config.HTTPConfig{UserAgent: "ua", TimeoutSecs: 90, MaxRetries: 2}, got)
	assert.Equal(t, 30, h.TimeoutSecs)
}

func TestRouterHTTP_FallsBackToHTTPTimeout(t *testing.T) {
	h := config.HTTPConfig{TimeoutSecs: 30}
	assert.Equal(t, 30, routerHTTP(h, config.RouterConfig{}).TimeoutSecs)
}

func TestRouteToFile_WritesDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.ndjson")

	n, err := routeToFile(path, func(sink simulate.Sink) (int, error) {
		for _, geoid := range []string{"250250001001", "250250001002"} {
			if err := sink.Insert(context.Background(), model.RouteRecord{BlockGroup: model.BlockGroupRef{GEOID: geoid}}); err != nil {
				return 0, err
			}
		}
		return 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, 2, lines)
}

func TestRouteToFile_RunError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.ndjson")

	_, err := routeToFile(path, func(simulate.Sink) (int, error) {
		return 0, errors.New("planner down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "planner down")
}

func TestRouteToFile_CreateError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "routes.ndjson")

	_, err := routeToFile(path, func(simulate.Sink) (int, error) {
		t.Fatal("run should not be called")
		return 0, nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulate: create")
}
