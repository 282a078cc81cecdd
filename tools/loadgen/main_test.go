package main

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/H3Arrow-Engine/api"
)

func TestRunAgainstServer(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	m := api.NewMetrics("loadgen_test", prometheus.NewRegistry())
	handler := api.NewHandler(api.HandlerConfig{Logger: log, Metrics: m})
	srv := api.NewServer(api.ServerConfig{Address: "127.0.0.1:0", Auth: api.AuthConfig{Enabled: true, Token: "t"}}, handler, log, m)
	require.NoError(t, srv.StartAsync())
	defer srv.Stop()

	cfg := Config{
		Address:     srv.Addr().String(),
		Concurrency: 3,
		Requests:    12,
		Duration:    10 * time.Second,
		Token:       "t",
		Op:          string(api.OpParent),
		Rows:        200,
		Resolution:  9,
		Target:      5,
		Compression: "lz4",
		Seed:        7,
	}

	res, err := run(context.Background(), cfg, log)
	require.NoError(t, err)
	assert.Equal(t, int64(12), res.TotalRequests)
	assert.Equal(t, int64(12), res.SuccessfulReqs)
	assert.Equal(t, int64(12*200), res.RowsProcessed)
	assert.LessOrEqual(t, res.MinLatency, res.MaxLatency)
}

func TestRandomCellsDeterministic(t *testing.T) {
	a, err := randomCells(50, 7, 3)
	require.NoError(t, err)
	defer a.Release()
	b, err := randomCells(50, 7, 3)
	require.NoError(t, err)
	defer b.Release()

	assert.True(t, a.Equal(b))
	assert.Zero(t, a.NullCount())
}

func TestBuildRequest(t *testing.T) {
	req := buildRequest(Config{Op: "grid_disk", Target: 2})
	assert.Equal(t, 2, req.K)
	req = buildRequest(Config{Op: "parent", Target: 4})
	assert.Equal(t, 4, req.Resolution)
}
