package api

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func startGrpcServer(t *testing.T, auth AuthConfig) (*GrpcServer, *Metrics) {
	t.Helper()
	h, m := newTestHandler(t)
	cfg := DefaultServerConfig()
	cfg.GrpcAddress = "127.0.0.1:0"
	cfg.Auth = auth
	g := NewGrpcServer(cfg, h, nil, m)
	require.NoError(t, g.StartAsync())
	t.Cleanup(g.Stop)
	return g, m
}

func TestGrpcServerRoundTrip(t *testing.T) {
	g, m := startGrpcServer(t, AuthConfig{})
	assert.ErrorIs(t, g.StartAsync(), ErrServerRunning)

	c, err := DialGrpc(g.Addr().String(), "", nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	in := sample()
	defer in.Release()

	for res := 4; res >= 2; res-- {
		rec, err := c.Call(ctx, Request{Op: OpParent, Resolution: res}, in)
		require.NoError(t, err)
		col := rec.Column(0).(*array.Uint64)
		assert.Equal(t, res, int(col.Value(0)>>52&0xf))
		assert.True(t, col.IsNull(1))
		rec.Release()
	}

	// Kernel errors travel as error records, not gRPC status errors.
	_, err = c.Call(ctx, Request{Op: OpParent, Resolution: 99}, in)
	var remote *RemoteError
	assert.ErrorAs(t, err, &remote)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("parent", "grpc", StatusOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("parent", "grpc", StatusError)))
}

func TestGrpcServerAuth(t *testing.T) {
	g, m := startGrpcServer(t, AuthConfig{Enabled: true, Token: "secret"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	in := sample()
	defer in.Release()

	good, err := DialGrpc(g.Addr().String(), "secret", nil)
	require.NoError(t, err)
	defer good.Close()
	rec, err := good.Call(ctx, Request{Op: OpCenter}, in)
	require.NoError(t, err)
	rec.Release()

	for _, token := range []string{"", "wrong"} {
		bad, err := DialGrpc(g.Addr().String(), token, nil)
		require.NoError(t, err)
		_, err = bad.Call(ctx, Request{Op: OpCenter}, in)
		assert.Equal(t, codes.Unauthenticated, status.Code(err), "token=%q", token)
		bad.Close()
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AuthFailures))
}

func TestGrpcServerStop(t *testing.T) {
	h, m := newTestHandler(t)
	cfg := DefaultServerConfig()
	cfg.GrpcAddress = "127.0.0.1:0"
	g := NewGrpcServer(cfg, h, nil, m)

	assert.Nil(t, g.Addr())
	g.Stop()

	done := make(chan error, 1)
	go func() { done <- g.Start() }()
	require.Eventually(t, func() bool { return g.Addr() != nil }, 5*time.Second, 10*time.Millisecond)

	g.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestIPCCodec(t *testing.T) {
	var c ipcCodec
	data, err := c.Marshal([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	var out []byte
	require.NoError(t, c.Unmarshal(data, &out))
	data[0] = 'x'
	assert.Equal(t, "abc", string(out))

	_, err = c.Marshal(42)
	assert.Error(t, err)
	assert.Error(t, c.Unmarshal(data, new(string)))
}
