package main

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_ReturnsListenError(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	logger, _ := test.NewNullLogger()
	srv := &http.Server{Addr: taken.Addr().String(), Handler: http.NotFoundHandler()}

	err = serve(context.Background(), srv, time.Second, logger, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server failed")
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	logger, hook := test.NewNullLogger()
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	ctx, cancel := context.WithCancel(context.Background())
	started := false
	err := serve(ctx, srv, time.Second, logger, func() {
		started = true
		cancel()
	})

	require.NoError(t, err)
	assert.True(t, started)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "[Main] Server stopped", hook.LastEntry().Message)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, "/srv/models/model.onnx", resolve("/app", "/srv/models/model.onnx"))
	assert.Equal(t, "/app/models/model.onnx", resolve("/app", "models/model.onnx"))
}
