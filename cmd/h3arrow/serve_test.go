package main

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VanDung-dev/H3Arrow-Engine/api"
)

func testSettings() settings {
	return settings{
		Server:  api.ServerConfig{Address: "127.0.0.1:0"},
		Workers: 2,
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, testSettings(), log) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeBadAddress(t *testing.T) {
	s := testSettings()
	s.Server.Address = "not-an-address"
	err := serve(context.Background(), s, logrus.New())
	assert.Error(t, err)
}

func TestServeWithGrpc(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)

	s := testSettings()
	s.Server.GrpcAddress = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, s, log) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}

	s.Server.GrpcAddress = "not-an-address"
	assert.Error(t, serve(context.Background(), s, log))
}
