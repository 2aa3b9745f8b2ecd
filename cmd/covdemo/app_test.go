package main

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/config"
	"github.com/normalframework/bacnet-cov-demo/internal/infrastructure/logging"
)

func testLogger() *logging.Logger {
	return logging.NewWithWriter(config.LoggingConfig{Level: "error"}, "covdemo", "test", io.Discard)
}

func testSinks(t *testing.T, c config.SinksConfig) sinkSet {
	t.Helper()
	set := buildSinks(context.Background(), c, testLogger())
	if set.history != nil {
		t.Cleanup(func() { set.history.Close() })
	}
	if set.cache != nil {
		t.Cleanup(func() { set.cache.Close() })
	}
	return set
}

func probeNames(set sinkSet) []string {
	var names []string
	for _, p := range set.probes() {
		names = append(names, p.Name())
	}
	return names
}

func TestBuildSinks_ConsoleOnly(t *testing.T) {
	set := testSinks(t, config.SinksConfig{})
	assert.Equal(t, []string{"console"}, set.names())
	assert.Nil(t, set.history)
	assert.Empty(t, set.probes())
}

func TestBuildSinks_HistoryAndRedis(t *testing.T) {
	set := testSinks(t, config.SinksConfig{
		Redis:   config.RedisConfig{Addr: "127.0.0.1:6379"},
		History: config.HistoryConfig{Path: filepath.Join(t.TempDir(), "history.db")},
	})
	assert.Equal(t, []string{"console", "redis", "history"}, set.names())
	assert.NotNil(t, set.history)
	assert.NotNil(t, set.cache)
	assert.Equal(t, []string{"redis"}, probeNames(set))
}

func TestBuildSinks_UnusableHistoryIsSkipped(t *testing.T) {
	set := testSinks(t, config.SinksConfig{
		History: config.HistoryConfig{Path: filepath.Join(t.TempDir(), "missing", "dir", "history.db")},
	})
	assert.Equal(t, []string{"console"}, set.names())
	assert.Nil(t, set.history)
}

func TestCommandTree(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"subscribe", "points", "discover", "probe"} {
		assert.Contains(t, names, want)
	}

	cmd, _, err := rootCmd.Find([]string{"probe"})
	require.NoError(t, err)
	assert.NotNil(t, cmd.Flags().Lookup("skip-device"))
	assert.NotNil(t, cmd.Flags().Lookup("timeout"))
}
