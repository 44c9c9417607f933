package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gasmeter/meterd"
	"github.com/gasmeter/meterd/store"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testViper(t *testing.T, args ...string) (settings, error) {
	t.Helper()

	flags := pflag.NewFlagSet("meterd", pflag.ContinueOnError)
	defineFlags(flags)
	require.NoError(t, flags.Parse(args))

	v, err := newViper(flags)
	require.NoError(t, err)
	return loadSettings(v)
}

func TestLoadSettings_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := testViper(t)
	require.NoError(t, err)

	def := meterd.DefaultConfig()
	assert.Equal(t, ":5555", s.Listen)
	assert.Equal(t, ".", s.StateDir)
	assert.Equal(t, def.MaxConns, s.MaxConns)
	assert.Equal(t, def.QueueTimeout, s.QueueTimeout)
	assert.Equal(t, store.DefaultPollInterval, s.PollInterval)
	assert.True(t, s.BreakerEnabled)
	assert.Empty(t, s.MetricsListen)
	assert.Equal(t, "info", s.LogLevel)
}

func TestLoadSettings_Flags(t *testing.T) {
	t.Chdir(t.TempDir())

	s, err := testViper(t, "--listen", "127.0.0.1:6000", "--max-conns", "8", "--breaker-enabled=false", "--breaker-timeout", "2s")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", s.Listen)
	assert.Equal(t, int32(8), s.MaxConns)
	assert.False(t, s.BreakerEnabled)
	assert.Equal(t, 2*time.Second, s.BreakerTimeout)
}

func TestLoadSettings_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("METERD_STATE_DIR", "/var/lib/gasmeter")
	t.Setenv("METERD_QUEUE_TIMEOUT", "250ms")
	t.Setenv("METERD_BREAKER_MAX_REQUESTS", "3")

	s, err := testViper(t)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/gasmeter", s.StateDir)
	assert.Equal(t, 250*time.Millisecond, s.QueueTimeout)
	assert.Equal(t, uint32(3), s.BreakerMaxRequests)
}

func TestLoadSettings_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("METERD_LOG_FORMAT=json\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("METERD_LOG_FORMAT") })

	s, err := testViper(t)
	require.NoError(t, err)
	assert.Equal(t, "json", s.LogFormat)
}

func TestLoadSettings_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "meterd.yaml")
	config := "max-conns: 16\nread-timeout: 3s\nbreaker:\n  interval: 30s\n"
	require.NoError(t, os.WriteFile(path, []byte(config), 0o644))

	s, err := testViper(t, "--config", path)
	require.NoError(t, err)

	assert.Equal(t, int32(16), s.MaxConns)
	assert.Equal(t, 3*time.Second, s.ReadTimeout)
	assert.Equal(t, 30*time.Second, s.BreakerInterval)
}

func TestLoadSettings_Invalid(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		args []string
	}{
		{"zero max conns", []string{"--max-conns", "0"}},
		{"empty listen", []string{"--listen", ""}},
		{"negative queue timeout", []string{"--queue-timeout", "-1s"}},
		{"bad log level", []string{"--log-level", "loud"}},
		{"bad log format", []string{"--log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testViper(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := newLogger(&buf, "warn", "json")
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "field", "reading")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"field":"reading"`)
}

func testSettings(t *testing.T) settings {
	t.Helper()
	t.Chdir(t.TempDir())

	s, err := testViper(t, "--listen", "127.0.0.1:0", "--state-dir", t.TempDir(), "--shutdown-timeout", "1s")
	require.NoError(t, err)
	return s
}

func TestRun_BindFailure(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	s := testSettings(t)
	s.Listen = occupied.Addr().String()

	err = run(context.Background(), s, slog.New(slog.DiscardHandler), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestRun_ServesUntilCanceled(t *testing.T) {
	s := testSettings(t)
	s.MetricsListen = "127.0.0.1:0"
	s.PollInterval = 10 * time.Millisecond
	require.NoError(t, os.WriteFile(filepath.Join(s.StateDir, "meterreading"), []byte("55.5"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addrs := make(chan [2]net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, s, slog.New(slog.DiscardHandler), func(addr, metricsAddr net.Addr) {
			addrs <- [2]net.Addr{addr, metricsAddr}
		})
	}()

	var bound [2]net.Addr
	select {
	case bound = <-addrs:
	case err := <-done:
		t.Fatalf("run returned early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not bind")
	}

	client := meterd.NewClient(bound[0].String(), meterd.ClientConfig{Timeout: time.Second})
	reading, err := client.GetReading(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 55.5, reading, 0.001)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + bound[1].String() + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return bytes.Contains(body, []byte("meterd_reading_cubic_metres 55.5"))
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
