package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gasmeter/meterd"
	"github.com/gasmeter/meterd/protocol"
	"github.com/gasmeter/meterd/store"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "METERD"

// settings is the resolved daemon configuration: flags, then environment,
// then config file, then defaults.
type settings struct {
	Listen          string
	StateDir        string
	MaxConns        int32
	QueueTimeout    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsListen   string
	PollInterval    time.Duration

	BreakerEnabled     bool
	BreakerMaxRequests uint32
	BreakerInterval    time.Duration
	BreakerTimeout     time.Duration

	LogLevel  string
	LogFormat string
}

// flagKeys maps flag names to viper keys where they differ.
var flagKeys = map[string]string{
	"breaker-enabled":      "breaker.enabled",
	"breaker-max-requests": "breaker.max-requests",
	"breaker-interval":     "breaker.interval",
	"breaker-timeout":      "breaker.timeout",
}

func defineFlags(flags *pflag.FlagSet) {
	def := meterd.DefaultConfig()

	flags.String("config", "", "path to a config file (yaml, toml or json)")
	flags.String("listen", fmt.Sprintf(":%d", protocol.DefaultPort), "TCP address to serve the meter protocol on")
	flags.String("state-dir", ".", "directory holding the meterreading, roomno and serialnumber files")
	flags.Int32("max-conns", def.MaxConns, "maximum connections served at once")
	flags.Duration("queue-timeout", def.QueueTimeout, "how long a connection waits for a free handler before Server Busy")
	flags.Duration("read-timeout", def.ReadTimeout, "time allowed for a client to send its request")
	flags.Duration("write-timeout", def.WriteTimeout, "time allowed to write the reply")
	flags.Duration("shutdown-timeout", 10*time.Second, "time allowed for in-flight requests on shutdown")
	flags.String("metrics-listen", "", "address for the Prometheus /metrics endpoint (disabled when empty)")
	flags.Duration("poll-interval", store.DefaultPollInterval, "how often the reading is polled for metrics")

	flags.Bool("breaker-enabled", true, "guard each state file with a circuit breaker")
	flags.Uint32("breaker-max-requests", 1, "probe requests allowed while a breaker is half-open")
	flags.Duration("breaker-interval", time.Minute, "window after which closed breaker counts reset")
	flags.Duration("breaker-timeout", 5*time.Second, "how long a breaker stays open")

	flags.String("log-level", "info", "log level: debug, info, warn or error")
	flags.String("log-format", "text", "log format: text or json")
}

// newViper binds flags, METERD_* environment variables, an optional .env file
// and an optional config file.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := f.Name
		if k, ok := flagKeys[f.Name]; ok {
			key = k
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return v, nil
}

func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		Listen:          v.GetString("listen"),
		StateDir:        v.GetString("state-dir"),
		QueueTimeout:    v.GetDuration("queue-timeout"),
		ReadTimeout:     v.GetDuration("read-timeout"),
		WriteTimeout:    v.GetDuration("write-timeout"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		MetricsListen:   v.GetString("metrics-listen"),
		PollInterval:    v.GetDuration("poll-interval"),

		BreakerEnabled:     v.GetBool("breaker.enabled"),
		BreakerMaxRequests: v.GetUint32("breaker.max-requests"),
		BreakerInterval:    v.GetDuration("breaker.interval"),
		BreakerTimeout:     v.GetDuration("breaker.timeout"),

		LogLevel:  v.GetString("log-level"),
		LogFormat: v.GetString("log-format"),
	}

	maxConns := v.GetInt("max-conns")
	if maxConns <= 0 || maxConns > math.MaxInt32 {
		return s, fmt.Errorf("max-conns must be between 1 and %d, got %d", math.MaxInt32, maxConns)
	}
	s.MaxConns = int32(maxConns)

	if s.Listen == "" {
		return s, errors.New("listen address is required")
	}
	if s.StateDir == "" {
		return s, errors.New("state-dir is required")
	}
	if s.QueueTimeout < 0 {
		return s, fmt.Errorf("queue-timeout must not be negative, got %s", s.QueueTimeout)
	}
	if _, err := parseLevel(s.LogLevel); err != nil {
		return s, err
	}
	if s.LogFormat != "text" && s.LogFormat != "json" {
		return s, fmt.Errorf("log-format must be text or json, got %q", s.LogFormat)
	}

	return s, nil
}

func (s settings) serverConfig(logger *slog.Logger) meterd.Config {
	cfg := meterd.Config{
		MaxConns:     s.MaxConns,
		QueueTimeout: s.QueueTimeout,
		ReadTimeout:  s.ReadTimeout,
		WriteTimeout: s.WriteTimeout,
		Logger:       logger,
	}
	if s.BreakerEnabled {
		cfg.NewCircuitBreaker = meterd.NewCircuitBreakerConfig(s.BreakerMaxRequests, s.BreakerInterval, s.BreakerTimeout, logger)
	}
	return cfg
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log-level %q", s)
	}
	return level, nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: lvl}

	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("log-format must be text or json, got %q", format)
	}
}
