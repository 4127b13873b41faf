package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/manpreetbhatti/canvas/internal/janitor"
	"github.com/manpreetbhatti/canvas/internal/ratelimit"
	"github.com/manpreetbhatti/canvas/internal/ws"
)

const envPrefix = "CANVAS_"

// Config is read from defaults, then CANVAS_* variables, then flags. Keys
// are the variable names without the prefix.
type Config struct {
	Addr     string `mapstructure:"ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// Activity journal location. Empty disables the journal.
	DBPath string `mapstructure:"DB_PATH"`

	MaxMessageSize int64   `mapstructure:"MAX_MESSAGE_SIZE"`
	SendBuffer     int     `mapstructure:"SEND_BUFFER"`
	PreviewRate    float64 `mapstructure:"PREVIEW_RATE"`
	PreviewBurst   int     `mapstructure:"PREVIEW_BURST"`
	CommitRate     float64 `mapstructure:"COMMIT_RATE"`
	CommitBurst    int     `mapstructure:"COMMIT_BURST"`
	MaxViolations  int     `mapstructure:"MAX_VIOLATIONS"`

	RoomIdleTTL     time.Duration `mapstructure:"ROOM_IDLE_TTL"`
	JanitorInterval time.Duration `mapstructure:"JANITOR_INTERVAL"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	MDNS         bool   `mapstructure:"MDNS"`
	MDNSInstance string `mapstructure:"MDNS_INSTANCE"`
}

func Default() Config {
	wsDefaults := ws.DefaultConfig()
	return Config{
		Addr:            ":3000",
		LogLevel:        "info",
		MaxMessageSize:  wsDefaults.MaxMessageSize,
		SendBuffer:      wsDefaults.SendBuffer,
		PreviewRate:     wsDefaults.Preview.PerSecond,
		PreviewBurst:    wsDefaults.Preview.Burst,
		CommitRate:      wsDefaults.Commit.PerSecond,
		CommitBurst:     wsDefaults.Commit.Burst,
		MaxViolations:   wsDefaults.MaxViolations,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load returns the defaults overlaid with the process environment
func Load() (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays KEY=value pairs. PORT is honoured for hosting platforms
// that only set that.
func (c *Config) ApplyEnv(environ []string) error {
	values := make(map[string]any)
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch {
		case key == "PORT" && value != "":
			if _, err := strconv.Atoi(value); err != nil {
				return errors.Errorf("PORT %q is not a number", value)
			}
			if _, set := values["ADDR"]; !set {
				values["ADDR"] = ":" + value
			}
		case strings.HasPrefix(key, envPrefix):
			values[strings.TrimPrefix(key, envPrefix)] = value
		}
	}
	if len(values) == 0 {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           c,
	})
	if err != nil {
		return errors.Wrap(err, "build env decoder")
	}
	return errors.Wrap(decoder.Decode(values), "decode environment")
}

func (c Config) Validate() error {
	if _, err := c.Port(); err != nil {
		return err
	}
	if c.MaxMessageSize <= 0 {
		return errors.Errorf("max message size must be positive, got %d", c.MaxMessageSize)
	}
	if c.SendBuffer <= 0 {
		return errors.Errorf("send buffer must be positive, got %d", c.SendBuffer)
	}
	if c.PreviewRate <= 0 || c.PreviewBurst <= 0 {
		return errors.New("preview rate and burst must be positive")
	}
	if c.CommitRate <= 0 || c.CommitBurst <= 0 {
		return errors.New("commit rate and burst must be positive")
	}
	if c.RoomIdleTTL < 0 || c.JanitorInterval < 0 {
		return errors.New("janitor durations cannot be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

// Port is the numeric port from Addr
func (c Config) Port() (int, error) {
	_, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid addr %q", c.Addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return 0, errors.Errorf("invalid port in addr %q", c.Addr)
	}
	return n, nil
}

func (c Config) WS() ws.Config {
	return ws.Config{
		MaxMessageSize: c.MaxMessageSize,
		SendBuffer:     c.SendBuffer,
		Preview:        ratelimit.Rule{PerSecond: c.PreviewRate, Burst: c.PreviewBurst},
		Commit:         ratelimit.Rule{PerSecond: c.CommitRate, Burst: c.CommitBurst},
		MaxViolations:  c.MaxViolations,
	}
}

func (c Config) Janitor() janitor.Config {
	return janitor.Config{Interval: c.JanitorInterval, IdleTTL: c.RoomIdleTTL}
}
