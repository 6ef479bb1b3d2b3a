package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultChromePath = "/usr/bin/chromium-browser"

type RuntimeConfig struct {
	Dev bool
}

type HTTPConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type RedisConfig struct {
	URL      string `yaml:"url"` // host:port or redis://...
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Pending      string        `yaml:"pending"`
	DeadLetter   string        `yaml:"dead_letter"`
	MaxRetries   int           `yaml:"max_retries"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	BackoffCap   time.Duration `yaml:"backoff_cap"`
	GateInterval time.Duration `yaml:"gate_interval"` // wait after a not-ready requeue
	PollTimeout  time.Duration `yaml:"poll_timeout"`  // single BRPOP round
	SendRate     float64       `yaml:"send_rate"`     // messages/sec, 0 = unlimited
	SendBurst    int           `yaml:"send_burst"`
	ConsumerLock bool          `yaml:"consumer_lock"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
	SampleEvery  time.Duration `yaml:"sample_every"` // queue depth gauge refresh
}

type SessionConfig struct {
	Driver          string        `yaml:"driver"` // bridge|noop
	Dir             string        `yaml:"dir"`
	ClientID        string        `yaml:"client_id"`
	ChromePath      string        `yaml:"chrome_path"`
	BridgeCommand   []string      `yaml:"bridge_command"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	MaxRestartDelay time.Duration `yaml:"max_restart_delay"`
	MaxRestarts     int           `yaml:"max_restarts"` // 0 = unlimited
	DestroyTimeout  time.Duration `yaml:"destroy_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	SetupMode       bool          `yaml:"setup_mode"`
	PrintQR         bool          `yaml:"print_qr"`
}

type AlertsConfig struct {
	Language string `yaml:"language"` // alert text catalog, see internal/infra/i18n/locales
	Telegram struct {
		Token  string `yaml:"token"`
		ChatID int64  `yaml:"chat_id"`
	} `yaml:"telegram"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Redis   RedisConfig   `yaml:"redis"`
	Queue   QueueConfig   `yaml:"queue"`
	Session SessionConfig `yaml:"session"`
	Alerts  AlertsConfig  `yaml:"alerts"`
	Metrics MetricsConfig `yaml:"metrics"`

	Runtime RuntimeConfig `yaml:"-"`
}

// UserDataDir is the browser profile directory kept inside the session dir.
func (c SessionConfig) UserDataDir() string {
	return filepath.Join(c.Dir, ".chrome-user-data")
}

// LoadConfig reads the YAML file at path (a missing file is fine), applies
// environment overrides and fills defaults.
func LoadConfig(path string, dev bool) (*Config, error) {
	cfg := defaults()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only deployment
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)

	if cfg.Queue.Pending == cfg.Queue.DeadLetter {
		return nil, errors.New("queue.pending and queue.dead_letter must differ")
	}
	if cfg.Queue.MaxRetries < 0 {
		return nil, errors.New("queue.max_retries must be >= 0")
	}
	switch cfg.Session.Driver {
	case "bridge":
		if len(cfg.Session.BridgeCommand) == 0 {
			return nil, errors.New("session.bridge_command is required for the bridge driver")
		}
	case "noop":
	default:
		return nil, fmt.Errorf("unknown session.driver %q", cfg.Session.Driver)
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if err := integer("PORT", &cfg.HTTP.Port); err != nil {
		return err
	}
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("REDIS_URL", &cfg.Redis.URL)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("WHATSAPP_QUEUE", &cfg.Queue.Pending)
	str("WHATSAPP_FAILED_QUEUE", &cfg.Queue.DeadLetter)
	if err := integer("WHATSAPP_MAX_RETRIES", &cfg.Queue.MaxRetries); err != nil {
		return err
	}
	str("WHATSAPP_SESSION_DIR", &cfg.Session.Dir)
	str("WHATSAPP_CLIENT_ID", &cfg.Session.ClientID)
	str("PUPPETEER_EXECUTABLE_PATH", &cfg.Session.ChromePath)
	str("WHATSAPP_CHROME_PATH", &cfg.Session.ChromePath)
	str("WHATSAPP_DRIVER", &cfg.Session.Driver)
	if v, ok := lookup("WHATSAPP_BRIDGE_CMD"); ok && strings.TrimSpace(v) != "" {
		cfg.Session.BridgeCommand = strings.Fields(v)
	}
	if v, ok := lookup("SETUP_MODE"); ok {
		cfg.Session.SetupMode = strings.TrimSpace(v) == "1"
	}
	str("ALERT_LANGUAGE", &cfg.Alerts.Language)
	str("TELEGRAM_ALERT_TOKEN", &cfg.Alerts.Telegram.Token)
	if v, ok := lookup("TELEGRAM_ALERT_CHAT_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("env TELEGRAM_ALERT_CHAT_ID: %w", err)
		}
		cfg.Alerts.Telegram.ChatID = id
	}
	return nil
}

// defaults is the starting point the YAML file and the environment overlay.
func defaults() Config {
	return Config{
		HTTP:  HTTPConfig{Port: 3001, RequestTimeout: 10 * time.Second},
		Log:   LogConfig{Level: "info", Format: "json"},
		Redis: RedisConfig{URL: "redis://redis:6379"},
		Queue: QueueConfig{
			Pending:      "whatsapp:pending",
			MaxRetries:   5,
			BaseDelay:    500 * time.Millisecond,
			BackoffCap:   5 * time.Second,
			GateInterval: time.Second,
			PollTimeout:  5 * time.Second,
			SendBurst:    1,
			LockTTL:      30 * time.Second,
			SampleEvery:  15 * time.Second,
		},
		Session: SessionConfig{
			Driver:          "bridge",
			BridgeCommand:   []string{"node", "bridge/index.js"},
			Dir:             "session-data",
			ClientID:        "nerdeala",
			ChromePath:      DefaultChromePath,
			ReconnectDelay:  5 * time.Second,
			MaxRestartDelay: 5 * time.Minute,
			MaxRestarts:     10,
			DestroyTimeout:  15 * time.Second,
			SendTimeout:     60 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// applyDefaults repairs values the file or environment blanked out and
// derives the ones that depend on others.
func applyDefaults(cfg *Config) {
	def := defaults()
	if cfg.HTTP.Port <= 0 {
		cfg.HTTP.Port = def.HTTP.Port
	}
	cfg.HTTP.RequestTimeout = orDefault(cfg.HTTP.RequestTimeout, def.HTTP.RequestTimeout)
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = def.Redis.URL
	}

	q := &cfg.Queue
	if q.Pending == "" {
		q.Pending = def.Queue.Pending
	}
	if q.DeadLetter == "" {
		q.DeadLetter = q.Pending + ":failed"
	}
	q.BaseDelay = orDefault(q.BaseDelay, def.Queue.BaseDelay)
	q.BackoffCap = orDefault(q.BackoffCap, def.Queue.BackoffCap)
	q.GateInterval = orDefault(q.GateInterval, def.Queue.GateInterval)
	q.PollTimeout = orDefault(q.PollTimeout, def.Queue.PollTimeout)
	q.LockTTL = orDefault(q.LockTTL, def.Queue.LockTTL)
	q.SampleEvery = orDefault(q.SampleEvery, def.Queue.SampleEvery)
	if q.SendBurst <= 0 {
		q.SendBurst = 1
	}

	s := &cfg.Session
	if s.Driver == "" {
		s.Driver = def.Session.Driver
	}
	if s.Dir == "" {
		s.Dir = def.Session.Dir
	}
	if s.ClientID == "" {
		s.ClientID = def.Session.ClientID
	}
	if s.ChromePath == "" {
		s.ChromePath = DefaultChromePath
	}
	s.ReconnectDelay = orDefault(s.ReconnectDelay, def.Session.ReconnectDelay)
	s.MaxRestartDelay = orDefault(s.MaxRestartDelay, def.Session.MaxRestartDelay)
	s.DestroyTimeout = orDefault(s.DestroyTimeout, def.Session.DestroyTimeout)
	s.SendTimeout = orDefault(s.SendTimeout, def.Session.SendTimeout)
	if s.MaxRestarts < 0 {
		s.MaxRestarts = 0
	}
	if s.SetupMode {
		s.PrintQR = true
	}

	if cfg.Alerts.Language == "" {
		cfg.Alerts.Language = "en"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = def.Metrics.Path
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
