//go:build !integration

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func fakeEnv(m map[string]string) lookupFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// clearEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into file based tests.
func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "LOG_LEVEL", "LOG_FORMAT", "REDIS_URL", "REDIS_PASSWORD",
		"WHATSAPP_QUEUE", "WHATSAPP_FAILED_QUEUE", "WHATSAPP_MAX_RETRIES",
		"WHATSAPP_SESSION_DIR", "WHATSAPP_CLIENT_ID", "PUPPETEER_EXECUTABLE_PATH",
		"WHATSAPP_CHROME_PATH", "WHATSAPP_DRIVER", "WHATSAPP_BRIDGE_CMD",
		"TELEGRAM_ALERT_TOKEN", "TELEGRAM_ALERT_CHAT_ID", "ALERT_LANGUAGE",
	} {
		t.Setenv(k, "")
	}
	// any SETUP_MODE value counts, so it has to be absent
	t.Setenv("SETUP_MODE", "")
	_ = os.Unsetenv("SETUP_MODE")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), false)
	if err != nil {
		t.Fatalf("expected a missing file to be fine, got %v", err)
	}

	if cfg.HTTP.Port != 3001 {
		t.Errorf("port = %d, want 3001", cfg.HTTP.Port)
	}
	if cfg.Queue.Pending != "whatsapp:pending" || cfg.Queue.DeadLetter != "whatsapp:pending:failed" {
		t.Errorf("queues = %q / %q", cfg.Queue.Pending, cfg.Queue.DeadLetter)
	}
	if cfg.Queue.MaxRetries != 5 {
		t.Errorf("max retries = %d, want 5", cfg.Queue.MaxRetries)
	}
	if cfg.Session.ClientID != "nerdeala" || cfg.Session.Dir != "session-data" {
		t.Errorf("session = %+v", cfg.Session)
	}
	if cfg.Session.UserDataDir() != filepath.Join("session-data", ".chrome-user-data") {
		t.Errorf("user data dir = %q", cfg.Session.UserDataDir())
	}
	if cfg.Session.PrintQR || cfg.Session.SetupMode {
		t.Error("setup mode must be off by default")
	}
	if cfg.Alerts.Language != "en" {
		t.Errorf("alert language = %q", cfg.Alerts.Language)
	}
}

func TestLoadConfig_YAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
http:
  port: 8080
queue:
  pending: jobs
  max_retries: 0
  base_delay: 250ms
session:
  driver: noop
  setup_mode: true
`)
	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.HTTP.Port != 8080 {
		t.Errorf("port = %d", cfg.HTTP.Port)
	}
	if cfg.Queue.DeadLetter != "jobs:failed" {
		t.Errorf("dead letter should derive from pending, got %q", cfg.Queue.DeadLetter)
	}
	if cfg.Queue.MaxRetries != 0 {
		t.Errorf("explicit max_retries 0 must be kept, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.BaseDelay != 250*time.Millisecond {
		t.Errorf("base delay = %s", cfg.Queue.BaseDelay)
	}
	if cfg.Queue.BackoffCap != 5*time.Second {
		t.Errorf("unset backoff cap should default, got %s", cfg.Queue.BackoffCap)
	}
	if !cfg.Session.PrintQR {
		t.Error("setup mode implies printing the QR")
	}
	if !cfg.Runtime.Dev {
		t.Error("dev flag not applied")
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	clearEnv(t)
	tests := map[string]string{
		"same queues":    "queue:\n  pending: q\n  dead_letter: q\n",
		"negative retry": "queue:\n  max_retries: -1\n",
		"unknown driver": "session:\n  driver: selenium\n",
		"bridge w/o cmd": "session:\n  driver: bridge\n  bridge_command: []\n",
		"malformed yaml": "http: [",
		"bad duration":   "queue:\n  base_delay: soon\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, body), false); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Run("should override file values", func(t *testing.T) {
		cfg := defaults()
		err := applyEnv(&cfg, fakeEnv(map[string]string{
			"PORT":                   "4000",
			"REDIS_URL":              "redis://cache:6380/2",
			"WHATSAPP_QUEUE":         "wa:out",
			"WHATSAPP_MAX_RETRIES":   "2",
			"WHATSAPP_SESSION_DIR":   "/data/session",
			"WHATSAPP_CLIENT_ID":     "acme",
			"WHATSAPP_BRIDGE_CMD":    "node  bridge.js --quiet",
			"SETUP_MODE":             "1",
			"TELEGRAM_ALERT_TOKEN":   "123:abc",
			"TELEGRAM_ALERT_CHAT_ID": "-1001",
			"ALERT_LANGUAGE":         "es",
		}))
		if err != nil {
			t.Fatal(err)
		}
		applyDefaults(&cfg)

		if cfg.HTTP.Port != 4000 || cfg.Redis.URL != "redis://cache:6380/2" {
			t.Errorf("http/redis not overridden: %+v %+v", cfg.HTTP, cfg.Redis)
		}
		if cfg.Queue.Pending != "wa:out" || cfg.Queue.DeadLetter != "wa:out:failed" || cfg.Queue.MaxRetries != 2 {
			t.Errorf("queue = %+v", cfg.Queue)
		}
		if cfg.Session.Dir != "/data/session" || cfg.Session.ClientID != "acme" {
			t.Errorf("session = %+v", cfg.Session)
		}
		if got := cfg.Session.BridgeCommand; len(got) != 3 || got[0] != "node" || got[2] != "--quiet" {
			t.Errorf("bridge command = %q", got)
		}
		if !cfg.Session.SetupMode || !cfg.Session.PrintQR {
			t.Error("SETUP_MODE=1 not applied")
		}
		if cfg.Alerts.Telegram.Token != "123:abc" || cfg.Alerts.Telegram.ChatID != -1001 || cfg.Alerts.Language != "es" {
			t.Errorf("alerts = %+v", cfg.Alerts.Telegram)
		}
	})

	t.Run("should prefer WHATSAPP_CHROME_PATH", func(t *testing.T) {
		cfg := defaults()
		_ = applyEnv(&cfg, fakeEnv(map[string]string{
			"PUPPETEER_EXECUTABLE_PATH": "/opt/puppeteer/chrome",
			"WHATSAPP_CHROME_PATH":      "/opt/chrome",
		}))
		if cfg.Session.ChromePath != "/opt/chrome" {
			t.Errorf("chrome path = %q", cfg.Session.ChromePath)
		}
	})

	t.Run("should ignore blank values", func(t *testing.T) {
		cfg := defaults()
		_ = applyEnv(&cfg, fakeEnv(map[string]string{"WHATSAPP_QUEUE": "  ", "PORT": ""}))
		if cfg.Queue.Pending != "whatsapp:pending" || cfg.HTTP.Port != 3001 {
			t.Errorf("blank env clobbered defaults: %+v", cfg.Queue)
		}
	})

	t.Run("should reject malformed numbers", func(t *testing.T) {
		for _, env := range []map[string]string{
			{"PORT": "http"},
			{"WHATSAPP_MAX_RETRIES": "five"},
			{"TELEGRAM_ALERT_CHAT_ID": "chat"},
		} {
			cfg := defaults()
			if err := applyEnv(&cfg, fakeEnv(env)); err == nil {
				t.Errorf("expected an error for %v", env)
			}
		}
	})

	t.Run("SETUP_MODE only turns on with 1", func(t *testing.T) {
		cfg := defaults()
		cfg.Session.SetupMode = true
		_ = applyEnv(&cfg, fakeEnv(map[string]string{"SETUP_MODE": "true"}))
		if cfg.Session.SetupMode {
			t.Error("SETUP_MODE=true must not enable setup mode")
		}
	})
}
