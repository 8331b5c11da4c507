package app

import (
	"testing"
	"time"

	"picked/cmd/internal/notify"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PICKED_TEST_STR", "  value ")
	t.Setenv("PICKED_TEST_BOOL", "nope")
	t.Setenv("PICKED_TEST_INT", "-3")
	t.Setenv("PICKED_TEST_INT32", "0")
	t.Setenv("PICKED_TEST_DUR", "90s")
	t.Setenv("PICKED_TEST_LIST", " https://a.example, ,https://b.example ")

	if got := EnvString("PICKED_TEST_STR", "def"); got != "value" {
		t.Fatalf("EnvString=%q", got)
	}
	if got := EnvString("PICKED_TEST_UNSET", "def"); got != "def" {
		t.Fatalf("EnvString unset=%q", got)
	}
	if got := EnvBool("PICKED_TEST_BOOL", true); !got {
		t.Fatalf("EnvBool should fall back on a bad value")
	}
	if got := EnvInt("PICKED_TEST_INT", 7); got != 7 {
		t.Fatalf("EnvInt=%d want fallback 7", got)
	}
	if got := EnvInt32("PICKED_TEST_INT32", 5); got != 0 {
		t.Fatalf("EnvInt32=%d want 0", got)
	}
	if got := EnvDuration("PICKED_TEST_DUR", time.Second); got != 90*time.Second {
		t.Fatalf("EnvDuration=%s", got)
	}
	got := EnvList("PICKED_TEST_LIST", nil)
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Fatalf("EnvList=%q", got)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{
		"PICKED_HTTP_ADDR", "PICKED_DATABASE_URL", "PICKED_REDIS_ADDR", "PICKED_STORE_TIMEOUT",
		"PICKED_RESEND_API_KEY", "PICKED_RESEND_FROM", "PICKED_SITE_URL", "PICKED_AUTH_ACCESS_TTL",
		"PICKED_DB_SCHEMA", "PICKED_NOTIFY_IDLE_WINDOW",
	} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.HTTPAddr != "0.0.0.0:8080" || cfg.DatabaseURL != "" || cfg.RedisAddr != "" || cfg.DBSchema != "public" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Messaging.StoreTimeout != 5*time.Second || cfg.Messaging.IdleWindow != 5*time.Minute {
		t.Fatalf("messaging defaults: %+v", cfg.Messaging)
	}
	if cfg.Notify.From != notify.DefaultFrom || cfg.Notify.SiteURL != notify.DefaultSiteURL || cfg.Notify.APIKey != "" {
		t.Fatalf("notify defaults: %+v", cfg.Notify)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute || !cfg.WS.OriginRequired {
		t.Fatalf("auth/ws defaults: %+v %+v", cfg.Auth, cfg.WS)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("PICKED_STORE_TIMEOUT", "2s")
	t.Setenv("PICKED_REDIS_ADDR", "redis:6379")
	t.Setenv("PICKED_REDIS_DB", "3")
	t.Setenv("PICKED_WS_ALLOWED_ORIGINS", "https://getpicked.co,https://www.getpicked.co")
	t.Setenv("PICKED_WS_RATE_EVENTS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Messaging.StoreTimeout != 2*time.Second || cfg.RedisAddr != "redis:6379" || cfg.RedisDB != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if len(cfg.WS.AllowedOrigins) != 2 || cfg.WS.RateEvents != 30 {
		t.Fatalf("ws overrides: %+v", cfg.WS)
	}
}

func TestLoadConfig_InvalidAuthTTL(t *testing.T) {
	t.Setenv("PICKED_AUTH_ACCESS_TTL", "soon")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for invalid PICKED_AUTH_ACCESS_TTL")
	}
}

func TestValidateSecurityConfig(t *testing.T) {
	t.Parallel()

	cfg := Config{RequireTokenKey: true}
	cfg.WS.OriginRequired = true
	err := ValidateSecurityConfig(cfg)
	if err == nil {
		t.Fatalf("expected policy error")
	}

	cfg.Auth.PasetoV4SecretKeyHex = "aa"
	cfg.WS.AllowedOrigins = []string{"https://getpicked.co"}
	if err := ValidateSecurityConfig(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
