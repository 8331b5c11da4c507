package auth

import (
	"os"
	"strings"
	"time"
)

// Config controls access-token issuing and verification.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	AccessTokenTTL time.Duration

	// ClockSkew is the tolerance applied during verification.
	ClockSkew time.Duration

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign v4.public tokens.
	PasetoV4SecretKeyHex string
}

func DefaultConfig() Config {
	return Config{
		Issuer:         "picked",
		AccessTokenTTL: 15 * time.Minute,
		ClockSkew:      30 * time.Second,
	}
}

// LoadConfigFromEnv loads auth configuration from the environment.
//
// Optional:
//   - PICKED_PASETO_V4_SECRET_KEY_HEX (empty leaves the key unset; see GenerateSecretKeyHex)
//   - PICKED_AUTH_ISSUER
//   - PICKED_AUTH_ACCESS_TTL
//   - PICKED_AUTH_CLOCK_SKEW
//
// Returns ErrConfig if a value is present but invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("PICKED_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("PICKED_AUTH_ACCESS_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.AccessTokenTTL = d
	}

	if v := os.Getenv("PICKED_AUTH_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("PICKED_PASETO_V4_SECRET_KEY_HEX"))
	return cfg, nil
}
