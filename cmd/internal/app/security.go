package app

import (
	"errors"
	"fmt"
	"strings"
)

// ValidateSecurityConfig rejects configurations that would start with weaker
// guarantees than the operator asked for.
func ValidateSecurityConfig(cfg Config) error {
	var errs []error

	if cfg.RequireTokenKey && strings.TrimSpace(cfg.Auth.PasetoV4SecretKeyHex) == "" {
		errs = append(errs, errors.New("PICKED_AUTH_REQUIRE_KEY=true but PICKED_PASETO_V4_SECRET_KEY_HEX is empty"))
	}
	if cfg.WS.OriginRequired && len(cfg.WS.AllowedOrigins) == 0 {
		errs = append(errs, errors.New("PICKED_WS_ORIGIN_REQUIRED=true needs PICKED_WS_ALLOWED_ORIGINS"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("security policy: %w", errors.Join(errs...))
}
