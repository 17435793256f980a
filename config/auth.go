package config

import (
	"net/http"
	"strings"
	"time"
)

// TokenConfig holds JWT signing and lifetime settings.
//
// In production SECRET is required; Sanitize refuses to run without it unless
// development mode is active, in which case the token service synthesizes an
// ephemeral secret and logs a warning.
type TokenConfig struct {
	Secret string `env:"SECRET"`
	Issuer string `env:"ISSUER" envDefault:"mealdesk"`

	AccessLifetime  time.Duration `env:"ACCESS_LIFETIME"  envDefault:"15m"`
	RefreshLifetime time.Duration `env:"REFRESH_LIFETIME" envDefault:"168h"`

	// AllowDevSecret is derived from the application dev flag in Sanitize.
	AllowDevSecret bool `env:"-"`
}

// Sanitize applies guardrails to token settings.
func (c *TokenConfig) Sanitize(isDev bool) {
	c.AllowDevSecret = isDev
	if c.AccessLifetime <= 0 {
		c.AccessLifetime = 15 * time.Minute
	}
	if c.RefreshLifetime <= c.AccessLifetime {
		c.RefreshLifetime = 168 * time.Hour
	}
}

// SessionConfig holds refresh-session and login settings.
type SessionConfig struct {
	Lifetime      time.Duration `env:"LIFETIME"       envDefault:"168h"`
	MaxConcurrent int           `env:"MAX_CONCURRENT" envDefault:"5"`

	DefaultLocale    string   `env:"DEFAULT_LOCALE"    envDefault:"en"`
	SupportedLocales []string `env:"SUPPORTED_LOCALES" envDefault:"en,ar"`

	CookieName     string `env:"COOKIE_NAME"     envDefault:"refresh_token"`
	CookiePath     string `env:"COOKIE_PATH"     envDefault:"/api/auth"`
	CookieDomain   string `env:"COOKIE_DOMAIN"   envDefault:""`
	CookieSecure   bool   `env:"COOKIE_SECURE"   envDefault:"true"`
	CookieSameSite string `env:"COOKIE_SAMESITE" envDefault:"strict"`

	// Login attempts per username are rate limited to slow credential
	// stuffing without locking accounts.
	LoginRatePerMinute int `env:"LOGIN_RATE_PER_MINUTE" envDefault:"10"`
	LoginBurst         int `env:"LOGIN_BURST"           envDefault:"5"`
}

// Sanitize applies guardrails to session settings.
func (c *SessionConfig) Sanitize() {
	if c.Lifetime <= 0 {
		c.Lifetime = 168 * time.Hour
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
	if len(c.SupportedLocales) == 0 {
		c.SupportedLocales = []string{c.DefaultLocale}
	}
	if c.LoginRatePerMinute <= 0 {
		c.LoginRatePerMinute = 10
	}
	if c.LoginBurst <= 0 {
		c.LoginBurst = 5
	}
}

// SameSite maps the configured cookie policy to its http constant. Anything
// unrecognised falls back to strict.
func (c *SessionConfig) SameSite() http.SameSite {
	switch strings.ToLower(c.CookieSameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
