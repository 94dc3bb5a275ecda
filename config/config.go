package config

import (
	"errors"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

const minStateSecretLength = 32

// Config holds every runtime setting, read from the environment.
type Config struct {
	Port    string `env:"PORT" envDefault:"5000"`
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	GinMode string `env:"GIN_MODE"`

	MongoURI      string        `env:"MONGODB_URI,required"`
	MongoDatabase string        `env:"MONGODB_DATABASE" envDefault:"nistmatch"`
	StoreTimeout  time.Duration `env:"STORE_TIMEOUT" envDefault:"10s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID,required"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET,required"`
	OAuthCallbackURL   string `env:"OAUTH_CALLBACK_URL" envDefault:"http://localhost:5000/auth/external/callback"`
	OAuthStateSecret   string `env:"OAUTH_STATE_SECRET,required"`

	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionCookieName string        `env:"SESSION_COOKIE_NAME" envDefault:"nist_session"`
	CookieSecure      bool          `env:"COOKIE_SECURE" envDefault:"false"`

	FrontendURL         string   `env:"FRONTEND_URL" envDefault:"http://localhost:5173"`
	DefaultRedirectPath string   `env:"DEFAULT_REDIRECT_PATH" envDefault:"/"`
	CompleteProfilePath string   `env:"COMPLETE_PROFILE_PATH" envDefault:"/create-profile"`
	FailurePath         string   `env:"FAILURE_PATH" envDefault:"/login"`
	CORSOrigins         []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`

	// ProfileTrustPayloadID restores the legacy behaviour where POST /api/profile
	// accepts any payload id without a session.
	ProfileTrustPayloadID bool `env:"PROFILE_TRUST_PAYLOAD_ID" envDefault:"false"`

	CloudinaryURL string `env:"CLOUDINARY_URL"`
	AuthRateLimit int    `env:"AUTH_RATE_LIMIT" envDefault:"20"`
}

var ErrStateSecretTooShort = errors.New("OAUTH_STATE_SECRET must be at least 32 bytes")

// Load reads the process environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFrom reads settings from the given map instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.OAuthStateSecret) < minStateSecretLength {
		return ErrStateSecretTooShort
	}
	if c.IsProduction() {
		c.CookieSecure = true
	}
	c.FrontendURL = strings.TrimRight(c.FrontendURL, "/")
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{c.FrontendURL}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// Redirect joins the frontend base URL with a path.
func (c *Config) Redirect(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.FrontendURL + path
}
