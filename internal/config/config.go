// Package config loads service settings from the environment and an optional config file.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMisconfigured is returned when required settings are missing or invalid.
var ErrMisconfigured = errors.New("misconfigured")

// Store backends.
const (
	StoreDynamo   = "dynamodb"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config holds every setting of the API server.
type Config struct {
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	Region   string `mapstructure:"AWS_REGION"`

	UserPoolID string `mapstructure:"COGNITO_USER_POOL_ID"`
	ClientID   string `mapstructure:"COGNITO_CLIENT_ID"`

	PartnerPoolID       string `mapstructure:"PARTNER_COGNITO_USER_POOL_ID"`
	PartnerClientID     string `mapstructure:"PARTNER_COGNITO_CLIENT_ID"`
	PartnerClientSecret string `mapstructure:"PARTNER_COGNITO_CLIENT_SECRET"`
	PartnerIDAttribute  string `mapstructure:"PARTNER_ID_ATTRIBUTE"`
	PartnerRollback     bool   `mapstructure:"PARTNER_ROLLBACK_ON_FAILURE"`

	AdminAPIKey string `mapstructure:"ADMIN_API_KEY"`

	IssuerBaseURL   string        `mapstructure:"COGNITO_ISSUER_BASE_URL"`
	JWKSRefresh     time.Duration `mapstructure:"JWKS_REFRESH_INTERVAL"`
	TokenLeeway     time.Duration `mapstructure:"TOKEN_LEEWAY"`
	UpstreamTimeout time.Duration `mapstructure:"UPSTREAM_TIMEOUT"`

	TableName        string `mapstructure:"TODOS_TABLE_NAME"`
	StoreBackend     string `mapstructure:"TODO_STORE"`
	PostgresDSN      string `mapstructure:"TODO_PG_DSN"`
	DynamoDBEndpoint string `mapstructure:"DYNAMODB_ENDPOINT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	RateLimitPerSec float64 `mapstructure:"RATE_LIMIT_PER_SEC"`
	RateLimitBurst  int     `mapstructure:"RATE_LIMIT_BURST"`

	CORSOrigins    []string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	TrustedProxies []string `mapstructure:"TRUSTED_PROXIES"`
}

var required = []string{
	"COGNITO_USER_POOL_ID",
	"COGNITO_CLIENT_ID",
	"PARTNER_COGNITO_USER_POOL_ID",
	"PARTNER_COGNITO_CLIENT_ID",
	"PARTNER_COGNITO_CLIENT_SECRET",
	"ADMIN_API_KEY",
	"TODOS_TABLE_NAME",
	"AWS_REGION",
}

// Load reads config.yaml from file (or the default search paths when file is empty),
// then overlays environment variables.
func Load(file string) (*Config, error) {
	v := viper.New()
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/todoapp/")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("TODO_STORE", StoreDynamo)
	v.SetDefault("PARTNER_ID_ATTRIBUTE", "custom:partnerId")
	v.SetDefault("PARTNER_ROLLBACK_ON_FAILURE", true)
	v.SetDefault("JWKS_REFRESH_INTERVAL", time.Hour)
	v.SetDefault("TOKEN_LEEWAY", 5*time.Second)
	v.SetDefault("UPSTREAM_TIMEOUT", 10*time.Second)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("RATE_LIMIT_PER_SEC", 5.0)
	v.SetDefault("RATE_LIMIT_BURST", 10)
	// Keys without defaults are only seen by Unmarshal once bound.
	for _, key := range append(required, "COGNITO_ISSUER_BASE_URL", "TODO_PG_DSN", "DYNAMODB_ENDPOINT", "CORS_ALLOWED_ORIGINS", "TRUSTED_PROXIES") {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.trim()
	return &cfg, nil
}

func (c *Config) trim() {
	for _, p := range []*string{
		&c.HTTPAddr, &c.Region, &c.UserPoolID, &c.ClientID, &c.PartnerPoolID,
		&c.PartnerClientID, &c.PartnerIDAttribute, &c.IssuerBaseURL, &c.TableName,
		&c.StoreBackend, &c.PostgresDSN, &c.DynamoDBEndpoint, &c.LogLevel,
	} {
		*p = strings.TrimSpace(*p)
	}
	c.StoreBackend = strings.ToLower(c.StoreBackend)
}

// Validate lists every missing or invalid setting at once.
func (c *Config) Validate() error {
	values := map[string]string{
		"COGNITO_USER_POOL_ID":          c.UserPoolID,
		"COGNITO_CLIENT_ID":             c.ClientID,
		"PARTNER_COGNITO_USER_POOL_ID":  c.PartnerPoolID,
		"PARTNER_COGNITO_CLIENT_ID":     c.PartnerClientID,
		"PARTNER_COGNITO_CLIENT_SECRET": c.PartnerClientSecret,
		"ADMIN_API_KEY":                 c.AdminAPIKey,
		"TODOS_TABLE_NAME":              c.TableName,
		"AWS_REGION":                    c.Region,
	}
	var problems []string
	for _, key := range required {
		if strings.TrimSpace(values[key]) == "" {
			problems = append(problems, key+" is required")
		}
	}
	switch c.StoreBackend {
	case StoreDynamo, StoreMemory:
	case StorePostgres:
		if c.PostgresDSN == "" {
			problems = append(problems, "TODO_PG_DSN is required when TODO_STORE=postgres")
		}
	default:
		problems = append(problems, fmt.Sprintf("TODO_STORE %q is not one of dynamodb, postgres, memory", c.StoreBackend))
	}
	if c.RateLimitPerSec <= 0 || c.RateLimitBurst <= 0 {
		problems = append(problems, "RATE_LIMIT_PER_SEC and RATE_LIMIT_BURST must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		problems = append(problems, "UPSTREAM_TIMEOUT must be positive")
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		problems = append(problems, "TRUSTED_PROXIES: "+err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMisconfigured, strings.Join(problems, "; "))
	}
	return nil
}

// TrustedProxyPrefixes parses TRUSTED_PROXIES. Entries are CIDR ranges or bare addresses.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, v := range c.TrustedProxies {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// IssuerBase returns the identity provider base URL, derived from the region unless overridden.
func (c *Config) IssuerBase() string {
	if c.IssuerBaseURL != "" {
		return strings.TrimRight(c.IssuerBaseURL, "/")
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com", c.Region)
}
