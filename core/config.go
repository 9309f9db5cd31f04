package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	DatabaseDriverSQLite   = "sqlite3"
	DatabaseDriverPostgres = "postgres"
)

type HTTPConfig struct {
	Addr string `koanf:"addr" mapstructure:"addr"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" mapstructure:"driver"`
	DSN    string `koanf:"dsn" mapstructure:"dsn"`
	Debug  bool   `koanf:"debug" mapstructure:"debug"`
}

type MailConfig struct {
	APIKey       string `koanf:"api_key" mapstructure:"api_key"`
	FromDomain   string `koanf:"from_domain" mapstructure:"from_domain"`
	RelayAddress string `koanf:"relay_address" mapstructure:"relay_address"`
}

type BackendConfig struct {
	BaseURL      string `koanf:"base_url" mapstructure:"base_url"`
	APIKey       string `koanf:"api_key" mapstructure:"api_key"`
	AgentProfile string `koanf:"agent_profile" mapstructure:"agent_profile"`
	ReplyDomain  string `koanf:"reply_domain" mapstructure:"reply_domain"`
}

// WebhookConfig durations are expressed in seconds.
type WebhookConfig struct {
	PublicURL string `koanf:"public_url" mapstructure:"public_url"`
	KeyTTL    int    `koanf:"key_ttl" mapstructure:"key_ttl"`
	Tolerance int    `koanf:"tolerance" mapstructure:"tolerance"`
}

type TransportConfig struct {
	Timeout int `koanf:"timeout" mapstructure:"timeout"`
}

type CacheConfig struct {
	WorkflowTTL int `koanf:"workflow_ttl" mapstructure:"workflow_ttl"`
}

type Config struct {
	ServiceName string          `koanf:"service_name" mapstructure:"service_name"`
	HTTP        HTTPConfig      `koanf:"http" mapstructure:"http"`
	Database    DatabaseConfig  `koanf:"database" mapstructure:"database"`
	Mail        MailConfig      `koanf:"mail" mapstructure:"mail"`
	Backend     BackendConfig   `koanf:"backend" mapstructure:"backend"`
	Webhook     WebhookConfig   `koanf:"webhook" mapstructure:"webhook"`
	Transport   TransportConfig `koanf:"transport" mapstructure:"transport"`
	Cache       CacheConfig     `koanf:"cache" mapstructure:"cache"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "relay",
		HTTP:        HTTPConfig{Addr: ":8080"},
		Database: DatabaseConfig{
			Driver: DatabaseDriverSQLite,
			DSN:    "file:relay.db?cache=shared&_foreign_keys=on",
		},
		Backend: BackendConfig{
			BaseURL:     "https://api.manus.ai/v1",
			ReplyDomain: "manus.bot",
		},
		Webhook: WebhookConfig{
			KeyTTL:    3600,
			Tolerance: 300,
		},
		Transport: TransportConfig{Timeout: 30},
		Cache:     CacheConfig{WorkflowTTL: 60},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	switch strings.TrimSpace(c.Database.Driver) {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("core: database.driver %q is not supported", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("core: database.dsn is required")
	}
	if strings.TrimSpace(c.Backend.ReplyDomain) == "" {
		return fmt.Errorf("core: backend.reply_domain is required")
	}
	if c.Webhook.KeyTTL <= 0 {
		return fmt.Errorf("core: webhook.key_ttl must be positive")
	}
	if c.Webhook.Tolerance <= 0 {
		return fmt.Errorf("core: webhook.tolerance must be positive")
	}
	if c.Transport.Timeout <= 0 {
		return fmt.Errorf("core: transport.timeout must be positive")
	}
	if c.Cache.WorkflowTTL < 0 {
		return fmt.Errorf("core: cache.workflow_ttl must not be negative")
	}
	return nil
}

// ValidateRuntime checks the settings needed to serve traffic, on top of Validate.
func (c Config) ValidateRuntime() error {
	if err := c.Validate(); err != nil {
		return err
	}
	required := map[string]string{
		"mail.api_key":       c.Mail.APIKey,
		"mail.from_domain":   c.Mail.FromDomain,
		"mail.relay_address": c.Mail.RelayAddress,
		"backend.base_url":   c.Backend.BaseURL,
		"backend.api_key":    c.Backend.APIKey,
	}
	for _, key := range []string{"mail.api_key", "mail.from_domain", "mail.relay_address", "backend.base_url", "backend.api_key"} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("core: %s is required", key)
		}
	}
	return nil
}

func (c WebhookConfig) KeyTTLDuration() time.Duration {
	return time.Duration(c.KeyTTL) * time.Second
}

func (c WebhookConfig) ToleranceDuration() time.Duration {
	return time.Duration(c.Tolerance) * time.Second
}

func (c TransportConfig) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c CacheConfig) WorkflowTTLDuration() time.Duration {
	return time.Duration(c.WorkflowTTL) * time.Second
}
