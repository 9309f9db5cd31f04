package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-relay/core"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
)

// configKeys lists every dotted key the loader reads from file or env.
var configKeys = map[string]valueKind{
	"service_name":          kindString,
	"http.addr":             kindString,
	"database.driver":       kindString,
	"database.dsn":          kindString,
	"database.debug":        kindBool,
	"mail.api_key":          kindString,
	"mail.from_domain":      kindString,
	"mail.relay_address":    kindString,
	"backend.base_url":      kindString,
	"backend.api_key":       kindString,
	"backend.agent_profile": kindString,
	"backend.reply_domain":  kindString,
	"webhook.public_url":    kindString,
	"webhook.key_ttl":       kindInt,
	"webhook.tolerance":     kindInt,
	"transport.timeout":     kindInt,
	"cache.workflow_ttl":    kindInt,
}

// ViperLoader reads raw configuration from an optional YAML file and
// RELAY_* environment variables, e.g. RELAY_DATABASE_DSN.
type ViperLoader struct {
	Path string
	// Env overrides os lookups when set.
	Env map[string]string
}

func (l ViperLoader) LoadRaw(context.Context) (map[string]any, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(l.Path); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("cli: read config %s: %w", path, err)
		}
	}

	raw := map[string]any{}
	for key, kind := range configKeys {
		value, ok := l.lookup(v, key, kind)
		if !ok {
			continue
		}
		setNested(raw, key, value)
	}
	return raw, nil
}

func (l ViperLoader) lookup(v *viper.Viper, key string, kind valueKind) (any, bool) {
	if l.Env != nil {
		envKey := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if value, ok := l.Env[envKey]; ok {
			v.Set(key, value)
		}
	}
	if !v.IsSet(key) {
		return nil, false
	}
	switch kind {
	case kindInt:
		return v.GetInt(key), true
	case kindBool:
		return v.GetBool(key), true
	default:
		return v.GetString(key), true
	}
}

func setNested(out map[string]any, key string, value any) {
	parts := strings.Split(key, ".")
	current := out
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
}

// loadConfig resolves defaults < file/env < runtime overrides.
func loadConfig(ctx context.Context, opts *RootOptions, runtime core.Config) (core.Config, error) {
	loader := ViperLoader{}
	if opts != nil {
		loader.Path = opts.ConfigPath
	}
	return core.LoadConfig(ctx, core.NewCfgxConfigProvider(loader), core.GoOptionsResolver{}, runtime)
}
