// Package config loads the TOML configuration file that drives a run:
// which service to start, how long to let it live, where to count
// failures, and who to tell when the streak grows.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/vigil/internal/escalation"
	"github.com/loykin/vigil/internal/logger"
	"github.com/loykin/vigil/internal/notify"
	"github.com/loykin/vigil/internal/supervisor"
)

// Config is the top-level TOML structure.
type Config struct {
	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Service    supervisor.Spec  `mapstructure:"service"`
	Log        logger.Config    `mapstructure:"log"`
	Counter    CounterConfig    `mapstructure:"counter"`
	History    HistoryConfig    `mapstructure:"history"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Server     ServerConfig     `mapstructure:"server"`
}

type CounterConfig struct {
	DSN string `mapstructure:"dsn"`
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type EscalationConfig struct {
	Rules             []RuleConfig `mapstructure:"rules"`
	CriticalThreshold int          `mapstructure:"critical_threshold"`
}

type RuleConfig struct {
	Min  int    `mapstructure:"min"`
	Tier string `mapstructure:"tier"`
}

type NotifyConfig struct {
	Email   notify.EmailConfig   `mapstructure:"email"`
	Webhook notify.WebhookConfig `mapstructure:"webhook"`
	Desktop notify.DesktopConfig `mapstructure:"desktop"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// Load reads and validates the config at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	env, err := mergeEnv(c.Env, c.EnvFiles)
	if err != nil {
		return nil, err
	}
	c.Service.Env = append(c.Service.Env, env...)
	c.Service.Log = c.Log
	return &c, nil
}

func (c *Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if c.Service.Command == "" {
		return fmt.Errorf("service.command is required")
	}
	for _, r := range c.Escalation.Rules {
		if _, err := notify.ParseTier(r.Tier); err != nil {
			return fmt.Errorf("escalation rule min=%d: %w", r.Min, err)
		}
		if r.Min < 1 {
			return fmt.Errorf("escalation rule tier=%s: min must be >= 1", r.Tier)
		}
	}
	return nil
}

// Table converts configured escalation rules, falling back to the default
// ladder when none are set.
func (c *EscalationConfig) Table() (escalation.Table, error) {
	if len(c.Rules) == 0 {
		return escalation.DefaultTable(), nil
	}
	rules := make([]escalation.Rule, 0, len(c.Rules))
	for _, r := range c.Rules {
		tier, err := notify.ParseTier(r.Tier)
		if err != nil {
			return nil, err
		}
		rules = append(rules, escalation.Rule{Min: r.Min, Tier: tier})
	}
	return escalation.NewTable(rules)
}

// Channels materializes the configured notification channels in a stable
// order. Unconfigured ones are still included; the dispatcher skips them.
func (c *NotifyConfig) Channels() []notify.Channel {
	return []notify.Channel{
		notify.NewEmailChannel(c.Email),
		notify.NewWebhookChannel(c.Webhook),
		notify.NewDesktopChannel(c.Desktop),
		notify.NewSystemLogChannel(),
	}
}

// mergeEnv combines env files (in order) with inline KEY=VALUE entries,
// inline entries winning.
func mergeEnv(inline, files []string) ([]string, error) {
	m := make(map[string]string)
	order := make([]string, 0)
	set := func(kv string) {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return
		}
		if _, seen := m[k]; !seen {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range files {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			set(kv)
		}
	}
	for _, kv := range inline {
		set(kv)
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a dotenv-style file: KEY=VALUE per line, '#' comments,
// optional single or double quotes around the value.
func loadEnvFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if n := len(v); n >= 2 {
			if (v[0] == '\'' && v[n-1] == '\'') || (v[0] == '"' && v[n-1] == '"') {
				v = v[1 : n-1]
			}
		}
		out = append(out, k+"="+v)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
