// Package config loads and validates process configuration via Viper.
package config

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config captures every environment-configurable knob the pipeline reads at
// startup. Configuration is loaded once per process and frozen.
type Config struct {
	SupabaseURL            string `mapstructure:"supabase_url"`
	SupabaseServiceRoleKey string `mapstructure:"supabase_service_role_key"`

	BotUserAgent string `mapstructure:"bot_user_agent"`
	RateLimitMs  int    `mapstructure:"rate_limit_ms"`

	OpenAIAPIKey   string `mapstructure:"openai_api_key"`
	LLMBudgetCents int    `mapstructure:"llm_budget_cents"`

	GymUsername   string `mapstructure:"gym_username"`
	GymPassword   string `mapstructure:"gym_password"`
	GymTOTPSecret string `mapstructure:"gym_totp_secret"`

	CookieTTLHours  int    `mapstructure:"cookie_ttl_hours"`
	CookieStorePath string `mapstructure:"cookie_store_path"`

	MaxCrawlDepth int `mapstructure:"max_crawl_depth"`

	LogDevelopment bool   `mapstructure:"log_development"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// Load reads configuration from the environment, applying spec defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	bind := map[string]string{
		"supabase_url":              "SUPABASE_URL",
		"supabase_service_role_key": "SUPABASE_SERVICE_ROLE_KEY",
		"bot_user_agent":            "BOT_USER_AGENT",
		"rate_limit_ms":             "RATE_LIMIT_MS",
		"openai_api_key":            "OPENAI_API_KEY",
		"llm_budget_cents":          "LLM_BUDGET_CENTS",
		"gym_username":              "GYM_USERNAME",
		"gym_password":              "GYM_PASSWORD",
		"gym_totp_secret":           "GYM_TOTP_SECRET",
		"cookie_ttl_hours":          "COOKIE_TTL_HOURS",
		"cookie_store_path":         "COOKIE_STORE_PATH",
		"max_crawl_depth":           "MAX_CRAWL_DEPTH",
		"log_development":           "LOG_DEVELOPMENT",
		"metrics_addr":              "METRICS_ADDR",
	}
	for key, env := range bind {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	expanded, err := homedir.Expand(cfg.CookieStorePath)
	if err != nil {
		return Config{}, fmt.Errorf("expand cookie store path: %w", err)
	}
	cfg.CookieStorePath = expanded

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot_user_agent", "MilesC-GymBot/1.0 (+url)")
	v.SetDefault("rate_limit_ms", 2000)
	v.SetDefault("llm_budget_cents", 50)
	v.SetDefault("cookie_ttl_hours", 24)
	v.SetDefault("cookie_store_path", ".cookies.json")
	v.SetDefault("max_crawl_depth", 5)
	v.SetDefault("log_development", false)
	v.SetDefault("metrics_addr", "")
}

// Validate enforces the required credentials named in the environment table.
func (c Config) Validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.RateLimitMs <= 0 {
		return fmt.Errorf("RATE_LIMIT_MS must be > 0")
	}
	if c.MaxCrawlDepth <= 0 {
		return fmt.Errorf("MAX_CRAWL_DEPTH must be > 0")
	}
	if c.CookieTTLHours <= 0 {
		return fmt.Errorf("COOKIE_TTL_HOURS must be > 0")
	}
	return nil
}

// LLMEnabled reports whether the optional navigation planner has credentials.
func (c Config) LLMEnabled() bool { return c.OpenAIAPIKey != "" }
