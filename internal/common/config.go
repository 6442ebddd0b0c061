package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/keepalive/internal/models"
)

// CredentialSeparator joins multiple credentials in one environment value
// and in the blob written back to the secret store. The comma fallback is
// best-effort only (see ParseCredentials).
const CredentialSeparator = "|||"

// ConfigError reports unusable configuration. It aborts the process before
// any side effects.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config error: " + e.Reason
}

// TelegramConfig enables the notifier when both fields are set.
type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

// Configured reports whether notification is enabled.
func (t TelegramConfig) Configured() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// SecretsConfig enables the secret store when both fields are set.
type SecretsConfig struct {
	Token string `toml:"token"`
	Repo  string `toml:"repo" validate:"omitempty,contains=/"`
}

// Configured reports whether secret persistence is enabled.
func (s SecretsConfig) Configured() bool {
	return s.Token != "" && s.Repo != ""
}

// Config is the immutable run configuration, constructed once at entry and
// passed explicitly to components.
type Config struct {
	Provider      string  `toml:"provider" validate:"required"`
	ServerID      string  `toml:"server_id"`
	ThresholdDays float64 `toml:"threshold_days" validate:"gte=0"`
	ForceRenew    bool    `toml:"force_renew"`
	Debug         bool    `toml:"debug"`
	Headless      bool    `toml:"headless"`
	Timezone      string  `toml:"timezone"`
	RestartWait   time.Duration
	ScreenshotDir string // debug path; screenshots stay in memory when empty
	ProxyServer   string `toml:"proxy_server"`

	Accounts []models.Credential
	Telegram TelegramConfig `toml:"telegram"`
	Secrets  SecretsConfig  `toml:"secrets"`
}

// fileConfig is the optional keepalive.toml base layer. Environment
// variables override everything it sets.
type fileConfig struct {
	Provider      string         `toml:"provider"`
	ServerID      string         `toml:"server_id"`
	ThresholdDays float64        `toml:"threshold_days"`
	Headless      *bool          `toml:"headless"`
	Timezone      string         `toml:"timezone"`
	ProxyServer   string         `toml:"proxy_server"`
	Telegram      TelegramConfig `toml:"telegram"`
	Secrets       SecretsConfig  `toml:"secrets"`
}

// NewDefaultConfig returns the baseline configuration before file and
// environment layers are applied.
func NewDefaultConfig() *Config {
	return &Config{
		ThresholdDays: 2,
		Headless:      true,
		Timezone:      "UTC+8",
		RestartWait:   60 * time.Second,
	}
}

// LoadConfig builds the configuration with priority defaults -> optional
// TOML file -> environment. provider may be empty, in which case the
// PROVIDER variable or the file value is used.
func LoadConfig(provider, configPath string) (*Config, error) {
	cfg := NewDefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("failed to read config file %s: %v", configPath, err)}
		}
		var fc fileConfig
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, &ConfigError{Reason: fmt.Sprintf("failed to parse config file %s: %v", configPath, err)}
		}
		applyFileConfig(cfg, &fc)
	}

	if provider != "" {
		cfg.Provider = provider
	} else if env := os.Getenv("PROVIDER"); env != "" {
		cfg.Provider = env
	}
	if cfg.Provider == "" {
		return nil, &ConfigError{Reason: "no provider selected (flag, PROVIDER env, or config file)"}
	}
	cfg.Provider = strings.ToLower(cfg.Provider)

	applyEnvOverrides(cfg)

	accounts, err := resolveCredentials(cfg.Provider)
	if err != nil {
		return nil, err
	}
	cfg.Accounts = accounts

	if err := validator.New().Struct(cfg); err != nil {
		return nil, &ConfigError{Reason: err.Error()}
	}

	return cfg, nil
}

func applyFileConfig(cfg *Config, fc *fileConfig) {
	if fc.Provider != "" {
		cfg.Provider = fc.Provider
	}
	if fc.ServerID != "" {
		cfg.ServerID = fc.ServerID
	}
	if fc.ThresholdDays > 0 {
		cfg.ThresholdDays = fc.ThresholdDays
	}
	if fc.Headless != nil {
		cfg.Headless = *fc.Headless
	}
	if fc.Timezone != "" {
		cfg.Timezone = fc.Timezone
	}
	if fc.ProxyServer != "" {
		cfg.ProxyServer = fc.ProxyServer
	}
	if fc.Telegram.BotToken != "" {
		cfg.Telegram.BotToken = fc.Telegram.BotToken
	}
	if fc.Telegram.ChatID != "" {
		cfg.Telegram.ChatID = fc.Telegram.ChatID
	}
	if fc.Secrets.Token != "" {
		cfg.Secrets.Token = fc.Secrets.Token
	}
	if fc.Secrets.Repo != "" {
		cfg.Secrets.Repo = fc.Secrets.Repo
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ID"); v != "" {
		cfg.ServerID = v
	}
	if v := os.Getenv("RENEW_THRESHOLD_DAYS"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil && t >= 0 {
			cfg.ThresholdDays = t
		}
	}
	if v := os.Getenv("FORCE_RENEW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.ForceRenew = b
		}
	}
	if v := os.Getenv("DEBUG_MODE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	if v := os.Getenv("RESTART_WAIT_TIME"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RestartWait = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("TZ_OFFSET"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TG_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("REPO_TOKEN"); v != "" {
		cfg.Secrets.Token = v
	}
	if v := os.Getenv("GITHUB_REPOSITORY"); v != "" {
		cfg.Secrets.Repo = v
	}
	if v := os.Getenv("DEBUG_SCREENSHOT_DIR"); v != "" {
		cfg.ScreenshotDir = v
	}
	if v := os.Getenv("PROXY_SERVER"); v != "" {
		cfg.ProxyServer = v
	}
	if v := os.Getenv("HEADLESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Headless = b
		}
	}
}

// resolveCredentials reads the per-provider credential environment.
// Precedence: <PROVIDER>_COOKIES, <PROVIDER>_ACCOUNTS, then the
// single-account <PROVIDER>_EMAIL / <PROVIDER>_PASSWORD fallback.
func resolveCredentials(provider string) ([]models.Credential, error) {
	prefix := strings.ToUpper(provider)

	if raw := os.Getenv(prefix + "_COOKIES"); raw != "" {
		return ParseCredentials(raw, true), nil
	}
	if raw := os.Getenv(prefix + "_ACCOUNTS"); raw != "" {
		return ParseCredentials(raw, false), nil
	}

	email := os.Getenv(prefix + "_EMAIL")
	password := os.Getenv(prefix + "_PASSWORD")
	if email != "" && password != "" {
		return []models.Credential{{Username: email, Password: password}}, nil
	}

	return nil, &ConfigError{Reason: fmt.Sprintf("no credentials found for provider %q (set %s_COOKIES, %s_ACCOUNTS or %s_EMAIL/%s_PASSWORD)", provider, prefix, prefix, prefix, prefix)}
}

// ParseCredentials splits a raw credential list. The "|||" separator is
// canonical. A comma split is accepted as a fallback only when every
// resulting field clearly looks like a credential (contains "=" for
// cookies or ":" for account pairs); otherwise the whole value is treated
// as a single credential, since cookie strings may themselves contain
// commas.
func ParseCredentials(raw string, cookies bool) []models.Credential {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var fields []string
	switch {
	case strings.Contains(raw, CredentialSeparator):
		fields = strings.Split(raw, CredentialSeparator)
	case strings.Contains(raw, ","):
		parts := strings.Split(raw, ",")
		marker := "="
		if !cookies {
			marker = ":"
		}
		ok := true
		for _, p := range parts {
			if !strings.Contains(p, marker) {
				ok = false
				break
			}
		}
		if ok {
			fields = parts
		} else {
			fields = []string{raw}
		}
	default:
		fields = []string{raw}
	}

	var out []models.Credential
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if cookies {
			out = append(out, models.Credential{Cookie: f})
			continue
		}
		user, pass, found := strings.Cut(f, ":")
		if !found {
			// Malformed account entry, kept so the per-account error
			// surfaces in the run report instead of silently dropping it.
			out = append(out, models.Credential{Username: f})
			continue
		}
		out = append(out, models.Credential{Username: user, Password: pass})
	}
	return out
}

// SecretName returns the CI secret updated on cookie rotation.
func (c *Config) SecretName() string {
	return strings.ToUpper(c.Provider) + "_COOKIES"
}
