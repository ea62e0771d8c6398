// Package config loads the frame server settings: defaults, then an optional YAML file,
// then environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gangwars/joinframe/encoding"
	"github.com/gangwars/joinframe/evm"
	"github.com/gangwars/joinframe/validation"
)

// PathEnv names the optional YAML file.
const PathEnv = "JOINFRAME_CONFIG"

// Config captures the runtime settings of the frame server.
type Config struct {
	Port           int           `yaml:"port"`
	BackendURL     string        `yaml:"backend_url"`
	PaymentManager string        `yaml:"payment_manager"`
	ChainID        int64         `yaml:"chain_id"`
	FrameURL       string        `yaml:"frame_url"`
	DiscordWebhook string        `yaml:"discord_webhook"`
	DevTools       bool          `yaml:"dev_tools"`
	StateSecret    string        `yaml:"state_secret"`
	StateTTL       time.Duration `yaml:"state_ttl"`
	NotifyDelay    time.Duration `yaml:"notify_delay"`
	Log            LogConfig     `yaml:"log"`
	Dev            DevConfig     `yaml:"dev"`
}

// LogConfig selects log verbosity and an optional rotated log file.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// DevConfig holds the developer signing key used by the dev tools. One source at most.
type DevConfig struct {
	PrivateKey       string `yaml:"private_key"`
	Mnemonic         string `yaml:"mnemonic"`
	Keystore         string `yaml:"keystore"`
	KeystorePassword string `yaml:"keystore_password"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Port:        3000,
		ChainID:     evm.DefaultChainID,
		StateTTL:    encoding.DefaultTTL,
		NotifyDelay: 3 * time.Second,
		Log:         LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, if any, applies the environment and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str("URL", &cfg.BackendURL)
	str("TOURNAMENT_PAYMENT_MANAGER", &cfg.PaymentManager)
	str("FRAME_URL", &cfg.FrameURL)
	str("DISCORD_WEBHOOK", &cfg.DiscordWebhook)
	str("STATE_SECRET", &cfg.StateSecret)
	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FILE", &cfg.Log.File)
	str("DEV_PRIVATE_KEY", &cfg.Dev.PrivateKey)
	str("DEV_MNEMONIC", &cfg.Dev.Mnemonic)
	str("DEV_KEYSTORE", &cfg.Dev.Keystore)
	str("DEV_KEYSTORE_PASSWORD", &cfg.Dev.KeystorePassword)

	if v, ok := lookup("DEV_TOOLS"); ok {
		cfg.DevTools = strings.EqualFold(strings.TrimSpace(v), "enabled")
	}
	if v, ok := lookup("PORT"); ok {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Port = port
	}
	if v, ok := lookup("CHAIN_ID"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("CHAIN_ID: %w", err)
		}
		cfg.ChainID = id
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.BackendURL = strings.TrimSpace(cfg.BackendURL)
	cfg.PaymentManager = strings.TrimSpace(cfg.PaymentManager)
	cfg.FrameURL = strings.TrimRight(strings.TrimSpace(cfg.FrameURL), "/")
	cfg.DiscordWebhook = strings.TrimSpace(cfg.DiscordWebhook)
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Dev.PrivateKey = strings.TrimSpace(cfg.Dev.PrivateKey)
	cfg.Dev.Mnemonic = strings.TrimSpace(cfg.Dev.Mnemonic)
	cfg.Dev.Keystore = strings.TrimSpace(cfg.Dev.Keystore)
}

// Validate reports every invalid setting.
func (cfg Config) Validate() error {
	var errs []error

	if cfg.Port <= 0 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", cfg.Port))
	}
	if err := validateURL("backend_url", cfg.BackendURL, true); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("frame_url", cfg.FrameURL, false); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("discord_webhook", cfg.DiscordWebhook, false); err != nil {
		errs = append(errs, err)
	}
	if cfg.PaymentManager == "" {
		errs = append(errs, errors.New("payment_manager is required"))
	} else if err := validation.ValidateAddress(cfg.PaymentManager); err != nil {
		errs = append(errs, fmt.Errorf("payment_manager: %w", err))
	}
	if cfg.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("chain_id %d must be positive", cfg.ChainID))
	}
	if cfg.StateSecret != "" && len(cfg.StateSecret) < encoding.MinSecretLength {
		errs = append(errs, fmt.Errorf("state_secret must be at least %d bytes", encoding.MinSecretLength))
	}
	if cfg.StateTTL <= 0 {
		errs = append(errs, errors.New("state_ttl must be positive"))
	}
	if cfg.NotifyDelay < 0 {
		errs = append(errs, errors.New("notify_delay must not be negative"))
	}

	sources := 0
	for _, v := range []string{cfg.Dev.PrivateKey, cfg.Dev.Mnemonic, cfg.Dev.Keystore} {
		if v != "" {
			sources++
		}
	}
	if sources > 1 {
		errs = append(errs, errors.New("dev: set at most one of private_key, mnemonic, keystore"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address.
func (cfg Config) Addr() string {
	return ":" + strconv.Itoa(cfg.Port)
}

// HasDevKey reports whether a developer signing key is configured.
func (cfg Config) HasDevKey() bool {
	return cfg.Dev.PrivateKey != "" || cfg.Dev.Mnemonic != "" || cfg.Dev.Keystore != ""
}

func validateURL(name, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%s is required", name)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s %q is not an http(s) URL", name, raw)
	}
	return nil
}
