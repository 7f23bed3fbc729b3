// Package config loads and validates the process environment (spec §6).
// A .env file, if present, is merged into the environment before
// validation; process environment variables always take precedence over
// .env values, matching the teacher's `_ = godotenv.Load()` idiom of
// loading before reading, never overwriting what is already set.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/orcfax/explorer-index/ferrors"
)

// NodeEnv is the deployment mode, read from NODE_ENV.
type NodeEnv string

const (
	NodeEnvDevelopment NodeEnv = "development"
	NodeEnvProduction  NodeEnv = "production"
	NodeEnvTest        NodeEnv = "test"
)

// Config is the validated set of required environment variables (spec §6).
type Config struct {
	NodeEnv NodeEnv

	DBHost     string
	DBEmail    string
	DBPassword string

	MainnetChainIndexBaseURL string
	PreviewChainIndexBaseURL string

	DiscordWebhookURL string

	PrimaryArweaveEndpoint   string
	SecondaryArweaveEndpoint string
}

// AlertsEnabled reports whether the logger should post warnings/errors to
// Discord, per spec §7: production and test modes only.
func (c Config) AlertsEnabled() bool {
	return c.NodeEnv == NodeEnvProduction || c.NodeEnv == NodeEnvTest
}

// Load merges a .env file (if present) into the process environment,
// then reads and validates every required variable. A missing value is
// a single aggregated ConfigurationError naming every missing key (spec
// §7: ConfigurationError is always fatal).
func Load() (Config, error) {
	_ = godotenv.Load()

	var missing []string

	get := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}

		return v
	}

	cfg := Config{
		NodeEnv:                  NodeEnv(get("NODE_ENV")),
		DBHost:                   get("DB_HOST"),
		DBEmail:                  get("DB_EMAIL"),
		DBPassword:               get("DB_PASSWORD"),
		MainnetChainIndexBaseURL: get("MAINNET_CHAIN_INDEX_BASE_URL"),
		PreviewChainIndexBaseURL: get("PREVIEW_CHAIN_INDEX_BASE_URL"),
		DiscordWebhookURL:        get("DISCORD_WEBHOOK_URL"),
		PrimaryArweaveEndpoint:   get("PRIMARY_ARWEAVE_ENDPOINT"),
		SecondaryArweaveEndpoint: get("SECONDARY_ARWEAVE_ENDPOINT"),
	}

	if len(missing) > 0 {
		return Config{}, ferrors.Configuration(
			"config.Load", fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", ")),
		)
	}

	switch cfg.NodeEnv {
	case NodeEnvDevelopment, NodeEnvProduction, NodeEnvTest:
	default:
		return Config{}, ferrors.Configuration(
			"config.Load", fmt.Errorf("NODE_ENV must be one of development, production, test, got %q", cfg.NodeEnv),
		)
	}

	return cfg, nil
}
