package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/milhy545/adaptive-router/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Server    models.ServerConfig              `yaml:"server"`
	Router    models.RouterConfig              `yaml:"router"`
	Thermal   models.ThermalConfig             `yaml:"thermal"`
	Store     models.StoreConfig               `yaml:"store"`
	Database  *models.DatabaseConfig           `yaml:"database,omitempty"`
	Providers map[string]models.ProviderConfig `yaml:"providers"`
}

// LoadFromFile loads configuration from a YAML file with environment variable substitution
func LoadFromFile(configPath string) (*Config, error) {
	// Validate and clean the file path to prevent directory traversal
	cleanPath := filepath.Clean(configPath)

	if strings.Contains(cleanPath, "..") {
		return nil, fmt.Errorf("invalid config path: path traversal not allowed")
	}

	ext := filepath.Ext(cleanPath)
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("invalid config file: only .yaml and .yml files are allowed")
	}

	data, err := os.ReadFile(cleanPath) // #nosec G304 - path is validated above
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", cleanPath, err)
	}

	content := substituteEnvVars(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(content), &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Normalize provider map keys to lowercase for case-insensitive lookups
	if config.Providers != nil {
		normalized := make(map[string]models.ProviderConfig, len(config.Providers))
		for key, value := range config.Providers {
			normalized[strings.ToLower(key)] = value
		}
		config.Providers = normalized
	}
	for i, id := range config.Router.FallbackChain {
		config.Router.FallbackChain[i] = strings.ToLower(id)
	}

	return &config, nil
}

// LoadEnvFiles loads environment variables from .env files in order of precedence
// Loads files in the order provided (first has highest priority)
func LoadEnvFiles(envFiles []string) {
	for _, envFile := range envFiles {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err == nil {
				fmt.Printf("Loaded environment variables from %s\n", envFile)
			}
		}
	}
}

// New creates a new Config instance by loading from the specified config file path
func New(configPath string) (*Config, error) {
	return LoadFromFile(configPath)
}

// substituteEnvVars replaces ${VAR_NAME} and ${VAR_NAME:-default} patterns with environment variables
func substituteEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::(-[^}]*))?\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		submatches := re.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		defaultValue := ""

		if len(submatches) > 2 && submatches[2] != "" {
			defaultValue = strings.TrimPrefix(submatches[2], "-")
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// GetProviderConfig returns the configuration for a specific provider
func (c *Config) GetProviderConfig(provider string) (models.ProviderConfig, bool) {
	cfg, exists := c.Providers[strings.ToLower(provider)]
	return cfg, exists
}

// GetNormalizedLogLevel returns the log level in lowercase for consistent comparison
func (c *Config) GetNormalizedLogLevel() string {
	return strings.ToLower(c.Server.LogLevel)
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate checks the configuration at startup. A malformed fallback chain or
// an unknown provider id fails here, never at request time.
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port == "" {
		problems = append(problems, "server.port is required")
	}
	if len(c.Router.FallbackChain) == 0 {
		problems = append(problems, "router.fallback_chain must list at least one provider")
	}

	seen := make(map[string]bool, len(c.Router.FallbackChain))
	for _, id := range c.Router.FallbackChain {
		if seen[id] {
			problems = append(problems, fmt.Sprintf("router.fallback_chain lists %q twice", id))
			continue
		}
		seen[id] = true
		if _, ok := c.Providers[id]; !ok {
			problems = append(problems, fmt.Sprintf("router.fallback_chain references unknown provider %q", id))
		}
	}

	for id, p := range c.Providers {
		switch p.Kind {
		case models.KindOpenAI, models.KindAnthropic, models.KindGemini:
		default:
			problems = append(problems, fmt.Sprintf("providers.%s.kind %q is not supported", id, p.Kind))
		}
		if p.Model == "" {
			problems = append(problems, fmt.Sprintf("providers.%s.model is required", id))
		}
		if p.RateLimitRpm < 0 || p.DailyLimit < 0 {
			problems = append(problems, fmt.Sprintf("providers.%s rate limits must not be negative", id))
		}
	}

	if c.Thermal.CriticalC > 0 && c.Thermal.ElevatedC >= c.Thermal.CriticalC {
		problems = append(problems, "thermal.elevated_c must be below thermal.critical_c")
	}

	switch c.Store.Type {
	case "", models.StoreFile, models.StoreRedis:
	default:
		problems = append(problems, fmt.Sprintf("store.type %q is not supported", c.Store.Type))
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// ValidationError represents configuration validation errors
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}
