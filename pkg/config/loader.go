package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load loads a PipelineConfig from a YAML file, layering the file's
// values over defaults. ${VAR_NAME} references are substituted from the
// environment before parsing.
func Load(filePath string) (*PipelineConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is controlled by caller
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	cfg := NewPipelineConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return cfg, nil
}

// Save saves a PipelineConfig to a YAML file.
func Save(filePath string, cfg *PipelineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}

// FromEnv builds a PipelineConfig from REVLAKE_-prefixed environment
// variables with defaults, e.g. REVLAKE_POSTGRES_HOST, REVLAKE_POLICY,
// REVLAKE_PRIMARY_API_URL. Unset keys keep their defaults.
func FromEnv() (*PipelineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("revlake")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := NewPipelineConfig()
	v.SetDefault("policy", string(defaults.Policy))
	v.SetDefault("sources", sourceStrings(defaults.Sources))
	v.SetDefault("postgres.host", defaults.Postgres.Host)
	v.SetDefault("postgres.port", defaults.Postgres.Port)
	v.SetDefault("postgres.database", defaults.Postgres.Database)
	v.SetDefault("postgres.user", defaults.Postgres.User)
	v.SetDefault("postgres.password", defaults.Postgres.Password)
	v.SetDefault("postgres.ssl_mode", defaults.Postgres.SSLMode)
	v.SetDefault("postgres.max_conns", defaults.Postgres.MaxConns)
	v.SetDefault("cache.addr", defaults.Cache.Addr)
	v.SetDefault("cache.password", defaults.Cache.Password)
	v.SetDefault("cache.db", defaults.Cache.DB)
	v.SetDefault("warehouse.account", defaults.Warehouse.Account)
	v.SetDefault("warehouse.user", defaults.Warehouse.User)
	v.SetDefault("warehouse.password", defaults.Warehouse.Password)
	v.SetDefault("warehouse.database", defaults.Warehouse.Database)
	v.SetDefault("warehouse.schema", defaults.Warehouse.Schema)
	v.SetDefault("warehouse.warehouse", defaults.Warehouse.Warehouse)
	v.SetDefault("warehouse.role", defaults.Warehouse.Role)
	v.SetDefault("primary.api_url", defaults.Primary.APIURL)
	v.SetDefault("primary.api_token", defaults.Primary.APIToken)
	v.SetDefault("fallback.api_url", defaults.Fallback.APIURL)
	v.SetDefault("fallback.api_token", defaults.Fallback.APIToken)
	v.SetDefault("fallback.tenant", defaults.Fallback.Tenant)
	v.SetDefault("monitoring", defaults.Monitoring)
	v.SetDefault("retry.auto_retry", defaults.Retry.AutoRetry)
	v.SetDefault("retry.max_retries", defaults.Retry.MaxRetries)
	v.SetDefault("retry.retry_delay", defaults.Retry.RetryDelay)

	sources, err := parseSources(v.GetStringSlice("sources"))
	if err != nil {
		return nil, err
	}

	cfg := &PipelineConfig{
		Policy:  EnginePolicy(strings.ToUpper(v.GetString("policy"))),
		Sources: sources,
		Postgres: PostgresConfig{
			Host:     v.GetString("postgres.host"),
			Port:     v.GetInt("postgres.port"),
			Database: v.GetString("postgres.database"),
			User:     v.GetString("postgres.user"),
			Password: v.GetString("postgres.password"),
			SSLMode:  v.GetString("postgres.ssl_mode"),
			MaxConns: v.GetInt32("postgres.max_conns"),
		},
		Cache: CacheConfig{
			Addr:     v.GetString("cache.addr"),
			Password: v.GetString("cache.password"),
			DB:       v.GetInt("cache.db"),
		},
		Warehouse: WarehouseConfig{
			Account:   v.GetString("warehouse.account"),
			User:      v.GetString("warehouse.user"),
			Password:  v.GetString("warehouse.password"),
			Database:  v.GetString("warehouse.database"),
			Schema:    v.GetString("warehouse.schema"),
			Warehouse: v.GetString("warehouse.warehouse"),
			Role:      v.GetString("warehouse.role"),
		},
		Primary: EngineConfig{
			APIURL:   v.GetString("primary.api_url"),
			APIToken: v.GetString("primary.api_token"),
		},
		Fallback: FallbackEngineConfig{
			APIURL:   v.GetString("fallback.api_url"),
			APIToken: v.GetString("fallback.api_token"),
			Tenant:   v.GetString("fallback.tenant"),
		},
		Monitoring: v.GetBool("monitoring"),
		Retry: RetryConfig{
			AutoRetry:  v.GetBool("retry.auto_retry"),
			MaxRetries: v.GetInt("retry.max_retries"),
			RetryDelay: v.GetDuration("retry.retry_delay"),
		},
	}

	return cfg, nil
}

func sourceStrings(sources []SourceID) []string {
	out := make([]string, len(sources))
	for i, s := range sources {
		out[i] = string(s)
	}
	return out
}

func parseSources(values []string) ([]SourceID, error) {
	sources := make([]SourceID, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			src, err := ParseSource(strings.ToLower(part))
			if err != nil {
				return nil, err
			}
			sources = append(sources, src)
		}
	}
	return sources, nil
}
