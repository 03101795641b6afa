package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/gatehouse/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, GATEHOUSE_CONFIG env, ./config.yaml, /etc/gatehouse/config.yaml)
//  3. Environment variable overrides
//  4. File reference resolution (_file suffix)
//  5. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log(debug.Config, "config file loaded", "path", filePath)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. GATEHOUSE_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/gatehouse/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}

	if envPath := os.Getenv("GATEHOUSE_CONFIG"); envPath != "" {
		return envPath
	}

	candidates := []string{
		"config.yaml",
		"/etc/gatehouse/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps GATEHOUSE_* environment variables to config
// fields. Malformed numeric or JSON values are reported as errors.
func applyEnvOverrides(cfg *Config) error {
	strs := map[string]*string{
		"GATEHOUSE_AUTH_TYPE":             &cfg.Auth.Type,
		"GATEHOUSE_AUTH_DEFAULT_DECISION": &cfg.Auth.DefaultDecision,
		"GATEHOUSE_AUTH_DEFAULT_SITE_ID":  &cfg.Auth.DefaultSiteID,
		"GATEHOUSE_JWT_ISSUER":            &cfg.Auth.JWT.Issuer,
		"GATEHOUSE_JWT_AUDIENCE":          &cfg.Auth.JWT.Audience,
		"GATEHOUSE_JWT_JWKS_URL":          &cfg.Auth.JWT.JWKSURL,
		"GATEHOUSE_STORAGE":               &cfg.Storage.Type,
		"GATEHOUSE_POSTGRES_DSN":          &cfg.Storage.Postgres.DSN,
		"GATEHOUSE_SECRETS_TYPE":          &cfg.Secrets.Type,
		"GATEHOUSE_SECRETS_NAMESPACE":     &cfg.Secrets.Kubernetes.Namespace,
		"GATEHOUSE_LOG_FORMAT":            &cfg.Logging.Format,
		"GATEHOUSE_METRICS_PATH":          &cfg.Observability.Metrics.Path,
	}
	for env, dst := range strs {
		if v := os.Getenv(env); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("GATEHOUSE_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GATEHOUSE_PORT: %w", err)
		}
		cfg.Server.Port = port
	}

	// GATEHOUSE_AUTH_CHAIN: comma-separated member types.
	if v := os.Getenv("GATEHOUSE_AUTH_CHAIN"); v != "" {
		cfg.Auth.Chain = splitList(v)
	}

	// GATEHOUSE_API_KEYS: JSON array of API key configs.
	if v := os.Getenv("GATEHOUSE_API_KEYS"); v != "" {
		keys, err := parseAPIKeysJSON(v)
		if err != nil {
			return fmt.Errorf("GATEHOUSE_API_KEYS: %w", err)
		}
		cfg.Auth.APIKeys = keys
	}

	return nil
}

// parseAPIKeysJSON parses a JSON array of API key configurations.
func parseAPIKeysJSON(jsonStr string) ([]APIKeyConfig, error) {
	var keys []APIKeyConfig
	if err := json.Unmarshal([]byte(jsonStr), &keys); err != nil {
		return nil, fmt.Errorf("parsing API keys JSON: %w", err)
	}
	return keys, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// resolveFileReferences reads _file fields and populates the corresponding value fields.
// For each field ending in _file, if the value field is empty and the file field is set,
// the file is read, whitespace is trimmed, and the value field is populated.
func resolveFileReferences(cfg *Config) error {
	if err := resolveFile(&cfg.Storage.Postgres.DSN, cfg.Storage.Postgres.DSNFile, "storage.postgres.dsn_file"); err != nil {
		return err
	}

	for i := range cfg.Auth.APIKeys {
		k := &cfg.Auth.APIKeys[i]
		if err := resolveFile(&k.Key, k.KeyFile, fmt.Sprintf("auth.api_keys[%d].key_file", i)); err != nil {
			return err
		}
	}

	for i := range cfg.Auth.Users {
		u := &cfg.Auth.Users[i]
		if err := resolveFile(&u.PasswordHash, u.PasswordHashFile, fmt.Sprintf("auth.users[%d].password_hash_file", i)); err != nil {
			return err
		}
	}

	return nil
}

// resolveFile fills *dst from path unless dst is already set.
func resolveFile(dst *string, path, field string) error {
	if path == "" || *dst != "" {
		return nil
	}
	val, err := readSecretFile(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = val
	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
