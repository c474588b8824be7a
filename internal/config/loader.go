package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, merges, verifies and validates configuration.
// configPath may be a file or a directory holding config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		if err := loadIncludes(cfg, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	cfg = applyConfigDefaults(cfg)

	paths := make([]string, 0, len(visited))
	for p := range visited {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if err := verifyAllConfigHashes(paths); err != nil {
		return nil, err
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DiscoverConfigPath finds the config by checking standard locations.
// Priority order: $GAPHOST_CONFIG, ~/.config/gaphost, /etc/gaphost, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("GAPHOST_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		userDir := filepath.Join(homeDir, ".config", "gaphost")
		if _, err := os.Stat(userDir); err == nil {
			return userDir, nil
		}
	}
	if _, err := os.Stat("/etc/gaphost"); err == nil {
		return "/etc/gaphost", nil
	}
	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}
	return "", fmt.Errorf("no config found (checked: $GAPHOST_CONFIG, ~/.config/gaphost, /etc/gaphost, ./config.yaml)")
}

// DiscoverAllConfigFiles returns absolute paths to every file in the include tree.
func DiscoverAllConfigFiles(configPath string) ([]string, error) {
	absPath, err := resolveRoot(configPath)
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{absPath: true}
	if len(cfg.Include) > 0 {
		scratch := &Config{}
		if err := loadIncludes(scratch, cfg.Include, filepath.Dir(absPath), visited); err != nil {
			return nil, err
		}
	}

	files := make([]string, 0, len(visited))
	for f := range visited {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}

func resolveRoot(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// loadIncludes recursively loads and merges files from the include array.
// visited tracks loaded files to prevent cycles.
func loadIncludes(cfg *Config, includes []string, baseDir string, visited map[string]bool) error {
	for i, includePath := range includes {
		includePath = interpolateEnv(includePath)

		resolvedPath := includePath
		if !filepath.IsAbs(includePath) {
			resolvedPath = filepath.Join(baseDir, includePath)
		}
		absPath, err := filepath.Abs(resolvedPath)
		if err != nil {
			return fmt.Errorf("include[%d]: failed to resolve path %q: %w", i, includePath, err)
		}

		if visited[absPath] {
			return fmt.Errorf("include[%d]: circular dependency detected: %s", i, absPath)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("include[%d]: file not found: %s\n"+
					"Referenced from: %s\n"+
					"Hint: Check the path is correct and the file exists", i, absPath, baseDir)
			}
			return fmt.Errorf("include[%d]: failed to access file %s: %w", i, absPath, err)
		}
		visited[absPath] = true

		included, err := loadConfigFile(absPath)
		if err != nil {
			return fmt.Errorf("include[%d] (%s): %w", i, includePath, err)
		}
		deepMergeConfig(cfg, included)

		if len(included.Include) > 0 {
			if err := loadIncludes(cfg, included.Include, filepath.Dir(absPath), visited); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadConfigFile loads and parses a single config file without defaults.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

// deepMergeConfig merges src into dst, with src taking precedence for non-zero values.
func deepMergeConfig(dst, src *Config) {
	mergeString(&dst.Service.Name, src.Service.Name)
	mergeString(&dst.Service.LogLevel, src.Service.LogLevel)
	mergeString(&dst.Service.LogFormat, src.Service.LogFormat)

	if src.Queue.Interval != 0 {
		dst.Queue.Interval = src.Queue.Interval
	}
	if src.Queue.MaxPending != 0 {
		dst.Queue.MaxPending = src.Queue.MaxPending
	}

	mergeString(&dst.Bootstrap.ReadyState, src.Bootstrap.ReadyState)

	mergeString(&dst.Device.UUID, src.Device.UUID)
	mergeString(&dst.Device.Platform, src.Device.Platform)
	mergeString(&dst.Device.Version, src.Device.Version)
	mergeString(&dst.Device.Gap, src.Device.Gap)

	mergeString(&dst.Bridge.Transport, src.Bridge.Transport)
	mergeString(&dst.Bridge.URL, src.Bridge.URL)
	if src.Bridge.Timeout != 0 {
		dst.Bridge.Timeout = src.Bridge.Timeout
	}

	mergeString(&dst.State.Path, src.State.Path)

	if src.API.Enabled {
		dst.API.Enabled = true
	}
	mergeString(&dst.API.Listen, src.API.Listen)
	mergeString(&dst.API.Auth.APIKey, src.API.Auth.APIKey)
	dst.API.Auth.Tokens = append(dst.API.Auth.Tokens, src.API.Auth.Tokens...)
	if len(src.API.CORS.AllowedOrigins) > 0 {
		dst.API.CORS.AllowedOrigins = append(dst.API.CORS.AllowedOrigins, src.API.CORS.AllowedOrigins...)
	}
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func verifyAllConfigHashes(paths []string) error {
	dirToFiles := make(map[string][]string)
	for _, path := range paths {
		dir := filepath.Dir(path)
		dirToFiles[dir] = append(dirToFiles[dir], path)
	}

	for dir, files := range dirToFiles {
		checksums, err := LoadChecksums(dir)
		if err != nil {
			// No .checksums means the directory is unlocked.
			continue
		}

		for _, path := range files {
			basename := filepath.Base(path)
			expectedHash, ok := checksums.Hashes[basename]
			if !ok {
				return fmt.Errorf("config file %s has no hash in checksums at %s\n"+
					"Run: gaphost config lock --config %s", basename, dir, dir)
			}
			if err := VerifyFileHash(path, expectedHash); err != nil {
				return fmt.Errorf("config verification failed for %s: %w\n"+
					"If you edited this file intentionally, run: gaphost config lock --config %s", path, err, dir)
			}
		}
	}
	return nil
}

// applyConfigDefaults fills in values not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	mergeDefault(&cfg.Service.Name, defaults.Service.Name)
	mergeDefault(&cfg.Service.LogLevel, defaults.Service.LogLevel)
	mergeDefault(&cfg.Service.LogFormat, defaults.Service.LogFormat)

	if cfg.Queue.Interval == 0 {
		cfg.Queue.Interval = defaults.Queue.Interval
	}
	mergeDefault(&cfg.Bootstrap.ReadyState, defaults.Bootstrap.ReadyState)
	mergeDefault(&cfg.Device.Platform, defaults.Device.Platform)

	mergeDefault(&cfg.Bridge.Transport, defaults.Bridge.Transport)
	if cfg.Bridge.Timeout == 0 {
		cfg.Bridge.Timeout = defaults.Bridge.Timeout
	}

	mergeDefault(&cfg.State.Path, defaults.State.Path)
	mergeDefault(&cfg.API.Listen, defaults.API.Listen)
	return cfg
}

func mergeDefault(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is so validation can name them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); len(m) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Queue.Interval <= 0 {
		return fmt.Errorf("queue.interval must be positive")
	}
	if cfg.Queue.MaxPending < 0 {
		return fmt.Errorf("queue.max_pending must not be negative")
	}

	switch cfg.Bootstrap.ReadyState {
	case "loading", "interactive", "loaded", "complete":
	default:
		return fmt.Errorf("bootstrap.ready_state must be one of: loading, interactive, loaded, complete (got %q)", cfg.Bootstrap.ReadyState)
	}

	if err := unresolved("device.uuid", cfg.Device.UUID); err != nil {
		return err
	}

	switch cfg.Bridge.Transport {
	case TransportLog, TransportJournal:
	case TransportHTTP:
		if cfg.Bridge.URL == "" {
			return fmt.Errorf("bridge.url is required for the http transport")
		}
		if err := unresolved("bridge.url", cfg.Bridge.URL); err != nil {
			return err
		}
	default:
		return fmt.Errorf("bridge.transport must be one of: log, http, journal (got %q)", cfg.Bridge.Transport)
	}
	if cfg.Bridge.Timeout < 0 {
		return fmt.Errorf("bridge.timeout must not be negative")
	}

	if cfg.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}

	if cfg.API.Enabled {
		if cfg.API.Listen == "" {
			return fmt.Errorf("api.listen is required when the api is enabled")
		}
		if err := unresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			field := fmt.Sprintf("api.auth.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s.token is required", field)
			}
			if err := unresolved(field+".token", tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s.scopes must be non-empty", field)
			}
		}
	}
	return nil
}
