package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultThinkTimeMin  = 1 * time.Second
	DefaultThinkTimeMax  = 5 * time.Second
	DefaultGracefulStop  = 30 * time.Second
	DefaultTickInterval  = 100 * time.Millisecond
	DefaultLogoutTimeout = 10 * time.Second
	DefaultLoginName     = "Login"
	DefaultLogoutName    = "Logout"
	DefaultDelimiter     = ","
)

// LoadConfig loads a test configuration from a file.
//
// The file format is determined by extension:
//   - .yaml, .yml -> YAML
//   - .json -> JSON
func LoadConfig(path string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data, path)
	if err != nil {
		return nil, err
	}

	// Credential files are resolved relative to the config file.
	if cfg.Credentials.File != "" && !filepath.IsAbs(cfg.Credentials.File) {
		cfg.Credentials.File = filepath.Join(filepath.Dir(path), cfg.Credentials.File)
	}
	return cfg, nil
}

// ParseConfig parses configuration data.
//
// The format is determined by the file extension in path, or defaults to YAML
// if the path is empty or has an unknown extension.
func ParseConfig(data []byte, path string) (*TestConfig, error) {
	var config TestConfig

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config (unknown format %s): %w", ext, err)
		}
	}

	return &config, nil
}

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	var rest string
	if n, _ := fmt.Sscanf(s, "%d%s", &seconds, &rest); n == 1 {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// ApplyDefaults fills in every optional field left empty.
func ApplyDefaults(cfg *TestConfig) {
	if cfg.Target.Timeout == 0 {
		cfg.Target.Timeout = Duration(DefaultTimeout)
	}
	if cfg.Target.UserAgent == "" {
		cfg.Target.UserAgent = "herd/1.0"
	}

	login := &cfg.Auth.Login
	if login.Name == "" {
		login.Name = DefaultLoginName
	}
	if login.Method == "" {
		login.Method = http.MethodPost
	}
	if login.Path == "" {
		login.Path = "/login"
	}
	if login.UsernameField == "" {
		login.UsernameField = "username"
	}
	if login.PasswordField == "" {
		login.PasswordField = "password"
	}
	if login.TokenPath == "" {
		login.TokenPath = "accessToken"
	}
	if len(login.ExpectStatus) == 0 {
		login.ExpectStatus = []int{http.StatusOK}
	}

	logout := &cfg.Auth.Logout
	if logout.Name == "" {
		logout.Name = DefaultLogoutName
	}
	if logout.Method == "" {
		logout.Method = http.MethodDelete
	}
	if logout.Path == "" {
		logout.Path = "/logout"
	}
	if len(logout.ExpectStatus) == 0 {
		logout.ExpectStatus = []int{http.StatusOK, http.StatusNoContent}
	}
	if logout.Timeout == 0 {
		logout.Timeout = Duration(DefaultLogoutTimeout)
	}

	if cfg.Credentials.Delimiter == "" {
		cfg.Credentials.Delimiter = DefaultDelimiter
	}

	if cfg.Shape.Type == "" {
		if len(cfg.Shape.Stages) > 0 {
			cfg.Shape.Type = ShapeStages
		} else {
			cfg.Shape.Type = ShapeStepRamp
		}
	}

	for i := range cfg.Behaviors {
		b := &cfg.Behaviors[i]
		if b.Weight == 0 {
			b.Weight = 1
		}
		for j := range b.Steps {
			s := &b.Steps[j]
			if s.Method == "" {
				s.Method = http.MethodGet
			}
			if s.Weight == 0 {
				s.Weight = 1
			}
		}
	}

	if cfg.ThinkTime == nil {
		cfg.ThinkTime = &ThinkTimeConfig{
			Min: Duration(DefaultThinkTimeMin),
			Max: Duration(DefaultThinkTimeMax),
		}
	}
	if cfg.Options.GracefulStop == 0 {
		cfg.Options.GracefulStop = Duration(DefaultGracefulStop)
	}
	if cfg.Options.TickInterval == 0 {
		cfg.Options.TickInterval = Duration(DefaultTickInterval)
	}
}
