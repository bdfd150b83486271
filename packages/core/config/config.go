package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the courier configuration
type Config struct {
	Timeout      int    `json:"timeout,omitempty" yaml:"timeout,omitempty"` // milliseconds
	Retries      int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	RetryDelay   int    `json:"retryDelay,omitempty" yaml:"retryDelay,omitempty"` // milliseconds
	RetryBackoff string `json:"retryBackoff,omitempty" yaml:"retryBackoff,omitempty"`
	RetryOn      []int  `json:"retryOn,omitempty" yaml:"retryOn,omitempty"` // status codes
	// RetryRate caps retries per second across all requests, 0 disables it
	RetryRate       float64           `json:"retryRate,omitempty" yaml:"retryRate,omitempty"`
	RetryBurst      int               `json:"retryBurst,omitempty" yaml:"retryBurst,omitempty"`
	FollowRedirects *bool             `json:"followRedirects,omitempty" yaml:"followRedirects,omitempty"`
	MaxRedirects    int               `json:"maxRedirects,omitempty" yaml:"maxRedirects,omitempty"`
	ValidateSSL     *bool             `json:"validateSSL,omitempty" yaml:"validateSSL,omitempty"`
	Proxy           string            `json:"proxy,omitempty" yaml:"proxy,omitempty"`
	Headers         map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"` // Default headers for all requests
	// StartImmediately resumes requests as soon as they are created
	StartImmediately *bool  `json:"startImmediately,omitempty" yaml:"startImmediately,omitempty"`
	CookieFile       string `json:"cookieFile,omitempty" yaml:"cookieFile,omitempty"`
	CredentialsDB    string `json:"credentialsDB,omitempty" yaml:"credentialsDB,omitempty"`
	LogLevel         string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat        string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	NoColor          *bool  `json:"noColor,omitempty" yaml:"noColor,omitempty"`
}

// BoolPtr returns a pointer to b
func BoolPtr(b bool) *bool {
	return &b
}

// getBool returns the value of a bool pointer, or the default if nil
func getBool(b *bool, defaultVal bool) bool {
	if b == nil {
		return defaultVal
	}
	return *b
}

// GetFollowRedirects returns the follow redirects setting, defaulting to true
func (c *Config) GetFollowRedirects() bool {
	return getBool(c.FollowRedirects, true)
}

// GetValidateSSL returns the validate SSL setting, defaulting to true
func (c *Config) GetValidateSSL() bool {
	return getBool(c.ValidateSSL, true)
}

// GetStartImmediately returns the start immediately setting, defaulting to true
func (c *Config) GetStartImmediately() bool {
	return getBool(c.StartImmediately, true)
}

// GetNoColor returns the no color setting, defaulting to false
func (c *Config) GetNoColor() bool {
	return getBool(c.NoColor, false)
}

// TimeoutDuration returns the request timeout
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// RetryDelayDuration returns the delay before the first retry
func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Millisecond
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var problems []string
	if c.Timeout < 0 {
		problems = append(problems, "timeout must not be negative")
	}
	if c.Retries < 0 {
		problems = append(problems, "retries must not be negative")
	}
	if c.RetryDelay < 0 {
		problems = append(problems, "retryDelay must not be negative")
	}
	switch c.RetryBackoff {
	case "", "fixed", "exponential":
	default:
		problems = append(problems, fmt.Sprintf("unknown retryBackoff %q", c.RetryBackoff))
	}
	for _, code := range c.RetryOn {
		if code < 100 || code > 599 {
			problems = append(problems, fmt.Sprintf("retryOn status %d out of range", code))
		}
	}
	if c.RetryRate < 0 {
		problems = append(problems, "retryRate must not be negative")
	}
	if c.MaxRedirects < 0 {
		problems = append(problems, "maxRedirects must not be negative")
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("unknown logFormat %q", c.LogFormat))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ConfigFilenames contains the possible config file names
var ConfigFilenames = []string{
	".courier.json",
	"courier.config.json",
	".courier.yaml",
	".courier.yml",
}

// LoadConfig loads configuration from the specified path or searches for config files
func LoadConfig(path string) (*Config, error) {
	if path != "" {
		return loadConfigFromFile(path)
	}

	// Search for config file in current directory
	return FindAndLoadConfig(".")
}

// FindAndLoadConfig searches for a config file in the given directory
func FindAndLoadConfig(dir string) (*Config, error) {
	for _, filename := range ConfigFilenames {
		configPath := filepath.Join(dir, filename)
		if _, err := os.Stat(configPath); err == nil {
			return loadConfigFromFile(configPath)
		}
	}

	// Return defaults if no config file found
	return DefaultConfig(), nil
}

// loadConfigFromFile loads configuration from a specific file, as YAML when
// the extension says so and as JSON otherwise
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	default:
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return config, nil
}

// Merge merges another config into this one, with other taking precedence
func (c *Config) Merge(other *Config) *Config {
	if other == nil {
		return c
	}

	result := *c // Copy

	if other.Timeout > 0 {
		result.Timeout = other.Timeout
	}
	if other.Retries > 0 {
		result.Retries = other.Retries
	}
	if other.RetryDelay > 0 {
		result.RetryDelay = other.RetryDelay
	}
	if other.RetryBackoff != "" {
		result.RetryBackoff = other.RetryBackoff
	}
	if len(other.RetryOn) > 0 {
		result.RetryOn = other.RetryOn
	}
	if other.RetryRate > 0 {
		result.RetryRate = other.RetryRate
	}
	if other.RetryBurst > 0 {
		result.RetryBurst = other.RetryBurst
	}
	if other.MaxRedirects > 0 {
		result.MaxRedirects = other.MaxRedirects
	}
	if other.Proxy != "" {
		result.Proxy = other.Proxy
	}
	if other.CookieFile != "" {
		result.CookieFile = other.CookieFile
	}
	if other.CredentialsDB != "" {
		result.CredentialsDB = other.CredentialsDB
	}
	if other.LogLevel != "" {
		result.LogLevel = other.LogLevel
	}
	if other.LogFormat != "" {
		result.LogFormat = other.LogFormat
	}

	// Boolean flags - only override if explicitly set in other config
	if other.FollowRedirects != nil {
		result.FollowRedirects = other.FollowRedirects
	}
	if other.ValidateSSL != nil {
		result.ValidateSSL = other.ValidateSSL
	}
	if other.StartImmediately != nil {
		result.StartImmediately = other.StartImmediately
	}
	if other.NoColor != nil {
		result.NoColor = other.NoColor
	}

	// Merge headers
	if len(other.Headers) > 0 {
		headers := make(map[string]string, len(result.Headers)+len(other.Headers))
		for k, v := range result.Headers {
			headers[k] = v
		}
		for k, v := range other.Headers {
			headers[k] = v
		}
		result.Headers = headers
	}

	return &result
}

// SaveConfig saves the configuration to a file, as YAML for .yaml and .yml
// paths and as JSON otherwise
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
