package config

import "slices"

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Timeout:          30000, // 30 seconds
		Retries:          0,
		RetryDelay:       500,
		RetryBackoff:     "exponential",
		RetryOn:          []int{408, 429, 502, 503, 504},
		RetryBurst:       1,
		FollowRedirects:  BoolPtr(true),
		MaxRedirects:     10,
		ValidateSSL:      BoolPtr(true),
		StartImmediately: BoolPtr(true),
		LogLevel:         "warn",
		LogFormat:        "text",
	}
}

// IsDefault returns true if the config matches defaults
func (c *Config) IsDefault() bool {
	defaults := DefaultConfig()
	return c.Timeout == defaults.Timeout &&
		c.Retries == defaults.Retries &&
		c.RetryDelay == defaults.RetryDelay &&
		c.RetryBackoff == defaults.RetryBackoff &&
		slices.Equal(c.RetryOn, defaults.RetryOn) &&
		c.RetryRate == defaults.RetryRate &&
		c.RetryBurst == defaults.RetryBurst &&
		c.GetFollowRedirects() == defaults.GetFollowRedirects() &&
		c.MaxRedirects == defaults.MaxRedirects &&
		c.GetValidateSSL() == defaults.GetValidateSSL() &&
		c.Proxy == defaults.Proxy &&
		len(c.Headers) == 0 &&
		c.GetStartImmediately() == defaults.GetStartImmediately() &&
		c.CookieFile == defaults.CookieFile &&
		c.CredentialsDB == defaults.CredentialsDB &&
		c.LogLevel == defaults.LogLevel &&
		c.LogFormat == defaults.LogFormat &&
		c.GetNoColor() == defaults.GetNoColor()
}
