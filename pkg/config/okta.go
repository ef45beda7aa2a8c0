package config

import "time"

// OktaConfig contains connection settings for the Okta org API.
type OktaConfig struct {
	// OrgURL is the base URL of the Okta org, e.g. https://example.okta.com.
	OrgURL string `yaml:"org_url"`

	// APIToken is the SSWS token used for authentication. Usually supplied
	// via the OKTA_API_TOKEN environment variable rather than yaml.
	APIToken string `yaml:"api_token"`

	// RequestTimeout is the per-call HTTP timeout. The step deadline dominates.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxRetries bounds retries for transient failures and rate limits.
	MaxRetries int `yaml:"max_retries"`
}

// DefaultOktaConfig returns the built-in Okta client defaults.
func DefaultOktaConfig() *OktaConfig {
	return &OktaConfig{
		RequestTimeout: 30 * time.Second,
		MaxRetries:     3,
	}
}
