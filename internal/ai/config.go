package ai

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	ErrUnknownKind     = errors.New("unknown ai provider")
	ErrUnknownProvider = errors.New("provider not configured")
	ErrInvalidConfig   = errors.New("invalid provider config")
)

const (
	DefaultMaxOutputTokens = 2000
	DefaultTemperature     = 0.7
)

// ProviderConfig describes one backend as the router sees it. Lower
// Priority is tried first.
type ProviderConfig struct {
	Name            Kind    `yaml:"name" json:"name"`
	Model           string  `yaml:"model" json:"model"`
	TokenLimit      int     `yaml:"token_limit" json:"token_limit"`
	Priority        int     `yaml:"priority" json:"priority"`
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	Temperature     float64 `yaml:"temperature" json:"temperature"`
	BaseURL         string  `yaml:"base_url" json:"base_url,omitempty"`
	APIKey          string  `yaml:"api_key" json:"-"`
	// APIKeyEnv names an environment variable holding the key, so provider
	// files can be committed without secrets.
	APIKeyEnv string `yaml:"api_key_env" json:"-"`
}

func (c ProviderConfig) Validate() error {
	if _, err := ParseKind(string(c.Name)); err != nil {
		return err
	}
	if c.TokenLimit <= 0 {
		return fmt.Errorf("%w: %s token_limit must be positive", ErrInvalidConfig, c.Name)
	}
	if c.MaxOutputTokens < 0 {
		return fmt.Errorf("%w: %s max_output_tokens must not be negative", ErrInvalidConfig, c.Name)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: %s temperature out of range", ErrInvalidConfig, c.Name)
	}
	return nil
}

// ProviderUpdate carries the fields an administrator may change. Nil fields
// are left alone.
type ProviderUpdate struct {
	Model           *string  `json:"model"`
	APIKey          *string  `json:"api_key"`
	Priority        *int     `json:"priority"`
	Enabled         *bool    `json:"enabled"`
	TokenLimit      *int     `json:"token_limit"`
	MaxOutputTokens *int     `json:"max_output_tokens"`
	Temperature     *float64 `json:"temperature"`
}

func (u ProviderUpdate) apply(c ProviderConfig) ProviderConfig {
	if u.Model != nil {
		c.Model = *u.Model
	}
	if u.APIKey != nil {
		c.APIKey = *u.APIKey
	}
	if u.Priority != nil {
		c.Priority = *u.Priority
	}
	if u.Enabled != nil {
		c.Enabled = *u.Enabled
	}
	if u.TokenLimit != nil {
		c.TokenLimit = *u.TokenLimit
	}
	if u.MaxOutputTokens != nil {
		c.MaxOutputTokens = *u.MaxOutputTokens
	}
	if u.Temperature != nil {
		c.Temperature = *u.Temperature
	}
	return c
}

// ProviderView is the admin-facing shape; it never carries the key itself.
type ProviderView struct {
	ProviderConfig
	APIKeyConfigured bool `json:"api_key_configured"`
}

func (c ProviderConfig) View() ProviderView {
	return ProviderView{ProviderConfig: c, APIKeyConfigured: strings.TrimSpace(c.APIKey) != ""}
}

type providerFile struct {
	Providers []ProviderConfig `yaml:"providers"`
}

// LoadProviderFile reads a YAML provider list:
//
//	providers:
//	  - name: openai
//	    model: gpt-4o-mini
//	    token_limit: 16000
//	    priority: 1
//	    enabled: true
//	    api_key_env: OPENAI_API_KEY
func LoadProviderFile(path string) ([]ProviderConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseProviders(b)
}

func ParseProviders(b []byte) ([]ProviderConfig, error) {
	var f providerFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	out := make([]ProviderConfig, 0, len(f.Providers))
	for _, c := range f.Providers {
		k, err := ParseKind(string(c.Name))
		if err != nil {
			return nil, err
		}
		c.Name = k
		if c.APIKey == "" && c.APIKeyEnv != "" {
			c.APIKey = os.Getenv(c.APIKeyEnv)
		}
		if c.MaxOutputTokens == 0 {
			c.MaxOutputTokens = DefaultMaxOutputTokens
		}
		if err := c.Validate(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
