package rulecache

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	cachekey "github.com/always-cache/rulecache/pkg/cache-key"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration of a cache.
type FileConfig struct {
	Origin      string       `yaml:"origin"`
	Host        string       `yaml:"host"`
	MaxKeySize  int          `yaml:"maxKeySize"`
	MaxBodySize int64        `yaml:"maxBodySize"`
	Rules       []ConfigRule `yaml:"rules"`
}

// ConfigRule is one rule as written in the configuration file.
type ConfigRule struct {
	Name string `yaml:"name"`
	// Key in key syntax, e.g. "method.scheme.host.uri.cookie_sid".
	// Empty means cachekey.DefaultKey.
	Key     string        `yaml:"key"`
	Methods []string      `yaml:"methods"`
	Prefix  string        `yaml:"prefix"`
	TTL     time.Duration `yaml:"ttl"`
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field " + e.Field + ": " + e.Message
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(filename string) (FileConfig, error) {
	var config FileConfig
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	return config, config.Validate()
}

func (c FileConfig) Validate() error {
	if c.MaxKeySize < 0 {
		return &ConfigError{Field: "maxKeySize", Message: "must not be negative"}
	}
	if c.MaxBodySize < 0 {
		return &ConfigError{Field: "maxBodySize", Message: "must not be negative"}
	}
	names := make(map[string]struct{}, len(c.Rules))
	for i, rule := range c.Rules {
		field := fmt.Sprintf("rules[%d]", i)
		if rule.Name == "" {
			return &ConfigError{Field: field + ".name", Message: "is required"}
		}
		if _, dup := names[rule.Name]; dup {
			return &ConfigError{Field: field + ".name", Message: "duplicate rule " + rule.Name}
		}
		names[rule.Name] = struct{}{}
		if rule.TTL < 0 {
			return &ConfigError{Field: field + ".ttl", Message: "must not be negative"}
		}
		for _, m := range rule.Methods {
			if m == "" || strings.ContainsAny(m, " \t") {
				return &ConfigError{Field: field + ".methods", Message: fmt.Sprintf("invalid method %q", m)}
			}
		}
		if _, err := cachekey.ParseKey(rule.Key); err != nil {
			return &ConfigError{Field: field + ".key", Message: err.Error()}
		}
	}
	return nil
}

// CacheRules builds the rules of the configuration. It is called once at
// startup; the returned rules are shared by all requests.
func (c FileConfig) CacheRules() ([]Rule, error) {
	rules := make([]Rule, 0, len(c.Rules))
	for _, cr := range c.Rules {
		key, err := cachekey.ParseRule(cr.Name, cr.Key)
		if err != nil {
			return nil, err
		}
		methods := make([]string, len(cr.Methods))
		for i, m := range cr.Methods {
			methods[i] = strings.ToUpper(m)
		}
		rules = append(rules, Rule{
			Key:     key,
			Methods: methods,
			Prefix:  cr.Prefix,
			TTL:     cr.TTL,
		})
	}
	if len(rules) == 0 {
		key, _ := cachekey.ParseRule("default", cachekey.DefaultKey)
		rules = append(rules, Rule{Key: key, Methods: []string{http.MethodGet, http.MethodHead}})
	}
	return rules, nil
}
