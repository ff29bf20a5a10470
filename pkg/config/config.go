package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultEndpoint       = "https://api.carbstatus.info/v1"
	DefaultThreshold      = 50
	DefaultClassName      = "save-data"
	DefaultQueryFlag      = "save-data"
	DefaultClientIPHeader = "cf-connecting-ip"
	DefaultUserAgent      = "savedata-proxy"
)

// Config carries everything the handlers need to decide on and apply the
// save-data signal.
type Config struct {
	Port    string `yaml:"port"`
	Prefork bool   `yaml:"prefork"`

	Endpoint       string   `yaml:"endpoint"`
	Threshold      float64  `yaml:"threshold"`
	ClassName      string   `yaml:"className"`
	QueryFlag      string   `yaml:"queryFlag"`
	ClientIPHeader string   `yaml:"clientIPHeader"`
	UserAgent      string   `yaml:"userAgent"`
	Timeout        int      `yaml:"timeout"`
	RedirectStatus int      `yaml:"redirectStatus"`
	AllowedDomains []string `yaml:"allowedDomains,omitempty"`

	CacheSize int `yaml:"cacheSize"`
	CacheTTL  int `yaml:"cacheTTL"`

	LogLevel  string `yaml:"logLevel"`
	LogFile   string `yaml:"logFile,omitempty"`
	LogURLs   bool   `yaml:"logURLs"`
	AccessLog bool   `yaml:"accessLog"`
}

// Default returns the values the service ran with before any of them were
// configurable.
func Default() *Config {
	return &Config{
		Port:           "8080",
		Endpoint:       DefaultEndpoint,
		Threshold:      DefaultThreshold,
		ClassName:      DefaultClassName,
		QueryFlag:      DefaultQueryFlag,
		ClientIPHeader: DefaultClientIPHeader,
		UserAgent:      DefaultUserAgent,
		Timeout:        15,
		RedirectStatus: 302,
		CacheSize:      1024,
		LogLevel:       "info",
	}
}

// Load builds a Config from defaults, the optional YAML file at path and
// finally the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
		}
		if err := yaml.Unmarshal(yamlFile, cfg); err != nil {
			return nil, fmt.Errorf("syntax error in config file '%s': %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Port = getenv("PORT", c.Port)
	c.Endpoint = getenv("CARBSTATUS_ENDPOINT", c.Endpoint)
	c.ClassName = getenv("SAVE_DATA_CLASSNAME", c.ClassName)
	c.QueryFlag = getenv("SAVE_DATA_QUERY_FLAG", c.QueryFlag)
	c.ClientIPHeader = getenv("CLIENT_IP_HEADER", c.ClientIPHeader)
	c.UserAgent = getenv("USER_AGENT", c.UserAgent)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.LogFile = getenv("LOG_FILE", c.LogFile)

	if v, ok := os.LookupEnv("SAVE_DATA_THRESHOLD"); ok {
		threshold, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid SAVE_DATA_THRESHOLD '%s': %w", v, err)
		}
		c.Threshold = threshold
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"HTTP_TIMEOUT", &c.Timeout},
		{"REDIRECT_STATUS", &c.RedirectStatus},
		{"LOOKUP_CACHE_SIZE", &c.CacheSize},
		{"LOOKUP_CACHE_TTL", &c.CacheTTL},
	}
	for _, i := range ints {
		v, ok := os.LookupEnv(i.key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", i.key, v, err)
		}
		*i.dst = n
	}

	if v, ok := os.LookupEnv("ALLOWED_DOMAINS"); ok {
		c.AllowedDomains = splitList(v)
	}
	if os.Getenv("LOG_URLS") == "true" {
		c.LogURLs = true
	}
	if os.Getenv("ACCESS_LOG") == "true" {
		c.AccessLog = true
	}
	if os.Getenv("PREFORK") == "true" {
		c.Prefork = true
	}
	return nil
}

// Validate reports the first value the handlers could not work with.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint '%s': %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid endpoint '%s': scheme must be http or https", c.Endpoint)
	}
	if c.ClassName == "" {
		return fmt.Errorf("class name must not be empty")
	}
	if c.QueryFlag == "" {
		return fmt.Errorf("query flag must not be empty")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative: %d", c.Timeout)
	}
	if c.RedirectStatus < 300 || c.RedirectStatus > 399 {
		return fmt.Errorf("redirect status must be 3xx: %d", c.RedirectStatus)
	}
	if c.CacheTTL < 0 || c.CacheSize < 0 {
		return fmt.Errorf("lookup cache size and ttl must not be negative")
	}
	return nil
}

// HTTPTimeout is zero when outbound calls should not be bounded.
func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) LookupCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// DomainAllowed matches host against AllowedDomains, subdomains included.
// An empty list allows every host.
func (c *Config) DomainAllowed(host string) bool {
	if len(c.AllowedDomains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, domain := range c.AllowedDomains {
		domain = strings.ToLower(domain)
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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
