package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config interface {
	EnvConfig
	ProviderConfig
	CorsConfig
	SecurityConfig
	Validate() error
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetSPABaseURL() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

// Settings is the raw configuration as read from an optional YAML file and the environment.
// Environment variables win over the file.
type Settings struct {
	Port    string `yaml:"port"`
	AppName string `yaml:"app_name"`
	Env     string `yaml:"env"`

	SPABaseURL string `yaml:"spa_base_url"`

	Provider ProviderSettings `yaml:"provider"`
	Cookies  CookieSettings   `yaml:"cookies"`
	Cors     CorsSettings     `yaml:"cors"`
	Limits   LimitSettings    `yaml:"limits"`
}

type mainConfig struct {
	EnvVars
	OAuth
	Cors
	Security
}

var _ Config = mainConfig{}

// New builds a Config from the environment only.
func New() Config {
	return FromSettings(defaultSettings().applyEnv())
}

// Load reads the YAML file at path (if path is not empty) and overlays environment variables.
func Load(path string) (Config, error) {
	s := defaultSettings()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("[config Load] reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("[config Load] parsing %s: %w", path, err)
		}
	}
	c := FromSettings(s.applyEnv())
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// FromSettings wraps already populated settings, mostly for tests.
func FromSettings(s Settings) Config {
	return mainConfig{
		EnvVars:  EnvVars{settings: s},
		OAuth:    OAuth{settings: s.Provider},
		Cors:     Cors{settings: s.Cors},
		Security: Security{cookies: s.Cookies, limits: s.Limits},
	}
}

func defaultSettings() Settings {
	return Settings{
		Port:    "8080",
		AppName: "SSO BFF",
		Env:     "DEV",
		Provider: ProviderSettings{
			PKCEMethod:     "S256",
			HTTPTimeoutSec: 10,
		},
		Cookies: CookieSettings{
			Secure: true,
		},
		Limits: LimitSettings{
			RequestsPerSecond: 5,
			Burst:             10,
		},
	}
}
