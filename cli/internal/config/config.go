package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	DefaultStreamerURL = "http://localhost:8080"
	DefaultNATSURL     = "nats://localhost:4222"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles"`
	path           string
}

// Profile holds connection settings for one firehose deployment.
type Profile struct {
	StreamerURL string `yaml:"streamer_url"`
	APIToken    string `yaml:"api_token,omitempty"`
	NATSURL     string `yaml:"nats_url,omitempty"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
	}
}

// DefaultPath is ~/.fhctl/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".fhctl", "config.yaml"), nil
}

func Load(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		cfgFile = p
	}

	cfg := Default()
	cfg.path = cfgFile

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfgFile, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}

	return cfg, nil
}

func (c *Config) Save() error {
	if c.path == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		c.path = p
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile stores p under name and makes it current.
func (c *Config) SaveProfile(name string, p *Profile) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}
	c.Profiles[name] = p
	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// Resolve returns the effective settings for name: the stored profile (if
// any) over built-in defaults, with FHCTL_STREAMER_URL, FHCTL_API_TOKEN and
// FHCTL_NATS_URL taking precedence.
func (c *Config) Resolve(name string) Profile {
	out := Profile{StreamerURL: DefaultStreamerURL, NATSURL: DefaultNATSURL}

	if p, err := c.GetProfile(name); err == nil {
		if p.StreamerURL != "" {
			out.StreamerURL = p.StreamerURL
		}
		if p.NATSURL != "" {
			out.NATSURL = p.NATSURL
		}
		out.APIToken = p.APIToken
	}

	if v := os.Getenv("FHCTL_STREAMER_URL"); v != "" {
		out.StreamerURL = v
	}
	if v := os.Getenv("FHCTL_API_TOKEN"); v != "" {
		out.APIToken = v
	}
	if v := os.Getenv("FHCTL_NATS_URL"); v != "" {
		out.NATSURL = v
	}
	return out
}
