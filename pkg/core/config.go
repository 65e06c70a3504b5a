package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// NamespaceConfig is the yaml-loadable description of a namespace
// binding, for applications that keep their store settings in a file.
type NamespaceConfig struct {
	Name              string `json:"name" yaml:"name"`
	Path              string `json:"path" yaml:"path"`
	Branch            string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Committer         string `json:"committer,omitempty" yaml:"committer,omitempty"`
	Email             string `json:"email,omitempty" yaml:"email,omitempty"`
	SyncRetries       int    `json:"syncRetries,omitempty" yaml:"syncRetries,omitempty"`
	AutoCommitOnClose bool   `json:"autoCommitOnClose,omitempty" yaml:"autoCommitOnClose,omitempty"`
	_                 struct{}
}

// LoadConfig reads a namespace configuration from a yaml file.
func LoadConfig(path string) (NamespaceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return NamespaceConfig{}, err
	}
	var c NamespaceConfig
	if err := yaml.Unmarshal(data, &c); err != nil {
		return NamespaceConfig{}, fmt.Errorf("config %s is invalid: %v", path, err)
	}
	if c.Name == "" || c.Path == "" {
		return NamespaceConfig{}, fmt.Errorf("config %s: name and path are required", path)
	}
	return c, nil
}

// Options renders the configuration as namespace options.
func (c NamespaceConfig) Options() []NamespaceOption {
	opts := []NamespaceOption{
		AutoCommitOnClose(c.AutoCommitOnClose),
	}
	if c.Branch != "" {
		opts = append(opts, Branch(c.Branch))
	}
	if c.Committer != "" || c.Email != "" {
		opts = append(opts, Committer(c.Committer, c.Email))
	}
	if c.SyncRetries > 0 {
		opts = append(opts, SyncRetries(c.SyncRetries))
	}
	return opts
}

// Save writes the configuration as a yaml file.
func (c NamespaceConfig) Save(path string) error {
	if c.Name == "" || c.Path == "" {
		return fmt.Errorf("config: name and path are required")
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
