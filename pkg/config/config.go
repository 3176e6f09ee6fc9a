// Package config loads and saves the tool's YAML configuration file.
package config

import (
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"
)

// DefaultConfigFile is looked for in the working directory when no
// config file is given explicitly.
const DefaultConfigFile = "stackmend.yml"

// Config defines all options available to be set through the config
// file. Command line flags override it field by field.
type Config struct {
	// Safe keeps every variable at its stack-pointer-relative position;
	// only the allocation size may change.
	Safe bool `yaml:"safe"`

	// Whitelist, when non-empty, restricts patching to the named
	// functions. Entries ending in '*' match by prefix.
	Whitelist []string `yaml:"whitelist"`
	// Blacklist excludes the named functions in any case.
	Blacklist []string `yaml:"blacklist"`

	// Output is the path the patched binary is written to. Empty means
	// the input path with ".out" appended.
	Output string `yaml:"output"`
}

// LoadConfig populates a Config from the YAML file at path. A missing
// file is an error only when the path was given explicitly; the
// default file is optional.
func LoadConfig(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	data, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return &Config{}, nil
		}
		return nil, err
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConfig marshals conf and writes it to path.
func SaveConfig(path string, conf *Config) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(path, out, 0644)
}
