// Package config loads the broker's ambient configuration, split per
// concern across config.go and config_*.go. Every field has a default
// that lets the broker run correctly with no config file at all.
package config

import (
	"os"
	"strings"

	"github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// Config is the top-level broker configuration.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http"`
	TTS    TTSConfig    `yaml:"tts"`
	Notify NotifyConfig `yaml:"notify"`
	Health HealthConfig `yaml:"health"`
	State  StateConfig  `yaml:"state"`
}

// Default returns a Config with every field at its built-in default.
func Default() *Config {
	return &Config{
		HTTP:   DefaultHTTPConfig(),
		TTS:    DefaultTTSConfig(),
		Notify: DefaultNotifyConfig(),
		Health: DefaultHealthConfig(),
		State:  DefaultStateConfig(),
	}
}

// Load reads a config file at path, applying Default() first so missing
// fields/files fall back to usable defaults. A missing file is not an
// error: Load returns Default() unchanged. Files ending in .json5 or
// .json are parsed with the comment-tolerant JSON5 loader; everything
// else is parsed as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if strings.HasSuffix(path, ".json5") || strings.HasSuffix(path, ".json") {
		// The config structs carry yaml tags only, so the JSON5 document is
		// decoded generically and re-encoded as YAML to reuse those tags.
		var doc any
		if err := json5.Unmarshal(body, &doc); err != nil {
			return nil, err
		}
		if body, err = yaml.Marshal(doc); err != nil {
			return nil, err
		}
	}
	if err := yaml.Unmarshal(body, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
