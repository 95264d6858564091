// Package config reads the riffline configuration. The defaults are embedded
// in default.yml; a config.yml in the riffline directory of the user config
// dir, or any file given explicitly, overrides them key by key.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	Config struct {
		Autosave AutosaveConfig
		History  HistoryConfig
		Snap     SnapConfig
		Collab   CollabConfig
		Persist  PersistConfig
		Relay    RelayConfig
	}

	AutosaveConfig struct {
		Debounce Duration
	}

	HistoryConfig struct {
		Depth int
	}

	SnapConfig struct {
		ThresholdBeats float64 `yaml:"thresholdBeats"`
	}

	CollabConfig struct {
		URL         string
		PeerName    string   `yaml:"peerName,omitempty"`
		ResyncGrace Duration `yaml:"resyncGrace"`
	}

	PersistConfig struct {
		SQLitePath string `yaml:"sqlitePath"`
	}

	RelayConfig struct {
		Listen string
	}

	// Duration is a time.Duration written as a string, like "2s" or "500ms".
	Duration time.Duration
)

//go:embed default.yml
var defaultYaml []byte

// FileName is the name of the user config file inside the riffline config
// directory.
const FileName = "config.yml"

// Default returns the built-in configuration.
func Default() Config {
	var c Config
	if err := yaml.Unmarshal(defaultYaml, &c); err != nil {
		panic(fmt.Errorf("failed to unmarshal default config: %w", err))
	}
	return c
}

// Read decodes YAML from r over the defaults. Unknown keys are errors.
func Read(r io.Reader) (Config, error) {
	c := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("could not decode config: %w", err)
	}
	return c, nil
}

// Load reads the config file at path. An empty path means the config.yml in
// the user config directory, which does not need to exist.
func Load(path string) (Config, error) {
	optional := path == ""
	if optional {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Default(), nil
		}
		path = filepath.Join(dir, "riffline", FileName)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, err
	}
	c, err := Read(bytes.NewReader(b))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	if v < 0 {
		return fmt.Errorf("line %d: negative duration %s", n.Line, s)
	}
	*d = Duration(v)
	return nil
}
