// Package config loads the adapter and base model configuration from
// YAML, JSON or TOML files.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"kadapter/pkg/adapter"
	"kadapter/pkg/basemodel"
)

// Log configures the process logger.
type Log struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// File is the top-level configuration document.
type File struct {
	Log       Log              `json:"log" yaml:"log" toml:"log"`
	BaseModel basemodel.Config `json:"base_model" yaml:"base_model" toml:"base_model"`
	Adapter   adapter.Config   `json:"adapter" yaml:"adapter" toml:"adapter"`
}

// Default returns a configuration that runs as-is: the default reference
// base model with an adapter on every encoder layer.
func Default() File {
	base := basemodel.NewDefaultConfig()
	ad := adapter.NewDefaultConfig()
	ad.HiddenDim = 16
	ad.Encoder.NumHeads = 4
	ad.Encoder.IntermediateSize = 64
	for i := 0; i < base.NumLayers; i++ {
		ad.InjectionLayers = append(ad.InjectionLayers, basemodel.LayerName(i))
	}
	return File{
		Log:       Log{Level: "info", Format: "console"},
		BaseModel: base,
		Adapter:   *ad,
	}
}

// Load reads a configuration file based on its extension, on top of Default.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (File, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks both the base model and the adapter sections.
func (f File) Validate() error {
	if err := f.BaseModel.Validate(); err != nil {
		return fmt.Errorf("base_model: %w", err)
	}
	if err := f.Adapter.Validate(); err != nil {
		return fmt.Errorf("adapter: %w", err)
	}
	return nil
}

// Save writes the configuration as indented JSON, creating parent directories.
func Save(f File, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
