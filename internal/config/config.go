package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config models lineal.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Measurement struct {
		DefaultStandardWidth string `yaml:"default_standard_width"`
		MaxPieceLength       string `yaml:"max_piece_length"`
		MaxStandardWidth     string `yaml:"max_standard_width"`
	} `yaml:"measurement"`
	Materials struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
	} `yaml:"materials"`
	Documents struct {
		RetentionDays int `yaml:"retention_days"`
	} `yaml:"documents"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with lineal config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	w, err := decimal.NewFromString(c.Measurement.DefaultStandardWidth)
	if err != nil {
		return fmt.Errorf("config.measurement.default_standard_width: %w", err)
	}
	if w.Sign() <= 0 {
		return fmt.Errorf("config.measurement.default_standard_width must be positive")
	}
	maxLen, err := decimal.NewFromString(c.Measurement.MaxPieceLength)
	if err != nil {
		return fmt.Errorf("config.measurement.max_piece_length: %w", err)
	}
	if maxLen.Sign() <= 0 {
		return fmt.Errorf("config.measurement.max_piece_length must be positive")
	}
	maxWidth, err := decimal.NewFromString(c.Measurement.MaxStandardWidth)
	if err != nil {
		return fmt.Errorf("config.measurement.max_standard_width: %w", err)
	}
	if maxWidth.Sign() <= 0 {
		return fmt.Errorf("config.measurement.max_standard_width must be positive")
	}
	if w.GreaterThan(maxWidth) {
		return fmt.Errorf("default standard width %s exceeds max %s", w, maxWidth)
	}
	if c.Documents.RetentionDays <= 0 {
		return fmt.Errorf("config.documents.retention_days must be positive")
	}
	for label := range c.Materials.Catalog {
		if label == "" {
			return fmt.Errorf("config.materials.catalog contains empty label")
		}
	}
	return nil
}

// DefaultStandardWidth returns the configured default width for new pieces.
func (c *Config) DefaultStandardWidth() decimal.Decimal {
	w, err := decimal.NewFromString(c.Measurement.DefaultStandardWidth)
	if err != nil {
		return decimal.RequireFromString("1.20")
	}
	return w
}

// MaxPieceLength returns the physical upper bound for one piece.
func (c *Config) MaxPieceLength() decimal.Decimal {
	v, err := decimal.NewFromString(c.Measurement.MaxPieceLength)
	if err != nil {
		return decimal.NewFromInt(100)
	}
	return v
}

// MaxStandardWidth returns the upper bound for a platform default width.
func (c *Config) MaxStandardWidth() decimal.Decimal {
	v, err := decimal.NewFromString(c.Measurement.MaxStandardWidth)
	if err != nil {
		return decimal.NewFromInt(10)
	}
	return v
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "lineal.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(name string) *Config {
	var cfg Config
	cfg.Workspace.Name = name
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  name: %s

measurement:
  default_standard_width: "1.20"
  max_piece_length: "100"
  max_standard_width: "10"

materials:
  catalog:
    Lámina:
      description: "Sheet material"
    Perfil:
      description: "Profile bar"
    Tubo:
      description: "Tube"
    Placa:
      description: "Plate"

documents:
  retention_days: 30
`
