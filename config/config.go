// Package config loads configuration of the shelf store.
//
// Configuration is read from a single YAML file. Values missing in the file keep their defaults.
// Sizes are human-readable strings like "256MiB" or "1GB".
package config

import (
	"bytes"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/shelf/persistence"
	"github.com/outofforest/shelf/pkg/logger"
)

// EnvVar is the environment variable holding the path to the config file.
const EnvVar = "SHELF_CONFIG"

// Size is the byte size parsed from its human-readable form.
type Size uint64

// UnmarshalYAML parses the size. Plain integers are bytes.
func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return errors.WithStack(err)
	}
	v, err := humanize.ParseBytes(text)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q at line %d", text, node.Line)
	}
	*s = Size(v)
	return nil
}

// MarshalYAML renders the size in IEC units.
func (s Size) MarshalYAML() (any, error) {
	return s.String(), nil
}

// String returns the human-readable form of the size.
func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// Set parses the size, it makes Size usable as a command line flag.
func (s *Size) Set(text string) error {
	v, err := humanize.ParseBytes(text)
	if err != nil {
		return errors.Wrapf(err, "invalid size %q", text)
	}
	*s = Size(v)
	return nil
}

// Type returns the name of the flag type.
func (s *Size) Type() string {
	return "size"
}

// Config is the configuration of the store.
type Config struct {
	// MemoryLimit is the maximum sum of sizes of live blobs.
	MemoryLimit Size `yaml:"memory_limit"`

	// ArenaHeadroom is reserved on top of the limit to absorb fragmentation of the memory region.
	ArenaHeadroom Size `yaml:"arena_headroom"`

	Journal  JournalConfig  `yaml:"journal"`
	Deletion DeletionConfig `yaml:"deletion"`
	Log      logger.Config  `yaml:"log"`
}

// JournalConfig configures the persistence journal.
type JournalConfig struct {
	// Path is the journal file. Empty path disables the journal.
	Path string `yaml:"path"`

	// Compression is one of: none, lz4, zstd.
	Compression string `yaml:"compression"`
}

// DeletionConfig configures deletion policy.
type DeletionConfig struct {
	ForceRemovesOwners bool `yaml:"force_removes_owners"`
}

// Default returns default configuration.
func Default() Config {
	return Config{
		MemoryLimit:   256 * humanize.MiByte,
		ArenaHeadroom: 16 * humanize.MiByte,
		Journal: JournalConfig{
			Compression: persistence.CompressionZstd.String(),
		},
		Log: logger.DefaultConfig(),
	}
}

// Load reads configuration from the file on top of the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config file %s failed", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, errors.WithMessagef(err, "config file %s", path)
	}
	return cfg, nil
}

// LoadFromEnv reads configuration from the file pointed by SHELF_CONFIG.
// If the variable is not set, defaults are returned.
func LoadFromEnv() (Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// Parse parses YAML configuration on top of the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parsing config failed")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate verifies the configuration.
func (c Config) Validate() error {
	if c.MemoryLimit == 0 {
		return errors.New("memory_limit must be greater than zero")
	}
	if _, err := persistence.ParseCompression(c.Journal.Compression); err != nil {
		return errors.WithMessage(err, "journal.compression")
	}
	if err := c.Log.Validate(); err != nil {
		return errors.WithMessage(err, "log")
	}
	return nil
}

// ArenaCapacity returns the size of the memory region backing the blobs.
func (c Config) ArenaCapacity() int64 {
	return int64(c.MemoryLimit + c.ArenaHeadroom)
}

// Compression returns the journal compression.
func (c Config) Compression() persistence.Compression {
	compression, err := persistence.ParseCompression(c.Journal.Compression)
	if err != nil {
		return persistence.CompressionNone
	}
	return compression
}
