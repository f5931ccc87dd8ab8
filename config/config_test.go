package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dustin/go-humanize"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/outofforest/shelf/persistence"
)

func TestDefault(t *testing.T) {
	requireT := require.New(t)

	cfg := Default()
	requireT.NoError(cfg.Validate())
	requireT.EqualValues(256*humanize.MiByte, cfg.MemoryLimit)
	requireT.EqualValues((256+16)*humanize.MiByte, cfg.ArenaCapacity())
	requireT.Equal(persistence.CompressionZstd, cfg.Compression())
	requireT.Empty(cfg.Journal.Path)
}

func TestParse(t *testing.T) {
	requireT := require.New(t)

	cfg, err := Parse([]byte(`
memory_limit: 64MiB
arena_headroom: 1024
journal:
  path: /var/lib/shelf/journal
  compression: lz4
deletion:
  force_removes_owners: true
log:
  level: debug
  format: json
`))
	requireT.NoError(err)
	requireT.EqualValues(64*humanize.MiByte, cfg.MemoryLimit)
	requireT.EqualValues(1024, cfg.ArenaHeadroom)
	requireT.Equal("/var/lib/shelf/journal", cfg.Journal.Path)
	requireT.Equal(persistence.CompressionLZ4, cfg.Compression())
	requireT.True(cfg.Deletion.ForceRemovesOwners)
	requireT.Equal("debug", cfg.Log.Level)
	requireT.Equal("json", cfg.Log.Format)
}

func TestParseKeepsDefaults(t *testing.T) {
	requireT := require.New(t)

	cfg, err := Parse([]byte("memory_limit: 1GB\n"))
	requireT.NoError(err)
	requireT.EqualValues(humanize.GByte, cfg.MemoryLimit)
	requireT.Equal(Default().ArenaHeadroom, cfg.ArenaHeadroom)
	requireT.Equal(Default().Log, cfg.Log)

	cfg, err = Parse(nil)
	requireT.NoError(err)
	requireT.Equal(Default(), cfg)
}

func TestParseErrors(t *testing.T) {
	requireT := require.New(t)

	for _, data := range []string{
		"memory_limit: lots\n",
		"memory_limit: 0\n",
		"journal:\n  compression: gzip\n",
		"log:\n  level: loud\n",
		"unknown_key: 1\n",
	} {
		_, err := Parse([]byte(data))
		requireT.Error(err, data)
	}
}

func TestLoad(t *testing.T) {
	requireT := require.New(t)

	path := filepath.Join(t.TempDir(), "shelf.yaml")
	requireT.NoError(os.WriteFile(path, []byte("memory_limit: 2MiB\n"), 0o600))

	cfg, err := Load(path)
	requireT.NoError(err)
	requireT.EqualValues(2*humanize.MiByte, cfg.MemoryLimit)

	t.Setenv(EnvVar, path)
	cfg, err = LoadFromEnv()
	requireT.NoError(err)
	requireT.EqualValues(2*humanize.MiByte, cfg.MemoryLimit)

	t.Setenv(EnvVar, "")
	cfg, err = LoadFromEnv()
	requireT.NoError(err)
	requireT.Equal(Default(), cfg)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	requireT.Error(err)
}

func TestSize(t *testing.T) {
	requireT := require.New(t)

	var s Size
	requireT.NoError(s.Set("3 KiB"))
	requireT.EqualValues(3*humanize.KiByte, s)
	requireT.Equal("3.0 KiB", s.String())
	requireT.Equal("size", s.Type())
	requireT.Error(s.Set("many"))

	out, err := yaml.Marshal(struct {
		Limit Size `yaml:"limit"`
	}{Limit: Size(humanize.MiByte)})
	requireT.NoError(err)
	requireT.Equal("limit: 1.0 MiB\n", string(out))
}
