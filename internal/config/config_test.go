package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Addr = ":9999"
	cfg.Router.DeleteSuccessTarget = 3
	cfg.MaxRPS = 500

	path := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestLoadMalformedYAMLReturnsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, writeFile(path, "addr: [this is not valid: yaml"))

	_, err := Load(path)
	require.Error(t, err)
}

func TestFlattenExposesTopLevelFields(t *testing.T) {
	m := Flatten(Default())
	require.Equal(t, ":1174", m["Addr"])
	require.Equal(t, "info", m["LogLevel"])
	require.Contains(t, m, "Router")
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}
