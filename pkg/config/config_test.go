package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("IPM_TEST_TOKEN", "secret")
	path := writeConfig(t, "name: ${IPM_TEST_NAME:-farm}\nport: 8080\ntoken: ${IPM_TEST_TOKEN}\n")

	var cfg sample
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, sample{Name: "farm", Port: 8080, Token: "secret"}, cfg)
}

func TestLoad_KeepsDefaults(t *testing.T) {
	path := writeConfig(t, "name: barn\n")
	cfg := sample{Port: 9000}
	require.NoError(t, Load(path, &cfg))
	assert.Equal(t, "barn", cfg.Name)
	assert.Equal(t, 9000, cfg.Port)
}

func TestLoad_ValidationFails(t *testing.T) {
	path := writeConfig(t, "port: 0\n")
	var cfg sample
	err := Load(path, &cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoad_MissingFile(t *testing.T) {
	var cfg sample
	assert.Error(t, Load(filepath.Join(t.TempDir(), "nope.yaml"), &cfg))
}

func TestLoadOptional(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	cfg := sample{Port: 1}
	require.NoError(t, LoadOptional(missing, &cfg))

	bad := sample{}
	assert.Error(t, LoadOptional(missing, &bad))
}
