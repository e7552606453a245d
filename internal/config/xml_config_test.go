package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trinity/guided-upload/internal/persistence"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PORT", "BACKEND_URL", "DATA_DIR", "PERSISTENCE_DRIVER", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_WritesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "guided-upload.config")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8089, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "data"), cfg.GetDataDir())
	assert.Equal(t, 30*time.Second, cfg.BackendTimeout())
	assert.Equal(t, 2, cfg.Backend.MaxRetries)
	assert.Equal(t, persistence.DuckOptions{Threads: 4, MemoryLimit: "1GB"}, cfg.DuckOptions())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<GuidedUpload>")
	assert.Contains(t, string(data), "<BaseURL>http://localhost:8000</BaseURL>")
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "guided-upload.config")
	xml := `<GuidedUpload>
  <Backend><BaseURL>http://prep:9000</BaseURL></Backend>
  <Persistence><Driver>duckdb</Driver><DataDirectory>/var/lib/gu</DataDirectory></Persistence>
  <Advanced><RulesFile>rules.yaml</RulesFile><DuckDBThreads>8</DuckDBThreads><DuckDBMemoryLimit>2GiB</DuckDBMemoryLimit></Advanced>
</GuidedUpload>`
	require.NoError(t, os.WriteFile(path, []byte(xml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://prep:9000", cfg.Backend.BaseURL)
	assert.Equal(t, 30, cfg.Backend.TimeoutSeconds)
	assert.Equal(t, "duckdb", cfg.Persistence.Driver)
	assert.Equal(t, "/var/lib/gu", cfg.GetDataDir())
	assert.Equal(t, filepath.Join(dir, "rules.yaml"), cfg.Advanced.RulesFile)
	assert.Equal(t, 100, cfg.Sessions.MaxFlows)
	assert.Equal(t, persistence.DuckOptions{Threads: 8, MemoryLimit: "2GiB"}, cfg.DuckOptions())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9100")
	t.Setenv("BACKEND_URL", "http://backend")
	t.Setenv("PERSISTENCE_DRIVER", "memory")
	t.Setenv("LOG_LEVEL", "debug")
	path := filepath.Join(t.TempDir(), "guided-upload.config")
	require.NoError(t, DefaultConfig().Save(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "http://backend", cfg.Backend.BaseURL)
	assert.Equal(t, "memory", cfg.Persistence.Driver)
	assert.Equal(t, "debug", cfg.Advanced.LogLevel)
	assert.Equal(t, "0.0.0.0:9100", cfg.GetServerAddr())
}

func TestLoadConfig_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	tests := []struct {
		name string
		xml  string
	}{
		{"malformed", `<GuidedUpload><Server>`},
		{"bad driver", `<GuidedUpload><Persistence><Driver>redis</Driver></Persistence></GuidedUpload>`},
		{"bad port", `<GuidedUpload><Server><Port>70000</Port></Server></GuidedUpload>`},
		{"negative duckdb threads", `<GuidedUpload><Advanced><DuckDBThreads>-2</DuckDBThreads></Advanced></GuidedUpload>`},
		{"bad duckdb memory limit", `<GuidedUpload><Advanced><DuckDBMemoryLimit>1GB'; DROP</DuckDBMemoryLimit></Advanced></GuidedUpload>`},
		{"negative retries", `<GuidedUpload><Backend><BaseURL>x</BaseURL><MaxRetries>-1</MaxRetries></Backend></GuidedUpload>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".config")
			require.NoError(t, os.WriteFile(path, []byte(tt.xml), 0644))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Persistence.DataDirectory = filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, cfg.Persistence.DataDirectory)
}
