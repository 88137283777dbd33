package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFlags(t *testing.T) {
	t.Setenv(configFileEnv, "")
	cfg, err := LoadConfig([]string{
		"--db_driver=memory",
		"--grpc_addr=127.0.0.1:9000",
		"--s3_bucket=reports",
		"--inactivity_logout=30m",
	})
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "127.0.0.1:9000", cfg.Consul.PublicAddress)
	assert.Equal(t, 30*time.Minute, cfg.Session.InactivityLogout)
	assert.Equal(t, 12*time.Hour, cfg.Links.ReportTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.Links.BatchTTL)
	assert.Equal(t, 3, cfg.Links.Attempts)
	assert.Equal(t, 0, cfg.Worker.Workers)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"db_driver":"memory","grpc_addr":":8080","s3_bucket":"b","workers":2}`), 0o600))
	t.Setenv(configFileEnv, path)

	cfg, err := LoadConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.Equal(t, ":8080", cfg.Consul.PublicAddress)
	assert.Equal(t, 2, cfg.Worker.Workers)
}

func TestValidateConfig(t *testing.T) {
	t.Setenv(configFileEnv, "")
	_, err := LoadConfig([]string{"--grpc_addr=:1", "--s3_bucket=b"})
	assert.ErrorContains(t, err, "Data source is required")

	_, err = LoadConfig([]string{"--db_driver=memory", "--s3_bucket=b"})
	assert.ErrorContains(t, err, "gRPC address is required")

	_, err = LoadConfig([]string{"--db_driver=memory", "--grpc_addr=:1", "--s3_bucket=b", "--consul=localhost:8500"})
	assert.ErrorContains(t, err, "Service id is required")

	_, err = LoadConfig([]string{"--db_driver=sqlite", "--grpc_addr=:1", "--s3_bucket=b"})
	assert.ErrorContains(t, err, "unknown database driver")
}

func TestLoadUploaderConfig(t *testing.T) {
	cfg, err := LoadUploaderConfig([]string{"--max_uploads=3", "--sections=usage,alarms", "a.tar", "b.tar"})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Queue.MaxUploads)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.Tick)
	assert.Equal(t, []string{"usage", "alarms"}, cfg.Report.Sections)
	assert.Equal(t, []string{"a.tar", "b.tar"}, cfg.Files)
	assert.Equal(t, 20*time.Minute, cfg.Queue.KeepAlive)

	_, err = LoadUploaderConfig([]string{"--max_uploads=0"})
	assert.ErrorContains(t, err, "max uploads")

	_, err = LoadUploaderConfig([]string{"--keepalive=0s"})
	assert.ErrorContains(t, err, "keepalive")
}
