package config

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFillsOptionalFields(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultBucketSize, cfg.BucketSize)
	assert.Equal(t, DefaultReplication, cfg.Replication)
	assert.Equal(t, DefaultCacheLimit, cfg.CacheLimit)
}

func TestLoadAppliesDefaultsForZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("center_host: 0.0.0.0\ncenter_port: 4000\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultBucketSize, cfg.BucketSize)
	assert.Equal(t, DefaultReplication, cfg.Replication)
	assert.Equal(t, "0.0.0.0", cfg.CenterHost)
	assert.Equal(t, uint16(4000), cfg.CenterPort)
	assert.False(t, cfg.SecureTransport)
}

func TestLoadParsesSecureTransport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("center_host: 0.0.0.0\ncenter_port: 4000\nsecure_transport: true\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.SecureTransport)
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "bucket_size: 8\nreplication: 5\ncache_limit: 50\nsignaling_host: bootstrap.example\nsignaling_port: 9000\n"
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.BucketSize)
	assert.Equal(t, 5, cfg.Replication)
	assert.Equal(t, 50, cfg.CacheLimit)

	link, configured := cfg.SignalingLink()
	assert.True(t, configured)
	assert.Equal(t, "bootstrap.example", link.Host)
	assert.Equal(t, uint16(9000), link.Port)
}

func TestSignalingLinkUnconfigured(t *testing.T) {
	cfg := Default()
	_, configured := cfg.SignalingLink()
	assert.False(t, configured)
}

func TestSecretKeyFromHex(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	cfg := Default()
	cfg.SecretKeyHex = hex.EncodeToString(raw)

	key, err := cfg.SecretKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key[:])
}

func TestSecretKeyFromFile(t *testing.T) {
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(255 - i)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "secret.key")
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	cfg := Default()
	cfg.SecretKeyFile = path

	key, err := cfg.SecretKey()
	require.NoError(t, err)
	assert.Equal(t, raw, key[:])
}

func TestSecretKeyMissing(t *testing.T) {
	cfg := Default()
	_, err := cfg.SecretKey()
	assert.ErrorIs(t, err, ErrSecretKeyMissing)
}

func TestRepublishIntervalDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 15*time.Minute, cfg.RepublishInterval())
}

func TestRepublishIntervalOverride(t *testing.T) {
	cfg := Default()
	cfg.RepublishIntervalSeconds = 30
	assert.Equal(t, 30*time.Second, cfg.RepublishInterval())
}
