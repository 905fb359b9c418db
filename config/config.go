// Package config loads the overlay's external configuration contract
// (spec.md §6 "Configuration contract"): routing table sizing, forward
// fan-out, duplicate cache sizing, the local reachable link, the
// bootstrap signaling peer, and the path to the node's secret key.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/routing"
	"github.com/opd-ai/dhtpubsub/topic"
	"github.com/opd-ai/dhtpubsub/txcache"
)

// ErrSecretKeyMissing indicates neither secret_key nor secret_key_file
// produced usable key material.
var ErrSecretKeyMissing = errors.New("config: no secret key configured")

// Default values for fields spec.md §6 declares optional (spec.md §6,
// §4.4).
const (
	DefaultBucketSize  = routing.DefaultBucketSize
	DefaultReplication = 3
	DefaultCacheLimit  = txcache.DefaultLimit
)

// Config is the overlay's external configuration contract (spec.md §6).
// Field names use snake_case in YAML to match the contract's notation.
type Config struct {
	BucketSize  int    `yaml:"bucket_size"`
	Replication int    `yaml:"replication"`
	CacheLimit  int    `yaml:"cache_limit"`
	CenterHost  string `yaml:"center_host"`
	CenterPort  uint16 `yaml:"center_port"`

	// SignalingHost/SignalingPort name the single bootstrap peer
	// (spec.md §6). Empty SignalingHost means no bootstrap peer
	// configured; startup proceeds with an empty routing table.
	SignalingHost string `yaml:"signaling_host"`
	SignalingPort uint16 `yaml:"signaling_port"`

	// SecretKeyFile points at a 32-byte raw secret key file (spec.md §6
	// "secret_key - 32 raw bytes (out-of-band file)"). SecretKeyHex is an
	// inline alternative used by tests and small deployments.
	SecretKeyFile string `yaml:"secret_key_file"`
	SecretKeyHex  string `yaml:"secret_key_hex"`

	// RepublishIntervalSeconds/ExpireAfterSeconds override topic.Registry's
	// defaults (spec.md §4.4). Zero means use the package default.
	RepublishIntervalSeconds int `yaml:"republish_interval_seconds"`
	ExpireAfterSeconds       int `yaml:"expire_after_seconds"`

	// PersistencePath, if set, enables the optional topic database
	// (spec.md §6 "Persisted state").
	PersistencePath string `yaml:"persistence_path"`

	// SecureTransport, if true, wraps the TCP transport in a Noise XX
	// handshake per connection (spec.md §9: connection reuse and its
	// security are an optimization, not a semantic requirement). The
	// overlaynode command rejects it in combination with the UDP
	// transport, which has no persistent connection to secure.
	SecureTransport bool `yaml:"secure_transport"`
}

// Default returns a Config with every optional field at its spec-defined
// default and no secret key, center link, or signaling peer configured.
func Default() Config {
	return Config{
		BucketSize:  DefaultBucketSize,
		Replication: DefaultReplication,
		CacheLimit:  DefaultCacheLimit,
	}
}

// Load reads and parses a YAML configuration file, filling unset
// optional fields with their defaults.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BucketSize <= 0 {
		c.BucketSize = DefaultBucketSize
	}
	if c.Replication <= 0 {
		c.Replication = DefaultReplication
	}
	if c.CacheLimit <= 0 {
		c.CacheLimit = DefaultCacheLimit
	}
}

// RepublishInterval returns the configured republish interval, or
// topic.DefaultRepublishInterval if unset.
func (c Config) RepublishInterval() time.Duration {
	if c.RepublishIntervalSeconds <= 0 {
		return topic.DefaultRepublishInterval
	}
	return time.Duration(c.RepublishIntervalSeconds) * time.Second
}

// ExpireAfter returns the configured remote-subscriber expiry window, or
// topic.DefaultExpireAfter if unset.
func (c Config) ExpireAfter() time.Duration {
	if c.ExpireAfterSeconds <= 0 {
		return topic.DefaultExpireAfter
	}
	return time.Duration(c.ExpireAfterSeconds) * time.Second
}

// CenterLink returns the local reachable link described by CenterHost
// and CenterPort.
func (c Config) CenterLink() node.Link {
	return node.Link{Host: c.CenterHost, Port: c.CenterPort}
}

// SignalingLink returns the configured bootstrap peer's link, and
// whether one was configured at all.
func (c Config) SignalingLink() (link node.Link, configured bool) {
	if c.SignalingHost == "" {
		return node.Link{}, false
	}
	return node.Link{Host: c.SignalingHost, Port: c.SignalingPort}, true
}

// SecretKey resolves the node's secret key from SecretKeyFile, falling
// back to SecretKeyHex, in that order.
func (c Config) SecretKey() ([32]byte, error) {
	var key [32]byte

	if c.SecretKeyFile != "" {
		raw, err := os.ReadFile(c.SecretKeyFile)
		if err != nil {
			return key, fmt.Errorf("config: read secret key file: %w", err)
		}
		if len(raw) != 32 {
			return key, fmt.Errorf("config: secret key file must contain exactly 32 bytes, got %d", len(raw))
		}
		copy(key[:], raw)
		return key, nil
	}

	if c.SecretKeyHex != "" {
		raw, err := hex.DecodeString(c.SecretKeyHex)
		if err != nil {
			return key, fmt.Errorf("config: decode secret_key_hex: %w", err)
		}
		if len(raw) != 32 {
			return key, fmt.Errorf("config: secret_key_hex must decode to exactly 32 bytes, got %d", len(raw))
		}
		copy(key[:], raw)
		return key, nil
	}

	return key, ErrSecretKeyMissing
}
