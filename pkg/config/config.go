// Package config loads and validates the typed configuration surface a
// transport session accepts, grounded on dtn7-dtn7-gold's
// tomlConfig/parseCore shape (decode into a flat struct, then validate
// each section with explicit bounds checks) retargeted from JSON+flag
// onto github.com/BurntSushi/toml.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config is the full configuration surface spec.md §6 names.
type Config struct {
	Local string `toml:"local"`
	Peer  string `toml:"peer"` // empty => responder

	PSK string `toml:"psk"` // hex-encoded 32 bytes
	MTU int    `toml:"mtu"`

	RateLimit  RateLimitConf  `toml:"rate_limit"`
	Reorder    ReorderConf    `toml:"reorder"`
	Fragment   FragmentConf   `toml:"fragment"`
	Retransmit RetransmitConf `toml:"retransmit"`
	Rotation   RotationConf   `toml:"rotation"`
	Handshake  HandshakeConf  `toml:"handshake"`
}

type RateLimitConf struct {
	PacketsPerSecond float64 `toml:"pps"`
	BytesPerSecond   float64 `toml:"bps"`
	BurstPackets     float64 `toml:"burst_p"`
	BurstBytes       float64 `toml:"burst_b"`
}

type ReorderConf struct {
	MaxPackets int `toml:"max_packets"`
	MaxBytes   int `toml:"max_bytes"`
	MaxDelayMs int `toml:"max_delay_ms"`
}

type FragmentConf struct {
	MaxPending   int `toml:"max_pending"`
	MaxFragments int `toml:"max_fragments"`
	MaxSize      int `toml:"max_size"`
	TimeoutMs    int `toml:"timeout_ms"`
}

type RetransmitConf struct {
	InitialRTOMs      int     `toml:"initial_rto_ms"`
	MinRTOMs          int     `toml:"min_rto_ms"`
	MaxRTOMs          int     `toml:"max_rto_ms"`
	MaxRetries        int     `toml:"max_retries"`
	MaxUnackedPackets int     `toml:"max_unacked_packets"`
	MaxUnackedBytes   int     `toml:"max_unacked_bytes"`
	Alpha             float64 `toml:"alpha"`
	Beta              float64 `toml:"beta"`
}

type RotationConf struct {
	Packets uint64 `toml:"packets"`
	Bytes   uint64 `toml:"bytes"`
	Seconds int    `toml:"seconds"`
}

type HandshakeConf struct {
	TimestampToleranceSeconds int `toml:"timestamp_tolerance_seconds"`
}

// minMTU and maxMTU bound the configurable MTU per spec.md §6.
const (
	minMTU = 576
	maxMTU = 65535
)

// Validate checks the bounds spec.md §6 requires: MTU range, PSK
// length, and positive rates and caps.
func (c Config) Validate() error {
	if c.Local == "" {
		return fmt.Errorf("config: local bind endpoint is required")
	}
	if c.MTU < minMTU || c.MTU > maxMTU {
		return fmt.Errorf("config: mtu %d out of range [%d, %d]", c.MTU, minMTU, maxMTU)
	}
	if len(c.PSK) != 64 {
		return fmt.Errorf("config: psk must be 64 hex characters (32 bytes), got %d", len(c.PSK))
	}
	if c.RateLimit.PacketsPerSecond <= 0 || c.RateLimit.BytesPerSecond <= 0 {
		return fmt.Errorf("config: rate_limit.pps and rate_limit.bps must be positive")
	}
	if c.RateLimit.BurstPackets <= 0 || c.RateLimit.BurstBytes <= 0 {
		return fmt.Errorf("config: rate_limit.burst_p and rate_limit.burst_b must be positive")
	}
	if c.Reorder.MaxPackets <= 0 || c.Reorder.MaxBytes <= 0 {
		return fmt.Errorf("config: reorder.max_packets and reorder.max_bytes must be positive")
	}
	if c.Fragment.MaxPending <= 0 || c.Fragment.MaxFragments <= 0 || c.Fragment.MaxSize <= 0 {
		return fmt.Errorf("config: fragment limits must be positive")
	}
	if c.Retransmit.MaxUnackedPackets <= 0 || c.Retransmit.MaxUnackedBytes <= 0 {
		return fmt.Errorf("config: retransmit unacked caps must be positive")
	}
	if c.Retransmit.MaxRTOMs < c.Retransmit.MinRTOMs {
		return fmt.Errorf("config: retransmit.max_rto_ms must be >= min_rto_ms")
	}
	return nil
}

// Load parses a TOML file into a validated Config.
func Load(path string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}
