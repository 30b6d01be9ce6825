package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		Local: "127.0.0.1:9000",
		PSK:   "0000000000000000000000000000000000000000000000000000000000000000"[:64],
		MTU:   1400,
		RateLimit: RateLimitConf{
			PacketsPerSecond: 1000, BytesPerSecond: 1_000_000,
			BurstPackets: 100, BurstBytes: 100_000,
		},
		Reorder:  ReorderConf{MaxPackets: 256, MaxBytes: 1 << 20, MaxDelayMs: 1000},
		Fragment: FragmentConf{MaxPending: 16, MaxFragments: 64, MaxSize: 1 << 20, TimeoutMs: 5000},
		Retransmit: RetransmitConf{
			InitialRTOMs: 200, MinRTOMs: 200, MaxRTOMs: 10000,
			MaxRetries: 10, MaxUnackedPackets: 1000, MaxUnackedBytes: 1 << 20,
			Alpha: 0.125, Beta: 0.25,
		},
		Rotation: RotationConf{Packets: 1 << 20, Bytes: 1 << 30, Seconds: 3600},
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	t.Parallel()
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsBadMTU(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.MTU = 100
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an MTU below the minimum")
	}
	c.MTU = 100000
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for an MTU above the maximum")
	}
}

func TestValidateRejectsBadPSKLength(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.PSK = "deadbeef"
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a short psk")
	}
}

func TestValidateRejectsNonPositiveRates(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.RateLimit.PacketsPerSecond = 0
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error for a zero rate")
	}
}

func TestValidateRejectsInvertedRTOBounds(t *testing.T) {
	t.Parallel()
	c := validConfig()
	c.Retransmit.MinRTOMs = 5000
	c.Retransmit.MaxRTOMs = 1000
	if err := c.Validate(); err == nil {
		t.Fatal("expected an error when max_rto_ms < min_rto_ms")
	}
}

func TestLoadParsesTOMLFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "veil.toml")
	contents := `
local = "127.0.0.1:9000"
peer = "127.0.0.1:9001"
psk = "` + validConfig().PSK + `"
mtu = 1400

[rate_limit]
pps = 1000
bps = 1000000
burst_p = 100
burst_b = 100000

[reorder]
max_packets = 256
max_bytes = 1048576
max_delay_ms = 1000

[fragment]
max_pending = 16
max_fragments = 64
max_size = 1048576
timeout_ms = 5000

[retransmit]
initial_rto_ms = 200
min_rto_ms = 200
max_rto_ms = 10000
max_retries = 10
max_unacked_packets = 1000
max_unacked_bytes = 1048576
alpha = 0.125
beta = 0.25

[rotation]
packets = 1048576
bytes = 1073741824
seconds = 3600
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned an error: %v", err)
	}
	if c.Local != "127.0.0.1:9000" || c.Peer != "127.0.0.1:9001" {
		t.Fatalf("unexpected endpoints: local=%q peer=%q", c.Local, c.Peer)
	}
	if c.RateLimit.PacketsPerSecond != 1000 {
		t.Fatalf("rate_limit.pps = %v, want 1000", c.RateLimit.PacketsPerSecond)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "veil.toml")
	if err := os.WriteFile(path, []byte(`local = "127.0.0.1:9000"`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject a config missing required fields")
	}
}
