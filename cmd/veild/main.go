package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/veilnet/veil/pkg/config"
	"github.com/veilnet/veil/pkg/fragment"
	"github.com/veilnet/veil/pkg/logging"
	"github.com/veilnet/veil/pkg/ratelimit"
	"github.com/veilnet/veil/pkg/reorder"
	"github.com/veilnet/veil/pkg/retransmit"
	"github.com/veilnet/veil/pkg/rotator"
	"github.com/veilnet/veil/pkg/session"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text, json)")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "veild: -config is required")
		os.Exit(1)
	}

	log := logging.Setup(*logLevel, *logFormat)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	sessCfg, err := toSessionConfig(cfg)
	if err != nil {
		log.Fatalf("build session config: %v", err)
	}
	sessCfg.Logger = log
	sessCfg.OnData = func(payload []byte) {
		log.WithField("bytes", len(payload)).Debug("data received")
	}
	sessCfg.OnState = func(s session.State) {
		log.WithField("state", s.String()).Info("session state changed")
	}
	sessCfg.OnError = func(err *session.VeilError) {
		log.WithField("kind", err.Kind).Warn(err.Error())
	}

	sess, err := session.New(sessCfg, nil)
	if err != nil {
		log.Fatalf("construct session: %v", err)
	}
	if err := sess.Start(); err != nil {
		log.Fatalf("start session: %v", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	stop := make(chan struct{})
	go func() {
		<-sig
		close(stop)
	}()

	for {
		select {
		case <-stop:
			log.Info("shutting down")
			sess.Stop()
			return
		default:
			if err := sess.Process(200); err != nil {
				log.WithField("error", err).Error("process loop error")
				return
			}
		}
	}
}

// toSessionConfig adapts the TOML-loaded configuration surface into the
// typed component configs each mux package expects.
func toSessionConfig(c config.Config) (session.Config, error) {
	pskBytes, err := hex.DecodeString(c.PSK)
	if err != nil || len(pskBytes) != 32 {
		return session.Config{}, fmt.Errorf("psk must be 64 hex characters: %w", err)
	}
	var psk [32]byte
	copy(psk[:], pskBytes)

	tolerance := time.Duration(c.Handshake.TimestampToleranceSeconds) * time.Second

	return session.Config{
		Local: c.Local,
		Peer:  c.Peer,
		PSK:   psk,
		MTU:   c.MTU,
		RateLimit: ratelimit.Config{
			PacketsPerSecond: c.RateLimit.PacketsPerSecond,
			BytesPerSecond:   c.RateLimit.BytesPerSecond,
			BurstPackets:     c.RateLimit.BurstPackets,
			BurstBytes:       c.RateLimit.BurstBytes,
		},
		Reorder: reorder.Config{
			MaxPackets: c.Reorder.MaxPackets,
			MaxBytes:   c.Reorder.MaxBytes,
			MaxDelay:   time.Duration(c.Reorder.MaxDelayMs) * time.Millisecond,
		},
		Fragment: fragment.Config{
			MaxPending:      c.Fragment.MaxPending,
			MaxFragments:    c.Fragment.MaxFragments,
			MaxMessageSize:  c.Fragment.MaxSize,
			FragmentTimeout: time.Duration(c.Fragment.TimeoutMs) * time.Millisecond,
		},
		Retransmit: retransmit.Config{
			InitialRTO:        time.Duration(c.Retransmit.InitialRTOMs) * time.Millisecond,
			MinRTO:            time.Duration(c.Retransmit.MinRTOMs) * time.Millisecond,
			MaxRTO:            time.Duration(c.Retransmit.MaxRTOMs) * time.Millisecond,
			MaxRetries:        c.Retransmit.MaxRetries,
			MaxUnackedPackets: c.Retransmit.MaxUnackedPackets,
			MaxUnackedBytes:   c.Retransmit.MaxUnackedBytes,
			Alpha:             c.Retransmit.Alpha,
			Beta:              c.Retransmit.Beta,
		},
		Rotation: rotator.Config{
			Packets: c.Rotation.Packets,
			Bytes:   c.Rotation.Bytes,
			Seconds: time.Duration(c.Rotation.Seconds) * time.Second,
		},
		HandshakeTolerance: tolerance,
	}, nil
}
