package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/distributed"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/session"
)

// serviceConfig is everything holohost needs to start.
type serviceConfig struct {
	Listener bool
	// ListenAddr serves the admin routes and, on a listener, the peer endpoint.
	ListenAddr string
	// AdvertiseAddr is the host:port peers dial. Defaults to ListenAddr.
	AdvertiseAddr   string
	Peers           []string
	Discover        bool
	DiscoverTimeout time.Duration
	// AdminToken guards the admin state routes when set.
	AdminToken string
	Host       distributed.Config
	Session    session.Config
}

func defaultServiceConfig() serviceConfig {
	return serviceConfig{
		Listener:        false,
		ListenAddr:      "127.0.0.1:9400",
		Discover:        false,
		DiscoverTimeout: 10 * time.Second,
		Host:            distributed.DefaultConfig(),
		Session:         session.DefaultConfig(),
	}
}

type fileConfig struct {
	Name               string   `toml:"name"`
	Listener           bool     `toml:"listener"`
	ListenAddr         string   `toml:"listen_addr"`
	AdvertiseAddr      string   `toml:"advertise_addr"`
	Peers              []string `toml:"peers"`
	Discover           bool     `toml:"discover"`
	DiscoverTimeout    string   `toml:"discover_timeout"`
	AdminToken         string   `toml:"admin_token"`
	TickRateHz         int      `toml:"tick_rate_hz"`
	DisconnectPolicy   string   `toml:"disconnect_policy"`
	BroadcastRate      float64  `toml:"broadcast_rate"`
	BroadcastBurst     int      `toml:"broadcast_burst"`
	MaxPayloadBytes    uint64   `toml:"max_payload_bytes"`
	ConnectTimeout     string   `toml:"connect_timeout"`
	HandshakeTimeout   string   `toml:"handshake_timeout"`
	PingInterval       string   `toml:"ping_interval"`
	SendQueueDepth     int      `toml:"send_queue_depth"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
}

func loadServiceConfig(path string) (serviceConfig, error) {
	cfg := defaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("load holohost config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Host.Name = name
		}
	}
	if meta.IsDefined("listener") {
		cfg.Listener = raw.Listener
	}
	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("advertise_addr") {
		cfg.AdvertiseAddr = strings.TrimSpace(raw.AdvertiseAddr)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizeAddrs(raw.Peers)
	}
	if meta.IsDefined("discover") {
		cfg.Discover = raw.Discover
	}
	if meta.IsDefined("discover_timeout") {
		d, err := parseDuration("discover_timeout", raw.DiscoverTimeout)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.DiscoverTimeout = d
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}

	if meta.IsDefined("tick_rate_hz") {
		if raw.TickRateHz <= 0 {
			return serviceConfig{}, fmt.Errorf("tick_rate_hz must be positive, got %d", raw.TickRateHz)
		}
		cfg.Host.TickInterval = time.Second / time.Duration(raw.TickRateHz)
	}
	if meta.IsDefined("disconnect_policy") {
		policy, err := distributed.ParseDisconnectPolicy(raw.DisconnectPolicy)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Host.DisconnectPolicy = policy
	}
	if meta.IsDefined("broadcast_rate") {
		cfg.Host.BroadcastRate = raw.BroadcastRate
	}
	if meta.IsDefined("broadcast_burst") {
		cfg.Host.BroadcastBurst = raw.BroadcastBurst
	}
	if meta.IsDefined("max_payload_bytes") {
		cfg.Host.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
		cfg.Session.Limits.MaxPayloadBytes = raw.MaxPayloadBytes
	}

	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Session.ConnectTimeout = d
	}
	if meta.IsDefined("handshake_timeout") {
		d, err := parseDuration("handshake_timeout", raw.HandshakeTimeout)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Session.HandshakeTimeout = d
	}
	if meta.IsDefined("ping_interval") {
		d, err := parseDuration("ping_interval", raw.PingInterval)
		if err != nil {
			return serviceConfig{}, err
		}
		cfg.Session.PingInterval = d
	}
	if meta.IsDefined("send_queue_depth") {
		cfg.Session.SendQueueDepth = raw.SendQueueDepth
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if cfg.ListenAddr == "" {
		return serviceConfig{}, fmt.Errorf("listen_addr is required")
	}
	if cfg.AdvertiseAddr == "" {
		cfg.AdvertiseAddr = cfg.ListenAddr
	}
	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func normalizeAddrs(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, addr := range in {
		v := strings.TrimSpace(addr)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
