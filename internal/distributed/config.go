package distributed

import (
	"fmt"
	"strings"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/protocol/frame"
)

// DisconnectPolicy decides what happens to proxies whose owner disconnects.
type DisconnectPolicy string

const (
	// RetainProxies leaves the proxies in place with their last known state.
	// They are replaced when the same owner reconnects and re-sends Creates.
	RetainProxies DisconnectPolicy = "retain"
	// EvictProxies tears the proxies down immediately.
	EvictProxies DisconnectPolicy = "evict"
)

func ParseDisconnectPolicy(raw string) (DisconnectPolicy, error) {
	switch DisconnectPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", RetainProxies:
		return RetainProxies, nil
	case EvictProxies:
		return EvictProxies, nil
	default:
		return "", fmt.Errorf("distributed: unknown disconnect policy %q", raw)
	}
}

// Config defines host behavior.
type Config struct {
	Name             string
	TickInterval     time.Duration
	DisconnectPolicy DisconnectPolicy
	// BroadcastRate is the outbound broadcast budget per second. Zero disables
	// throttling.
	BroadcastRate  float64
	BroadcastBurst int
	Limits         frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Name:             "holohost",
		TickInterval:     time.Second / 60,
		DisconnectPolicy: RetainProxies,
		BroadcastRate:    0,
		BroadcastBurst:   64,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Name) == "" {
		c.Name = d.Name
	}
	if c.TickInterval <= 0 {
		c.TickInterval = d.TickInterval
	}
	if c.DisconnectPolicy == "" {
		c.DisconnectPolicy = d.DisconnectPolicy
	}
	if c.BroadcastBurst <= 0 {
		c.BroadcastBurst = d.BroadcastBurst
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}
