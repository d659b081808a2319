// Package discovery advertises listeners over mDNS and lets dialers find one
// when no address is configured.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	ServiceType = "_holofunk._tcp"
	Domain      = "local."
)

var ErrNoListener = errors.New("discovery: no listener found")

// Advertiser keeps one mDNS registration alive until Shutdown.
type Advertiser struct {
	server *zeroconf.Server
}

// Advertise announces the listener identity on port.
func Advertise(instance string, port int, id transport.Identity) (*Advertiser, error) {
	server, err := zeroconf.Register(instance, ServiceType, Domain, port, TXT(id), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: register: %w", err)
	}
	log.Info().Msgf("discovery.Advertise instance=%s service=%s port=%d", instance, ServiceType, port)
	return &Advertiser{server: server}, nil
}

func (a *Advertiser) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
}

// TXT renders the identity fields a browser needs.
func TXT(id transport.Identity) []string {
	return []string{
		"token=" + id.Token.String(),
		"name=" + id.Name,
		"listener=" + strconv.FormatBool(id.Listener),
	}
}

// Found is one listener seen on the network.
type Found struct {
	Instance string
	Address  ident.PeerAddress
	Token    ident.HostToken
	Name     string
}

// FromEntry converts a browse result, preferring IPv4.
func FromEntry(e *zeroconf.ServiceEntry) (Found, bool) {
	if e == nil {
		return Found{}, false
	}
	var ip net.IP
	switch {
	case len(e.AddrIPv4) > 0:
		ip = e.AddrIPv4[0]
	case len(e.AddrIPv6) > 0:
		ip = e.AddrIPv6[0]
	default:
		return Found{}, false
	}
	f := Found{
		Instance: e.Instance,
		Address:  ident.PeerAddress(net.JoinHostPort(ip.String(), strconv.Itoa(e.Port))),
	}
	for _, kv := range e.Text {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		switch key {
		case "token":
			if tok, err := ident.ParseHostToken(value); err == nil {
				f.Token = tok
			}
		case "name":
			f.Name = value
		case "listener":
			if listener, err := strconv.ParseBool(value); err == nil && !listener {
				return Found{}, false
			}
		}
	}
	return f, true
}

// FindListener browses until the first listener answers or ctx ends. Entries
// whose token is self are skipped.
func FindListener(ctx context.Context, self ident.HostToken) (Found, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return Found{}, fmt.Errorf("discovery: resolver: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return Found{}, fmt.Errorf("discovery: browse: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return Found{}, ErrNoListener
		case e, ok := <-entries:
			if !ok {
				return Found{}, ErrNoListener
			}
			f, ok := FromEntry(e)
			if !ok || f.Token == self {
				continue
			}
			log.Info().Msgf("discovery.FindListener instance=%s address=%s", f.Instance, f.Address)
			return f, nil
		}
	}
}
