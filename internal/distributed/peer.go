package distributed

import (
	"fmt"
	"time"

	"github.com/RobJellinghaus/Holofunk3-sub001/internal/ident"
	"github.com/RobJellinghaus/Holofunk3-sub001/internal/transport"
)

// Peer is one remote host as seen from this host.
type Peer struct {
	ID          transport.PeerID
	Token       ident.HostToken
	Address     ident.PeerAddress
	Name        string
	Listener    bool
	ConnectedAt time.Time

	connected bool
}

// Connected is false once the transport reported the peer gone. Proxies
// retained after a disconnect still point at the disconnected Peer.
func (p *Peer) Connected() bool {
	return p.connected
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer(%d %s %s)", p.ID, p.Token.Short(), p.Address)
}
