// Package peers holds the address book of cluster members. A peer entry is
// just a dialable address; overlay identities are learned in the connection
// handshake, not configured.
package peers

// Peer is one address book entry.
type Peer struct {
	NetAddr string
	Moniker string `json:",omitempty"`
}

// NewPeer returns a Peer for the given address.
func NewPeer(netAddr string) *Peer {
	return &Peer{NetAddr: netAddr}
}

// PeerStore provides the address book.
type PeerStore interface {
	// Peers returns the address book entries.
	Peers() ([]*Peer, error)

	// SetPeers replaces the address book.
	SetPeers([]*Peer) error
}

// StaticPeers is an in-memory PeerStore.
type StaticPeers struct {
	peers []*Peer
}

// NewStaticPeers returns a PeerStore over a fixed list of addresses.
func NewStaticPeers(addrs ...string) *StaticPeers {
	s := &StaticPeers{}
	for _, addr := range addrs {
		s.peers = append(s.peers, NewPeer(addr))
	}
	return s
}

// Peers implements the PeerStore interface.
func (s *StaticPeers) Peers() ([]*Peer, error) {
	return s.peers, nil
}

// SetPeers implements the PeerStore interface.
func (s *StaticPeers) SetPeers(peers []*Peer) error {
	s.peers = peers
	return nil
}
