package net

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// inmemAddr implements net.Addr for in-memory endpoints.
type inmemAddr string

func (a inmemAddr) Network() string { return "inmem" }
func (a inmemAddr) String() string  { return string(a) }

// InmemNetwork connects InmemStreamLayers to each other, so transports can
// be tested in-memory without going over a network.
type InmemNetwork struct {
	sync.Mutex
	listeners map[string]*InmemStreamLayer
}

// NewInmemNetwork returns an empty in-memory network.
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		listeners: map[string]*InmemStreamLayer{},
	}
}

// Listen registers a new endpoint on the network.
func (n *InmemNetwork) Listen(addr string) *InmemStreamLayer {
	n.Lock()
	defer n.Unlock()

	stream := &InmemStreamLayer{
		network:  n,
		addr:     addr,
		acceptCh: make(chan net.Conn),
		closeCh:  make(chan struct{}),
	}
	n.listeners[addr] = stream

	return stream
}

func (n *InmemNetwork) connect(addr string, timeout time.Duration) (net.Conn, error) {
	n.Lock()
	remote, ok := n.listeners[addr]
	n.Unlock()

	if !ok {
		return nil, fmt.Errorf("no in-memory listener on %s", addr)
	}

	local, served := net.Pipe()

	select {
	case remote.acceptCh <- served:
		return local, nil
	case <-remote.closeCh:
		return nil, errors.New("in-memory listener closed")
	case <-time.After(timeout):
		return nil, errors.New("in-memory dial timeout")
	}
}

// InmemStreamLayer implements the StreamLayer interface over net.Pipe pairs.
type InmemStreamLayer struct {
	network   *InmemNetwork
	addr      string
	acceptCh  chan net.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Dial implements the StreamLayer interface.
func (i *InmemStreamLayer) Dial(address string, timeout time.Duration) (net.Conn, error) {
	return i.network.connect(address, timeout)
}

// Accept implements the net.Listener interface.
func (i *InmemStreamLayer) Accept() (net.Conn, error) {
	select {
	case conn := <-i.acceptCh:
		return conn, nil
	case <-i.closeCh:
		return nil, errors.New("in-memory listener closed")
	}
}

// Close implements the net.Listener interface.
func (i *InmemStreamLayer) Close() error {
	i.closeOnce.Do(func() {
		close(i.closeCh)

		i.network.Lock()
		delete(i.network.listeners, i.addr)
		i.network.Unlock()
	})
	return nil
}

// Addr implements the net.Listener interface.
func (i *InmemStreamLayer) Addr() net.Addr {
	return inmemAddr(i.addr)
}

// AdvertiseAddr implements the StreamLayer interface.
func (i *InmemStreamLayer) AdvertiseAddr() string {
	return i.addr
}
