// Package netif exposes a modem engine as a tinygo.org/x/drivers network
// device, so socket-style code (and TinyGo's net shim) can run over the
// cellular link. The engine owns one data socket, so exactly one socket
// descriptor exists at a time.
//
// The adapter also supplies the engine's cooperative scheduler: a goroutine
// ticks Run at a fixed interval. All adapter calls and the tick loop
// serialize on one mutex, keeping the engine single-threaded.
package netif

import (
	"net/netip"
	"sync"
	"time"

	"tinygo.org/x/drivers/netdev"

	"gsmlink-go/drivers/simcom"
	"gsmlink-go/errcode"
)

const defaultTick = 5 * time.Millisecond

// Interface drives one modem engine and implements netdev.Netdever.
type Interface struct {
	mu   sync.Mutex
	dev  *simcom.Device
	stop chan struct{}

	sockOpen bool
}

var _ netdev.Netdever = (*Interface)(nil)

// New wraps an engine and starts the tick loop. tick <= 0 selects the
// default interval.
func New(dev *simcom.Device, tick time.Duration) *Interface {
	if tick <= 0 {
		tick = defaultTick
	}
	n := &Interface{
		dev:  dev,
		stop: make(chan struct{}),
	}
	go n.loop(tick)
	return n
}

// Stop halts the tick loop. The engine is left as-is.
func (n *Interface) Stop() {
	select {
	case <-n.stop:
	default:
		close(n.stop)
	}
}

func (n *Interface) loop(tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-t.C:
			n.mu.Lock()
			n.dev.Run()
			n.mu.Unlock()
		}
	}
}

// GetHostByName is unsupported: the modem resolves names itself during
// Connect, so dial with the hostname instead.
func (n *Interface) GetHostByName(name string) (netip.Addr, error) {
	return netip.Addr{}, errcode.Unsupported
}

// Addr returns the bearer-assigned address.
func (n *Interface) Addr() (netip.Addr, error) {
	n.mu.Lock()
	ip := n.dev.LocalIP()
	n.mu.Unlock()
	if ip == "" {
		return netip.Addr{}, errcode.NotConnected
	}
	return netip.ParseAddr(ip)
}

// Socket allocates the single stream socket.
func (n *Interface) Socket(domain int, stype int, protocol int) (int, error) {
	if domain != netdev.AF_INET {
		return -1, errcode.Unsupported
	}
	if stype != netdev.SOCK_STREAM {
		return -1, errcode.Unsupported
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sockOpen {
		return -1, errcode.AlreadyOpen
	}
	n.sockOpen = true
	return 0, nil
}

func (n *Interface) Bind(sockfd int, ip netip.AddrPort) error {
	return errcode.Unsupported
}

// Connect dials host:port (or the literal address when host is empty) and
// blocks until the session is up or fails.
func (n *Interface) Connect(sockfd int, host string, ip netip.AddrPort) error {
	if host == "" {
		host = ip.Addr().String()
	}
	n.mu.Lock()
	n.dev.SetHostPort(host, ip.Port())
	ok := n.dev.Connect()
	n.mu.Unlock()
	if !ok {
		return errcode.NoAPN
	}

	for {
		n.mu.Lock()
		phase := n.dev.Phase()
		n.mu.Unlock()
		switch phase {
		case simcom.PhaseConnected:
			return nil
		case simcom.PhaseDNSError:
			return errcode.DNSFailed
		case simcom.PhaseConnectionError, simcom.PhaseGeneralError:
			return errcode.LinkFailed
		}
		time.Sleep(defaultTick)
	}
}

func (n *Interface) Listen(sockfd int, backlog int) error {
	return errcode.Unsupported
}

func (n *Interface) Accept(sockfd int) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, errcode.Unsupported
}

// Send stages buf through the engine's write ring, honoring the deadline.
func (n *Interface) Send(sockfd int, buf []byte, flags int, deadline time.Time) (int, error) {
	sent := 0
	for sent < len(buf) {
		n.mu.Lock()
		connected := n.dev.IsConnected()
		w := 0
		if connected {
			w = n.dev.Write(buf[sent:])
		}
		n.mu.Unlock()
		if !connected {
			return sent, errcode.Closed
		}
		sent += w
		if sent < len(buf) {
			if !deadline.IsZero() && time.Now().After(deadline) {
				return sent, errcode.Timeout
			}
			time.Sleep(defaultTick)
		}
	}
	return sent, nil
}

// Recv blocks until payload arrives, the stream ends, or the deadline passes.
func (n *Interface) Recv(sockfd int, buf []byte, flags int, deadline time.Time) (int, error) {
	for {
		n.mu.Lock()
		got := n.dev.Read(buf)
		connected := n.dev.IsConnected()
		n.mu.Unlock()
		if got > 0 {
			return got, nil
		}
		if !connected {
			return 0, errcode.Closed
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, errcode.Timeout
		}
		time.Sleep(defaultTick)
	}
}

// Close tears the session down and frees the socket descriptor.
func (n *Interface) Close(sockfd int) error {
	n.mu.Lock()
	n.dev.Disconnect()
	n.sockOpen = false
	n.mu.Unlock()
	return nil
}

func (n *Interface) SetSockOpt(sockfd int, level int, opt int, value interface{}) error {
	return errcode.Unsupported
}
