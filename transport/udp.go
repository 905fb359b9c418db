package transport

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/node"
)

// maxDatagramSize comfortably covers the largest wire frame the overlay
// defines: a 139-byte header plus the maximum base-255 body length.
const maxDatagramSize = 139 + 255*255 + 254

// UDPTransport delivers one wire frame per datagram: UDP's own framing
// already matches the wire package's self-describing envelopes, so no
// additional length-prefixing is needed (spec.md §6).
type UDPTransport struct {
	conn net.PacketConn

	mode     Mode
	received chan Received

	mu          sync.Mutex
	terminated  bool
	closeOnce   sync.Once
	readTimeout time.Duration
}

// NewUDPTransport constructs an unstarted UDP transport.
func NewUDPTransport() *UDPTransport {
	return &UDPTransport{
		received:    make(chan Received, 256),
		readTimeout: 100 * time.Millisecond,
	}
}

// Start binds the UDP socket and begins the background receive loop.
func (t *UDPTransport) Start(listenHost string, port uint16) error {
	conn, err := net.ListenPacket("udp", net.JoinHostPort(listenHost, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	t.conn = conn

	go t.receiveLoop()
	return nil
}

// LocalPort returns the UDP port actually bound, useful when Start was
// called with port 0 and the OS assigned one.
func (t *UDPTransport) LocalPort() uint16 {
	link, err := linkFromAddr(t.conn.LocalAddr())
	if err != nil {
		return 0
	}
	return link.Port
}

func (t *UDPTransport) receiveLoop() {
	logger := logrus.WithFields(logrus.Fields{"function": "receiveLoop", "package": "transport", "proto": "udp"})
	buf := make([]byte, maxDatagramSize)

	for {
		t.mu.Lock()
		done := t.terminated
		t.mu.Unlock()
		if done {
			return
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			continue
		}

		link, err := linkFromAddr(addr)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("dropping datagram with unparseable source address")
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		select {
		case t.received <- Received{Link: link, Data: frame}:
		default:
			logger.Warn("receive queue full, dropping datagram")
		}
	}
}

// Accept returns the next received frame, respecting the configured Mode.
func (t *UDPTransport) Accept() (Received, error) {
	t.mu.Lock()
	mode := t.mode
	done := t.terminated
	t.mu.Unlock()
	if done {
		return Received{}, ErrTerminated
	}

	if mode == NonBlocking {
		select {
		case r := <-t.received:
			return r, nil
		default:
			return Received{}, ErrWouldBlock
		}
	}

	r, ok := <-t.received
	if !ok {
		return Received{}, ErrTerminated
	}
	return r, nil
}

// Dial returns a Conn bound to a fixed destination address; UDP has no
// real connection setup cost, so Dial never fails on reachability.
func (t *UDPTransport) Dial(link node.Link) (Conn, error) {
	addr, err := net.ResolveUDPAddr("udp", link.String())
	if err != nil {
		return nil, err
	}
	return &udpConn{transport: t, addr: addr}, nil
}

// Send dials and writes a single frame in one call.
func (t *UDPTransport) Send(link node.Link, frame []byte) error {
	conn, err := t.Dial(link)
	if err != nil {
		return err
	}
	defer conn.Close()
	return conn.Send(frame)
}

// SetMode switches Accept between Blocking and NonBlocking.
func (t *UDPTransport) SetMode(m Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = m
}

// Terminate closes the socket and unblocks any pending Accept.
func (t *UDPTransport) Terminate() error {
	t.mu.Lock()
	t.terminated = true
	t.mu.Unlock()

	var err error
	t.closeOnce.Do(func() {
		if t.conn != nil {
			err = t.conn.Close()
		}
		close(t.received)
	})
	return err
}

type udpConn struct {
	transport *UDPTransport
	addr      net.Addr
}

func (c *udpConn) Send(frame []byte) error {
	_, err := c.transport.conn.WriteTo(frame, c.addr)
	return err
}

func (c *udpConn) Close() error { return nil }

func linkFromAddr(addr net.Addr) (node.Link, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return node.Link{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return node.Link{}, fmt.Errorf("transport: invalid source port %q: %w", portStr, err)
	}
	return node.Link{Host: host, Port: uint16(port)}, nil
}
