package transport

import (
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/wire"
)

// TCPTransport frames messages over persistent streams by reading the
// fixed wire.HeaderSize header first, decoding the declared body length,
// then reading exactly that many further bytes (spec.md §6 "Wire
// framing": "Receivers read the fixed 139-byte prefix, then read
// high*255+low additional bytes").
type TCPTransport struct {
	listener net.Listener

	mode     Mode
	received chan Received

	mu         sync.Mutex
	clients    map[string]net.Conn
	terminated bool
	closeOnce  sync.Once
}

// NewTCPTransport constructs an unstarted TCP transport.
func NewTCPTransport() *TCPTransport {
	return &TCPTransport{
		received: make(chan Received, 256),
		clients:  make(map[string]net.Conn),
	}
}

// Start binds the TCP listener and begins accepting connections.
func (t *TCPTransport) Start(listenHost string, port uint16) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(listenHost, strconv.Itoa(int(port))))
	if err != nil {
		return err
	}
	t.listener = listener

	go t.acceptLoop()
	return nil
}

// LocalPort returns the TCP port actually bound, useful when Start was
// called with port 0 and the OS assigned one.
func (t *TCPTransport) LocalPort() uint16 {
	link, err := linkFromAddr(t.listener.Addr())
	if err != nil {
		return 0
	}
	return link.Port
}

func (t *TCPTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.Lock()
			done := t.terminated
			t.mu.Unlock()
			if done {
				return
			}
			continue
		}
		go t.readLoop(conn)
	}
}

func (t *TCPTransport) readLoop(conn net.Conn) {
	defer conn.Close()

	logger := logrus.WithFields(logrus.Fields{"function": "readLoop", "package": "transport", "proto": "tcp"})

	link, err := linkFromAddr(conn.RemoteAddr())
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("dropping connection with unparseable remote address")
		return
	}

	header := make([]byte, wire.HeaderSize)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(DefaultIdleTimeout))
		if _, err := io.ReadFull(conn, header); err != nil {
			return
		}

		bodyLen, err := wire.PeekBodyLength(header)
		if err != nil {
			return
		}

		frame := make([]byte, wire.HeaderSize+bodyLen)
		copy(frame, header)
		if bodyLen > 0 {
			if _, err := io.ReadFull(conn, frame[wire.HeaderSize:]); err != nil {
				return
			}
		}

		select {
		case t.received <- Received{Link: link, Data: frame}:
		default:
			logger.Warn("receive queue full, dropping frame")
		}
	}
}

// Accept returns the next received frame, respecting the configured Mode.
func (t *TCPTransport) Accept() (Received, error) {
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

// Dial opens (or reuses) a persistent connection to link.
func (t *TCPTransport) Dial(link node.Link) (Conn, error) {
	t.mu.Lock()
	existing, ok := t.clients[link.String()]
	t.mu.Unlock()
	if ok {
		return &tcpConn{transport: t, key: link.String(), conn: existing}, nil
	}

	conn, err := net.DialTimeout("tcp", link.String(), DefaultDialTimeout)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	t.clients[link.String()] = conn
	t.mu.Unlock()

	go t.readLoop(conn)

	return &tcpConn{transport: t, key: link.String(), conn: conn}, nil
}

// Send dials (or reuses) a connection and writes a single frame.
func (t *TCPTransport) Send(link node.Link, frame []byte) error {
	conn, err := t.Dial(link)
	if err != nil {
		return err
	}
	return conn.Send(frame)
}

// SetMode switches Accept between Blocking and NonBlocking.
func (t *TCPTransport) SetMode(m Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = m
}

// Terminate closes the listener and every open client connection.
func (t *TCPTransport) Terminate() error {
	t.mu.Lock()
	t.terminated = true
	clients := t.clients
	t.clients = make(map[string]net.Conn)
	t.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}

	var err error
	t.closeOnce.Do(func() {
		if t.listener != nil {
			err = t.listener.Close()
		}
		close(t.received)
	})
	return err
}

type tcpConn struct {
	transport *TCPTransport
	key       string
	conn      net.Conn
}

func (c *tcpConn) Send(frame []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultDialTimeout))
	_, err := c.conn.Write(frame)
	if err != nil {
		c.transport.mu.Lock()
		delete(c.transport.clients, c.key)
		c.transport.mu.Unlock()
	}
	return err
}

func (c *tcpConn) Close() error {
	c.transport.mu.Lock()
	delete(c.transport.clients, c.key)
	c.transport.mu.Unlock()
	return c.conn.Close()
}
