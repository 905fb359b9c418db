package transport

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	flynnnoise "github.com/flynn/noise"

	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/noise"
)

// ErrHandshakeFailed indicates a SecureDialer connection could not
// complete its Noise handshake.
var ErrHandshakeFailed = errors.New("transport: secure handshake failed")

// Dialer opens a raw network connection to link. TCPTransport's
// underlying net.Listener/net.Dial satisfies this once wrapped; UDP has
// no notion of a persistent duplex connection and is not a valid target
// for SecureDialer.
type Dialer func(link node.Link) (net.Conn, error)

// SecureDialer layers an optional Noise handshake on top of a raw
// duplex dialer, giving a persistent connection forward secrecy beyond
// the per-message asymmetric box already applied by the wire protocol
// (spec.md §9: connection reuse and its security are an optimization
// layered on top of, not a replacement for, the wire envelope).
type SecureDialer struct {
	dial       Dialer
	privateKey [32]byte
}

// NewSecureDialer wraps dial with Noise handshakes authenticated by the
// local node's secret key.
func NewSecureDialer(dial Dialer, privateKey [32]byte) *SecureDialer {
	return &SecureDialer{dial: dial, privateKey: privateKey}
}

// DialKnown opens a secured connection to a peer whose public key is
// already known (its address in the routing table), using the Noise IK
// pattern: one round trip.
func (d *SecureDialer) DialKnown(link node.Link, peerPublic [32]byte) (*SecureConn, error) {
	conn, err := d.dial(link)
	if err != nil {
		return nil, err
	}

	hs, err := noise.NewIKHandshake(d.privateKey[:], peerPublic[:], noise.Initiator)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msg, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeFrame(conn, msg); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, ErrHandshakeFailed
	}
	if _, _, err := hs.ReadMessage(resp); err != nil {
		conn.Close()
		return nil, ErrHandshakeFailed
	}

	send, recv, err := hs.GetCipherStates()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &SecureConn{conn: conn, send: send, recv: recv}, nil
}

// DialBootstrap opens a secured connection to a signaling peer whose
// static key has not yet been learned, using the Noise XX pattern:
// three message round trip.
func (d *SecureDialer) DialBootstrap(link node.Link) (*SecureConn, error) {
	conn, err := d.dial(link)
	if err != nil {
		return nil, err
	}

	hs, err := noise.NewXXHandshake(d.privateKey[:], noise.Initiator)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msg1, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeFrame(conn, msg1); err != nil {
		conn.Close()
		return nil, err
	}

	resp1, err := readFrame(conn)
	if err != nil {
		conn.Close()
		return nil, ErrHandshakeFailed
	}
	if _, _, err := hs.ReadMessage(resp1); err != nil {
		conn.Close()
		return nil, ErrHandshakeFailed
	}

	msg2, complete, err := hs.WriteMessage(nil, nil)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := writeFrame(conn, msg2); err != nil {
		conn.Close()
		return nil, err
	}
	if !complete {
		conn.Close()
		return nil, ErrHandshakeFailed
	}

	send, recv, err := hs.GetCipherStates()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &SecureConn{conn: conn, send: send, recv: recv}, nil
}

// SecureConn is a duplex Noise-encrypted session over a raw connection.
// It satisfies Conn for outbound use and additionally offers Recv for
// callers that dial directly rather than going through Transport.Accept.
type SecureConn struct {
	conn net.Conn
	send *flynnnoise.CipherState
	recv *flynnnoise.CipherState
}

// Send encrypts frame and writes it length-prefixed to the connection.
func (c *SecureConn) Send(frame []byte) error {
	sealed := c.send.Encrypt(nil, nil, frame)
	return writeFrame(c.conn, sealed)
}

// Recv reads and decrypts the next frame from the connection.
func (c *SecureConn) Recv() ([]byte, error) {
	sealed, err := readFrame(c.conn)
	if err != nil {
		return nil, err
	}
	return c.recv.Decrypt(nil, nil, sealed)
}

// Close closes the underlying connection.
func (c *SecureConn) Close() error {
	return c.conn.Close()
}

func writeFrame(w io.Writer, payload []byte) error {
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(prefix))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
