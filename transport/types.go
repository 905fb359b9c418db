// Package transport implements the socket I/O layer the dispatcher
// consumes: accepting inbound connections, dialing outbound ones, and
// delivering/sending framed wire bytes (spec.md §6 "Transport contract").
// Framing itself is the wire package's concern; a Transport only moves
// opaque byte slices that are already complete wire.Envelope frames.
package transport

import (
	"errors"
	"time"

	"github.com/opd-ai/dhtpubsub/node"
)

// Mode selects whether Accept blocks waiting for the next message or
// returns immediately (spec.md §6: "mode(Blocking | NonBlocking)").
type Mode int

const (
	Blocking Mode = iota
	NonBlocking
)

var (
	// ErrWouldBlock is returned by Accept in NonBlocking mode when no
	// message is currently pending.
	ErrWouldBlock = errors.New("transport: would block")
	// ErrTerminated is returned by Accept once Terminate has been
	// called. Dial does not check for termination.
	ErrTerminated = errors.New("transport: terminated")
)

// Default timeouts (spec.md §5 "Timeouts").
const (
	DefaultDialTimeout = 5 * time.Second
	DefaultIdleTimeout = 60 * time.Second
)

// Received pairs a complete wire frame with the link of the peer it
// arrived from.
type Received struct {
	Link node.Link
	Data []byte
}

// Conn is a handle to an outbound connection capable of sending further
// frames without redialing (spec.md §9: connection reuse is a
// performance optimization, not a semantic requirement).
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Transport is the external collaborator the dispatcher depends on for
// all network I/O (spec.md §6).
type Transport interface {
	// Start binds the transport to listenHost:port and begins accepting.
	Start(listenHost string, port uint16) error
	// Accept returns the next received frame. In NonBlocking mode it
	// returns ErrWouldBlock immediately if nothing is pending.
	Accept() (Received, error)
	// Dial opens an outbound connection to link.
	Dial(link node.Link) (Conn, error)
	// Send is a convenience for a single-shot dial-and-send.
	Send(link node.Link, frame []byte) error
	// SetMode switches between Blocking and NonBlocking Accept semantics.
	SetMode(Mode)
	// Terminate shuts the transport down; subsequent Accept calls
	// return ErrTerminated. Dial does not check whether Terminate has
	// been called.
	Terminate() error
}
