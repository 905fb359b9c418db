// Package transport implements the socket I/O layer described in
// spec.md §6: accepting inbound connections, dialing outbound ones, and
// moving already-framed wire bytes between the dispatcher and the
// network. Three implementations are provided:
//
//	udp := transport.NewUDPTransport()
//	err := udp.Start("0.0.0.0", 4242)
//	tcp := transport.NewTCPTransport()
//	err = tcp.Start("0.0.0.0", 4242)
//	sec := transport.NewSecureTCPTransport(privateKey)
//
// UDP's datagram boundaries already match one wire.Envelope per message,
// so no additional framing is needed. TCP streams are framed by reading
// the fixed wire.HeaderSize header, decoding the declared body length
// via wire.PeekBodyLength, then reading exactly that many more bytes.
// SecureTCPTransport first wraps every connection in a Noise XX
// handshake (see the noise package), then carries each wire frame as one
// Noise-encrypted message behind a 4-byte big-endian length prefix.
//
// # Modes
//
// Accept honors the Mode set by SetMode: Blocking waits for the next
// frame, NonBlocking returns ErrWouldBlock immediately when nothing is
// pending. The dispatcher runs Accept in Blocking mode on its own
// accept-pump goroutine, which only forwards received frames onto a
// channel; the event loop itself never blocks on the network, instead
// selecting across that channel alongside its periodic timer and
// user-interface channels (spec.md §5).
//
// # Connection reuse
//
// TCPTransport keeps one persistent connection per peer link and reuses
// it across Dial/Send calls; UDPTransport has no connection setup cost
// and dials per call. Neither is required by the specification, which
// treats connection reuse as an optimization (spec.md §9).
package transport
