package dispatcher

import (
	"encoding/binary"
	"errors"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
)

// errPeerListCorrupt indicates a Details or Bootstrap payload ended
// mid-entry.
var errPeerListCorrupt = errors.New("dispatcher: corrupt peer list")

// encodePeerList serializes a set of nodes for the Details and Bootstrap
// reply payloads (spec.md §4.3): for each node, its 32-byte address, a
// one-byte host length, the host bytes, and a two-byte big-endian port.
// This is a dispatcher-internal payload format distinct from the closed
// wire.Envelope layout; it only ever appears inside an already-sealed
// envelope body.
func encodePeerList(nodes []*node.Node) []byte {
	out := make([]byte, 0, len(nodes)*(address.Size+1+2))
	for _, n := range nodes {
		host := []byte(n.Link.Host)
		if len(host) > 255 {
			host = host[:255]
		}
		out = append(out, n.Address[:]...)
		out = append(out, byte(len(host)))
		out = append(out, host...)
		var port [2]byte
		binary.BigEndian.PutUint16(port[:], n.Link.Port)
		out = append(out, port[:]...)
	}
	return out
}

// peerEntry is one decoded row from a peer list payload.
type peerEntry struct {
	Address address.Address
	Link    node.Link
}

// decodePeerList is the reciprocal of encodePeerList.
func decodePeerList(body []byte) ([]peerEntry, error) {
	var entries []peerEntry
	for len(body) > 0 {
		if len(body) < address.Size+1 {
			return nil, errPeerListCorrupt
		}
		var addr address.Address
		copy(addr[:], body[:address.Size])
		body = body[address.Size:]

		hostLen := int(body[0])
		body = body[1:]
		if len(body) < hostLen+2 {
			return nil, errPeerListCorrupt
		}
		host := string(body[:hostLen])
		body = body[hostLen:]
		port := binary.BigEndian.Uint16(body[:2])
		body = body[2:]

		entries = append(entries, peerEntry{Address: addr, Link: node.Link{Host: host, Port: port}})
	}
	return entries, nil
}
