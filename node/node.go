// Package node defines the identities participating in the overlay: the
// local Center (secret key, derived public address, and reachable link)
// and the Node records the routing table keeps about peers.
package node

import (
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/crypto"
)

// Link identifies how to reach a node: a host and a UDP/TCP port. A Link
// may be the zero value for nodes only known indirectly (spec.md §3).
type Link struct {
	Host string
	Port uint16
}

// Empty reports whether the Link carries no reachability information.
func (l Link) Empty() bool {
	return l.Host == "" && l.Port == 0
}

func (l Link) String() string {
	if l.Empty() {
		return "<no-link>"
	}
	return l.Host + ":" + strconv.Itoa(int(l.Port))
}

// Reachability tracks whether a node has recently responded to a ping.
// Adapted from the teacher's dht.PingStats: a lightweight success/failure
// counter rather than a full liveness state machine, since the routing
// table only needs a reachable/unreachable boolean (spec.md §4.1).
type Reachability struct {
	LastPingSent time.Time
	PingCount    uint32
	SuccessCount uint32
	FailureCount uint32
}

// Node is a peer known to the local routing table: an identity, an
// optional link, and the time it was last seen participating in a
// successful exchange (spec.md §3).
type Node struct {
	Address  address.Address
	Link     Link
	LastSeen time.Time

	reachable    bool
	reachability Reachability
}

// New creates a Node observed at the current time. Newly observed nodes
// are assumed reachable until a ping proves otherwise, matching the
// teacher's StatusUnknown-is-optimistic convention in dht/node.go.
func New(addr address.Address, link Link) *Node {
	return &Node{
		Address:   addr,
		Link:      link,
		LastSeen:  time.Now(),
		reachable: true,
	}
}

// Touch updates LastSeen to now, called whenever the node participates in
// a successful exchange (spec.md §3).
func (n *Node) Touch() {
	n.LastSeen = time.Now()
	n.reachable = true
}

// MarkUnreachable records a failed liveness check without updating
// LastSeen, so the routing table can still evict it using the bucket
// replacement rule (spec.md §4.1).
func (n *Node) MarkUnreachable() {
	n.reachable = false
	n.reachability.FailureCount++
}

// RecordPingSent marks that a ping was dispatched to this node.
func (n *Node) RecordPingSent() {
	n.reachability.LastPingSent = time.Now()
	n.reachability.PingCount++
}

// RecordPong marks a successful pong response, restoring reachability.
func (n *Node) RecordPong() {
	n.reachability.SuccessCount++
	n.Touch()
}

// Reachable reports whether the node is currently believed reachable.
func (n *Node) Reachable() bool {
	return n.reachable
}

// Equal reports whether two nodes share the same address (spec.md §3:
// "Two nodes compare equal iff their addresses are equal").
func (n *Node) Equal(other *Node) bool {
	if other == nil {
		return false
	}
	return n.Address == other.Address
}

// Center is the local node's identity: secret key, derived public
// address, reachable link, and process start time. Exactly one Center
// exists per process and it is immutable after construction (spec.md §3).
type Center struct {
	secretKey [32]byte
	publicKey [32]byte
	self      address.Address
	link      Link
	startedAt time.Time
}

// NewCenter derives a Center's identity from a 32-byte secret key and the
// link this process will be reachable on.
func NewCenter(secretKey [32]byte, link Link) (*Center, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "NewCenter", "package": "node"})

	kp, err := crypto.FromSecretKey(secretKey)
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Error("failed to derive center keypair")
		return nil, err
	}

	c := &Center{
		secretKey: kp.Private,
		publicKey: kp.Public,
		self:      address.FromPublicKey(kp.Public),
		link:      link,
		startedAt: time.Now(),
	}

	logger.WithFields(logrus.Fields{
		"address": c.self.String(),
		"link":    link.String(),
	}).Info("center identity constructed")

	return c, nil
}

// Address returns the local node's identity.
func (c *Center) Address() address.Address { return c.self }

// Link returns the local node's reachable link.
func (c *Center) Link() Link { return c.link }

// StartedAt returns the process start timestamp.
func (c *Center) StartedAt() time.Time { return c.startedAt }

// SecretKey returns the local secret key, used by the wire codec to seal
// and open message envelopes.
func (c *Center) SecretKey() [32]byte { return c.secretKey }

// PublicKey returns the local public key.
func (c *Center) PublicKey() [32]byte { return c.publicKey }

// AsNode returns a Node view of this Center's identity, used when feeding
// the local node into closeness comparisons.
func (c *Center) AsNode() *Node {
	return New(c.self, c.link)
}
