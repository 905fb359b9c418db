// Package dhtpubsub implements a decentralized, end-to-end-encrypted
// publish/subscribe overlay network: peers form a Kademlia-style DHT in
// which each node owns an identity derived from a public key, topic
// records are stored on the node closest to the topic's address, and
// subscribers exchange end-to-end-encrypted messages through the
// overlay (spec.md §1).
//
// Overlay is the thin façade embedding programs use: it owns the
// concrete transport, routing table, duplicate cache, and topic
// registry, and wraps the switch's Subscribe/SendAction/Bootstrap
// operations behind a small surface (spec.md §2 "Interface").
package dhtpubsub

import (
	"context"
	"fmt"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/config"
	"github.com/opd-ai/dhtpubsub/dispatcher"
	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/routing"
	"github.com/opd-ai/dhtpubsub/topic"
	"github.com/opd-ai/dhtpubsub/transport"
	"github.com/opd-ai/dhtpubsub/txcache"
)

// Topic is the user-facing handle for a subscribed topic, re-exported so
// callers never need to import the dispatcher's internal packages
// directly.
type Topic = topic.Handle

// Delivery is a decrypted message arriving for a subscribed topic.
type Delivery = topic.Delivery

// ActionDelivery is a decrypted Action transaction addressed to the
// local identity.
type ActionDelivery = dispatcher.ActionDelivery

// Overlay is one participant in the overlay network: an identity, a
// transport, and the switch that drives them (spec.md §2).
type Overlay struct {
	center *node.Center
	table  *routing.Table
	tr     transport.Transport
	disp   *dispatcher.Dispatcher

	runCancel context.CancelFunc
}

// New constructs an Overlay from cfg and a caller-supplied Transport,
// already started. Callers choose the transport (UDP or TCP) and its
// bind address; Overlay only drives it.
func New(cfg config.Config, tr transport.Transport) (*Overlay, error) {
	secretKey, err := cfg.SecretKey()
	if err != nil {
		return nil, fmt.Errorf("dhtpubsub: resolve secret key: %w", err)
	}

	center, err := node.NewCenter(secretKey, cfg.CenterLink())
	if err != nil {
		return nil, fmt.Errorf("dhtpubsub: construct identity: %w", err)
	}

	table := routing.NewTable(center.Address(), cfg.BucketSize)
	cache := txcache.New(cfg.CacheLimit)
	registry := topic.NewRegistry()

	disp := dispatcher.New(center, table, cache, registry, tr, cfg.Replication)
	disp.SetRepublishWindow(cfg.RepublishInterval(), cfg.ExpireAfter())

	return &Overlay{center: center, table: table, tr: tr, disp: disp}, nil
}

// Address returns this node's identity.
func (o *Overlay) Address() address.Address {
	return o.center.Address()
}

// Run starts the switch's event loop and its transport accept pump; it
// blocks until ctx is done or Shutdown is called. Run must be called
// exactly once, typically from its own goroutine.
func (o *Overlay) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.runCancel = cancel
	o.disp.Run(runCtx)
}

// Bootstrap seeds the routing table from a single signaling peer. It
// never returns an error: an unreachable peer leaves the table empty
// (spec.md §4.3 "Bootstrap").
func (o *Overlay) Bootstrap(ctx context.Context, link node.Link) {
	o.disp.Bootstrap(ctx, link)
}

// Subscribe returns a Topic handle for topicAddr, announcing the
// subscription toward the network asynchronously (spec.md §4.4 "Topic
// handle").
func (o *Overlay) Subscribe(topicAddr address.Address) (*Topic, error) {
	return o.disp.Subscribe(topicAddr)
}

// Unsubscribe closes handle and announces its removal.
func (o *Overlay) Unsubscribe(handle *Topic) {
	o.disp.Unsubscribe(handle)
}

// SendAction sends a direct, end-to-end-encrypted message to target,
// blocking until the switch has accepted it for delivery.
func (o *Overlay) SendAction(ctx context.Context, target address.Address, body []byte) error {
	return o.disp.SendAction(ctx, target, body)
}

// Actions returns the channel of Action transactions addressed to this
// node's identity.
func (o *Overlay) Actions() <-chan ActionDelivery {
	return o.disp.Actions()
}

// Shutdown begins orderly shutdown of the switch and blocks until its
// event loop has exited.
func (o *Overlay) Shutdown() {
	if o.runCancel != nil {
		o.runCancel()
	}
	o.disp.Shutdown()
}
