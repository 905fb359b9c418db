// Package dispatcher implements the switch (spec.md §4.3): the single
// owning actor that holds the routing table, the duplicate-suppression
// cache, and the topic registry, classifies every inbound wire message,
// and forwards, answers, or locally delivers it. It is the one place in
// the overlay that touches those three data structures.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dhtpubsub/address"
	"github.com/opd-ai/dhtpubsub/node"
	"github.com/opd-ai/dhtpubsub/routing"
	"github.com/opd-ai/dhtpubsub/topic"
	"github.com/opd-ai/dhtpubsub/transport"
	"github.com/opd-ai/dhtpubsub/txcache"
	"github.com/opd-ai/dhtpubsub/wire"
)

// Default timing parameters (spec.md §5 "Timeouts", §4.4 "Republish").
const (
	DefaultPingInterval   = 5 * time.Minute
	DefaultSweepAge       = 24 * time.Hour
	DefaultBootstrapWait  = 5 * time.Second
	DefaultMaintenanceTick = time.Minute
	inboundBufferSize     = 256
	localDeliveryBuffer   = 64
)

// ErrShutdown is returned by request methods once the dispatcher has
// started shutting down.
var ErrShutdown = errors.New("dispatcher: shut down")

// ActionDelivery is a decrypted Action transaction addressed to the
// local identity, handed to the embedding interface (spec.md §4.3
// "Action... hand the decrypted transaction to the interface").
type ActionDelivery struct {
	Source address.Address
	Body   []byte
}

// Dispatcher is the switch: it owns the routing table, duplicate cache,
// and topic registry, and runs the single event loop that classifies
// and dispatches every wire message (spec.md §4.3, §5).
type Dispatcher struct {
	center   *node.Center
	table    *routing.Table
	cache    *txcache.Cache
	registry *topic.Registry
	tr       transport.Transport

	replication       int
	republishInterval time.Duration
	expireAfter       time.Duration

	incoming     chan transport.Received
	broadcastReq chan topic.BroadcastRequest
	subscribeReq chan subscribeRequest
	actionReq    chan actionRequest
	actions      chan ActionDelivery
	shutdown     chan struct{}
	done         chan struct{}

	mu        sync.Mutex
	localSubs map[address.Address][]*localSub

	bootstrapMu   sync.Mutex
	bootstrapWait *bootstrapWaiter

	logger *logrus.Entry
}

type localSub struct {
	handle  *topic.Handle
	deliver chan topic.Delivery
}

type subscribeRequest struct {
	topic     address.Address
	subscribe bool // false means unsubscribe
}

type actionRequest struct {
	target       address.Address
	targetPublic [32]byte
	body         []byte
	reply        chan error
}

type bootstrapWaiter struct {
	link  node.Link
	reply chan *wire.Envelope
}

// New builds a Dispatcher. A replication below 1 is replaced by 3.
func New(center *node.Center, table *routing.Table, cache *txcache.Cache, registry *topic.Registry, tr transport.Transport, replication int) *Dispatcher {
	if replication < 1 {
		replication = 3
	}
	return &Dispatcher{
		center:            center,
		table:             table,
		cache:             cache,
		registry:          registry,
		tr:                tr,
		replication:       replication,
		republishInterval: topic.DefaultRepublishInterval,
		expireAfter:       topic.DefaultExpireAfter,
		incoming:          make(chan transport.Received, inboundBufferSize),
		broadcastReq:      make(chan topic.BroadcastRequest, inboundBufferSize),
		subscribeReq:      make(chan subscribeRequest, 16),
		actionReq:         make(chan actionRequest, 16),
		actions:           make(chan ActionDelivery, inboundBufferSize),
		shutdown:          make(chan struct{}),
		done:              make(chan struct{}),
		localSubs:         make(map[address.Address][]*localSub),
		logger:            logrus.WithFields(logrus.Fields{"package": "dispatcher", "self": center.Address().String()}),
	}
}

// SetRepublishWindow overrides the republish/expiry defaults, typically
// from config.Config (spec.md §4.4).
func (d *Dispatcher) SetRepublishWindow(republish, expire time.Duration) {
	if republish > 0 {
		d.republishInterval = republish
	}
	if expire > 0 {
		d.expireAfter = expire
	}
}

// Actions returns the channel of Action transactions addressed to the
// local identity (spec.md §4.3).
func (d *Dispatcher) Actions() <-chan ActionDelivery {
	return d.actions
}

// Subscribe registers a local Topic handle and asynchronously announces
// the subscription toward the topic's responsible node (spec.md §4.3
// "Subscribe sequence (originator side)", §4.4).
func (d *Dispatcher) Subscribe(topicAddr address.Address) (*topic.Handle, error) {
	select {
	case <-d.shutdown:
		return nil, ErrShutdown
	default:
	}

	deliver := make(chan topic.Delivery, localDeliveryBuffer)
	handle := topic.NewHandle(topicAddr, d.broadcastReq, deliver)

	d.mu.Lock()
	d.localSubs[topicAddr] = append(d.localSubs[topicAddr], &localSub{handle: handle, deliver: deliver})
	d.mu.Unlock()

	d.registry.CreateOrTouch(topicAddr, d.center.Address())

	select {
	case d.subscribeReq <- subscribeRequest{topic: topicAddr, subscribe: true}:
	case <-d.shutdown:
	}
	return handle, nil
}

// Unsubscribe drops a local Topic handle's registration and announces
// the removal toward the network.
func (d *Dispatcher) Unsubscribe(handle *topic.Handle) {
	handle.Close()
	topicAddr := handle.Address()

	d.mu.Lock()
	subs := d.localSubs[topicAddr]
	for i, s := range subs {
		if s.handle == handle {
			d.localSubs[topicAddr] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(d.localSubs[topicAddr]) == 0 {
		delete(d.localSubs, topicAddr)
	}
	d.registry.Remove(topicAddr, d.center.Address())
	d.mu.Unlock()

	select {
	case d.subscribeReq <- subscribeRequest{topic: topicAddr, subscribe: false}:
	case <-d.shutdown:
	}
}

// SendAction enqueues an Action transaction addressed to target,
// blocking until it is accepted by the event loop or ctx is done
// (spec.md §4.3 "enqueue outgoing Action").
func (d *Dispatcher) SendAction(ctx context.Context, target address.Address, body []byte) error {
	reply := make(chan error, 1)
	req := actionRequest{target: target, targetPublic: [32]byte(target), body: body, reply: reply}

	select {
	case d.actionReq <- req:
	case <-d.shutdown:
		return ErrShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown begins orderly shutdown: the event loop stops accepting new
// work and exits once its current iteration completes (spec.md §5
// "Cancellation").
func (d *Dispatcher) Shutdown() {
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
	<-d.done
}

// Run starts the transport accept pump and the single-threaded event
// loop, blocking until ctx is done or Shutdown is called.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	pumpDone := make(chan struct{})
	go d.acceptPump(pumpDone)
	defer func() { <-pumpDone }()

	ticker := time.NewTicker(DefaultMaintenanceTick)
	defer ticker.Stop()
	republish := time.NewTicker(d.republishInterval)
	defer republish.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return

		case r := <-d.incoming:
			d.handleReceived(r)

		case req := <-d.broadcastReq:
			d.handleBroadcastRequest(req)

		case req := <-d.subscribeReq:
			d.handleSubscribeRequest(req)

		case req := <-d.actionReq:
			d.handleActionRequest(req)

		case <-ticker.C:
			d.runMaintenance()

		case <-republish.C:
			for _, rec := range d.registry.Owned(d.table.ShouldBeLocal) {
				d.forwardFrameTo(rec.Address(), d.republishFrame(rec.Address()), d.center.Address())
			}
		}
	}
}

// acceptPump is the "transport accept task" of spec.md §5: it blocks on
// Accept and forwards every frame to the event loop via a channel,
// never touching the routing table, cache, or registry directly.
func (d *Dispatcher) acceptPump(done chan<- struct{}) {
	defer close(done)
	d.tr.SetMode(transport.Blocking)

	for {
		r, err := d.tr.Accept()
		if errors.Is(err, transport.ErrTerminated) {
			return
		}
		if err != nil {
			d.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("accept failed")
			continue
		}

		select {
		case d.incoming <- r:
		case <-d.shutdown:
			return
		}
	}
}

// Bootstrap attempts to seed the routing table from a single signaling
// peer (spec.md §4.3 "Bootstrap"). It never returns an error: an
// unreachable signaling peer leaves the table empty and is logged as a
// warning, matching the spec's best-effort startup semantics.
func (d *Dispatcher) Bootstrap(ctx context.Context, link node.Link) {
	logger := d.logger.WithFields(logrus.Fields{"function": "Bootstrap", "signaling_link": link.String()})

	tx, err := wire.SealDirect(wire.ClassBootstrap, d.center.Address(), d.center.SecretKey(), address.Address{}, [32]byte{}, nil)
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to seal bootstrap request")
		return
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to serialize bootstrap request")
		return
	}

	reply := make(chan *wire.Envelope, 1)
	d.bootstrapMu.Lock()
	d.bootstrapWait = &bootstrapWaiter{link: link, reply: reply}
	d.bootstrapMu.Unlock()
	defer func() {
		d.bootstrapMu.Lock()
		d.bootstrapWait = nil
		d.bootstrapMu.Unlock()
	}()

	if err := d.tr.Send(link, frame); err != nil {
		logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("signaling peer unreachable")
		return
	}

	waitCtx, cancel := context.WithTimeout(ctx, DefaultBootstrapWait)
	defer cancel()

	select {
	case env := <-reply:
		body, err := wire.OpenDirect(env, d.center.SecretKey(), [32]byte(env.Source))
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("undecryptable bootstrap reply")
			return
		}
		entries, err := decodePeerList(body)
		if err != nil {
			logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("malformed bootstrap reply")
			return
		}
		d.table.Add(node.New(env.Source, link))
		for _, e := range entries {
			d.table.Add(node.New(e.Address, e.Link))
		}
		logger.WithFields(logrus.Fields{"peers": len(entries)}).Info("bootstrap complete")
	case <-waitCtx.Done():
		logger.Warn("signaling peer did not respond, starting with empty routing table")
	}
}

// handleReceived implements the classification and dispatch pipeline of
// spec.md §4.3.
func (d *Dispatcher) handleReceived(r transport.Received) {
	env, err := wire.Parse(r.Data)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("dropping unparseable frame")
		return
	}

	txID, err := uuid.FromBytes(env.TxID[:])
	if err != nil {
		return
	}
	if d.cache.CheckAndRecord(txID) {
		return
	}

	if env.Class != wire.ClassBootstrap {
		d.table.Add(node.New(env.Source, r.Link))
	}

	switch env.Class {
	case wire.ClassPing:
		d.replyPong(env)
	case wire.ClassPong:
		d.table.Refresh(env.Source)
	case wire.ClassLookup:
		d.replyDetails(env)
	case wire.ClassDetails:
		d.mergeDetails(env)
	case wire.ClassSubscribe:
		d.dispatchSubscribe(env, r, true)
	case wire.ClassUnsubscribe:
		d.dispatchSubscribe(env, r, false)
	case wire.ClassBroadcast:
		d.dispatchBroadcast(env, r)
	case wire.ClassAction:
		d.dispatchAction(env, r)
	case wire.ClassBootstrap:
		d.dispatchBootstrap(env, r)
	}
}

func (d *Dispatcher) replyPong(env *wire.Envelope) {
	d.sendDirect(wire.ClassPong, env.Source, nil)
}

func (d *Dispatcher) replyDetails(env *wire.Envelope) {
	target, err := wire.OpenDirect(env, d.center.SecretKey(), [32]byte(env.Source))
	if err != nil || len(target) != address.Size {
		d.logger.Debug("dropping malformed lookup request")
		return
	}
	var lookupTarget address.Address
	copy(lookupTarget[:], target)

	closest := d.table.GetClosest(lookupTarget, d.replication)
	d.sendDirect(wire.ClassDetails, env.Source, encodePeerList(closest))
}

func (d *Dispatcher) mergeDetails(env *wire.Envelope) {
	body, err := wire.OpenDirect(env, d.center.SecretKey(), [32]byte(env.Source))
	if err != nil {
		d.logger.Debug("dropping undecryptable details reply")
		return
	}
	entries, err := decodePeerList(body)
	if err != nil {
		d.logger.Debug("dropping malformed details payload")
		return
	}
	for _, e := range entries {
		d.table.Add(node.New(e.Address, e.Link))
	}
}

func (d *Dispatcher) dispatchBootstrap(env *wire.Envelope, r transport.Received) {
	d.bootstrapMu.Lock()
	waiter := d.bootstrapWait
	d.bootstrapMu.Unlock()

	if len(env.Body) > 0 && waiter != nil && waiter.link == r.Link {
		select {
		case waiter.reply <- env:
		default:
		}
		return
	}

	// A request: learn the requester's link so the reply below can find
	// it, then answer with our own known-nodes snapshot. handleReceived
	// deliberately skips adding Bootstrap senders to the table before
	// classification, since an unauthenticated bootstrap claim shouldn't
	// be trusted the same way a Pong or Details reply is; adding it here,
	// after classification, is what makes that same node reachable for
	// the direct reply this request expects.
	snapshot := d.table.GetClosest(env.Source, d.replication*4)
	d.table.Add(node.New(env.Source, r.Link))
	d.sendDirect(wire.ClassBootstrap, env.Source, encodePeerList(snapshot))
}

func (d *Dispatcher) dispatchSubscribe(env *wire.Envelope, r transport.Received, subscribe bool) {
	topicKey := topic.DeriveKey(env.Topic)
	if _, err := wire.OpenTopic(env, topicKey); err != nil {
		d.logger.Debug("dropping undecryptable subscribe/unsubscribe")
		return
	}

	if d.table.ShouldBeLocal(env.Topic) {
		if subscribe {
			d.registry.CreateOrTouch(env.Topic, env.Source)
		} else {
			d.registry.Remove(env.Topic, env.Source)
		}
		return
	}

	d.forwardFrameTo(env.Topic, r.Data, env.Source)
}

func (d *Dispatcher) dispatchBroadcast(env *wire.Envelope, r transport.Received) {
	topicKey := topic.DeriveKey(env.Topic)
	plaintext, err := wire.OpenTopic(env, topicKey)
	if err != nil {
		d.logger.Debug("dropping undecryptable broadcast")
		return
	}

	rec := d.registry.Record(env.Topic)
	if rec == nil {
		d.forwardFrameTo(env.Topic, r.Data, env.Source)
		return
	}

	for _, sub := range rec.Subscribers() {
		if sub == env.Source || sub == d.center.Address() {
			continue
		}
		if n := d.closestMatch(sub); n != nil {
			_ = d.tr.Send(n.Link, r.Data)
		}
	}

	d.deliverLocal(env.Topic, env.Source, plaintext)
}

func (d *Dispatcher) dispatchAction(env *wire.Envelope, r transport.Received) {
	if env.Target == d.center.Address() {
		plaintext, err := wire.OpenDirect(env, d.center.SecretKey(), [32]byte(env.Source))
		if err != nil {
			d.logger.Debug("dropping undecryptable action")
			return
		}
		select {
		case d.actions <- ActionDelivery{Source: env.Source, Body: plaintext}:
		default:
			d.logger.Warn("action delivery buffer full, dropping")
		}
		return
	}

	d.forwardFrameTo(env.Target, r.Data, env.Source)
}

// forwardFrameTo relays frame, unmodified, to up to replication distinct
// closest known peers to routingKey, excluding excludeSource and the
// local identity (spec.md §4.3 "Forwarding").
func (d *Dispatcher) forwardFrameTo(routingKey address.Address, frame []byte, excludeSource address.Address) {
	if routingKey == d.center.Address() {
		return
	}
	for _, n := range d.table.GetClosest(routingKey, d.replication) {
		if n.Address == excludeSource {
			continue
		}
		if err := d.tr.Send(n.Link, frame); err != nil {
			d.table.MarkUnreachable(n.Address)
		}
	}
}

func (d *Dispatcher) closestMatch(addr address.Address) *node.Node {
	for _, n := range d.table.GetClosest(addr, 1) {
		if n.Address == addr {
			return n
		}
	}
	return nil
}

func (d *Dispatcher) deliverLocal(topicAddr, source address.Address, body []byte) {
	d.mu.Lock()
	subs := append([]*localSub(nil), d.localSubs[topicAddr]...)
	d.mu.Unlock()

	for _, s := range subs {
		if s.handle.Closed() {
			d.mu.Lock()
			list := d.localSubs[topicAddr]
			for i, other := range list {
				if other == s {
					d.localSubs[topicAddr] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(d.localSubs[topicAddr]) == 0 {
				delete(d.localSubs, topicAddr)
			}
			d.mu.Unlock()
			continue
		}
		select {
		case s.deliver <- topic.Delivery{Topic: topicAddr, Source: source, Body: body}:
		default:
			d.logger.Warn("local delivery buffer full, dropping message")
		}
	}
}

func (d *Dispatcher) sendDirect(class wire.Class, target address.Address, body []byte) {
	tx, err := wire.SealDirect(class, d.center.Address(), d.center.SecretKey(), target, [32]byte(target), body)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to seal reply")
		return
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		return
	}
	if n := d.closestMatch(target); n != nil {
		if err := d.tr.Send(n.Link, frame); err == nil {
			return
		}
	}
}

func (d *Dispatcher) handleBroadcastRequest(req topic.BroadcastRequest) {
	topicKey := topic.DeriveKey(req.Topic)
	tx, err := wire.SealTopic(wire.ClassBroadcast, d.center.Address(), req.Topic, topicKey, req.Body)
	if err != nil {
		d.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("failed to seal broadcast")
		return
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		return
	}
	d.cache.Record(tx.ID)

	// Only a node the routing table considers responsible for this topic
	// holds the canonical subscriber set; every other node's Record, if
	// any, reflects nothing more than its own local subscription (spec.md
	// §4.3 "Subscribe sequence (originator side)"). A non-owner forwards
	// toward the owner exactly as an inbound Broadcast would.
	if !d.table.ShouldBeLocal(req.Topic) {
		d.forwardFrameTo(req.Topic, frame, d.center.Address())
		return
	}

	if rec := d.registry.Record(req.Topic); rec != nil {
		for _, sub := range rec.Subscribers() {
			if sub == d.center.Address() {
				continue
			}
			if n := d.closestMatch(sub); n != nil {
				_ = d.tr.Send(n.Link, frame)
			}
		}
	}
	d.deliverLocal(req.Topic, d.center.Address(), req.Body)
}

func (d *Dispatcher) handleSubscribeRequest(req subscribeRequest) {
	if d.table.ShouldBeLocal(req.topic) {
		return
	}

	class := wire.ClassUnsubscribe
	if req.subscribe {
		class = wire.ClassSubscribe
	}

	topicKey := topic.DeriveKey(req.topic)
	tx, err := wire.SealTopic(class, d.center.Address(), req.topic, topicKey, nil)
	if err != nil {
		return
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		return
	}
	d.cache.Record(tx.ID)
	d.forwardFrameTo(req.topic, frame, d.center.Address())
}

func (d *Dispatcher) handleActionRequest(req actionRequest) {
	tx, err := wire.SealDirect(wire.ClassAction, d.center.Address(), d.center.SecretKey(), req.target, req.targetPublic, req.body)
	if err != nil {
		req.reply <- err
		return
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		req.reply <- err
		return
	}
	d.cache.Record(tx.ID)
	d.forwardFrameTo(req.target, frame, d.center.Address())
	req.reply <- nil
}

// runMaintenance pings the oldest node of every bucket and expires stale
// subscribers (spec.md §4.3 periodic tasks). Owned topic records are
// republished separately by Run, once per republish interval (§4.4
// "Republish").
func (d *Dispatcher) runMaintenance() {
	for _, n := range d.table.BucketHeads() {
		n.RecordPingSent()
		d.sendDirect(wire.ClassPing, n.Address, nil)
	}

	d.registry.ExpireStale(d.expireAfter)
}

func (d *Dispatcher) republishFrame(topicAddr address.Address) []byte {
	topicKey := topic.DeriveKey(topicAddr)
	tx, err := wire.SealTopic(wire.ClassSubscribe, d.center.Address(), topicAddr, topicKey, nil)
	if err != nil {
		return nil
	}
	frame, err := tx.Envelope.Serialize()
	if err != nil {
		return nil
	}
	d.cache.Record(tx.ID)
	return frame
}
