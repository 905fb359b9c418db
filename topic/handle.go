package topic

import (
	"context"
	"errors"
	"sync"

	"github.com/opd-ai/dhtpubsub/address"
)

// ErrClosed is returned by Broadcast once a Handle has been closed.
var ErrClosed = errors.New("topic: handle closed")

// Delivery is a decrypted message arriving for a subscribed topic
// (spec.md §4.4 "recv"). Source is the sender's address as recovered
// from the transaction envelope.
type Delivery struct {
	Topic  address.Address
	Source address.Address
	Body   []byte
}

// BroadcastRequest is enqueued by a Handle and consumed by the
// dispatcher, which wraps it into a Broadcast transaction (spec.md §4.4
// "broadcast").
type BroadcastRequest struct {
	Topic address.Address
	Body  []byte
}

// Handle is the user-facing side of a subscribed topic: a bidirectional
// channel pair to the dispatcher (spec.md §3 "Topic (local handle)").
// The dispatcher holds the matching send side for inbound deliveries and
// the matching receive side for outbound broadcast requests.
type Handle struct {
	topicAddr address.Address
	outbound  chan<- BroadcastRequest
	inbound   <-chan Delivery

	closeOnce sync.Once
	done      chan struct{}
}

// NewHandle wires a Handle to the dispatcher's channel pair for topicAddr.
func NewHandle(topicAddr address.Address, outbound chan<- BroadcastRequest, inbound <-chan Delivery) *Handle {
	return &Handle{
		topicAddr: topicAddr,
		outbound:  outbound,
		inbound:   inbound,
		done:      make(chan struct{}),
	}
}

// Address returns the topic this handle is subscribed to.
func (h *Handle) Address() address.Address {
	return h.topicAddr
}

// Broadcast enqueues body as a Broadcast transaction to the dispatcher.
// It blocks until accepted, the handle is closed, or ctx is done.
func (h *Handle) Broadcast(ctx context.Context, body []byte) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	select {
	case h.outbound <- BroadcastRequest{Topic: h.topicAddr, Body: body}:
		return nil
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv blocks until a Delivery arrives, the handle is closed, or ctx is
// done.
func (h *Handle) Recv(ctx context.Context) (Delivery, error) {
	select {
	case d, ok := <-h.inbound:
		if !ok {
			return Delivery{}, ErrClosed
		}
		return d, nil
	case <-h.done:
		return Delivery{}, ErrClosed
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}

// TryRecv returns immediately: a pending Delivery and true, or a zero
// value and false if none is available right now.
func (h *Handle) TryRecv() (Delivery, bool) {
	select {
	case d, ok := <-h.inbound:
		if !ok {
			return Delivery{}, false
		}
		return d, true
	default:
		return Delivery{}, false
	}
}

// Close signals the dispatcher to drop this subscriber on its next send
// attempt (spec.md §9 "when a handle is dropped, the channel closes").
func (h *Handle) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}
