package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportRoundTrip(t *testing.T) {
	server := NewUDPTransport()
	require.NoError(t, server.Start("127.0.0.1", 0))
	defer server.Terminate()

	serverAddr := server.conn.LocalAddr()
	serverLink, err := linkFromAddr(serverAddr)
	require.NoError(t, err)

	client := NewUDPTransport()
	require.NoError(t, client.Start("127.0.0.1", 0))
	defer client.Terminate()

	frame := []byte("hello overlay")
	require.NoError(t, client.Send(serverLink, frame))

	server.SetMode(Blocking)
	done := make(chan Received, 1)
	go func() {
		r, err := server.Accept()
		if err == nil {
			done <- r
		}
	}()

	select {
	case r := <-done:
		assert.Equal(t, frame, r.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestUDPTransportNonBlockingAcceptWouldBlock(t *testing.T) {
	tr := NewUDPTransport()
	require.NoError(t, tr.Start("127.0.0.1", 0))
	defer tr.Terminate()

	tr.SetMode(NonBlocking)
	_, err := tr.Accept()
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestUDPTransportTerminateUnblocksAccept(t *testing.T) {
	tr := NewUDPTransport()
	require.NoError(t, tr.Start("127.0.0.1", 0))

	tr.SetMode(Blocking)
	done := make(chan error, 1)
	go func() {
		_, err := tr.Accept()
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, tr.Terminate())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(2 * time.Second):
		t.Fatal("Terminate did not unblock Accept")
	}
}

func TestLinkFromAddrParsesHostPort(t *testing.T) {
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:4242")
	require.NoError(t, err)

	link, err := linkFromAddr(addr)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", link.Host)
	assert.Equal(t, uint16(4242), link.Port)
}
