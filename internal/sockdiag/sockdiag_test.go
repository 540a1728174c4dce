package sockdiag

import (
	"net"
	"testing"
)

// TestSampleOnLoopbackConnection exercises the real code path against a
// live loopback TCP connection. It intentionally does not assert on
// the sampled fields: TCP_INFO availability and retransmit counts vary
// by kernel and CI sandboxing, so the only thing this module can
// promise is "either a sample or ErrUnsupported, never a panic."
func TestSampleOnLoopbackConnection(t *testing.T) {
	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	client, err := net.DialTCP("tcp", nil, ln.Addr().(*net.TCPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	server := <-accepted
	defer server.Close()

	_, err = Sample(client)
	if err != nil && err != ErrUnsupported {
		t.Fatalf("Sample returned an unexpected error: %v", err)
	}
}
