// Package sockdiag samples kernel TCP_INFO for a live connection as an
// optional metrics enrichment, grounded on the teacher repo's
// sockstats.go/wrap.go (gatherAndReport) and pkg/linux/tcpinfo.go (the
// raw getsockopt overlay). Loadshear only needs a handful of fields —
// retransmits and round-trip time — enough to annotate a session's
// connect/drain events, not the teacher's full field set.
package sockdiag

import (
	"errors"
	"net"
)

// ErrUnsupported is returned on platforms without a TCP_INFO sampler.
var ErrUnsupported = errors.New("sockdiag: TCP_INFO sampling not supported on this platform")

// Info is the subset of kernel tcp_info the session layer records
// alongside a connect or drain event.
type Info struct {
	State       uint8
	Retransmits uint8
	RTTMicros   uint32
	RTTVarMicros uint32
	SndCwnd     uint32
}

// Sample extracts TCP_INFO from a live TCP connection. Errors are
// non-fatal: callers treat a failed sample as "no enrichment
// available" rather than a session failure, matching
// sockstats.go's gatherAndReport swallowing getsockopt errors.
func Sample(conn *net.TCPConn) (Info, error) {
	return sampleImpl(conn)
}
