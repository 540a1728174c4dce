//go:build !linux

package sockdiag

import "net"

func sampleImpl(conn *net.TCPConn) (Info, error) {
	return Info{}, ErrUnsupported
}
