//go:build linux

package sockdiag

import (
	"net"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/higebu/netfd"
	"golang.org/x/sys/unix"
)

// minTCPInfoKernel is the oldest kernel version whose tcp_info layout
// golang.org/x/sys/unix.GetsockoptTCPInfo is guaranteed to match; this
// mirrors pkg/linux/init.go's pattern of gating raw-struct access on a
// parsed kernel.VersionInfo rather than assuming one ABI everywhere.
var minTCPInfoKernel = kernel.VersionInfo{Kernel: 2, Major: 6, Minor: 2}

var kernelSupportsTCPInfo = detectKernelSupport()

func detectKernelSupport() bool {
	v, err := kernel.GetKernelVersion()
	if err != nil {
		return false
	}
	return kernel.CompareKernelVersion(*v, minTCPInfoKernel) >= 0
}

func sampleImpl(conn *net.TCPConn) (Info, error) {
	if !kernelSupportsTCPInfo {
		return Info{}, ErrUnsupported
	}

	fd, err := netfd.GetFd(conn)
	if err != nil {
		return Info{}, err
	}

	raw, err := unix.GetsockoptTCPInfo(int(fd), unix.SOL_TCP, unix.TCP_INFO)
	if err != nil {
		return Info{}, err
	}

	return Info{
		State:        raw.State,
		Retransmits:  raw.Retransmits,
		RTTMicros:    raw.Rtt,
		RTTVarMicros: raw.Rttvar,
		SndCwnd:      raw.Snd_cwnd,
	}, nil
}
