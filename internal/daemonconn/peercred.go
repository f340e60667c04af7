//go:build linux

package daemonconn

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredential is the uid/gid/pid reported by SO_PEERCRED for the socket
// backing a Conn, available for callers to inspect. The bridge itself does
// not consult it.
type PeerCredential struct {
	UID uint32
	GID uint32
	PID int32
}

// PeerCredential inspects the underlying AF_UNIX socket's SO_PEERCRED
// credentials.
func (c *Conn) PeerCredential() (PeerCredential, error) {
	return peerCredential(c.nc)
}

func peerCredential(nc net.Conn) (PeerCredential, error) {
	unixConn, ok := nc.(*net.UnixConn)
	if !ok {
		return PeerCredential{}, fmt.Errorf("daemonconn: peer credentials require a unix socket")
	}
	raw, err := unixConn.SyscallConn()
	if err != nil {
		return PeerCredential{}, fmt.Errorf("daemonconn: syscall conn: %w", err)
	}
	var cred *unix.Ucred
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		cred, sockErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return PeerCredential{}, fmt.Errorf("daemonconn: control: %w", err)
	}
	if sockErr != nil {
		return PeerCredential{}, fmt.Errorf("daemonconn: getsockopt SO_PEERCRED: %w", sockErr)
	}
	return PeerCredential{UID: cred.Uid, GID: cred.Gid, PID: cred.Pid}, nil
}
