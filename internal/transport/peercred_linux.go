//go:build linux

package transport

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// CheckPeerIdentity verifies that the peer of a Unix connection runs as the
// same user as this process. Connections of other types are accepted.
func CheckPeerIdentity(conn net.Conn) error {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return nil
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return fmt.Errorf("peer identity: %w", err)
	}
	var (
		cred    *unix.Ucred
		credErr error
	)
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("peer identity: %w", err)
	}
	if credErr != nil {
		return fmt.Errorf("peer identity: %w", credErr)
	}
	if int(cred.Uid) != os.Geteuid() {
		return fmt.Errorf("peer identity: client uid %d does not match server uid %d", cred.Uid, os.Geteuid())
	}
	return nil
}
