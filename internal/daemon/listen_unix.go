//go:build !windows

package daemon

import (
	"net"
	"os"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/config"
)

func platformListen(dirs config.Dirs) (net.Listener, error) {
	if _, err := dirs.PIDsDir(); err != nil {
		return nil, err
	}
	path := dirs.SocketPath()
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return nil, apperr.Wrap(apperr.KindIPC, "failed to remove stale socket", err)
		}
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIPC, "failed to bind unix socket", err)
	}
	return l, nil
}

// Dial connects to the daemon's Unix domain socket.
func Dial(dirs config.Dirs) (net.Conn, error) {
	return net.Dial("unix", dirs.SocketPath())
}
