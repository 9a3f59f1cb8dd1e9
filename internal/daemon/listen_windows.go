//go:build windows

package daemon

import (
	"net"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/config"
)

// tcpPort is the fixed loopback port used on Windows, where no
// filesystem-namespaced Unix socket is available.
const tcpPort = "9999"

func platformListen(dirs config.Dirs) (net.Listener, error) {
	l, err := net.Listen("tcp", "127.0.0.1:"+tcpPort)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindIPC, "failed to bind loopback tcp port", err)
	}
	return l, nil
}

// Dial connects to the daemon's loopback TCP port.
func Dial(dirs config.Dirs) (net.Conn, error) {
	return net.Dial("tcp", "127.0.0.1:"+tcpPort)
}
