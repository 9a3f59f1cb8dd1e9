// Package daemon is C8 — the long-lived harness that wires a
// *manager.Manager to an *ipc.Server, runs the periodic monitor tick, and
// shuts down in an orderly fashion on the first of: monitor task exit, IPC
// task exit, or an interrupt signal. Supervised children are never killed
// on daemon shutdown (§13 Open Question d) — only the daemon process
// itself exits; its children keep running. On the next daemon startup
// ResurrectProcesses spawns fresh children from the persisted configs; the
// children left running by the earlier daemon are not re-attached.
package daemon

import (
	"net"

	"github.com/gopm/gopm/internal/config"
)

// Listen binds the platform-appropriate control-surface listener: a
// filesystem-namespaced Unix domain socket on POSIX, or a loopback-only TCP
// port on Windows (spec §4.3 "no network-reachable control surface" — the
// Windows fallback never binds a wildcard address).
func Listen(dirs config.Dirs) (net.Listener, error) {
	return platformListen(dirs)
}
