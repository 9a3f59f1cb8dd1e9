// Package ipc is C5 — the framed newline-delimited JSON request/response
// protocol between the CLI client and the daemon, carried over a Unix
// domain socket (POSIX) or a loopback TCP port (Windows); see spec §4.3
// "no network-reachable control surface" — the TCP fallback binds
// 127.0.0.1 only, never a wildcard address.
package ipc

import (
	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/process"
)

// RequestKind tags the variant carried by a Request (Go has no tagged
// unions; Kind plus the relevant payload field stands in for one, mirroring
// how the original Rust enum's variants are named).
type RequestKind string

const (
	KindStartProcess       RequestKind = "start_process"
	KindStopProcess        RequestKind = "stop_process"
	KindRestartProcess     RequestKind = "restart_process"
	KindDeleteProcess      RequestKind = "delete_process"
	KindReloadProcess      RequestKind = "reload_process"
	KindListProcesses      RequestKind = "list_processes"
	KindGetProcessInfo     RequestKind = "get_process_info"
	KindGetLogs            RequestKind = "get_logs"
	KindMonitor            RequestKind = "monitor"
	KindKillDaemon         RequestKind = "kill_daemon"
	KindSaveProcesses      RequestKind = "save_processes"
	KindResurrectProcesses RequestKind = "resurrect_processes"
	KindGetHistory         RequestKind = "get_history"
)

// Request is one line of the wire protocol sent client -> daemon.
type Request struct {
	Kind   RequestKind    `json:"kind"`
	Name   string         `json:"name,omitempty"`
	Config process.Config `json:"config,omitempty"`
	Lines  int            `json:"lines,omitempty"`
}

// ResponseKind tags the variant carried by a Response.
type ResponseKind string

const (
	KindSuccess     ResponseKind = "success"
	KindProcessList ResponseKind = "process_list"
	KindProcessInfo ResponseKind = "process_info"
	KindLogs        ResponseKind = "logs"
	KindHistory     ResponseKind = "history"
	KindError       ResponseKind = "error"
)

// Response is one line of the wire protocol sent daemon -> client.
type Response struct {
	Kind      ResponseKind    `json:"kind"`
	Message   string          `json:"message,omitempty"`
	Processes []process.Info  `json:"processes,omitempty"`
	Process   *process.Info   `json:"process,omitempty"`
	Logs      []string        `json:"logs,omitempty"`
	Events    []history.Event `json:"events,omitempty"`
}

func success(msg string) Response { return Response{Kind: KindSuccess, Message: msg} }

func errorResponse(err error) Response {
	return Response{Kind: KindError, Message: err.Error()}
}
