package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"strings"

	"github.com/gopm/gopm/internal/apperr"
	"github.com/gopm/gopm/internal/history"
	"github.com/gopm/gopm/internal/process"
)

// Client is a thin one-request-per-connection IPC client for the CLI.
type Client struct {
	dial func() (net.Conn, error)
}

// NewClient builds a Client that dials dial for every request; the daemon
// package supplies the platform-appropriate dialer (Unix socket or loopback
// TCP).
func NewClient(dial func() (net.Conn, error)) *Client {
	return &Client{dial: dial}
}

func (c *Client) roundTrip(req Request) (Response, error) {
	conn, err := c.dial()
	if err != nil {
		return Response{}, apperr.Wrap(apperr.KindIPC, "failed to connect to daemon", err)
	}
	defer conn.Close()

	// No deadline: per spec §5, IPC calls have no per-request timeout and
	// callers may block until the daemon-side operation completes.
	b, err := json.Marshal(req)
	if err != nil {
		return Response{}, apperr.Wrap(apperr.KindSerialization, "failed to encode request", err)
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		return Response{}, apperr.Wrap(apperr.KindIPC, "failed to send request", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return Response{}, apperr.Wrap(apperr.KindIPC, "failed to read response", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, apperr.Wrap(apperr.KindSerialization, "failed to decode response", err)
	}
	return resp, nil
}

func asError(resp Response, err error) error {
	if err != nil {
		return err
	}
	if resp.Kind == KindError {
		return apperr.New(apperr.KindIPC, resp.Message)
	}
	return nil
}

// StartProcess asks the daemon to spawn cfg and returns the assigned id.
func (c *Client) StartProcess(cfg process.Config) (string, error) {
	resp, err := c.roundTrip(Request{Kind: KindStartProcess, Config: cfg})
	if e := asError(resp, err); e != nil {
		return "", e
	}
	return strings.TrimPrefix(resp.Message, "process started with id: "), nil
}

// StopProcess asks the daemon to stop the named entry.
func (c *Client) StopProcess(name string) error {
	resp, err := c.roundTrip(Request{Kind: KindStopProcess, Name: name})
	return asError(resp, err)
}

// RestartProcess asks the daemon to restart the named entry.
func (c *Client) RestartProcess(name string) error {
	resp, err := c.roundTrip(Request{Kind: KindRestartProcess, Name: name})
	return asError(resp, err)
}

// ReloadProcess asks the daemon to reload (restart) the named entry.
func (c *Client) ReloadProcess(name string) error {
	resp, err := c.roundTrip(Request{Kind: KindReloadProcess, Name: name})
	return asError(resp, err)
}

// DeleteProcess asks the daemon to remove the named entry from its roster.
func (c *Client) DeleteProcess(name string) error {
	resp, err := c.roundTrip(Request{Kind: KindDeleteProcess, Name: name})
	return asError(resp, err)
}

// ListProcesses returns every entry's current snapshot.
func (c *Client) ListProcesses() ([]process.Info, error) {
	resp, err := c.roundTrip(Request{Kind: KindListProcesses})
	if e := asError(resp, err); e != nil {
		return nil, e
	}
	return resp.Processes, nil
}

// GetProcessInfo returns the named entry's current snapshot.
func (c *Client) GetProcessInfo(name string) (process.Info, error) {
	resp, err := c.roundTrip(Request{Kind: KindGetProcessInfo, Name: name})
	if e := asError(resp, err); e != nil {
		return process.Info{}, e
	}
	if resp.Process == nil {
		return process.Info{}, apperr.New(apperr.KindIPC, "daemon returned no process info")
	}
	return *resp.Process, nil
}

// GetLogs returns the last n captured log lines for the named entry.
func (c *Client) GetLogs(name string, n int) ([]string, error) {
	resp, err := c.roundTrip(Request{Kind: KindGetLogs, Name: name, Lines: n})
	if e := asError(resp, err); e != nil {
		return nil, e
	}
	return resp.Logs, nil
}

// GetHistory returns the durable event trail recorded for the named entry.
func (c *Client) GetHistory(name string) ([]history.Event, error) {
	resp, err := c.roundTrip(Request{Kind: KindGetHistory, Name: name})
	if e := asError(resp, err); e != nil {
		return nil, e
	}
	return resp.Events, nil
}

// KillDaemon asks the daemon to shut down in an orderly fashion.
func (c *Client) KillDaemon() error {
	resp, err := c.roundTrip(Request{Kind: KindKillDaemon})
	return asError(resp, err)
}

// SaveProcesses asks the daemon to persist its current roster immediately.
func (c *Client) SaveProcesses() error {
	resp, err := c.roundTrip(Request{Kind: KindSaveProcesses})
	return asError(resp, err)
}

// ResurrectProcesses asks the daemon to reload and re-spawn its persisted roster.
func (c *Client) ResurrectProcesses() error {
	resp, err := c.roundTrip(Request{Kind: KindResurrectProcesses})
	return asError(resp, err)
}
