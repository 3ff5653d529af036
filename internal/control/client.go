package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/compwatch/compwatch/internal/monitor"
)

// Client sends control commands to a running monitor daemon.
type Client struct {
	socketPath string
	timeout    time.Duration
}

// NewClient creates a control client for the given socket.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    10 * time.Second,
	}
}

// SetTimeout overrides the per-command timeout. Stop may wait for an
// in-flight cycle, so callers issuing stop should allow more time.
func (c *Client) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// Send issues one command and returns the response. A response carrying
// an error string is also returned as a Go error.
func (c *Client) Send(command string) (*Response, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("connect to %s (is the monitor running?): %w", c.socketPath, err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}
	if err := json.NewEncoder(conn).Encode(Request{Command: command}); err != nil {
		return nil, fmt.Errorf("send command: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Error != "" {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}

// Status fetches the current session status.
func (c *Client) Status() (*monitor.Status, error) {
	resp, err := c.Send(CommandStatus)
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}
