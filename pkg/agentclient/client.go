package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
)

// Client talks to the privileged darkdiskz-agent over its unix socket.
// It is the only path through which the daemon reaches root-owned tools.
type Client struct {
	HTTP *http.Client
}

func New(socketPath string) *Client {
	return &Client{
		HTTP: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
		},
	}
}

func (c *Client) PostJSON(ctx context.Context, path string, body any, v any) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://unix"+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return &HTTPError{Status: res.StatusCode, Body: string(b)}
	}
	if v != nil {
		return json.NewDecoder(res.Body).Decode(v)
	}
	return nil
}

// GetJSON performs a GET and decodes JSON into v.
func (c *Client) GetJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://unix"+path, nil)
	if err != nil {
		return err
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return &HTTPError{Status: res.StatusCode, Body: string(b)}
	}
	if v != nil {
		return json.NewDecoder(res.Body).Decode(v)
	}
	return nil
}

// RunStep is a single allowlisted command invocation.
type RunStep struct {
	Cmd  string   `json:"cmd"`
	Args []string `json:"args"`
}

// RunResult captures one step's exit code and captured output.
type RunResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Run executes steps on the agent in order. The agent stops at the first
// non-zero exit, so len(results) may be shorter than len(steps).
func (c *Client) Run(ctx context.Context, steps []RunStep) ([]RunResult, error) {
	var resp struct {
		Results []RunResult `json:"results"`
	}
	if err := c.PostJSON(ctx, "/v1/run", map[string]any{"steps": steps}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// EnsureFstab appends line to /etc/fstab unless an entry for the same
// device+mountpoint pair already exists.
func (c *Client) EnsureFstab(ctx context.Context, line string) error {
	return c.PostJSON(ctx, "/v1/fstab/ensure", map[string]any{"line": line}, nil)
}

// RemoveFstab removes fstab lines containing the given substring.
func (c *Client) RemoveFstab(ctx context.Context, contains string) error {
	return c.PostJSON(ctx, "/v1/fstab/remove", map[string]any{"contains": contains}, nil)
}

// BcacheDetach detaches a member device from its bcache set via the
// agent's sysfs write. Detaching an unattached device is a no-op.
func (c *Client) BcacheDetach(ctx context.Context, device string) error {
	return c.PostJSON(ctx, "/v1/bcache/detach", map[string]any{"device": device}, nil)
}

// Smart fetches the raw smartctl JSON document for a device.
func (c *Client) Smart(ctx context.Context, device string, v any) error {
	q := url.Values{}
	q.Set("device", device)
	return c.GetJSON(ctx, "/v1/smart?"+q.Encode(), v)
}

// SmartTest starts a self-test ("short" or "long") on a device.
func (c *Client) SmartTest(ctx context.Context, device, testType string) error {
	return c.PostJSON(ctx, "/v1/smart/test", map[string]any{"device": device, "type": testType}, nil)
}

// Lsblk fetches the agent's lsblk JSON tree into v.
func (c *Client) Lsblk(ctx context.Context, v any) error {
	return c.GetJSON(ctx, "/v1/storage/lsblk", v)
}

// HTTPError captures agent non-2xx responses.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string { return fmt.Sprintf("agent http %d: %s", e.Status, e.Body) }
