package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// Control endpoint paths.
const (
	MessagePath = "/message"
	HealthPath  = "/healthz"
)

// ErrDaemonUnreachable is returned when the daemon does not answer in time.
var ErrDaemonUnreachable = errors.New("cannot reach sitemon daemon")

// RemoteError is an {"error": ...} response from the daemon.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return e.Message
}

// Client sends messages to the daemon's control endpoint.
// Every call is bounded by the client timeout.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the daemon listening on addr (host:port).
func NewClient(addr string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    "http://" + addr,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts msg and decodes the result into out (which may be nil).
// A daemon-side failure is returned as *RemoteError.
func (c *Client) Send(ctx context.Context, msg Message, out any) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+MessagePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}

	if remote := decodeError(data); remote != nil {
		return remote
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from daemon", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", msg.Action, err)
	}
	return nil
}

// Health checks that the daemon is serving.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrDaemonUnreachable, resp.StatusCode)
	}
	return nil
}

// ToggleBlocking flips manual allow-list mode.
func (c *Client) ToggleBlocking(ctx context.Context) (*domain.ToggleResult, error) {
	var res domain.ToggleResult
	if err := c.Send(ctx, Message{Action: ActionToggleBlocking}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// StartTimer starts a focus timer of minutes.
func (c *Client) StartTimer(ctx context.Context, minutes int) error {
	var ok bool
	if err := c.Send(ctx, Message{Action: ActionStartTimer, Duration: minutes}, &ok); err != nil {
		return err
	}
	if !ok {
		return errors.New("daemon did not start the timer")
	}
	return nil
}

// GetStatus returns {blockingEnabled, timerMode, timerDuration}.
func (c *Client) GetStatus(ctx context.Context) (*domain.Status, error) {
	var status domain.Status
	if err := c.Send(ctx, Message{Action: ActionGetStatus}, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetAllowedSites returns the allow-list.
func (c *Client) GetAllowedSites(ctx context.Context) ([]string, error) {
	var sites []string
	if err := c.Send(ctx, Message{Action: ActionGetAllowedSites}, &sites); err != nil {
		return nil, err
	}
	return sites, nil
}

// UpdateAllowedSites replaces the allow-list.
func (c *Client) UpdateAllowedSites(ctx context.Context, sites []string) error {
	var ok bool
	return c.Send(ctx, Message{Action: ActionUpdateAllowedSites, Sites: sites}, &ok)
}

// GetRemainingTime returns the seconds left, or nil when no timer runs.
func (c *Client) GetRemainingTime(ctx context.Context) (*int, error) {
	var secs *int
	if err := c.Send(ctx, Message{Action: ActionGetRemainingTime}, &secs); err != nil {
		return nil, err
	}
	return secs, nil
}

func decodeError(data []byte) *RemoteError {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &probe); err != nil || probe.Error == nil {
		return nil
	}
	return &RemoteError{Message: *probe.Error}
}
