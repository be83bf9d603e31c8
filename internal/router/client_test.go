package router

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
)

// newTestServer serves Router over HTTP the way the daemon does.
func newTestServer(t *testing.T, backend Backend) *Client {
	t.Helper()
	r := New(backend, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == HealthPath {
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
			return
		}
		var msg Message
		if err := json.NewDecoder(req.Body).Decode(&msg); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(r.Route(req.Context(), msg))
	}))
	t.Cleanup(srv.Close)

	return NewClient(strings.TrimPrefix(srv.URL, "http://"), 5*time.Second)
}

func TestClient_Actions(t *testing.T) {
	secs := 42
	backend := &mockBackend{remaining: &secs}
	c := newTestServer(t, backend)
	ctx := context.Background()

	require.NoError(t, c.Health(ctx))

	res, err := c.ToggleBlocking(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.ToggleResult{Success: true, Enabled: true}, *res)

	require.NoError(t, c.StartTimer(ctx, 30))
	assert.Equal(t, 30, backend.duration)

	status, err := c.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 60, status.TimerDuration)

	sites, err := c.GetAllowedSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"github.com", "golang.org"}, sites)

	require.NoError(t, c.UpdateAllowedSites(ctx, []string{"x.com"}))
	assert.Equal(t, []string{"x.com"}, backend.sites)

	remaining, err := c.GetRemainingTime(ctx)
	require.NoError(t, err)
	require.NotNil(t, remaining)
	assert.Equal(t, 42, *remaining)
}

func TestClient_RemainingNull(t *testing.T) {
	c := newTestServer(t, &mockBackend{})

	remaining, err := c.GetRemainingTime(context.Background())

	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestClient_RemoteError(t *testing.T) {
	c := newTestServer(t, &mockBackend{err: errors.New("cannot disable blocking during timer mode")})

	_, err := c.ToggleBlocking(context.Background())

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "cannot disable blocking during timer mode", remote.Message)
	assert.False(t, errors.Is(err, ErrDaemonUnreachable))
}

func TestClient_UnknownAction(t *testing.T) {
	c := newTestServer(t, &mockBackend{})

	err := c.Send(context.Background(), Message{Action: "bogus"}, nil)

	assert.EqualError(t, err, UnknownActionMessage)
}

func TestClient_Unreachable(t *testing.T) {
	// Reserve a port, then close it so nothing listens there.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := NewClient(addr, time.Second)

	_, err = c.GetStatus(context.Background())
	assert.True(t, errors.Is(err, ErrDaemonUnreachable), "got %v", err)
	assert.True(t, errors.Is(c.Health(context.Background()), ErrDaemonUnreachable))
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(strings.TrimPrefix(srv.URL, "http://"), 50*time.Millisecond)

	start := time.Now()
	_, err := c.GetStatus(context.Background())

	assert.True(t, errors.Is(err, ErrDaemonUnreachable), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDecodeError(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{body: `{"error":"boom"}`, want: "boom"},
		{body: ` {"error":""} `, want: ""},
	}
	for _, tt := range tests {
		got := decodeError([]byte(tt.body))
		require.NotNil(t, got, tt.body)
		assert.Equal(t, tt.want, got.Message)
	}

	for _, body := range []string{`true`, `null`, `42`, `["a"]`, `{"success":true,"enabled":false}`, ``} {
		assert.Nil(t, decodeError([]byte(body)), body)
	}
}
