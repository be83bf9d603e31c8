package infra

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockCommandRunner records commands instead of executing them.
type mockCommandRunner struct {
	calls  [][]string
	runErr error
}

func (m *mockCommandRunner) Run(name string, args ...string) error {
	m.calls = append(m.calls, append([]string{name}, args...))
	return m.runErr
}

func TestDesktopNotifier_Notify(t *testing.T) {
	tests := []struct {
		name     string
		goos     string
		wantCall []string
	}{
		{
			name: "macOS uses osascript",
			goos: "darwin",
			wantCall: []string{"osascript", "-e",
				`display notification "Your 25 minute session ended" with title "Focus \"done\""`},
		},
		{
			name:     "linux uses notify-send",
			goos:     "linux",
			wantCall: []string{"notify-send", "--app-name=sitemon", `Focus "done"`, "Your 25 minute session ended"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &mockCommandRunner{}
			n := NewDesktopNotifierWithDeps(tt.goos, runner, zap.NewNop())

			require.NoError(t, n.Notify(`Focus "done"`, "Your 25 minute session ended"))

			require.Len(t, runner.calls, 1)
			assert.Equal(t, tt.wantCall, runner.calls[0])
		})
	}
}

func TestDesktopNotifier_UnsupportedPlatform(t *testing.T) {
	runner := &mockCommandRunner{}
	n := NewDesktopNotifierWithDeps("windows", runner, zap.NewNop())

	assert.Error(t, n.Notify("t", "m"))
	assert.Empty(t, runner.calls)
}

func TestDesktopNotifier_CommandFailure(t *testing.T) {
	runner := &mockCommandRunner{runErr: errors.New("exit status 1")}
	n := NewDesktopNotifierWithDeps("linux", runner, zap.NewNop())

	err := n.Notify("t", "m")

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 1")
}

func TestAppleScriptString(t *testing.T) {
	assert.Equal(t, `"plain"`, appleScriptString("plain"))
	assert.Equal(t, `"a \"b\" \\ c"`, appleScriptString(`a "b" \ c`))
}
