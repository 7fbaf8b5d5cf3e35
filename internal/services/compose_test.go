package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectctl/internal/errdefs"
)

// fakeExecCommandContext re-executes the test binary as a fake compose tool.
func fakeExecCommandContext(ctx context.Context, command string, args ...string) *exec.Cmd {
	cs := []string{"-test.run=TestHelperProcess", "--", command}
	cs = append(cs, args...)
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

// TestHelperProcess is not a real test. It's used by fakeExecCommandContext.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	args = args[1:]
	joined := strings.Join(args, " ")

	switch {
	case strings.Contains(joined, " ps "):
		fmt.Fprintln(os.Stdout, `{"ID":"abc","Name":"shop-db-1","Service":"db","State":"running","Health":"healthy"}`)
	case strings.Contains(joined, " up "):
		fmt.Fprintln(os.Stderr, "Error response from daemon: pull access denied")
		os.Exit(17)
	case strings.Contains(joined, " logs "):
		fmt.Fprintf(os.Stdout, "argv: %s\n", joined)
	}
	os.Exit(0)
}

func withFakeCompose(t *testing.T) {
	t.Helper()
	orig := execCommandContext
	execCommandContext = fakeExecCommandContext
	t.Cleanup(func() { execCommandContext = orig })
}

func TestParsePs(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []ContainerStatus
	}{
		{
			name: "json array",
			in:   `[{"ID":"a1","Service":"db","State":"running"},{"ID":"b2","Service":"cache","State":"exited"}]`,
			want: []ContainerStatus{{ID: "a1", Service: "db", State: "running"}, {ID: "b2", Service: "cache", State: "exited"}},
		},
		{
			name: "json lines",
			in:   "{\"ID\":\"a1\",\"Service\":\"db\",\"State\":\"running\",\"Health\":\"starting\"}\n\n{\"ID\":\"b2\",\"Service\":\"cache\",\"State\":\"running\"}\n",
			want: []ContainerStatus{{ID: "a1", Service: "db", State: "running", Health: "starting"}, {ID: "b2", Service: "cache", State: "running"}},
		},
		{
			name: "empty",
			in:   "  \n",
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePs([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePs([]byte("{not json"))
	assert.Error(t, err)
}

func TestComposeArgv(t *testing.T) {
	tool, args := ComposeCLI{Command: []string{"podman", "compose"}}.argv("compose.yaml", "stop", "db")
	assert.Equal(t, "podman", tool)
	assert.Equal(t, []string{"compose", "-f", "compose.yaml", "stop", "db"}, args)

	tool, args = ComposeCLI{}.argv("dc.yml", "ps")
	assert.Equal(t, "docker", tool)
	assert.Equal(t, []string{"compose", "-f", "dc.yml", "ps"}, args)
}

func TestComposePs(t *testing.T) {
	withFakeCompose(t)

	cs, found, err := ComposeCLI{}.Ps(context.Background(), t.TempDir(), "compose.yaml", "db")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "abc", cs.ID)
	assert.True(t, cs.Running())
}

func TestComposeFailureCarriesToolOutput(t *testing.T) {
	withFakeCompose(t)

	err := ComposeCLI{}.Up(context.Background(), t.TempDir(), "compose.yaml", "db", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrExternalTool))

	var te *errdefs.ExternalToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 17, te.ExitCode)
	assert.Contains(t, te.Output, "pull access denied")
	assert.Equal(t, errdefs.ExitExternalTool, errdefs.ExitCode(err))
}

func TestComposeLogsArgs(t *testing.T) {
	withFakeCompose(t)

	var buf bytes.Buffer
	err := ComposeCLI{}.Logs(context.Background(), t.TempDir(), "compose.yaml", "db", 20, true, &buf)
	require.NoError(t, err)
	assert.Equal(t, "argv: docker compose -f compose.yaml logs --tail 20 --follow db\n", buf.String())
}

func TestComposeCancelled(t *testing.T) {
	withFakeCompose(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ComposeCLI{}.Stop(ctx, t.TempDir(), "compose.yaml", "db")
	assert.True(t, errors.Is(err, errdefs.ErrCancelled))
}
