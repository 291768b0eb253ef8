package mcptransport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

// echoServerScript reads one JSON-RPC line at a time and echoes back a
// ResultResponse with the same id, forever, until stdin closes.
const echoServerScript = `
while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
done
`

func stdioCfg(script string) config.ServerConfig {
	return config.ServerConfig{
		Identifier: "echo",
		Transport:  config.TransportStdio,
		Command:    "sh",
		Args:       []string{"-c", script},
	}
}

func TestStdioTransportInitializeAndSend(t *testing.T) {
	tr := newStdioTransport("echo", stdioCfg(echoServerScript), testDeps())
	require.NoError(t, tr.Initialize(context.Background()))
	defer tr.Close()

	assert.True(t, tr.IsConnected())

	req, err := jsonrpc.NewRequest(5, "tools/list", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := tr.Send(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
}

func TestStdioTransportTimesOutOnSilentChild(t *testing.T) {
	tr := newStdioTransport("silent", stdioCfg("cat >/dev/null"), Deps{
		HTTPClient:     testDeps().HTTPClient,
		TokenSource:    testDeps().TokenSource,
		RequestTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, tr.start())
	defer tr.Close()

	req, err := jsonrpc.NewRequest(1, "tools/list", nil)
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), req)
	assert.Error(t, err)
}

func TestStdioTransportRestartsAfterCrash(t *testing.T) {
	tr := newStdioTransport("crasher", stdioCfg(`
read -r line
id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
printf '{"jsonrpc":"2.0","id":%s,"result":{"ok":true}}\n' "$id"
exit 1
`), testDeps())
	require.NoError(t, tr.Initialize(context.Background()))
	defer tr.Close()

	req, err := jsonrpc.NewRequest(2, "tools/list", nil)
	require.NoError(t, err)
	_, err = tr.Send(context.Background(), req)
	require.NoError(t, err)

	// Give the crash + restart loop time to complete (backoff starts at
	// 500ms).
	time.Sleep(1200 * time.Millisecond)

	req2, err := jsonrpc.NewRequest(3, "tools/list", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	resp, err := tr.Send(ctx, req2)
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
}
