package mcptransport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
)

func TestSSEPostURLDerivation(t *testing.T) {
	got, err := ssePostURL("http://host:8080/events/stream")
	require.NoError(t, err)
	assert.Equal(t, "http://host:8080/events/mcp", got)
}

func TestSSETransportDeliversResponseOverStream(t *testing.T) {
	var gotID any
	responses := make(chan jsonrpc.Response, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for {
			select {
			case resp := <-responses:
				data, _ := json.Marshal(resp)
				fmt.Fprintf(w, "event: mcp-response\ndata: %s\n\n", data)
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpc.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotID = req.ID
		w.WriteHeader(http.StatusAccepted)
		responses <- *jsonrpc.ResultResponse(req.ID, map[string]any{"ok": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg := config.ServerConfig{Identifier: "weather", Transport: config.TransportSSE, URL: srv.URL + "/stream"}
	tr := newSSETransport("weather", cfg, testDeps())
	require.NoError(t, tr.Initialize(context.Background()))
	defer tr.Close()

	assert.True(t, tr.IsConnected())

	req, err := jsonrpc.NewRequest(7, "tools/list", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := tr.Send(ctx, req)
	require.NoError(t, err)
	assert.True(t, jsonrpc.SameID(resp.ID, req.ID))
	assert.True(t, jsonrpc.SameID(gotID, float64(7)))
}
