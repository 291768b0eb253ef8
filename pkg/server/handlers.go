package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cubicler/cubicler/pkg/agentmodel"
	"github.com/cubicler/cubicler/pkg/dispatch"
	"github.com/cubicler/cubicler/pkg/jsonrpc"
	"github.com/cubicler/cubicler/pkg/restriction"
	"github.com/cubicler/cubicler/pkg/webhook"
)

type handlers struct {
	deps Deps
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// mcp implements POST /mcp: one JSON-RPC 2.0 request in, one JSON-RPC 2.0
// response out (spec.md §6 "Upstream MCP over HTTP"). A malformed body is
// itself a JSON-RPC parse error, not an HTTP 400 — the MCP surface is a
// JSON-RPC surface end to end.
func (h *handlers) mcp(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusOK, jsonrpc.ErrorResponse(nil, jsonrpc.CodeParseError, "Parse error: "+err.Error()))
		return
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusOK, jsonrpc.ErrorResponse(nil, jsonrpc.CodeParseError, "Parse error: "+err.Error()))
		return
	}

	resp := h.deps.Router.Handle(r.Context(), &req)
	writeJSON(w, http.StatusOK, resp)
}

// dispatchRequestBody is the POST /dispatch[/:agentId] body (spec.md §6).
type dispatchRequestBody struct {
	Messages []agentmodel.Message `json:"messages"`
}

func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var body dispatchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.deps.Dispatcher.Dispatch(r.Context(), agentID, body.Messages)
	if err != nil {
		writeDispatchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDispatchError maps the Dispatch Service's error taxonomy to the
// status codes spec.md §6/§7 name. The core itself never constructs an
// HTTP status — this is the one place the edge translates a returned error
// into one.
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dispatch.ErrUnknownAgent):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrAgentIdentifierRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, agentmodel.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, restriction.ErrAccessDenied):
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	agentID := chi.URLParam(r, "agentId")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resp, err := h.deps.Webhooks.Handle(r.Context(), identifier, agentID, body, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, webhook.ErrAuthenticationFailed):
			writeError(w, http.StatusUnauthorized, "Authentication failed")
		case errors.Is(err, webhook.ErrUnknownWebhook):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, webhook.ErrAgentNotAuthorized):
			writeError(w, http.StatusForbidden, err.Error())
		default:
			writeDispatchError(w, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// agentSSE implements GET /agent/sse/:agentId: Cubicler is the SSE server,
// the agent process is the client (spec.md §4.2, §6).
func (h *handlers) agentSSE(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")
	if err := h.deps.SSE.Connect(r.Context(), agentID, w); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// agentSSEReplyBody is the out-of-band reply an SSE-connected agent posts
// back for one agent_request event (spec.md §4.2: "Agents reply over a
// separate channel").
type agentSSEReplyBody struct {
	ID       string                   `json:"id"`
	Response agentmodel.AgentResponse `json:"response"`
}

func (h *handlers) agentSSEReply(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentId")

	var body agentSSEReplyBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if !h.deps.SSE.HandleReply(agentID, body.ID, body.Response) {
		writeError(w, http.StatusNotFound, "no pending request with that id")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	health := h.deps.Health.Health(r.Context())
	status := http.StatusOK
	if !health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
