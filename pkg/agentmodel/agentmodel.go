// Package agentmodel defines the AgentRequest/AgentResponse/Trigger shapes
// exchanged between the Dispatch Service, the Agent Transport, and Webhook
// Ingest (spec.md §3). It has no dependency on any transport or dispatch
// logic so every component that needs the wire shape can import it without
// a cycle.
package agentmodel

import (
	"errors"
	"time"
)

var ErrMissingFields = errors.New("agent response missing required fields")

// AgentInfo is the agent-identity fragment of an AgentRequest.
type AgentInfo struct {
	Identifier  string `json:"identifier"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// ToolDefinition is one tool entry in an AgentRequest's tools list
// (spec.md §3 "ToolDefinition").
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ServerSummary is one entry of an AgentRequest's servers list.
type ServerSummary struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Description string `json:"description"`
}

// Sender identifies who authored a Message.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is one inbound conversational turn.
type Message struct {
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp,omitempty"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
}

// Trigger is the non-conversational invocation context produced by Webhook
// Ingest (spec.md §3 "Trigger").
type Trigger struct {
	Type        string         `json:"type"`
	Identifier  string         `json:"identifier"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	TriggeredAt time.Time      `json:"triggeredAt"`
	Payload     map[string]any `json:"payload"`
}

// AgentRequest is delivered to an Agent Transport (spec.md §3). Exactly one
// of Messages or Trigger is "primary"; both may be set only for message
// invocations carrying trigger context.
type AgentRequest struct {
	Agent    AgentInfo        `json:"agent"`
	Tools    []ToolDefinition `json:"tools"`
	Servers  []ServerSummary  `json:"servers"`
	Messages []Message        `json:"messages,omitempty"`
	Trigger  *Trigger         `json:"trigger,omitempty"`
}

// AgentResponse is the Agent Transport's return value. All four fields are
// required; a response missing any of them is a validation error.
type AgentResponse struct {
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata"`
}

// Validate checks the "missing required fields" invariant §4.2 imposes on
// every Agent Transport response.
func (r *AgentResponse) Validate() error {
	if r == nil {
		return ErrMissingFields
	}
	if r.Type == "" || r.Content == "" || r.Timestamp.IsZero() || r.Metadata == nil {
		return ErrMissingFields
	}
	return nil
}
