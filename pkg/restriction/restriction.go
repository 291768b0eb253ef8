// Package restriction implements the Restriction Filter (spec.md §4.8):
// per-agent allow/deny evaluation over servers and tools, fail-closed on
// any resolution error, with a uniform denial message that never leaks
// which rule tripped.
package restriction

import (
	"errors"
	"strings"

	"github.com/cubicler/cubicler/pkg/config"
	"github.com/cubicler/cubicler/pkg/toolname"
)

// ErrAccessDenied is the single message every access-denial surfaces as,
// regardless of the underlying reason (spec.md §4.8, §7: "internal
// identifiers ... must not leak through user-facing error messages").
var ErrAccessDenied = errors.New("Access denied: insufficient permissions for requested operation")

const internalToolPrefix = "cubicler_"

// HashResolver resolves a tool-name hash back to the server identifier it
// was derived from (spec.md §4.8: "resolve hash → serverId via
// ServersProvider.getServerHash"). *toolname.Registry satisfies this.
type HashResolver interface {
	ServerIdentifier(hash string) (string, bool)
}

// Filter evaluates one AgentConfig's allow/deny lists.
type Filter struct {
	resolver HashResolver
}

// New constructs a Filter backed by resolver for hash→server lookups.
func New(resolver HashResolver) *Filter {
	return &Filter{resolver: resolver}
}

// IsServerAllowed implements spec.md §4.8's isServerAllowed.
func IsServerAllowed(agent *config.AgentConfig, serverID string) bool {
	allowed := len(agent.AllowedServers) == 0 || contains(agent.AllowedServers, serverID)
	restricted := contains(agent.RestrictedServers, serverID)
	return allowed && !restricted
}

// IsToolAllowed implements spec.md §4.8's isToolAllowed. externalName is
// either an internal tool ("cubicler_*") or a hashed external tool name
// ("<hash>_<local>").
func (f *Filter) IsToolAllowed(agent *config.AgentConfig, externalName string) bool {
	if strings.HasPrefix(externalName, internalToolPrefix) {
		return !contains(agent.RestrictedTools, externalName)
	}

	hash, local, ok := toolname.Decode(externalName)
	if !ok {
		return false
	}
	serverID, ok := f.resolver.ServerIdentifier(hash)
	if !ok {
		return false
	}

	logical := toolname.Logical(serverID, local)
	if !IsServerAllowed(agent, serverID) {
		return false
	}
	allowed := len(agent.AllowedTools) == 0 || contains(agent.AllowedTools, logical)
	restricted := contains(agent.RestrictedTools, logical)
	return allowed && !restricted
}

// ValidateToolAccess returns ErrAccessDenied when IsToolAllowed is false,
// nil otherwise — the single error every caller-facing denial uses.
func (f *Filter) ValidateToolAccess(agent *config.AgentConfig, externalName string) error {
	if !f.IsToolAllowed(agent, externalName) {
		return ErrAccessDenied
	}
	return nil
}

// ValidateServerAccess mirrors ValidateToolAccess for a bare server lookup
// (e.g. cubicler_fetch_server_tools).
func (f *Filter) ValidateServerAccess(agent *config.AgentConfig, serverID string) error {
	if !IsServerAllowed(agent, serverID) {
		return ErrAccessDenied
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
