// Package toolname implements the tool-name encoding scheme (spec.md
// §4.6): every configured server identifier maps to a stable 6-character
// hash, and external (wire) tool names are "<hash>_<localName>" while
// user-facing restriction lists use the dotted logical form
// "<serverIdentifier>.<localName>".
package toolname

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashLength is the fixed width of the server-identifier hash.
const HashLength = 6

// Hash returns the stable 6-character lowercase hex hash for a server
// identifier: the first HashLength characters of the identifier's SHA-256
// hex digest.
func Hash(serverIdentifier string) string {
	sum := sha256.Sum256([]byte(serverIdentifier))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// External builds the wire-visible tool name "<hash>_<localName>" for a
// tool belonging to serverIdentifier.
func External(serverIdentifier, localName string) string {
	return fmt.Sprintf("%s_%s", Hash(serverIdentifier), localName)
}

// Logical builds the dotted "<serverIdentifier>.<localName>" form used by
// restriction lists and anywhere else a human names a tool.
func Logical(serverIdentifier, localName string) string {
	return fmt.Sprintf("%s.%s", serverIdentifier, localName)
}

// Decode splits an external tool name into its hash and local-name parts
// by splitting on the first underscore. It does not resolve the hash back
// to a server identifier — callers needing that must consult a registry
// built with Hash (spec.md §4.6, §4.8: "resolve hash → serverId via
// ServersProvider.getServerHash").
func Decode(externalName string) (hash, localName string, ok bool) {
	idx := strings.IndexByte(externalName, '_')
	if idx < 0 {
		return "", "", false
	}
	return externalName[:idx], externalName[idx+1:], true
}

// Registry resolves a tool-name hash back to the server identifier it was
// derived from, so the Restriction Filter can translate external names to
// the dotted logical form (spec.md §4.8).
type Registry struct {
	byHash map[string]string
}

// NewRegistry builds a Registry from the full set of configured server
// identifiers.
func NewRegistry(serverIdentifiers []string) *Registry {
	r := &Registry{byHash: make(map[string]string, len(serverIdentifiers))}
	for _, id := range serverIdentifiers {
		r.byHash[Hash(id)] = id
	}
	return r
}

// ServerIdentifier returns the server identifier a hash was derived from,
// and whether it was found.
func (r *Registry) ServerIdentifier(hash string) (string, bool) {
	id, ok := r.byHash[hash]
	return id, ok
}
