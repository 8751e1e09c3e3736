package openclaw

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
	"strings"
)

// Session keys address logical conversations on the OpenClaw gateway. They are
// derived from entity identifiers so no mapping table is needed: repeated calls
// for the same entity always resolve to the same remote session. Derivation is
// pure and total; it never performs I/O and never fails.

const (
	gatewayAgentPrefix = "agent:gw-"
	boardLeadPrefix    = "agent:lead-"
	boardAgentPrefix   = "agent:mc-"
	agentPrefix        = "agent:"
	sessionSuffix      = ":main"
)

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// GatewayMainSessionKey returns the control-plane session for a gateway's own
// main agent.
func GatewayMainSessionKey(gatewayID string) string {
	return gatewayAgentPrefix + gatewayID + sessionSuffix
}

// GatewayAgentID returns the identifier the gateway-main agent registers under
// on the remote side.
func GatewayAgentID(gatewayID string) string {
	return "gw-" + gatewayID
}

// BoardLeadSessionKey returns the session for a board's lead agent.
func BoardLeadSessionKey(boardID string) string {
	return boardLeadPrefix + boardID + sessionSuffix
}

// BoardAgentSessionKey returns the session for a non-lead worker agent.
func BoardAgentSessionKey(agentID string) string {
	return boardAgentPrefix + agentID + sessionSuffix
}

// BoardScopedSessionKey selects the lead session for board leads and the
// per-agent session otherwise. Callers must go through this rather than
// formatting keys inline.
func BoardScopedSessionKey(agentID, boardID string, isBoardLead bool) string {
	if isBoardLead {
		return BoardLeadSessionKey(boardID)
	}
	return BoardAgentSessionKey(agentID)
}

// AgentSessionKey builds a session key from an arbitrary display name, for
// standalone agents not scoped to a board. The name is slugified; an empty
// slug falls back to a random token so the key is always transport-safe.
func AgentSessionKey(name string) string {
	return agentPrefix + Slugify(name) + sessionSuffix
}

// Slugify lowercases, collapses non-alphanumeric runs to '-', and trims edges.
// Returns a random hex token when nothing survives.
func Slugify(value string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(value), "-"), "-")
	if slug == "" {
		return randomToken()
	}
	return slug
}

func randomToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// math-free fallback keeps the function total; collisions are
		// acceptable for ad hoc keys.
		return "anonymous"
	}
	return hex.EncodeToString(b)
}
