package openclaw

import (
	"context"
	"errors"
)

// ErrBoardGatewayUnconfigured signals a setup problem (board without a
// gateway, or a gateway without a URL) as opposed to a transient transport
// failure. Callers should treat it as non-retryable until an admin fixes the
// configuration.
var ErrBoardGatewayUnconfigured = errors.New("board is not attached to a configured gateway")

// SendGatewayAgentMessage ensures the session exists and dispatches one
// message into it, failing hard on the first error.
func SendGatewayAgentMessage(ctx context.Context, client *Client, sessionKey, agentName, message string, deliver bool) error {
	if err := client.EnsureSession(ctx, sessionKey, agentName); err != nil {
		return err
	}
	return client.SendMessage(ctx, message, sessionKey, deliver)
}

// SendGatewayAgentMessageSafe is the best-effort variant: a transport failure
// is captured and returned as a value instead of an error, so callers on
// persistence-authoritative paths can record it without aborting.
func SendGatewayAgentMessageSafe(ctx context.Context, client *Client, sessionKey, agentName, message string, deliver bool) *GatewayError {
	if err := SendGatewayAgentMessage(ctx, client, sessionKey, agentName, message, deliver); err != nil {
		var gerr *GatewayError
		if errors.As(err, &gerr) {
			return gerr
		}
		// Unexpected failure modes get the same best-effort treatment as
		// transport ones.
		return &GatewayError{Message: err.Error()}
	}
	return nil
}
