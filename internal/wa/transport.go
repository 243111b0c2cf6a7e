package wa

import "context"

// Conn is one live transport connection bound to a tenant.
type Conn interface {
	// SendText sends a plain text message to a conversation.
	SendText(ctx context.Context, conversationID, text string) error
	// ChatPresence drives the typing indicator for a conversation.
	ChatPresence(ctx context.Context, conversationID string, composing bool) error
	// Logout revokes the session server-side.
	Logout(ctx context.Context) error
	// Disconnect tears down the socket without revoking credentials.
	Disconnect()
}

// Events receives lifecycle and message events for one dialled connection.
// Implementations must not block; the registry serialises per-tenant work
// behind these callbacks.
type Events interface {
	// PairingCode reports a fresh pairing (QR) code awaiting scan.
	PairingCode(code string)
	// Opened reports a fully authenticated connection and its bound phone.
	Opened(phone string)
	// Closed reports connection loss. loggedOut is true only for explicit
	// revocation; anything else is treated as transient.
	Closed(loggedOut bool)
	// Message reports an inbound chat message. fromSelf marks messages the
	// tenant's own operator sent from another device.
	Message(conversationID, text string, fromSelf bool)
}

// Dialer opens transport connections for tenants.
type Dialer interface {
	Dial(ctx context.Context, tenantID string, events Events) (Conn, error)
}

// InboundMessage is a customer message routed to the reply pipeline.
type InboundMessage struct {
	TenantID       string
	ConversationID string
	Text           string
}

// MessageHandler consumes inbound customer messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg InboundMessage)
}

// OverrideActivator marks a conversation as human-controlled.
type OverrideActivator interface {
	ActivateOverride(tenantID, conversationID string)
}
