package wa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"omnireply/internal/credstore"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const defaultJIDServer = "s.whatsapp.net"

// MeowDialer dials WhatsApp connections through whatsmeow using stored
// credentials. Auto-reconnect is disabled on dialled clients: the registry's
// retry task is the single reconnection mechanism.
type MeowDialer struct {
	creds    credstore.Store
	logger   *slog.Logger
	logLevel string
}

var _ Dialer = (*MeowDialer)(nil)

// NewMeowDialer returns a dialer backed by the given credential store.
func NewMeowDialer(creds credstore.Store, logLevel string, logger *slog.Logger) *MeowDialer {
	return &MeowDialer{
		creds:    creds,
		logger:   logger.With("component", "wa"),
		logLevel: logLevel,
	}
}

// Dial loads the tenant's device, wires event forwarding, and connects. When
// the device has never paired, pairing codes stream through events until the
// operator scans one.
func (d *MeowDialer) Dial(ctx context.Context, tenantID string, ev Events) (Conn, error) {
	device, err := d.creds.Device(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("whatsmeow/client", d.logLevel, false))
	client.EnableAutoReconnect = false

	conn := &meowConn{client: client}
	client.AddEventHandler(func(evt interface{}) {
		d.handleEvent(tenantID, client, ev, evt)
	})

	if client.Store.ID == nil {
		qrChan, err := client.GetQRChannel(ctx)
		if err != nil {
			return nil, fmt.Errorf("get qr channel: %w", err)
		}
		go func() {
			for item := range qrChan {
				if item.Event == "code" {
					ev.PairingCode(item.Code)
				} else {
					d.logger.Info("pairing event received", "tenant_id", tenantID, "event", item.Event)
				}
			}
		}()
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("connect wa client: %w", err)
	}
	return conn, nil
}

func (d *MeowDialer) handleEvent(tenantID string, client *whatsmeow.Client, ev Events, evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		phone := ""
		if jid := client.Store.ID; jid != nil {
			phone = jid.User
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := d.creds.Bind(ctx, tenantID, *jid); err != nil {
				d.logger.Warn("bind device failed", "tenant_id", tenantID, "error", err)
			}
			cancel()
		}
		ev.Opened(phone)
	case *events.LoggedOut:
		ev.Closed(true)
	case *events.Disconnected:
		ev.Closed(false)
	case *events.Message:
		d.handleMessage(ev, v)
	}
}

func (d *MeowDialer) handleMessage(ev Events, evt *events.Message) {
	msg := evt.Message
	if msg == nil || evt.Info.Chat.String() == "status@broadcast" {
		return
	}

	text := msg.GetConversation()
	if text == "" {
		text = msg.GetExtendedTextMessage().GetText()
	}
	if text == "" {
		return
	}

	ev.Message(evt.Info.Chat.String(), text, evt.Info.IsFromMe)
}

// meowConn adapts a whatsmeow client to the Conn interface.
type meowConn struct {
	client *whatsmeow.Client
}

// SendText sends a plain text message to the conversation.
func (c *meowConn) SendText(ctx context.Context, conversationID, text string) error {
	jid, err := parseConversationJID(conversationID)
	if err != nil {
		return err
	}
	message := &waProto.Message{Conversation: proto.String(text)}
	if _, err := c.client.SendMessage(ctx, jid, message); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// ChatPresence toggles the composing indicator for the conversation.
func (c *meowConn) ChatPresence(ctx context.Context, conversationID string, composing bool) error {
	jid, err := parseConversationJID(conversationID)
	if err != nil {
		return err
	}
	state := types.ChatPresencePaused
	if composing {
		state = types.ChatPresenceComposing
	}
	if err := c.client.SendChatPresence(jid, state, types.ChatPresenceMediaText); err != nil {
		return fmt.Errorf("send chat presence: %w", err)
	}
	return nil
}

// Logout revokes the session server-side and wipes the device store.
func (c *meowConn) Logout(ctx context.Context) error {
	if err := c.client.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Disconnect tears down the socket.
func (c *meowConn) Disconnect() {
	c.client.Disconnect()
}

func parseConversationJID(conversationID string) (types.JID, error) {
	raw := conversationID
	if !strings.Contains(raw, "@") {
		raw = raw + "@" + defaultJIDServer
	}
	jid, err := types.ParseJID(raw)
	if err != nil {
		return types.EmptyJID, fmt.Errorf("parse jid %q: %w", conversationID, err)
	}
	return jid, nil
}
