// Package convo runs the inbound reply pipeline: lead capture, gating,
// knowledge retrieval, generation, and the paced send.
package convo

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"omnireply/internal/ai"
	"omnireply/internal/gate"
	"omnireply/internal/metrics"
	"omnireply/internal/repo"
	"omnireply/internal/wa"
)

const pipelineTimeout = 2 * time.Minute

// Store is the subset of the record store the pipeline writes to.
type Store interface {
	InsertMessage(ctx context.Context, msg repo.MessageRecord) error
	IncrementDailyStat(ctx context.Context, tenantID, date string, delta repo.StatDelta) error
	TouchLead(ctx context.Context, tenantID, phone string, name, firstMessage *string) (bool, error)
	GetTenant(ctx context.Context, id string) (*repo.Tenant, error)
}

// ConnSource resolves the live connection for a tenant.
type ConnSource interface {
	Conn(tenantID string) (wa.Conn, bool)
}

// SendGate guards and paces automated sends.
type SendGate interface {
	Evaluate(ctx context.Context, tenantID, conversationID string) gate.Decision
	Mimicry(ctx context.Context, conn gate.Presence, conversationID string)
}

// Engine handles each inbound customer message end to end. It implements
// wa.MessageHandler.
type Engine struct {
	store     Store
	gate      SendGate
	retriever *ai.Retriever
	client    *ai.Client
	conns     ConnSource
	logger    *slog.Logger
	metrics   *metrics.Metrics

	now func() time.Time
}

var _ wa.MessageHandler = (*Engine)(nil)

// NewEngine wires the reply pipeline.
func NewEngine(store Store, g SendGate, retriever *ai.Retriever, client *ai.Client, conns ConnSource, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:     store,
		gate:      g,
		retriever: retriever,
		client:    client,
		conns:     conns,
		logger:    logger.With("component", "convo"),
		metrics:   m,
		now:       time.Now,
	}
}

// HandleMessage processes one inbound customer message. Every step after
// logging degrades gracefully: a failed lead upsert or AI call never loses the
// customer's message or crashes the session.
func (e *Engine) HandleMessage(ctx context.Context, msg wa.InboundMessage) {
	ctx, cancel := context.WithTimeout(ctx, pipelineTimeout)
	defer cancel()

	log := e.logger.With("tenant_id", msg.TenantID, "conversation_id", msg.ConversationID)

	phone := phoneFromConversation(msg.ConversationID)
	if err := e.store.InsertMessage(ctx, repo.MessageRecord{
		TenantID:  msg.TenantID,
		Direction: "incoming",
		Phone:     phone,
		Message:   msg.Text,
	}); err != nil {
		log.Error("log inbound message failed", "error", err)
	}

	delta := repo.StatDelta{MessagesIn: 1}
	if created := e.captureLead(ctx, msg.TenantID, phone, msg.Text, log); created {
		delta.NewLeads = 1
	}
	if err := e.store.IncrementDailyStat(ctx, msg.TenantID, gate.Today(e.now()), delta); err != nil {
		log.Error("increment inbound stats failed", "error", err)
	}

	switch e.gate.Evaluate(ctx, msg.TenantID, msg.ConversationID) {
	case gate.SkipOverride:
		log.Info("human override active, skipping auto-reply")
		return
	case gate.SkipRateLimit:
		log.Warn("daily limit reached, skipping auto-reply")
		return
	}

	tenant, err := e.store.GetTenant(ctx, msg.TenantID)
	if err != nil {
		log.Error("load tenant failed, dropping reply", "error", err)
		return
	}
	if !tenant.IsActive {
		log.Info("tenant inactive, skipping auto-reply")
		return
	}

	conn, ok := e.conns.Conn(msg.TenantID)
	if !ok {
		log.Warn("no live connection, dropping reply")
		return
	}

	reply, languageCode := e.compose(ctx, msg, tenant, log)

	e.gate.Mimicry(ctx, conn, msg.ConversationID)
	if err := conn.SendText(ctx, msg.ConversationID, reply); err != nil {
		log.Error("send reply failed", "error", err)
		e.metrics.Errors.WithLabelValues("convo").Inc()
		return
	}
	e.metrics.WAOutgoingMessages.WithLabelValues("text").Inc()

	model := e.client.Model()
	if err := e.store.InsertMessage(ctx, repo.MessageRecord{
		TenantID:  msg.TenantID,
		Direction: "outgoing",
		Phone:     phone,
		Message:   reply,
		Language:  &languageCode,
		AIModel:   &model,
	}); err != nil {
		log.Error("log outbound message failed", "error", err)
	}
	if err := e.store.IncrementDailyStat(ctx, msg.TenantID, gate.Today(e.now()), repo.StatDelta{
		MessagesOut: 1,
		AIResponses: 1,
	}); err != nil {
		log.Error("increment outbound stats failed", "error", err)
	}
	log.Info("auto-reply sent", "language", languageCode)
}

// compose builds the reply text. Generation failures fall back to a static
// message in the detected language.
func (e *Engine) compose(ctx context.Context, msg wa.InboundMessage, tenant *repo.Tenant, log *slog.Logger) (string, string) {
	languageCode := ai.DetectLanguage(msg.Text)
	knowledge := e.retriever.Query(ctx, msg.TenantID, msg.Text)

	reply, err := e.client.Respond(ctx, ai.Request{
		Message:          msg.Text,
		BusinessName:     tenant.Name,
		BusinessType:     tenant.BusinessType,
		KnowledgeContext: knowledge.Text,
		LanguageCode:     languageCode,
	})
	if err != nil {
		log.Error("generate reply failed, using fallback", "error", err)
		return ai.Fallback(languageCode), languageCode
	}
	return reply, languageCode
}

func (e *Engine) captureLead(ctx context.Context, tenantID, phone, text string, log *slog.Logger) bool {
	name := extractName(text)
	first := text
	created, err := e.store.TouchLead(ctx, tenantID, phone, name, &first)
	if err != nil {
		log.Error("lead upsert failed", "error", err)
		return false
	}
	if created {
		log.Info("new lead captured", "phone", phone)
	}
	return created
}

var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bmy name is\s+([a-z]+(?:\s+[a-z]+)?)`),
	regexp.MustCompile(`(?i)\bi am\s+([a-z]+(?:\s+[a-z]+)?)`),
	regexp.MustCompile(`(?i)\bi'm\s+([a-z]+(?:\s+[a-z]+)?)`),
	regexp.MustCompile(`(?i)\bmagacaygu waa\s+([a-z]+(?:\s+[a-z]+)?)`),
	regexp.MustCompile(`(?i)\bwaxaan ahay\s+([a-z]+(?:\s+[a-z]+)?)`),
}

// extractName pulls a self-introduced name out of the message, if present.
func extractName(text string) *string {
	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); len(m) == 2 {
			name := strings.TrimSpace(m[1])
			if name != "" {
				return &name
			}
		}
	}
	return nil
}

// phoneFromConversation strips the JID server suffix, leaving the bare number.
func phoneFromConversation(conversationID string) string {
	if i := strings.IndexByte(conversationID, '@'); i >= 0 {
		return conversationID[:i]
	}
	return conversationID
}
