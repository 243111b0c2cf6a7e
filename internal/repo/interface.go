package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Tenants
	CreateTenant(ctx context.Context, tenant Tenant) (*Tenant, error)
	GetTenant(ctx context.Context, id string) (*Tenant, error)
	UpdateTenant(ctx context.Context, tenant Tenant) error

	// Users
	CreateUser(ctx context.Context, user User) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)

	// WhatsApp sessions
	UpsertSession(ctx context.Context, session WhatsAppSession) error
	GetSession(ctx context.Context, tenantID string) (*WhatsAppSession, error)
	SetSessionStatus(ctx context.Context, tenantID, status string) error
	ListSessionsByStatus(ctx context.Context, status string) ([]WhatsAppSession, error)

	// Leads
	TouchLead(ctx context.Context, tenantID, phone string, name, firstMessage *string) (created bool, err error)
	ListLeads(ctx context.Context, tenantID string, limit int) ([]Lead, error)
	SearchLeads(ctx context.Context, tenantID, query string, limit int) ([]Lead, error)

	// Knowledge
	CreateKnowledgeEntry(ctx context.Context, entry KnowledgeEntry) (*KnowledgeEntry, error)
	UpdateKnowledgeEntry(ctx context.Context, entry KnowledgeEntry) error
	DeleteKnowledgeEntry(ctx context.Context, tenantID, id string) error
	ListActiveKnowledge(ctx context.Context, tenantID string) ([]KnowledgeEntry, error)
	ListKnowledge(ctx context.Context, tenantID string) ([]KnowledgeEntry, error)

	// Message logs
	InsertMessage(ctx context.Context, msg MessageRecord) error
	ListRecentMessages(ctx context.Context, tenantID string, limit int) ([]MessageRecord, error)

	// Daily stats
	IncrementDailyStat(ctx context.Context, tenantID, date string, delta StatDelta) error
	GetDailyStat(ctx context.Context, tenantID, date string) (*DailyStat, error)
	ListDailyStats(ctx context.Context, tenantID string, since time.Time) ([]DailyStat, error)

	// Broadcasts
	CreateBroadcast(ctx context.Context, b Broadcast) (*Broadcast, error)
	GetBroadcast(ctx context.Context, id string) (*Broadcast, error)
	GetBroadcastForTenant(ctx context.Context, tenantID, id string) (*Broadcast, error)
	ListBroadcasts(ctx context.Context, tenantID string) ([]Broadcast, error)
	ListDueBroadcasts(ctx context.Context, now time.Time) ([]Broadcast, error)
	SetBroadcastStatus(ctx context.Context, id, status string) error
	FinishBroadcast(ctx context.Context, id string, sent, failed int, completedAt time.Time) error
}
