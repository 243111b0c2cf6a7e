package repo

import "time"

// Tenant represents a business account row.
type Tenant struct {
	ID               string
	Name             string
	BusinessType     string
	DefaultLanguage  string
	MaxDailyMessages int
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// User represents a dashboard login belonging to a tenant.
type User struct {
	ID           string
	TenantID     string
	Email        string
	PasswordHash string
	Name         string
	Role         string
	CreatedAt    time.Time
}

// WhatsAppSession is the durable session record for a tenant.
type WhatsAppSession struct {
	TenantID   string
	Phone      *string
	Status     string
	LastActive *time.Time
	UpdatedAt  time.Time
}

// Lead is a captured customer contact.
type Lead struct {
	ID           string
	TenantID     string
	Phone        string
	Name         *string
	FirstMessage *string
	MessageCount int
	LastContact  time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// KnowledgeEntry is one tenant knowledge-base item used for reply grounding.
type KnowledgeEntry struct {
	ID        string
	TenantID  string
	Category  string
	Title     string
	Content   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// MessageRecord is used to persist conversation logs.
type MessageRecord struct {
	TenantID  string
	Direction string
	Phone     string
	Message   string
	Language  *string
	AIModel   *string
	CreatedAt time.Time
}

// DailyStat holds per-tenant per-day counters. Counters only grow.
type DailyStat struct {
	TenantID       string
	Date           string
	MessagesIn     int
	MessagesOut    int
	AIResponses    int
	NewLeads       int
	BroadcastsSent int
}

// StatDelta carries counter increments folded into a daily stat row.
type StatDelta struct {
	MessagesIn     int
	MessagesOut    int
	AIResponses    int
	NewLeads       int
	BroadcastsSent int
}

// Broadcast lifecycle states.
const (
	BroadcastPending   = "pending"
	BroadcastSending   = "sending"
	BroadcastCompleted = "completed"
	BroadcastFailed    = "failed"
)

// Broadcast represents a bulk-send campaign.
type Broadcast struct {
	ID          string
	TenantID    string
	Message     string
	Recipients  []string
	Status      string
	SentCount   int
	FailedCount int
	ScheduledAt *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
}
