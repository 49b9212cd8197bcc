package store

// TenantScope partitions every stored and retrieved record by user and
// project. ConversationID is optional: when set, it further restricts a
// record to a single conversation.
type TenantScope struct {
	UserID         string
	ProjectID      string
	ConversationID string
}

// Matches reports whether other belongs to this scope. User and project must
// match exactly; the conversation is compared only when this scope is
// conversation-bound.
func (t TenantScope) Matches(other TenantScope) bool {
	if t.UserID != other.UserID || t.ProjectID != other.ProjectID {
		return false
	}
	if t.ConversationID != "" && t.ConversationID != other.ConversationID {
		return false
	}
	return true
}

// Memory is the atomic retrievable unit: one document chunk or one recorded
// conversation turn. A chunk carries its owning document ID and position;
// a turn carries neither, only a reduced priority.
type Memory struct {
	ID         int64
	Text       string
	Source     string
	DocID      string // empty for conversation turns
	ChunkIndex int
	Priority   float64
	Negation   bool
	Tenant     TenantScope
	CreatedTs  int64
}

// FindMemory specifies the conditions for listing memories.
// A nil Tenant lists across every tenant (used only by the index rebuilder).
type FindMemory struct {
	Tenant        *TenantScope
	DocID         *string
	ContainsText  *string // case-insensitive substring match
	OrderByRecent bool
	Limit         int
}

// MemoryStats aggregates a tenant's stored memories.
type MemoryStats struct {
	TotalCount  int64    `json:"total_count"`
	MinPriority float64  `json:"min_priority"`
	AvgPriority float64  `json:"avg_priority"`
	MaxPriority float64  `json:"max_priority"`
	Sources     []string `json:"sources"`
	NewestTs    int64    `json:"newest_ts"`
	OldestTs    int64    `json:"oldest_ts"`
}
