package domain

type Organization struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Gateway struct {
	ID               string `json:"id"`
	OrgID            string `json:"org_id"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	Token            string `json:"-"`
	AllowInsecureTLS bool   `json:"allow_insecure_tls"`
	WorkspaceRoot    string `json:"workspace_root,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

type Board struct {
	ID        string  `json:"id"`
	OrgID     string  `json:"org_id"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	GatewayID *string `json:"gateway_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type Agent struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	BoardID           *string `json:"board_id,omitempty"`
	GatewayID         *string `json:"gateway_id,omitempty"`
	Status            string  `json:"status"`
	IsBoardLead       bool    `json:"is_board_lead"`
	LastSeenAt        *string `json:"last_seen_at,omitempty" format:"date-time"`
	OpenClawSessionID *string `json:"openclaw_session_id,omitempty"`
	CreatedAt         string  `json:"created_at" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type Task struct {
	ID              string   `json:"id"`
	BoardID         string   `json:"board_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status" enum:"inbox,in_progress,done"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	TagIDs          []string `json:"tag_ids,omitempty"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

// TaskStatuses is the closed workflow enumeration, in order.
var TaskStatuses = []string{"inbox", "in_progress", "done"}

func ValidTaskStatus(s string) bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type Tag struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Color     string `json:"color,omitempty"`
	TaskCount int    `json:"task_count"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Activity struct {
	ID        int64   `json:"id"`
	TS        string  `json:"ts" format:"date-time"`
	EventType string  `json:"event_type"`
	Message   string  `json:"message"`
	AgentID   *string `json:"agent_id,omitempty"`
}

type AgentKey struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActorType discriminates who is making a request.
type ActorType string

const (
	ActorAdmin ActorType = "admin"
	ActorAgent ActorType = "agent"
)

// ActorContext describes the resolved principal for one request. It is never
// persisted. For agent actors the full row is carried so the authorization
// engine can compare identity and board-lead role without further lookups.
type ActorContext struct {
	Type    ActorType
	Subject string
	Agent   *Agent
}

func (a ActorContext) IsAdmin() bool { return a.Type == ActorAdmin }

// IsBoardLead reports whether the actor is an agent leading the given board.
func (a ActorContext) IsBoardLead(boardID string) bool {
	if a.Type != ActorAgent || a.Agent == nil || !a.Agent.IsBoardLead {
		return false
	}
	return a.Agent.BoardID != nil && *a.Agent.BoardID == boardID
}
