package server

import (
	"encoding/json"

	"missionboard/internal/domain"
)

// Request payloads

type CreateGatewayRequest struct {
	Name             string  `json:"name"`
	URL              string  `json:"url"`
	Token            *string `json:"token,omitempty"`
	AllowInsecureTLS *bool   `json:"allow_insecure_tls,omitempty"`
	WorkspaceRoot    *string `json:"workspace_root,omitempty"`
}

type UpdateGatewayRequest struct {
	Name             *string `json:"name,omitempty"`
	URL              *string `json:"url,omitempty"`
	Token            *string `json:"token,omitempty"`
	AllowInsecureTLS *bool   `json:"allow_insecure_tls,omitempty"`
	WorkspaceRoot    *string `json:"workspace_root,omitempty"`
}

type CreateBoardRequest struct {
	Name      string  `json:"name"`
	GatewayID *string `json:"gateway_id,omitempty"`
}

type UpdateBoardRequest struct {
	Name      *string `json:"name,omitempty"`
	GatewayID *string `json:"gateway_id,omitempty"`
}

type CreateTaskRequest struct {
	BoardID         string   `json:"board_id"`
	Title           string   `json:"title"`
	Description     *string  `json:"description,omitempty"`
	Status          *string  `json:"status,omitempty" enum:"inbox,in_progress,done"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	TagIDs          []string `json:"tag_ids,omitempty"`
}

type UpdateTaskRequest struct {
	Title           *string  `json:"title,omitempty"`
	Description     *string  `json:"description,omitempty"`
	Status          *string  `json:"status,omitempty"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	TagIDs          []string `json:"tag_ids,omitempty"`
}

type CreateAgentRequest struct {
	Name        string  `json:"name"`
	BoardID     *string `json:"board_id,omitempty"`
	GatewayID   *string `json:"gateway_id,omitempty"`
	Status      *string `json:"status,omitempty"`
	IsBoardLead *bool   `json:"is_board_lead,omitempty"`
}

type UpdateAgentRequest struct {
	Name        *string `json:"name,omitempty"`
	Status      *string `json:"status,omitempty"`
	BoardID     *string `json:"board_id,omitempty"`
	IsBoardLead *bool   `json:"is_board_lead,omitempty"`
}

type HeartbeatRequest struct {
	Name   string  `json:"name,omitempty"`
	Status *string `json:"status,omitempty"`
}

type CreateAgentKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type CreateTagRequest struct {
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

type UpdateTagRequest struct {
	Name  *string `json:"name,omitempty"`
	Color *string `json:"color,omitempty"`
}

type SendSessionMessageRequest struct {
	Content string `json:"content"`
	Deliver *bool  `json:"deliver,omitempty"`
}

// Response payloads

type GatewayResponse struct {
	ID               string `json:"id"`
	OrgID            string `json:"org_id"`
	Name             string `json:"name"`
	URL              string `json:"url"`
	AllowInsecureTLS bool   `json:"allow_insecure_tls"`
	WorkspaceRoot    string `json:"workspace_root,omitempty"`
	CreatedAt        string `json:"created_at" format:"date-time"`
	UpdatedAt        string `json:"updated_at" format:"date-time"`
}

type BoardResponse struct {
	ID        string  `json:"id"`
	OrgID     string  `json:"org_id"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	GatewayID *string `json:"gateway_id,omitempty"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`
}

type TaskResponse struct {
	ID              string   `json:"id"`
	BoardID         string   `json:"board_id"`
	Title           string   `json:"title"`
	Description     string   `json:"description,omitempty"`
	Status          string   `json:"status" enum:"inbox,in_progress,done"`
	AssignedAgentID *string  `json:"assigned_agent_id,omitempty"`
	TagIDs          []string `json:"tag_ids"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
}

type AgentResponse struct {
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

type AgentKeyResponse struct {
	ID        string `json:"id"`
	AgentID   string `json:"agent_id"`
	Name      string `json:"name,omitempty"`
	Key       string `json:"key,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TagResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Color     string `json:"color,omitempty"`
	TaskCount int    `json:"task_count"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActivityResponse struct {
	ID        int64   `json:"id"`
	TS        string  `json:"ts" format:"date-time"`
	EventType string  `json:"event_type"`
	Message   string  `json:"message"`
	AgentID   *string `json:"agent_id,omitempty"`
}

type SessionHistoryResponse struct {
	SessionKey string            `json:"session_key"`
	Messages   []json.RawMessage `json:"messages"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedActivity struct {
	Items      []ActivityResponse `json:"items"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

// Mapping helpers

func gatewayResponse(g domain.Gateway) GatewayResponse {
	return GatewayResponse{
		ID:               g.ID,
		OrgID:            g.OrgID,
		Name:             g.Name,
		URL:              g.URL,
		AllowInsecureTLS: g.AllowInsecureTLS,
		WorkspaceRoot:    g.WorkspaceRoot,
		CreatedAt:        g.CreatedAt,
		UpdatedAt:        g.UpdatedAt,
	}
}

func boardResponse(b domain.Board) BoardResponse {
	return BoardResponse{
		ID:        b.ID,
		OrgID:     b.OrgID,
		Name:      b.Name,
		Slug:      b.Slug,
		GatewayID: b.GatewayID,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func taskResponse(t domain.Task) TaskResponse {
	tags := t.TagIDs
	if tags == nil {
		tags = []string{}
	}
	return TaskResponse{
		ID:              t.ID,
		BoardID:         t.BoardID,
		Title:           t.Title,
		Description:     t.Description,
		Status:          t.Status,
		AssignedAgentID: t.AssignedAgentID,
		TagIDs:          tags,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	}
}

func agentResponse(a domain.Agent) AgentResponse {
	return AgentResponse{
		ID:                a.ID,
		Name:              a.Name,
		BoardID:           a.BoardID,
		GatewayID:         a.GatewayID,
		Status:            a.Status,
		IsBoardLead:       a.IsBoardLead,
		LastSeenAt:        a.LastSeenAt,
		OpenClawSessionID: a.OpenClawSessionID,
		CreatedAt:         a.CreatedAt,
		UpdatedAt:         a.UpdatedAt,
	}
}

func tagResponse(t domain.Tag) TagResponse {
	return TagResponse{
		ID:        t.ID,
		OrgID:     t.OrgID,
		Name:      t.Name,
		Slug:      t.Slug,
		Color:     t.Color,
		TaskCount: t.TaskCount,
		CreatedAt: t.CreatedAt,
	}
}

func activityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:        a.ID,
		TS:        a.TS,
		EventType: a.EventType,
		Message:   a.Message,
		AgentID:   a.AgentID,
	}
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapBoards(items []domain.Board) []BoardResponse {
	res := make([]BoardResponse, 0, len(items))
	for _, b := range items {
		res = append(res, boardResponse(b))
	}
	return res
}

func mapGateways(items []domain.Gateway) []GatewayResponse {
	res := make([]GatewayResponse, 0, len(items))
	for _, g := range items {
		res = append(res, gatewayResponse(g))
	}
	return res
}

func mapTags(items []domain.Tag) []TagResponse {
	res := make([]TagResponse, 0, len(items))
	for _, t := range items {
		res = append(res, tagResponse(t))
	}
	return res
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
