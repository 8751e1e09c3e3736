// Package authz decides, per actor and per mutation, which task fields may
// change. Decisions are pure: no storage access, no I/O, always a tagged
// result rather than an error.
package authz

import (
	"fmt"

	"missionboard/internal/domain"
)

// Denial codes are machine-readable so API consumers can branch without
// string-matching messages.
const (
	CodeFieldForbidden   = "task_update_field_forbidden"
	CodeAssigneeRequired = "task_assignee_required"
	CodeAssigneeMismatch = "task_assignee_mismatch"
)

const assigneeMessage = "Agents can only change status on tasks assigned to them."

// Changeset is an explicit tagged partial update for a task. Only enumerated
// fields are updatable; nil means "leave unchanged".
type Changeset struct {
	Title           *string
	Description     *string
	Status          *string
	AssignedAgentID *string
	ClearAssignee   bool
	TagIDs          []string
}

// Fields lists the names of the fields this changeset touches.
func (c Changeset) Fields() []string {
	var fields []string
	if c.Title != nil {
		fields = append(fields, "title")
	}
	if c.Description != nil {
		fields = append(fields, "description")
	}
	if c.Status != nil {
		fields = append(fields, "status")
	}
	if c.AssignedAgentID != nil || c.ClearAssignee {
		fields = append(fields, "assigned_agent_id")
	}
	if c.TagIDs != nil {
		fields = append(fields, "tag_ids")
	}
	return fields
}

func (c Changeset) Empty() bool { return len(c.Fields()) == 0 }

// Denial explains a rejected update.
type Denial struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d *Denial) Error() string {
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// Decision is the outcome of authorizing one update: either an approved
// changeset or a denial, never both.
type Decision struct {
	Approved Changeset
	Denied   *Denial
}

// Authorize evaluates a proposed update against the actor's identity and the
// task's current assignment. Rules, in order: admins and board leads get full
// access; worker agents may only change status, and only on the task assigned
// to them. Cross-board access is rejected upstream by task lookup, not here.
func Authorize(actor domain.ActorContext, task domain.Task, proposed Changeset) Decision {
	if actor.IsAdmin() {
		return Decision{Approved: proposed}
	}
	if actor.IsBoardLead(task.BoardID) {
		return Decision{Approved: proposed}
	}
	for _, field := range proposed.Fields() {
		if field != "status" {
			return deny(CodeFieldForbidden, "Only status changes are permitted for non-lead agents.")
		}
	}
	if task.AssignedAgentID == nil {
		return deny(CodeAssigneeRequired, assigneeMessage)
	}
	if actor.Agent == nil || *task.AssignedAgentID != actor.Agent.ID {
		return deny(CodeAssigneeMismatch, assigneeMessage)
	}
	return Decision{Approved: proposed}
}

func deny(code, message string) Decision {
	return Decision{Denied: &Denial{Code: code, Message: message}}
}
