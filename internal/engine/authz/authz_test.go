package authz_test

import (
	"testing"

	"missionboard/internal/domain"
	"missionboard/internal/engine/authz"
)

func strPtr(s string) *string { return &s }

func adminActor() domain.ActorContext {
	return domain.ActorContext{Type: domain.ActorAdmin, Subject: "ops"}
}

func agentActor(id, boardID string, lead bool) domain.ActorContext {
	board := boardID
	return domain.ActorContext{
		Type:    domain.ActorAgent,
		Subject: id,
		Agent: &domain.Agent{
			ID:          id,
			Name:        id,
			BoardID:     &board,
			IsBoardLead: lead,
		},
	}
}

func taskOn(boardID string, assignee *string) domain.Task {
	return domain.Task{ID: "t1", BoardID: boardID, Title: "work", Status: "inbox", AssignedAgentID: assignee}
}

func TestAdminGetsFullChangeset(t *testing.T) {
	proposed := authz.Changeset{
		Title:           strPtr("new"),
		Status:          strPtr("done"),
		AssignedAgentID: strPtr("a2"),
		TagIDs:          []string{"tag1"},
	}
	d := authz.Authorize(adminActor(), taskOn("b1", nil), proposed)
	if d.Denied != nil {
		t.Fatalf("admin denied: %v", d.Denied)
	}
	if len(d.Approved.Fields()) != 4 {
		t.Fatalf("admin changeset filtered: %v", d.Approved.Fields())
	}
}

func TestBoardLeadGetsFullChangeset(t *testing.T) {
	proposed := authz.Changeset{Title: strPtr("new"), Status: strPtr("in_progress")}
	d := authz.Authorize(agentActor("lead1", "b1", true), taskOn("b1", nil), proposed)
	if d.Denied != nil {
		t.Fatalf("lead denied: %v", d.Denied)
	}
}

func TestLeadOfOtherBoardIsWorker(t *testing.T) {
	proposed := authz.Changeset{Title: strPtr("new")}
	d := authz.Authorize(agentActor("lead1", "b2", true), taskOn("b1", nil), proposed)
	if d.Denied == nil || d.Denied.Code != authz.CodeFieldForbidden {
		t.Fatalf("expected field denial for cross-board lead, got %+v", d)
	}
}

func TestWorkerCannotTouchNonStatusFields(t *testing.T) {
	assignee := "w1"
	for _, proposed := range []authz.Changeset{
		{Title: strPtr("x")},
		{Description: strPtr("x")},
		{AssignedAgentID: strPtr("w2")},
		{ClearAssignee: true},
		{TagIDs: []string{"tag"}},
		{Status: strPtr("done"), Title: strPtr("x")},
	} {
		d := authz.Authorize(agentActor("w1", "b1", false), taskOn("b1", &assignee), proposed)
		if d.Denied == nil || d.Denied.Code != authz.CodeFieldForbidden {
			t.Fatalf("changeset %v: expected %s, got %+v", proposed.Fields(), authz.CodeFieldForbidden, d)
		}
	}
}

func TestWorkerStatusOnUnassignedTask(t *testing.T) {
	d := authz.Authorize(agentActor("w1", "b1", false), taskOn("b1", nil), authz.Changeset{Status: strPtr("done")})
	if d.Denied == nil || d.Denied.Code != authz.CodeAssigneeRequired {
		t.Fatalf("expected %s, got %+v", authz.CodeAssigneeRequired, d)
	}
	if d.Denied.Message != "Agents can only change status on tasks assigned to them." {
		t.Fatalf("unexpected message: %q", d.Denied.Message)
	}
}

func TestWorkerStatusOnSomeoneElsesTask(t *testing.T) {
	other := "w2"
	d := authz.Authorize(agentActor("w1", "b1", false), taskOn("b1", &other), authz.Changeset{Status: strPtr("done")})
	if d.Denied == nil || d.Denied.Code != authz.CodeAssigneeMismatch {
		t.Fatalf("expected %s, got %+v", authz.CodeAssigneeMismatch, d)
	}
}

func TestWorkerStatusOnOwnTaskApproved(t *testing.T) {
	mine := "w1"
	d := authz.Authorize(agentActor("w1", "b1", false), taskOn("b1", &mine), authz.Changeset{Status: strPtr("in_progress")})
	if d.Denied != nil {
		t.Fatalf("own status change denied: %v", d.Denied)
	}
	if d.Approved.Status == nil || *d.Approved.Status != "in_progress" {
		t.Fatalf("approved changeset lost status: %+v", d.Approved)
	}
}

func TestEmptyChangesetApprovedForWorker(t *testing.T) {
	// No fields proposed means nothing to forbid; assignment checks only
	// apply once a status change is in play.
	mine := "w1"
	d := authz.Authorize(agentActor("w1", "b1", false), taskOn("b1", &mine), authz.Changeset{})
	if d.Denied != nil {
		t.Fatalf("empty changeset denied: %v", d.Denied)
	}
}

func TestChangesetFields(t *testing.T) {
	c := authz.Changeset{Status: strPtr("done"), ClearAssignee: true}
	fields := c.Fields()
	if len(fields) != 2 {
		t.Fatalf("fields: %v", fields)
	}
	if c.Empty() {
		t.Fatal("changeset should not be empty")
	}
	if !(authz.Changeset{}).Empty() {
		t.Fatal("zero changeset should be empty")
	}
}
