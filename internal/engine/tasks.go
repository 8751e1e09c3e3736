package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"missionboard/internal/domain"
	"missionboard/internal/engine/authz"
)

// ErrTagsNotFound carries the tag ids missing from the organization.
type ErrTagsNotFound struct {
	Missing []string
}

func (e ErrTagsNotFound) Error() string {
	return fmt.Sprintf("tags not found: %s", strings.Join(e.Missing, ", "))
}

type TaskCreateOptions struct {
	BoardID         string
	Title           string
	Description     string
	Status          string
	AssignedAgentID string
	TagIDs          []string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, errors.New("title is required")
	}
	board, err := e.Repo.GetBoard(ctx, opts.BoardID)
	if err != nil {
		return domain.Task{}, err
	}
	if opts.Status == "" {
		opts.Status = "inbox"
	}
	if !domain.ValidTaskStatus(opts.Status) {
		return domain.Task{}, fmt.Errorf("invalid status %s", opts.Status)
	}
	if opts.AssignedAgentID != "" {
		if _, err := e.Repo.GetAgent(ctx, opts.AssignedAgentID); err != nil {
			return domain.Task{}, err
		}
	}
	if len(opts.TagIDs) > 0 {
		missing, err := e.Repo.ValidateTagIDs(ctx, board.OrgID, opts.TagIDs)
		if err != nil {
			return domain.Task{}, err
		}
		if len(missing) > 0 {
			return domain.Task{}, ErrTagsNotFound{Missing: missing}
		}
	}
	now := e.nowString()
	t := domain.Task{
		ID:          uuid.New().String(),
		BoardID:     opts.BoardID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      opts.Status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if opts.AssignedAgentID != "" {
		t.AssignedAgentID = &opts.AssignedAgentID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if len(opts.TagIDs) > 0 {
		if err := e.Repo.ReplaceTaskTags(ctx, tx, t.ID, opts.TagIDs); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.Activity.Append(ctx, tx, "task.created", fmt.Sprintf("Task %q created.", t.Title), nil); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	t.TagIDs = opts.TagIDs
	return t, nil
}

// UpdateTask runs the authorization engine over the proposed changeset and,
// when approved, persists it. A denial is returned as the error; callers map
// it to a 403 with the structured {code, message} payload.
func (e Engine) UpdateTask(ctx context.Context, actor domain.ActorContext, task domain.Task, changeset authz.Changeset) (domain.Task, error) {
	if changeset.Status != nil && !domain.ValidTaskStatus(*changeset.Status) {
		return task, fmt.Errorf("invalid status %s", *changeset.Status)
	}
	decision := authz.Authorize(actor, task, changeset)
	if decision.Denied != nil {
		return task, decision.Denied
	}
	approved := decision.Approved
	if approved.Empty() {
		return e.loadTaskTags(ctx, task)
	}
	if approved.Title != nil {
		if strings.TrimSpace(*approved.Title) == "" {
			return task, errors.New("title is required")
		}
		task.Title = *approved.Title
	}
	if approved.Description != nil {
		task.Description = *approved.Description
	}
	if approved.Status != nil {
		task.Status = *approved.Status
	}
	if approved.ClearAssignee {
		task.AssignedAgentID = nil
	} else if approved.AssignedAgentID != nil {
		if _, err := e.Repo.GetAgent(ctx, *approved.AssignedAgentID); err != nil {
			return task, err
		}
		task.AssignedAgentID = approved.AssignedAgentID
	}
	if approved.TagIDs != nil {
		board, err := e.Repo.GetBoard(ctx, task.BoardID)
		if err != nil {
			return task, err
		}
		missing, err := e.Repo.ValidateTagIDs(ctx, board.OrgID, approved.TagIDs)
		if err != nil {
			return task, err
		}
		if len(missing) > 0 {
			return task, ErrTagsNotFound{Missing: missing}
		}
	}
	task.UpdatedAt = e.nowString()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return task, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateTask(ctx, tx, task); err != nil {
		return task, err
	}
	if approved.TagIDs != nil {
		if err := e.Repo.ReplaceTaskTags(ctx, tx, task.ID, approved.TagIDs); err != nil {
			return task, err
		}
	}
	var actorAgent *string
	if actor.Agent != nil {
		actorAgent = &actor.Agent.ID
	}
	if err := e.Activity.Append(ctx, tx, "task.updated", fmt.Sprintf("Task %q updated (%s).", task.Title, strings.Join(approved.Fields(), ", ")), actorAgent); err != nil {
		return task, err
	}
	if err := tx.Commit(); err != nil {
		return task, err
	}
	return e.loadTaskTags(ctx, task)
}

func (e Engine) loadTaskTags(ctx context.Context, t domain.Task) (domain.Task, error) {
	ids, err := e.Repo.TaskTagIDs(ctx, t.ID)
	if err != nil {
		return t, err
	}
	t.TagIDs = ids
	return t, nil
}

func (e Engine) DeleteTask(ctx context.Context, id string) error {
	return e.Repo.DeleteTask(ctx, id)
}

// --- tags ---

type TagCreateOptions struct {
	OrgID string
	Name  string
	Color string
}

func (e Engine) CreateTag(ctx context.Context, opts TagCreateOptions) (domain.Tag, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Tag{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
		return domain.Tag{}, err
	}
	t := domain.Tag{
		ID:        uuid.New().String(),
		OrgID:     opts.OrgID,
		Name:      opts.Name,
		Slug:      slugify(opts.Name, "tag"),
		Color:     opts.Color,
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertTag(ctx, t); err != nil {
		return domain.Tag{}, err
	}
	return t, nil
}

type TagUpdateOptions struct {
	Name  *string
	Color *string
}

func (e Engine) UpdateTag(ctx context.Context, id string, opts TagUpdateOptions) (domain.Tag, error) {
	t, err := e.Repo.GetTag(ctx, id)
	if err != nil {
		return domain.Tag{}, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Tag{}, errors.New("name is required")
		}
		t.Name = *opts.Name
		t.Slug = slugify(*opts.Name, "tag")
	}
	if opts.Color != nil {
		t.Color = *opts.Color
	}
	if err := e.Repo.UpdateTag(ctx, t); err != nil {
		return domain.Tag{}, err
	}
	return t, nil
}
