package repo

import (
	"context"
	"database/sql"
	"time"

	"missionboard/internal/domain"
)

func (r Repo) InsertTag(ctx context.Context, t domain.Tag) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tags(id,org_id,name,slug,color,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.OrgID, t.Name, t.Slug, nullable(t.Color), t.CreatedAt)
	return err
}

func (r Repo) GetTag(ctx context.Context, id string) (domain.Tag, error) {
	var t domain.Tag
	var color sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,name,slug,color,created_at FROM tags WHERE id=?`, id).
		Scan(&t.ID, &t.OrgID, &t.Name, &t.Slug, &color, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if color.Valid {
		t.Color = color.String
	}
	return t, err
}

// ListTags returns an organization's tags with the count of tasks carrying
// each one.
func (r Repo) ListTags(ctx context.Context, orgID string) ([]domain.Tag, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT t.id, t.org_id, t.name, t.slug, t.color, t.created_at, COUNT(ta.task_id)
FROM tags t
LEFT JOIN tag_assignments ta ON ta.tag_id = t.id
WHERE t.org_id=?
GROUP BY t.id
ORDER BY t.name`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tag
	for rows.Next() {
		var t domain.Tag
		var color sql.NullString
		if err := rows.Scan(&t.ID, &t.OrgID, &t.Name, &t.Slug, &color, &t.CreatedAt, &t.TaskCount); err != nil {
			return nil, err
		}
		if color.Valid {
			t.Color = color.String
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) UpdateTag(ctx context.Context, t domain.Tag) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE tags SET name=?,slug=?,color=? WHERE id=?`,
		t.Name, t.Slug, nullable(t.Color), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteTag(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tags WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ValidateTagIDs checks that every id exists within the organization,
// returning the ids missing from it.
func (r Repo) ValidateTagIDs(ctx context.Context, orgID string, tagIDs []string) ([]string, error) {
	var missing []string
	for _, id := range dedupe(tagIDs) {
		var n int
		err := r.DB.QueryRowContext(ctx, `SELECT 1 FROM tags WHERE id=? AND org_id=?`, id, orgID).Scan(&n)
		if err == sql.ErrNoRows {
			missing = append(missing, id)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	return missing, nil
}

// ReplaceTaskTags swaps the full tag set for a task, preserving the order the
// ids were given in via created_at.
func (r Repo) ReplaceTaskTags(ctx context.Context, tx *sql.Tx, taskID string, tagIDs []string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if _, err := exec(ctx, `DELETE FROM tag_assignments WHERE task_id=?`, taskID); err != nil {
		return err
	}
	base := time.Now().UTC()
	for i, id := range dedupe(tagIDs) {
		ts := base.Add(time.Duration(i) * time.Millisecond).Format(time.RFC3339Nano)
		if _, err := exec(ctx, `INSERT INTO tag_assignments(task_id,tag_id,created_at) VALUES (?,?,?)`, taskID, id, ts); err != nil {
			return err
		}
	}
	return nil
}

// TaskTagIDs returns a task's tag ids in assignment order.
func (r Repo) TaskTagIDs(ctx context.Context, taskID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT tag_id FROM tag_assignments WHERE task_id=? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
