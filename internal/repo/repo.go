package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"missionboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// --- organizations ---

func (r Repo) EnsureOrg(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT OR IGNORE INTO organizations(id,name,created_at) VALUES (?,?,?)`, id, name, now)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM organizations WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) SingleOrg(ctx context.Context) (domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM organizations ORDER BY created_at LIMIT 2`)
	if err != nil {
		return domain.Organization{}, err
	}
	defer rows.Close()
	var orgs []domain.Organization
	for rows.Next() {
		var o domain.Organization
		if err := rows.Scan(&o.ID, &o.Name, &o.CreatedAt); err != nil {
			return domain.Organization{}, err
		}
		orgs = append(orgs, o)
	}
	if len(orgs) == 0 {
		return domain.Organization{}, ErrNotFound
	}
	return orgs[0], rows.Err()
}

// --- gateways ---

const gatewayColumns = `id,org_id,name,COALESCE(url,''),COALESCE(token,''),allow_insecure_tls,COALESCE(workspace_root,''),created_at,updated_at`

func scanGateway(scan func(dest ...any) error) (domain.Gateway, error) {
	var g domain.Gateway
	var insecure int
	err := scan(&g.ID, &g.OrgID, &g.Name, &g.URL, &g.Token, &insecure, &g.WorkspaceRoot, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return g, ErrNotFound
	}
	g.AllowInsecureTLS = insecure != 0
	return g, err
}

func (r Repo) InsertGateway(ctx context.Context, g domain.Gateway) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO gateways(id,org_id,name,url,token,allow_insecure_tls,workspace_root,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		g.ID, g.OrgID, g.Name, g.URL, nullable(g.Token), boolInt(g.AllowInsecureTLS), nullable(g.WorkspaceRoot), g.CreatedAt, g.UpdatedAt)
	return err
}

func (r Repo) GetGateway(ctx context.Context, id string) (domain.Gateway, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+gatewayColumns+` FROM gateways WHERE id=?`, id)
	return scanGateway(row.Scan)
}

func (r Repo) ListGateways(ctx context.Context, orgID string) ([]domain.Gateway, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+gatewayColumns+` FROM gateways WHERE org_id=? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Gateway
	for rows.Next() {
		g, err := scanGateway(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpdateGateway(ctx context.Context, g domain.Gateway) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE gateways SET name=?,url=?,token=?,allow_insecure_tls=?,workspace_root=?,updated_at=? WHERE id=?`,
		g.Name, g.URL, nullable(g.Token), boolInt(g.AllowInsecureTLS), nullable(g.WorkspaceRoot), g.UpdatedAt, g.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GatewayReferenceCount counts boards and agents still pointing at a gateway.
func (r Repo) GatewayReferenceCount(ctx context.Context, id string) (int, error) {
	var boards, agents int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards WHERE gateway_id=?`, id).Scan(&boards); err != nil {
		return 0, err
	}
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE gateway_id=?`, id).Scan(&agents); err != nil {
		return 0, err
	}
	return boards + agents, nil
}

func (r Repo) DeleteGateway(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM gateways WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- boards ---

const boardColumns = `id,org_id,name,slug,gateway_id,created_at,updated_at`

func scanBoard(scan func(dest ...any) error) (domain.Board, error) {
	var b domain.Board
	var gatewayID sql.NullString
	err := scan(&b.ID, &b.OrgID, &b.Name, &b.Slug, &gatewayID, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	if gatewayID.Valid {
		b.GatewayID = &gatewayID.String
	}
	return b, err
}

func (r Repo) InsertBoard(ctx context.Context, b domain.Board) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO boards(id,org_id,name,slug,gateway_id,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		b.ID, b.OrgID, b.Name, b.Slug, nullableStringPtr(b.GatewayID), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r Repo) GetBoard(ctx context.Context, id string) (domain.Board, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE id=?`, id)
	return scanBoard(row.Scan)
}

func (r Repo) ListBoards(ctx context.Context, orgID string) ([]domain.Board, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+boardColumns+` FROM boards WHERE org_id=? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Board
	for rows.Next() {
		b, err := scanBoard(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func (r Repo) UpdateBoard(ctx context.Context, b domain.Board) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE boards SET name=?,slug=?,gateway_id=?,updated_at=? WHERE id=?`,
		b.Name, b.Slug, nullableStringPtr(b.GatewayID), b.UpdatedAt, b.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBoard(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM boards WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- activity ---

func (r Repo) ListActivity(ctx context.Context, limit int, beforeID int64) ([]domain.Activity, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if beforeID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, beforeID)
	}
	query := `SELECT id,ts,event_type,message,agent_id FROM activity WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY id DESC`
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var agentID sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.EventType, &a.Message, &agentID); err != nil {
			return nil, err
		}
		if agentID.Valid {
			a.AgentID = &agentID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ActivityAfter returns activity entries with id greater than afterID, oldest
// first. Used by the webhook dispatcher cursor.
func (r Repo) ActivityAfter(ctx context.Context, limit int, afterID int64) ([]domain.Activity, error) {
	query := `SELECT id,ts,event_type,message,agent_id FROM activity WHERE id > ? ORDER BY id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Activity
	for rows.Next() {
		var a domain.Activity
		var agentID sql.NullString
		if err := rows.Scan(&a.ID, &a.TS, &a.EventType, &a.Message, &agentID); err != nil {
			return nil, err
		}
		if agentID.Valid {
			a.AgentID = &agentID.String
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) LatestActivityID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM activity`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
