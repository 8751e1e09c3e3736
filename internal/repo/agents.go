package repo

import (
	"context"
	"database/sql"

	"missionboard/internal/domain"
)

const agentColumns = `id,name,board_id,gateway_id,status,is_board_lead,last_seen_at,openclaw_session_id,created_at,updated_at`

func scanAgent(scan func(dest ...any) error) (domain.Agent, error) {
	var a domain.Agent
	var boardID, gatewayID, lastSeen, sessionID sql.NullString
	var lead int
	err := scan(&a.ID, &a.Name, &boardID, &gatewayID, &a.Status, &lead, &lastSeen, &sessionID, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	a.IsBoardLead = lead != 0
	if boardID.Valid {
		a.BoardID = &boardID.String
	}
	if gatewayID.Valid {
		a.GatewayID = &gatewayID.String
	}
	if lastSeen.Valid {
		a.LastSeenAt = &lastSeen.String
	}
	if sessionID.Valid {
		a.OpenClawSessionID = &sessionID.String
	}
	return a, err
}

func (r Repo) InsertAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	_, err := exec(ctx, `INSERT INTO agents(id,name,board_id,gateway_id,status,is_board_lead,last_seen_at,openclaw_session_id,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		a.ID, a.Name, nullableStringPtr(a.BoardID), nullableStringPtr(a.GatewayID), a.Status, boolInt(a.IsBoardLead),
		nullableStringPtr(a.LastSeenAt), nullableStringPtr(a.OpenClawSessionID), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetAgent(ctx context.Context, id string) (domain.Agent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id=?`, id)
	return scanAgent(row.Scan)
}

func (r Repo) GetAgentByName(ctx context.Context, name string) (domain.Agent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name=?`, name)
	return scanAgent(row.Scan)
}

func (r Repo) ListAgents(ctx context.Context, boardID string) ([]domain.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents`
	var args []any
	if boardID != "" {
		query += ` WHERE board_id=?`
		args = append(args, boardID)
	}
	query += ` ORDER BY created_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) UpdateAgent(ctx context.Context, tx *sql.Tx, a domain.Agent) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE agents SET name=?,board_id=?,gateway_id=?,status=?,is_board_lead=?,last_seen_at=?,openclaw_session_id=?,updated_at=? WHERE id=?`,
		a.Name, nullableStringPtr(a.BoardID), nullableStringPtr(a.GatewayID), a.Status, boolInt(a.IsBoardLead),
		nullableStringPtr(a.LastSeenAt), nullableStringPtr(a.OpenClawSessionID), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAgent(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM agents WHERE id=?`, id)
	return err
}
