package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"missionboard/internal/domain"
)

// HashAgentKey returns a stable SHA-256 hex digest for the provided key.
func HashAgentKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

// InsertAgentKey stores a hashed agent key. KeyHash must already contain the
// hashed value.
func (r Repo) InsertAgentKey(ctx context.Context, tx *sql.Tx, key domain.AgentKey) error {
	if key.ID == "" {
		return errors.New("id required")
	}
	if key.AgentID == "" {
		return errors.New("agent_id required")
	}
	if key.KeyHash == "" {
		return errors.New("key_hash required")
	}
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	if key.CreatedAt == "" {
		key.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err := exec(ctx, `INSERT INTO agent_keys(id, agent_id, name, key_hash, created_at) VALUES (?,?,?,?,?)`,
		key.ID, key.AgentID, nullable(key.Name), key.KeyHash, key.CreatedAt)
	return err
}

// GetAgentKeyByHash returns an agent key by its hashed value.
func (r Repo) GetAgentKeyByHash(ctx context.Context, hash string) (domain.AgentKey, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id, agent_id, COALESCE(name,''), key_hash, created_at FROM agent_keys WHERE key_hash=? LIMIT 1`, hash)
	var key domain.AgentKey
	err := row.Scan(&key.ID, &key.AgentID, &key.Name, &key.KeyHash, &key.CreatedAt)
	if err == sql.ErrNoRows {
		return domain.AgentKey{}, ErrNotFound
	}
	if err != nil {
		return domain.AgentKey{}, err
	}
	return key, nil
}

// DeleteAgentKey deletes an agent key by ID.
func (r Repo) DeleteAgentKey(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id required")
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM agent_keys WHERE id=?`, id)
	return err
}
