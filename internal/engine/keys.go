package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"missionboard/internal/domain"
	"missionboard/internal/repo"
)

// IssueAgentKey mints a new API key for an agent. The plaintext is returned
// exactly once; only its hash is stored.
func (e Engine) IssueAgentKey(ctx context.Context, agentID, name string) (domain.AgentKey, string, error) {
	if _, err := e.Repo.GetAgent(ctx, agentID); err != nil {
		return domain.AgentKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.AgentKey{}, "", err
	}
	plaintext := "mbk_" + hex.EncodeToString(buf)
	key := domain.AgentKey{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Name:      name,
		KeyHash:   repo.HashAgentKey(plaintext),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAgentKey(ctx, nil, key); err != nil {
		return domain.AgentKey{}, "", err
	}
	return key, plaintext, nil
}

func (e Engine) RevokeAgentKey(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	return e.Repo.DeleteAgentKey(ctx, id)
}
