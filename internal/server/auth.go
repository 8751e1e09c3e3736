package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"

	"missionboard/internal/domain"
	"missionboard/internal/repo"
)

type AuthConfig struct {
	JWTSecret string
	Logger    *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

type actorKey struct{}

func withActor(ctx context.Context, a domain.ActorContext) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

func actorFromContext(ctx context.Context) (domain.ActorContext, bool) {
	a, ok := ctx.Value(actorKey{}).(domain.ActorContext)
	return a, ok
}

// requireActor returns the resolved actor or an unauthorized error.
func requireActor(ctx context.Context) (domain.ActorContext, huma.StatusError) {
	if a, ok := actorFromContext(ctx); ok {
		return a, nil
	}
	return domain.ActorContext{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// requireAdmin rejects agent-authenticated requests on admin-only surfaces.
func requireAdmin(ctx context.Context) huma.StatusError {
	actor, authErr := requireActor(ctx)
	if authErr != nil {
		return authErr
	}
	if !actor.IsAdmin() {
		return newAPIError(http.StatusForbidden, "forbidden", "admin access required", nil)
	}
	return nil
}

type jwtClaims struct {
	jwt.RegisteredClaims
}

func authenticateJWT(token, secret string) (domain.ActorContext, error) {
	if strings.TrimSpace(secret) == "" {
		return domain.ActorContext{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwtClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return domain.ActorContext{}, err
	}
	if !parsed.Valid {
		return domain.ActorContext{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return domain.ActorContext{}, errors.New("subject claim required")
	}
	return domain.ActorContext{Type: domain.ActorAdmin, Subject: claims.Subject}, nil
}

// authenticateAgentKey resolves an agent API key into an agent actor carrying
// its row, so downstream authorization can compare identity and lead role.
func authenticateAgentKey(ctx context.Context, r repo.Repo, key string) (domain.ActorContext, error) {
	if strings.TrimSpace(key) == "" {
		return domain.ActorContext{}, errors.New("api key required")
	}
	hash := repo.HashAgentKey(key)
	agentKey, err := r.GetAgentKeyByHash(ctx, hash)
	if err != nil {
		return domain.ActorContext{}, err
	}
	agent, err := r.GetAgent(ctx, agentKey.AgentID)
	if err != nil {
		return domain.ActorContext{}, err
	}
	return domain.ActorContext{Type: domain.ActorAgent, Subject: agent.ID, Agent: &agent}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo) func(http.Handler) http.Handler {
	healthPath := path.Join(basePath, "health")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			// Only enforce for API base path.
			if basePath != "" && !strings.HasPrefix(req.URL.Path, basePath) {
				next.ServeHTTP(w, req)
				return
			}
			if req.URL.Path == healthPath {
				next.ServeHTTP(w, req)
				return
			}

			authz := strings.TrimSpace(req.Header.Get("Authorization"))
			apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))

			if authz != "" {
				token, ok := bearerToken(authz)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				actor, err := authenticateJWT(token, cfg.JWTSecret)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}

			if apiKeyHeader != "" {
				actor, err := authenticateAgentKey(req.Context(), r, apiKeyHeader)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				next.ServeHTTP(w, req.WithContext(withActor(req.Context(), actor)))
				return
			}

			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}

// MintAdminToken issues an HS256 admin bearer token; used by the CLI.
func MintAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
