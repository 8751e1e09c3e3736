package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"missionboard/internal/activity"
	"missionboard/internal/domain"
	"missionboard/internal/openclaw"
	"missionboard/internal/repo"
)

// OfflineAfter is how long an agent may stay silent before reads report it
// offline.
const OfflineAfter = 10 * time.Minute

// ErrGatewayInUse blocks deletion of a gateway still referenced by boards or
// agents.
var ErrGatewayInUse = errors.New("gateway is still referenced by boards or agents")

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Activity activity.Writer
	Now      func() time.Time

	// NewGateway builds the transport client for a resolved config. Tests
	// swap it to point at a fake gateway.
	NewGateway func(openclaw.Config) *openclaw.Client
}

func New(db *sql.DB) Engine {
	return Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Activity:   activity.Writer{DB: db},
		Now:        time.Now,
		NewGateway: openclaw.NewClient,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// --- liveness ---

// EffectiveAgentStatus derives the status reads should report. An agent that
// has never sent a heartbeat keeps its stored status; one whose last heartbeat
// is older than OfflineAfter reports offline regardless of the stored value.
// The persisted row is never mutated.
func EffectiveAgentStatus(a domain.Agent, now time.Time) string {
	if a.LastSeenAt == nil {
		return a.Status
	}
	seen, err := time.Parse(time.RFC3339, *a.LastSeenAt)
	if err != nil {
		return a.Status
	}
	if now.Sub(seen) > OfflineAfter {
		return "offline"
	}
	return a.Status
}

// WithEffectiveStatus returns a copy of the agent carrying its derived status.
func (e Engine) WithEffectiveStatus(a domain.Agent) domain.Agent {
	a.Status = EffectiveAgentStatus(a, e.now())
	return a
}

// --- gateway config resolution ---

func configForGateway(g domain.Gateway) openclaw.Config {
	return openclaw.Config{URL: g.URL, Token: g.Token, AllowInsecureTLS: g.AllowInsecureTLS}
}

// OptionalGatewayConfigForBoard returns the board's gateway config, or nil
// when the board has no reachable configured gateway.
func (e Engine) OptionalGatewayConfigForBoard(ctx context.Context, board domain.Board) (*openclaw.Config, error) {
	if board.GatewayID == nil {
		return nil, nil
	}
	g, err := e.Repo.GetGateway(ctx, *board.GatewayID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if g.URL == "" {
		return nil, nil
	}
	cfg := configForGateway(g)
	return &cfg, nil
}

// RequireGatewayConfigForBoard resolves the board's gateway and config,
// returning ErrBoardGatewayUnconfigured when the board cannot route messages.
func (e Engine) RequireGatewayConfigForBoard(ctx context.Context, board domain.Board) (domain.Gateway, openclaw.Config, error) {
	if board.GatewayID == nil {
		return domain.Gateway{}, openclaw.Config{}, openclaw.ErrBoardGatewayUnconfigured
	}
	g, err := e.Repo.GetGateway(ctx, *board.GatewayID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Gateway{}, openclaw.Config{}, openclaw.ErrBoardGatewayUnconfigured
		}
		return domain.Gateway{}, openclaw.Config{}, err
	}
	if g.URL == "" {
		return domain.Gateway{}, openclaw.Config{}, openclaw.ErrBoardGatewayUnconfigured
	}
	return g, configForGateway(g), nil
}

func (e Engine) gatewayConfigForAgent(ctx context.Context, a domain.Agent) *openclaw.Config {
	if a.GatewayID == nil {
		return nil
	}
	g, err := e.Repo.GetGateway(ctx, *a.GatewayID)
	if err != nil || g.URL == "" {
		return nil
	}
	cfg := configForGateway(g)
	return &cfg
}

// SessionKeyForAgent derives the agent's deterministic gateway session key:
// board-scoped when the agent belongs to a board, name-derived otherwise.
func SessionKeyForAgent(a domain.Agent) string {
	if a.BoardID != nil {
		return openclaw.BoardScopedSessionKey(a.ID, *a.BoardID, a.IsBoardLead)
	}
	return openclaw.AgentSessionKey(a.Name)
}

// --- agent lifecycle ---

type AgentCreateOptions struct {
	Name        string
	BoardID     string
	GatewayID   string
	Status      string
	IsBoardLead bool
}

// ensureAgentSession derives the agent's session key and asks the gateway to
// create or relabel it. The key is returned even when the gateway is
// unreachable so the caller can persist it and make retries idempotent.
func (e Engine) ensureAgentSession(ctx context.Context, a domain.Agent) (string, *openclaw.GatewayError) {
	key := SessionKeyForAgent(a)
	cfg := e.gatewayConfigForAgent(ctx, a)
	if cfg == nil {
		return key, &openclaw.GatewayError{Message: openclaw.ErrBoardGatewayUnconfigured.Error()}
	}
	client := e.NewGateway(*cfg)
	if err := client.EnsureSession(ctx, key, a.Name); err != nil {
		var gerr *openclaw.GatewayError
		if errors.As(err, &gerr) {
			return key, gerr
		}
		return key, &openclaw.GatewayError{Message: err.Error()}
	}
	return key, nil
}

func (e Engine) recordSessionOutcome(ctx context.Context, tx *sql.Tx, a domain.Agent, gerr *openclaw.GatewayError) error {
	if gerr != nil {
		msg := fmt.Sprintf("Session sync failed for %s: %s", a.Name, gerr.Message)
		return e.Activity.Append(ctx, tx, "agent.session.failed", msg, &a.ID)
	}
	return e.Activity.Append(ctx, tx, "agent.session.created", fmt.Sprintf("Session created for %s.", a.Name), &a.ID)
}

func provisioningMessage(a domain.Agent, sessionKey string) string {
	return fmt.Sprintf("You are %s on Missionboard. Your session is %s. Report progress by heartbeat and task status updates.", a.Name, sessionKey)
}

// dispatchProvisioning sends the provisioning message on a best-effort basis.
// Failures are recorded as activity and never propagate: persistence is the
// authority, the gateway is a flaky side effect.
func (e Engine) dispatchProvisioning(ctx context.Context, a domain.Agent, sessionKey string) {
	cfg := e.gatewayConfigForAgent(ctx, a)
	if cfg == nil {
		return
	}
	client := e.NewGateway(*cfg)
	if gerr := openclaw.SendGatewayAgentMessageSafe(ctx, client, sessionKey, a.Name, provisioningMessage(a, sessionKey), false); gerr != nil {
		msg := fmt.Sprintf("Provisioning message failed: %s", gerr.Message)
		_ = e.Activity.Append(ctx, nil, "agent.provision.failed", msg, &a.ID)
	}
}

// CreateAgent provisions a new agent: the row is always persisted with a
// derived session key; gateway reachability only decides which activity entry
// gets written.
func (e Engine) CreateAgent(ctx context.Context, opts AgentCreateOptions) (domain.Agent, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Agent{}, errors.New("name is required")
	}
	if opts.BoardID != "" {
		b, err := e.Repo.GetBoard(ctx, opts.BoardID)
		if err != nil {
			return domain.Agent{}, err
		}
		if opts.GatewayID == "" && b.GatewayID != nil {
			opts.GatewayID = *b.GatewayID
		}
	}
	if opts.GatewayID != "" {
		if _, err := e.Repo.GetGateway(ctx, opts.GatewayID); err != nil {
			return domain.Agent{}, err
		}
	}
	now := e.nowString()
	a := domain.Agent{
		ID:          uuid.New().String(),
		Name:        opts.Name,
		Status:      opts.Status,
		IsBoardLead: opts.IsBoardLead,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if a.Status == "" {
		a.Status = "offline"
	}
	if opts.BoardID != "" {
		a.BoardID = &opts.BoardID
	}
	if opts.GatewayID != "" {
		a.GatewayID = &opts.GatewayID
	}

	sessionKey, sessionErr := e.ensureAgentSession(ctx, a)
	a.OpenClawSessionID = &sessionKey

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := e.recordSessionOutcome(ctx, tx, a, sessionErr); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}

	e.dispatchProvisioning(ctx, a, sessionKey)
	return a, nil
}

// Heartbeat records liveness for a known agent. Status and last_seen_at are
// updated unconditionally; when no session id is recorded yet the agent is
// lazily provisioned on the same best-effort terms as creation.
func (e Engine) Heartbeat(ctx context.Context, agentID, status string) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, agentID)
	if err != nil {
		return domain.Agent{}, err
	}
	return e.heartbeat(ctx, a, status)
}

// HeartbeatByName is the create-or-heartbeat path: unknown names create an
// agent on the fly.
func (e Engine) HeartbeatByName(ctx context.Context, name, status string) (domain.Agent, error) {
	if strings.TrimSpace(name) == "" {
		return domain.Agent{}, errors.New("name is required")
	}
	a, err := e.Repo.GetAgentByName(ctx, name)
	if errors.Is(err, repo.ErrNotFound) {
		if status == "" {
			status = "online"
		}
		created, err := e.CreateAgent(ctx, AgentCreateOptions{Name: name, Status: status})
		if err != nil {
			return domain.Agent{}, err
		}
		a = created
	} else if err != nil {
		return domain.Agent{}, err
	}
	return e.heartbeat(ctx, a, status)
}

func (e Engine) heartbeat(ctx context.Context, a domain.Agent, status string) (domain.Agent, error) {
	var provisioned bool
	if a.OpenClawSessionID == nil || *a.OpenClawSessionID == "" {
		sessionKey, sessionErr := e.ensureAgentSession(ctx, a)
		a.OpenClawSessionID = &sessionKey
		if err := e.recordSessionOutcome(ctx, nil, a, sessionErr); err != nil {
			return domain.Agent{}, err
		}
		provisioned = true
	}
	if status != "" {
		a.Status = status
	}
	now := e.nowString()
	a.LastSeenAt = &now
	a.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Agent{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateAgent(ctx, tx, a); err != nil {
		return domain.Agent{}, err
	}
	if err := e.Activity.Append(ctx, tx, "agent.heartbeat", fmt.Sprintf("Heartbeat received from %s.", a.Name), &a.ID); err != nil {
		return domain.Agent{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Agent{}, err
	}
	if provisioned && a.OpenClawSessionID != nil {
		e.dispatchProvisioning(ctx, a, *a.OpenClawSessionID)
	}
	return a, nil
}

type AgentUpdateOptions struct {
	Name        *string
	Status      *string
	BoardID     *string
	IsBoardLead *bool
}

func (e Engine) UpdateAgent(ctx context.Context, id string, opts AgentUpdateOptions) (domain.Agent, error) {
	a, err := e.Repo.GetAgent(ctx, id)
	if err != nil {
		return domain.Agent{}, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Agent{}, errors.New("name is required")
		}
		a.Name = *opts.Name
	}
	if opts.Status != nil {
		a.Status = *opts.Status
	}
	if opts.BoardID != nil {
		if *opts.BoardID == "" {
			a.BoardID = nil
		} else {
			if _, err := e.Repo.GetBoard(ctx, *opts.BoardID); err != nil {
				return domain.Agent{}, err
			}
			a.BoardID = opts.BoardID
		}
	}
	if opts.IsBoardLead != nil {
		a.IsBoardLead = *opts.IsBoardLead
	}
	a.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateAgent(ctx, nil, a); err != nil {
		return domain.Agent{}, err
	}
	return a, nil
}

// DeleteAgent removes the row. There is no session cleanup obligation on the
// gateway side.
func (e Engine) DeleteAgent(ctx context.Context, id string) error {
	return e.Repo.DeleteAgent(ctx, id)
}

// --- boards ---

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value, fallback string) string {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(value), "-"), "-")
	if slug == "" {
		return fallback
	}
	return slug
}

type BoardCreateOptions struct {
	OrgID     string
	Name      string
	GatewayID string
}

func (e Engine) CreateBoard(ctx context.Context, opts BoardCreateOptions) (domain.Board, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Board{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
		return domain.Board{}, err
	}
	if opts.GatewayID != "" {
		if _, err := e.Repo.GetGateway(ctx, opts.GatewayID); err != nil {
			return domain.Board{}, err
		}
	}
	now := e.nowString()
	b := domain.Board{
		ID:        uuid.New().String(),
		OrgID:     opts.OrgID,
		Name:      opts.Name,
		Slug:      slugify(opts.Name, "board"),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if opts.GatewayID != "" {
		b.GatewayID = &opts.GatewayID
	}
	if err := e.Repo.InsertBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

type BoardUpdateOptions struct {
	Name      *string
	GatewayID *string
}

func (e Engine) UpdateBoard(ctx context.Context, id string, opts BoardUpdateOptions) (domain.Board, error) {
	b, err := e.Repo.GetBoard(ctx, id)
	if err != nil {
		return domain.Board{}, err
	}
	if opts.Name != nil {
		if strings.TrimSpace(*opts.Name) == "" {
			return domain.Board{}, errors.New("name is required")
		}
		b.Name = *opts.Name
		b.Slug = slugify(*opts.Name, "board")
	}
	if opts.GatewayID != nil {
		if *opts.GatewayID == "" {
			b.GatewayID = nil
		} else {
			if _, err := e.Repo.GetGateway(ctx, *opts.GatewayID); err != nil {
				return domain.Board{}, err
			}
			b.GatewayID = opts.GatewayID
		}
	}
	b.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateBoard(ctx, b); err != nil {
		return domain.Board{}, err
	}
	return b, nil
}

// --- gateways ---

type GatewayCreateOptions struct {
	OrgID            string
	Name             string
	URL              string
	Token            string
	AllowInsecureTLS bool
	WorkspaceRoot    string
}

func (e Engine) CreateGateway(ctx context.Context, opts GatewayCreateOptions) (domain.Gateway, error) {
	if strings.TrimSpace(opts.Name) == "" {
		return domain.Gateway{}, errors.New("name is required")
	}
	if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
		return domain.Gateway{}, err
	}
	now := e.nowString()
	g := domain.Gateway{
		ID:               uuid.New().String(),
		OrgID:            opts.OrgID,
		Name:             opts.Name,
		URL:              opts.URL,
		Token:            opts.Token,
		AllowInsecureTLS: opts.AllowInsecureTLS,
		WorkspaceRoot:    opts.WorkspaceRoot,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.Repo.InsertGateway(ctx, g); err != nil {
		return domain.Gateway{}, err
	}
	return g, nil
}

type GatewayUpdateOptions struct {
	Name             *string
	URL              *string
	Token            *string
	AllowInsecureTLS *bool
	WorkspaceRoot    *string
}

func (e Engine) UpdateGateway(ctx context.Context, id string, opts GatewayUpdateOptions) (domain.Gateway, error) {
	g, err := e.Repo.GetGateway(ctx, id)
	if err != nil {
		return domain.Gateway{}, err
	}
	if opts.Name != nil {
		g.Name = *opts.Name
	}
	if opts.URL != nil {
		g.URL = *opts.URL
	}
	if opts.Token != nil {
		g.Token = *opts.Token
	}
	if opts.AllowInsecureTLS != nil {
		g.AllowInsecureTLS = *opts.AllowInsecureTLS
	}
	if opts.WorkspaceRoot != nil {
		g.WorkspaceRoot = *opts.WorkspaceRoot
	}
	g.UpdatedAt = e.nowString()
	if err := e.Repo.UpdateGateway(ctx, g); err != nil {
		return domain.Gateway{}, err
	}
	return g, nil
}

// DeleteGateway refuses while boards or agents still reference the gateway.
func (e Engine) DeleteGateway(ctx context.Context, id string) error {
	refs, err := e.Repo.GatewayReferenceCount(ctx, id)
	if err != nil {
		return err
	}
	if refs > 0 {
		return ErrGatewayInUse
	}
	return e.Repo.DeleteGateway(ctx, id)
}

// GatewayStatus probes the gateway with a sessions.list call.
type GatewayStatus struct {
	Connected     bool               `json:"connected"`
	GatewayURL    string             `json:"gateway_url"`
	SessionsCount int                `json:"sessions_count"`
	Sessions      []openclaw.Session `json:"sessions,omitempty"`
	Error         string             `json:"error,omitempty"`
}

func (e Engine) ProbeGateway(ctx context.Context, g domain.Gateway) GatewayStatus {
	client := e.NewGateway(configForGateway(g))
	sessions, err := client.ListSessions(ctx)
	if err != nil {
		return GatewayStatus{Connected: false, GatewayURL: g.URL, Error: err.Error()}
	}
	return GatewayStatus{
		Connected:     true,
		GatewayURL:    g.URL,
		SessionsCount: len(sessions),
		Sessions:      sessions,
	}
}
