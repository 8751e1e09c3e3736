package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"missionboard/internal/db"
	"missionboard/internal/engine"
	"missionboard/internal/migrate"
	"missionboard/internal/repo"
	"missionboard/internal/server"
)

const (
	testOrg    = "org-1"
	testSecret = "test-secret"
)

type apiEnv struct {
	Server *httptest.Server
	Engine engine.Engine
	Token  string
}

func newAPIEnv(t *testing.T) apiEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn)
	now := eng.Now().UTC().Format(time.RFC3339)
	if err := eng.Repo.EnsureOrg(context.Background(), nil, testOrg, "Test Org", now); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	handler, err := server.New(server.Config{
		Engine:   eng,
		OrgID:    testOrg,
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: testSecret},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	token, err := server.MintAdminToken(testSecret, "ops", time.Hour)
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	return apiEnv{Server: srv, Engine: eng, Token: token}
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (env apiEnv) request(t *testing.T, method, path, bearer, apiKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (env apiEnv) admin(t *testing.T, method, path string, body, out any) *http.Response {
	t.Helper()
	resp := env.request(t, method, path, env.Token, "", body)
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) errEnvelope {
	t.Helper()
	var env errEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return env
}

type boardBody struct {
	ID   string `json:"id"`
	Slug string `json:"slug"`
}

type agentBody struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type taskBody struct {
	ID              string  `json:"id"`
	Status          string  `json:"status"`
	AssignedAgentID *string `json:"assigned_agent_id"`
}

type keyBody struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}

// seedWorker creates a board, a worker agent on it, and an API key.
func (env apiEnv) seedWorker(t *testing.T) (boardBody, agentBody, string) {
	t.Helper()
	var board boardBody
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "Mission Control"}, &board); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	var agent agentBody
	if resp := env.admin(t, http.MethodPost, "/v1/agents", map[string]any{"name": "worker-1", "board_id": board.ID}, &agent); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create agent: status %d", resp.StatusCode)
	}
	var key keyBody
	if resp := env.admin(t, http.MethodPost, "/v1/agents/"+agent.ID+"/keys", map[string]any{"name": "ci"}, &key); resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue key: status %d", resp.StatusCode)
	}
	if key.Key == "" {
		t.Fatal("expected one-time plaintext key in response")
	}
	return board, agent, key.Key
}

func TestHealthNeedsNoAuth(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.request(t, http.MethodGet, "/v1/health", "", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: status %d", resp.StatusCode)
	}
}

func TestMissingCredentialsRejected(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.request(t, http.MethodGet, "/v1/boards", "", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "unauthorized" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestInvalidTokenRejected(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.request(t, http.MethodGet, "/v1/boards", "not-a-jwt", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "invalid_credentials" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestInvalidAPIKeyRejected(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.request(t, http.MethodGet, "/v1/boards", "", "mbk_bogus", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestBoardLifecycle(t *testing.T) {
	env := newAPIEnv(t)
	var board boardBody
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "Ops & Research"}, &board); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	if board.Slug != "ops-research" {
		t.Fatalf("slug %s", board.Slug)
	}
	if resp := env.admin(t, http.MethodGet, "/v1/boards/"+board.ID, nil, &boardBody{}); resp.StatusCode != http.StatusOK {
		t.Fatalf("get: status %d", resp.StatusCode)
	}
	resp := env.admin(t, http.MethodGet, "/v1/boards/nope", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing board: status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "not_found" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestAgentKeyCannotUseAdminSurface(t *testing.T) {
	env := newAPIEnv(t)
	_, _, apiKey := env.seedWorker(t)
	resp := env.request(t, http.MethodPost, "/v1/boards", "", apiKey, map[string]any{"name": "nope"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "forbidden" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestWorkerCannotCreateTasks(t *testing.T) {
	env := newAPIEnv(t)
	board, _, apiKey := env.seedWorker(t)
	resp := env.request(t, http.MethodPost, "/v1/tasks", "", apiKey, map[string]any{"board_id": board.ID, "title": "sneaky"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestWorkerFieldDenialPayload(t *testing.T) {
	env := newAPIEnv(t)
	board, agent, apiKey := env.seedWorker(t)
	var task taskBody
	if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{
		"board_id":          board.ID,
		"title":             "mine",
		"assigned_agent_id": agent.ID,
	}, &task); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}

	resp := env.request(t, http.MethodPatch, "/v1/tasks/"+task.ID, "", apiKey, map[string]any{"title": "renamed"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e.Error.Code != "task_update_field_forbidden" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestWorkerStatusDenialsOnForeignAndUnassignedTasks(t *testing.T) {
	env := newAPIEnv(t)
	board, _, apiKey := env.seedWorker(t)

	var unassigned taskBody
	if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{"board_id": board.ID, "title": "free"}, &unassigned); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	resp := env.request(t, http.MethodPatch, "/v1/tasks/"+unassigned.ID, "", apiKey, map[string]any{"status": "done"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	e := decodeError(t, resp)
	if e.Error.Code != "task_assignee_required" {
		t.Fatalf("code %s", e.Error.Code)
	}
	if e.Error.Message != "Agents can only change status on tasks assigned to them." {
		t.Fatalf("message %q", e.Error.Message)
	}

	var other agentBody
	if resp := env.admin(t, http.MethodPost, "/v1/agents", map[string]any{"name": "worker-2", "board_id": board.ID}, &other); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create second agent: status %d", resp.StatusCode)
	}
	var taken taskBody
	if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{
		"board_id":          board.ID,
		"title":             "theirs",
		"assigned_agent_id": other.ID,
	}, &taken); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create taken task: status %d", resp.StatusCode)
	}
	resp = env.request(t, http.MethodPatch, "/v1/tasks/"+taken.ID, "", apiKey, map[string]any{"status": "done"})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "task_assignee_mismatch" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestWorkerMovesOwnTask(t *testing.T) {
	env := newAPIEnv(t)
	board, agent, apiKey := env.seedWorker(t)
	var task taskBody
	if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{
		"board_id":          board.ID,
		"title":             "mine",
		"assigned_agent_id": agent.ID,
	}, &task); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	resp := env.request(t, http.MethodPatch, "/v1/tasks/"+task.ID, "", apiKey, map[string]any{"status": "in_progress"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var updated taskBody
	if err := json.NewDecoder(resp.Body).Decode(&updated); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if updated.Status != "in_progress" {
		t.Fatalf("task status %s", updated.Status)
	}
}

func TestAdminClearsAssignee(t *testing.T) {
	env := newAPIEnv(t)
	board, agent, _ := env.seedWorker(t)
	var task taskBody
	if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{
		"board_id":          board.ID,
		"title":             "mine",
		"assigned_agent_id": agent.ID,
	}, &task); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d", resp.StatusCode)
	}
	var updated taskBody
	if resp := env.admin(t, http.MethodPatch, "/v1/tasks/"+task.ID, map[string]any{"assigned_agent_id": ""}, &updated); resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if updated.AssignedAgentID != nil {
		t.Fatalf("assignee not cleared: %v", *updated.AssignedAgentID)
	}
}

func TestTaskListPaginationWalksAllTasks(t *testing.T) {
	env := newAPIEnv(t)
	var board boardBody
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "paged"}, &board); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	want := map[string]bool{}
	for i := 0; i < 5; i++ {
		var task taskBody
		if resp := env.admin(t, http.MethodPost, "/v1/tasks", map[string]any{
			"board_id": board.ID,
			"title":    fmt.Sprintf("task-%d", i),
		}, &task); resp.StatusCode != http.StatusCreated {
			t.Fatalf("create task %d: status %d", i, resp.StatusCode)
		}
		want[task.ID] = false
	}

	cursor := ""
	for page := 0; page < 10; page++ {
		path := "/v1/tasks?board_id=" + board.ID + "&limit=2"
		if cursor != "" {
			path += "&cursor=" + url.QueryEscape(cursor)
		}
		var body struct {
			Items []taskBody `json:"items"`
			Next  string     `json:"next_cursor"`
		}
		if resp := env.admin(t, http.MethodGet, path, nil, &body); resp.StatusCode != http.StatusOK {
			t.Fatalf("page %d: status %d", page, resp.StatusCode)
		}
		for _, item := range body.Items {
			seen, ok := want[item.ID]
			if !ok {
				t.Fatalf("unexpected task %s", item.ID)
			}
			if seen {
				t.Fatalf("task %s returned twice", item.ID)
			}
			want[item.ID] = true
		}
		if body.Next == "" {
			break
		}
		cursor = body.Next
	}
	for id, seen := range want {
		if !seen {
			t.Fatalf("task %s never returned", id)
		}
	}
}

func TestTaskStatusFilterValidated(t *testing.T) {
	env := newAPIEnv(t)
	resp := env.admin(t, http.MethodGet, "/v1/tasks?status=blocked", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "bad_request" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestBoardWithoutGatewayCannotRouteSessions(t *testing.T) {
	env := newAPIEnv(t)
	var board boardBody
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "bare"}, &board); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	resp := env.admin(t, http.MethodGet, "/v1/boards/"+board.ID+"/sessions", nil, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "board_gateway_unconfigured" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestUnreachableGatewayMapsToBadGateway(t *testing.T) {
	env := newAPIEnv(t)
	var gw struct {
		ID string `json:"id"`
	}
	if resp := env.admin(t, http.MethodPost, "/v1/gateways", map[string]any{"name": "gw", "url": "http://127.0.0.1:1"}, &gw); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create gateway: status %d", resp.StatusCode)
	}
	var board boardBody
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "wired", "gateway_id": gw.ID}, &board); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	resp := env.admin(t, http.MethodGet, "/v1/boards/"+board.ID+"/sessions", nil, nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "gateway_error" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestHeartbeatByNameEndpoint(t *testing.T) {
	env := newAPIEnv(t)
	_, _, apiKey := env.seedWorker(t)
	resp := env.request(t, http.MethodPost, "/v1/heartbeats", "", apiKey, map[string]any{"name": "reporter"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var agent agentBody
	if err := json.NewDecoder(resp.Body).Decode(&agent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if agent.Status != "online" {
		t.Fatalf("created agent status %s", agent.Status)
	}
}

func TestGatewayDeleteConflict(t *testing.T) {
	env := newAPIEnv(t)
	var gw struct {
		ID string `json:"id"`
	}
	if resp := env.admin(t, http.MethodPost, "/v1/gateways", map[string]any{"name": "gw", "url": "http://gw.example"}, &gw); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create gateway: status %d", resp.StatusCode)
	}
	if resp := env.admin(t, http.MethodPost, "/v1/boards", map[string]any{"name": "wired", "gateway_id": gw.ID}, nil); resp.StatusCode != http.StatusCreated {
		t.Fatalf("create board: status %d", resp.StatusCode)
	}
	resp := env.admin(t, http.MethodDelete, "/v1/gateways/"+gw.ID, nil, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if e := decodeError(t, resp); e.Error.Code != "gateway_in_use" {
		t.Fatalf("code %s", e.Error.Code)
	}
}

func TestRevokedKeyStopsAuthenticating(t *testing.T) {
	env := newAPIEnv(t)
	_, agent, apiKey := env.seedWorker(t)
	if resp := env.request(t, http.MethodGet, "/v1/boards", "", apiKey, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("key should work before revocation: status %d", resp.StatusCode)
	}
	stored, err := env.Engine.Repo.GetAgentKeyByHash(context.Background(), repo.HashAgentKey(apiKey))
	if err != nil {
		t.Fatalf("lookup key: %v", err)
	}
	if stored.AgentID != agent.ID {
		t.Fatalf("key bound to %s, want %s", stored.AgentID, agent.ID)
	}
	if resp := env.admin(t, http.MethodDelete, "/v1/agent-keys/"+stored.ID, nil, nil); resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		t.Fatalf("revoke: status %d", resp.StatusCode)
	}
	if resp := env.request(t, http.MethodGet, "/v1/boards", "", apiKey, nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked key accepted: status %d", resp.StatusCode)
	}
}
