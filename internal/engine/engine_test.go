package engine_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"missionboard/internal/db"
	"missionboard/internal/domain"
	"missionboard/internal/engine"
	"missionboard/internal/migrate"
	"missionboard/internal/openclaw"
	"missionboard/internal/repo"
)

const testOrg = "org-1"

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
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
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if err := eng.Repo.EnsureOrg(ctx, nil, testOrg, "Test Org", "2024-01-01T00:00:00Z"); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

// fakeGateway accepts every RPC and records the methods called.
type fakeGateway struct {
	mu      sync.Mutex
	methods []string
}

func (f *fakeGateway) serve(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&call)
		f.mu.Lock()
		f.methods = append(f.methods, call.Method)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": {}}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func (f *fakeGateway) calledMethods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

func (env testEnv) createGateway(t *testing.T, url string) domain.Gateway {
	t.Helper()
	g, err := env.Engine.CreateGateway(env.Ctx, engine.GatewayCreateOptions{OrgID: testOrg, Name: "gw", URL: url})
	if err != nil {
		t.Fatalf("create gateway: %v", err)
	}
	return g
}

func (env testEnv) createBoard(t *testing.T, gatewayID string) domain.Board {
	t.Helper()
	b, err := env.Engine.CreateBoard(env.Ctx, engine.BoardCreateOptions{OrgID: testOrg, Name: "Mission Control", GatewayID: gatewayID})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	return b
}

func (env testEnv) activityTypes(t *testing.T) []string {
	t.Helper()
	entries, err := env.Engine.Repo.ListActivity(env.Ctx, 0, 0)
	if err != nil {
		t.Fatalf("list activity: %v", err)
	}
	types := make([]string, 0, len(entries))
	for _, e := range entries {
		types = append(types, e.EventType)
	}
	return types
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func TestEffectiveAgentStatus(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	recent := now.Add(-5 * time.Minute).Format(time.RFC3339)
	stale := now.Add(-11 * time.Minute).Format(time.RFC3339)
	boundary := now.Add(-engine.OfflineAfter).Format(time.RFC3339)
	garbage := "not-a-timestamp"

	cases := []struct {
		name     string
		lastSeen *string
		stored   string
		want     string
	}{
		{"never seen keeps stored", nil, "online", "online"},
		{"recent keeps stored", &recent, "busy", "busy"},
		{"stale reports offline", &stale, "online", "offline"},
		{"exactly at threshold keeps stored", &boundary, "online", "online"},
		{"unparsable keeps stored", &garbage, "online", "online"},
	}
	for _, tc := range cases {
		a := domain.Agent{Status: tc.stored, LastSeenAt: tc.lastSeen}
		if got := engine.EffectiveAgentStatus(a, now); got != tc.want {
			t.Errorf("%s: got %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestEffectiveStatusNeverMutatesRow(t *testing.T) {
	env := newTestEnv(t)
	stale := env.Engine.Now().Add(-time.Hour).Format(time.RFC3339)
	a := domain.Agent{ID: "a1", Status: "online", LastSeenAt: &stale}
	decorated := env.Engine.WithEffectiveStatus(a)
	if decorated.Status != "offline" {
		t.Fatalf("expected offline, got %s", decorated.Status)
	}
	if a.Status != "online" {
		t.Fatalf("input mutated: %s", a.Status)
	}
}

func TestCreateAgentPersistsWhenGatewayUnreachable(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGateway(t, "http://127.0.0.1:1")
	b := env.createBoard(t, g.ID)

	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "scout", BoardID: b.ID})
	if err != nil {
		t.Fatalf("create agent with gateway down: %v", err)
	}
	if a.OpenClawSessionID == nil || *a.OpenClawSessionID != "agent:mc-"+a.ID+":main" {
		t.Fatalf("session key not persisted: %v", a.OpenClawSessionID)
	}
	stored, err := env.Engine.Repo.GetAgent(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("reload agent: %v", err)
	}
	if stored.OpenClawSessionID == nil || *stored.OpenClawSessionID != *a.OpenClawSessionID {
		t.Fatalf("stored session key mismatch: %v", stored.OpenClawSessionID)
	}
	types := env.activityTypes(t)
	if !containsString(types, "agent.session.failed") {
		t.Fatalf("expected agent.session.failed in activity, got %v", types)
	}
	if containsString(types, "agent.session.created") {
		t.Fatalf("unexpected agent.session.created in %v", types)
	}
}

func TestCreateAgentWithReachableGateway(t *testing.T) {
	env := newTestEnv(t)
	fake := &fakeGateway{}
	g := env.createGateway(t, fake.serve(t))
	b := env.createBoard(t, g.ID)

	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "lead", BoardID: b.ID, IsBoardLead: true})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if a.OpenClawSessionID == nil || *a.OpenClawSessionID != "agent:lead-"+b.ID+":main" {
		t.Fatalf("lead session key: %v", a.OpenClawSessionID)
	}
	types := env.activityTypes(t)
	if !containsString(types, "agent.session.created") {
		t.Fatalf("expected agent.session.created, got %v", types)
	}
	methods := fake.calledMethods()
	if !containsString(methods, "sessions.patch") || !containsString(methods, "chat.send") {
		t.Fatalf("expected session ensure and provisioning send, got %v", methods)
	}
}

func TestProvisioningFailureIsRecordedNotReturned(t *testing.T) {
	env := newTestEnv(t)
	// sessions.patch succeeds, chat.send fails
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call struct {
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&call)
		w.Header().Set("Content-Type", "application/json")
		if call.Method == "chat.send" {
			w.Write([]byte(`{"error": {"message": "delivery refused"}}`))
			return
		}
		w.Write([]byte(`{"result": {}}`))
	}))
	t.Cleanup(srv.Close)
	g := env.createGateway(t, srv.URL)
	b := env.createBoard(t, g.ID)

	if _, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "scout", BoardID: b.ID}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	types := env.activityTypes(t)
	if !containsString(types, "agent.provision.failed") {
		t.Fatalf("expected agent.provision.failed, got %v", types)
	}
}

func TestHeartbeatByNameCreatesUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.HeartbeatByName(env.Ctx, "fresh-agent", "")
	if err != nil {
		t.Fatalf("heartbeat by name: %v", err)
	}
	if a.Status != "online" {
		t.Fatalf("default status on create: %s", a.Status)
	}
	if a.LastSeenAt == nil {
		t.Fatal("last_seen_at not set")
	}
	types := env.activityTypes(t)
	if !containsString(types, "agent.heartbeat") {
		t.Fatalf("expected agent.heartbeat, got %v", types)
	}
}

func TestHeartbeatStatusAsymmetry(t *testing.T) {
	env := newTestEnv(t)
	a, err := env.Engine.CreateAgent(env.Ctx, engine.AgentCreateOptions{Name: "worker", Status: "busy"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	// heartbeat without status keeps the stored one
	a, err = env.Engine.Heartbeat(env.Ctx, a.ID, "")
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if a.Status != "busy" {
		t.Fatalf("status overwritten by empty heartbeat: %s", a.Status)
	}
	// heartbeat with status overwrites
	a, err = env.Engine.Heartbeat(env.Ctx, a.ID, "online")
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if a.Status != "online" {
		t.Fatalf("reported status not applied: %s", a.Status)
	}
}

func TestHeartbeatLazilyProvisionsSession(t *testing.T) {
	env := newTestEnv(t)
	now := env.Engine.Now().Format(time.RFC3339)
	a := domain.Agent{ID: "legacy-1", Name: "legacy", Status: "offline", CreatedAt: now, UpdatedAt: now}
	if err := env.Engine.Repo.InsertAgent(env.Ctx, nil, a); err != nil {
		t.Fatalf("insert legacy agent: %v", err)
	}
	got, err := env.Engine.Heartbeat(env.Ctx, a.ID, "online")
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if got.OpenClawSessionID == nil || *got.OpenClawSessionID != "agent:legacy:main" {
		t.Fatalf("lazy provisioning key: %v", got.OpenClawSessionID)
	}
	// No gateway configured: the failure is recorded, not returned.
	types := env.activityTypes(t)
	if !containsString(types, "agent.session.failed") {
		t.Fatalf("expected agent.session.failed, got %v", types)
	}
}

func TestDeleteGatewayInUse(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGateway(t, "http://gw.example")
	env.createBoard(t, g.ID)
	if err := env.Engine.DeleteGateway(env.Ctx, g.ID); err != engine.ErrGatewayInUse {
		t.Fatalf("expected ErrGatewayInUse, got %v", err)
	}
}

func TestDeleteGatewayUnreferenced(t *testing.T) {
	env := newTestEnv(t)
	g := env.createGateway(t, "http://gw.example")
	if err := env.Engine.DeleteGateway(env.Ctx, g.ID); err != nil {
		t.Fatalf("delete gateway: %v", err)
	}
	if _, err := env.Engine.Repo.GetGateway(env.Ctx, g.ID); err != repo.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRequireGatewayConfigForBoard(t *testing.T) {
	env := newTestEnv(t)
	bare := env.createBoard(t, "")
	if _, _, err := env.Engine.RequireGatewayConfigForBoard(env.Ctx, bare); err != openclaw.ErrBoardGatewayUnconfigured {
		t.Fatalf("expected ErrBoardGatewayUnconfigured, got %v", err)
	}
	g := env.createGateway(t, "http://gw.example")
	wired, err := env.Engine.UpdateBoard(env.Ctx, bare.ID, engine.BoardUpdateOptions{GatewayID: &g.ID})
	if err != nil {
		t.Fatalf("attach gateway: %v", err)
	}
	gw, cfg, err := env.Engine.RequireGatewayConfigForBoard(env.Ctx, wired)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if gw.ID != g.ID || cfg.URL != "http://gw.example" {
		t.Fatalf("wrong resolution: %+v %+v", gw, cfg)
	}
}

func TestBoardSlugDerivedFromName(t *testing.T) {
	env := newTestEnv(t)
	b, err := env.Engine.CreateBoard(env.Ctx, engine.BoardCreateOptions{OrgID: testOrg, Name: "Ops & Research"})
	if err != nil {
		t.Fatalf("create board: %v", err)
	}
	if b.Slug != "ops-research" {
		t.Fatalf("slug: %s", b.Slug)
	}
}
