package openclaw_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"missionboard/internal/openclaw"
)

type rpcCall struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// fakeGateway records calls and serves canned per-method responses.
type fakeGateway struct {
	mu        sync.Mutex
	calls     []rpcCall
	responses map[string]string
	status    int
}

func (f *fakeGateway) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var call rpcCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.calls = append(f.calls, call)
		resp, ok := f.responses[call.Method]
		status := f.status
		f.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		if !ok {
			resp = `{"result": {}}`
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(resp))
	}
}

func (f *fakeGateway) callLog() []rpcCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rpcCall(nil), f.calls...)
}

func newFakeGateway(t *testing.T) (*fakeGateway, *openclaw.Client) {
	t.Helper()
	fake := &fakeGateway{responses: map[string]string{}}
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	return fake, openclaw.NewClient(openclaw.Config{URL: srv.URL, Token: "tok"})
}

func TestEnsureSessionSendsPatch(t *testing.T) {
	fake, client := newFakeGateway(t)
	if err := client.EnsureSession(context.Background(), "agent:mc-a1:main", "worker-1"); err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	calls := fake.callLog()
	if len(calls) != 1 || calls[0].Method != "sessions.patch" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if calls[0].Params["key"] != "agent:mc-a1:main" || calls[0].Params["label"] != "worker-1" {
		t.Fatalf("unexpected params: %+v", calls[0].Params)
	}
}

func TestCallReturnsGatewayErrorOnUpstreamError(t *testing.T) {
	fake, client := newFakeGateway(t)
	fake.responses["chat.send"] = `{"error": {"message": "session gone"}}`
	err := client.SendMessage(context.Background(), "hi", "agent:mc-a1:main", true)
	var gerr *openclaw.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
}

func TestCallReturnsGatewayErrorOnHTTPStatus(t *testing.T) {
	fake, client := newFakeGateway(t)
	fake.status = http.StatusBadGateway
	_, err := client.ListSessions(context.Background())
	var gerr *openclaw.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
}

func TestCallReturnsGatewayErrorWhenUnreachable(t *testing.T) {
	client := openclaw.NewClient(openclaw.Config{URL: "http://127.0.0.1:1", Token: "tok"})
	err := client.EnsureSession(context.Background(), "k", "l")
	var gerr *openclaw.GatewayError
	if !errors.As(err, &gerr) {
		t.Fatalf("expected GatewayError, got %T: %v", err, err)
	}
}

func TestListSessionsNormalizesBothShapes(t *testing.T) {
	fake, client := newFakeGateway(t)
	fake.responses["sessions.list"] = `{"result": [{"key":"a"},{"key":"b"}]}`
	sessions, err := client.ListSessions(context.Background())
	if err != nil || len(sessions) != 2 {
		t.Fatalf("list shape: %v %v", sessions, err)
	}
	fake.responses["sessions.list"] = `{"result": {"sessions": [{"key":"c"}]}}`
	sessions, err = client.ListSessions(context.Background())
	if err != nil || len(sessions) != 1 || sessions[0].Key != "c" {
		t.Fatalf("object shape: %v %v", sessions, err)
	}
}

func TestGetHistoryNormalizesBothShapes(t *testing.T) {
	fake, client := newFakeGateway(t)
	fake.responses["chat.history"] = `{"result": [{"text":"one"}]}`
	messages, err := client.GetHistory(context.Background(), "k")
	if err != nil || len(messages) != 1 {
		t.Fatalf("list shape: %v %v", messages, err)
	}
	fake.responses["chat.history"] = `{"result": {"messages": [{"text":"one"},{"text":"two"}]}}`
	messages, err = client.GetHistory(context.Background(), "k")
	if err != nil || len(messages) != 2 {
		t.Fatalf("object shape: %v %v", messages, err)
	}
}

func TestSendGatewayAgentMessageSafeCapturesFailure(t *testing.T) {
	client := openclaw.NewClient(openclaw.Config{URL: "http://127.0.0.1:1"})
	gerr := openclaw.SendGatewayAgentMessageSafe(context.Background(), client, "k", "label", "msg", false)
	if gerr == nil {
		t.Fatal("expected captured gateway error")
	}
	if gerr.Message == "" {
		t.Fatal("expected error message")
	}
}

func TestSendGatewayAgentMessageSafeNilOnSuccess(t *testing.T) {
	fake, client := newFakeGateway(t)
	if gerr := openclaw.SendGatewayAgentMessageSafe(context.Background(), client, "k", "label", "msg", true); gerr != nil {
		t.Fatalf("unexpected gateway error: %v", gerr)
	}
	calls := fake.callLog()
	if len(calls) != 2 || calls[0].Method != "sessions.patch" || calls[1].Method != "chat.send" {
		t.Fatalf("unexpected call order: %+v", calls)
	}
}
