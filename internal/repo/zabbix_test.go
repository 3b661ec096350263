package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/alertdeck/alertdeck/internal/models"
)

type capturedCall struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
	Auth   string         `json:"auth"`
}

func rpcResult(t *testing.T, result any) *http.Response {
	t.Helper()
	data, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "result": result, "id": 1})
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func rpcFailure(t *testing.T, data string) *http.Response {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": -32602, "message": "Invalid params.", "data": data},
		"id":      1,
	})
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(payload)),
		Header:     make(http.Header),
	}
}

func decodeCall(t *testing.T, req *http.Request) capturedCall {
	t.Helper()
	var call capturedCall
	if err := json.NewDecoder(req.Body).Decode(&call); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	return call
}

func sampleTrigger() map[string]any {
	return map[string]any{
		"triggerid":   "t-1",
		"description": "High CPU utilization on db-01",
		"priority":    "4",
		"lastchange":  "1700000000",
		"hosts":       []map[string]any{{"name": "db-01"}},
		"tags": []map[string]any{
			{"tag": "service", "value": "postgres"},
			{"tag": "env", "value": "prod"},
		},
		"lastEvent": map[string]any{
			"eventid":      "ev-1",
			"acknowledges": []map[string]any{{"message": "looking into it"}},
		},
	}
}

func TestOpenProblemsMapsTriggers(t *testing.T) {
	var calls []capturedCall
	client := NewZabbixClient("https://zabbix.example.com", "api-user", "secret", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api_jsonrpc.php" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		call := decodeCall(t, req)
		calls = append(calls, call)
		switch call.Method {
		case "user.login":
			return rpcResult(t, "session-token"), nil
		case "trigger.get":
			withoutEvent := sampleTrigger()
			withoutEvent["lastEvent"] = nil
			return rpcResult(t, []map[string]any{sampleTrigger(), withoutEvent}), nil
		default:
			t.Fatalf("unexpected method: %s", call.Method)
			return nil, nil
		}
	})

	events, err := client.OpenProblems(context.Background(), 50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(calls) != 2 || calls[0].Method != "user.login" || calls[1].Method != "trigger.get" {
		t.Fatalf("unexpected call sequence: %+v", calls)
	}
	if calls[1].Auth != "session-token" {
		t.Fatalf("trigger.get not authenticated: %q", calls[1].Auth)
	}
	if calls[1].Params["sortfield"] != "lastchange" || calls[1].Params["sortorder"] != "DESC" {
		t.Fatalf("unexpected sort params: %+v", calls[1].Params)
	}
	if calls[1].Params["limit"] != float64(50) {
		t.Fatalf("limit not forwarded: %v", calls[1].Params["limit"])
	}

	if len(events) != 1 {
		t.Fatalf("triggers without a last event must be skipped, got %d", len(events))
	}
	ev := events[0]
	if ev.EventID != "ev-1" || ev.Host != "db-01" {
		t.Fatalf("unexpected event identity: %+v", ev)
	}
	if ev.Severity != models.SeverityHigh {
		t.Fatalf("unexpected severity: %v", ev.Severity)
	}
	if !ev.LastChange.Equal(time.Unix(1_700_000_000, 0)) {
		t.Fatalf("unexpected lastchange: %v", ev.LastChange)
	}
	if len(ev.Tags) != 2 || ev.Tags[0].Key != "service" {
		t.Fatalf("unexpected tags: %+v", ev.Tags)
	}
	if len(ev.Acknowledgements) != 1 || ev.Acknowledgements[0] != "looking into it" {
		t.Fatalf("unexpected acknowledgements: %+v", ev.Acknowledgements)
	}
}

func TestCallRefreshesExpiredSession(t *testing.T) {
	logins := 0
	fetches := 0
	client := NewZabbixClient("https://zabbix.example.com", "api-user", "secret", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		call := decodeCall(t, req)
		switch call.Method {
		case "user.login":
			logins++
			return rpcResult(t, "token-2"), nil
		case "trigger.get":
			fetches++
			if fetches == 1 {
				return rpcFailure(t, "Session terminated, re-login, please."), nil
			}
			if call.Auth != "token-2" {
				t.Fatalf("retry used stale token: %q", call.Auth)
			}
			return rpcResult(t, []map[string]any{}), nil
		default:
			t.Fatalf("unexpected method: %s", call.Method)
			return nil, nil
		}
	})

	// Seed a stale session so the first fetch skips login.
	client.authToken = "token-1"

	if _, err := client.OpenProblems(context.Background(), 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if logins != 1 {
		t.Fatalf("expected one re-login, got %d", logins)
	}
	if fetches != 2 {
		t.Fatalf("expected fetch retry, got %d fetches", fetches)
	}
}

func TestAcknowledgePayload(t *testing.T) {
	client := NewZabbixClient("https://zabbix.example.com/", "api-user", "secret", time.Second)
	client.authToken = "session-token"

	var ack capturedCall
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		call := decodeCall(t, req)
		if call.Method != "event.acknowledge" {
			t.Fatalf("unexpected method: %s", call.Method)
		}
		ack = call
		return rpcResult(t, map[string]any{"eventids": []string{"ev-1"}}), nil
	})

	err := client.Acknowledge(context.Background(), "ev-1", "AI: disk pressure | CMD: N/A")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ack.Params["eventids"] != "ev-1" {
		t.Fatalf("unexpected eventids: %v", ack.Params["eventids"])
	}
	if ack.Params["action"] != float64(4) {
		t.Fatalf("unexpected action: %v", ack.Params["action"])
	}
	if ack.Params["message"] != "AI: disk pressure | CMD: N/A" {
		t.Fatalf("unexpected message: %v", ack.Params["message"])
	}
}

func TestIsAuthFailure(t *testing.T) {
	if isAuthFailure(nil) {
		t.Fatal("nil error is not an auth failure")
	}
	err := &rpcError{Code: -32602, Message: "Invalid params.", Data: "Not authorised."}
	if !isAuthFailure(err) {
		t.Fatal("expected auth failure match")
	}
	other := &rpcError{Code: -32602, Message: "Invalid params.", Data: `Incorrect value for field "limit".`}
	if isAuthFailure(other) {
		t.Fatal("unrelated api errors must not trigger re-login")
	}
}
