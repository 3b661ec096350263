package repo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alertdeck/alertdeck/internal/models"
	"github.com/alertdeck/alertdeck/internal/utils"
)

// ProblemEvent is one open problem reported by the monitoring source.
type ProblemEvent struct {
	EventID          string
	Host             string
	Problem          string
	Severity         models.Severity
	Tags             []models.Tag
	LastChange       time.Time
	Acknowledgements []string
}

// Zabbix event.acknowledge action bit for adding a comment.
const ackActionComment = 4

// ZabbixClient wraps the monitoring source's JSON-RPC API: problem fetch
// plus acknowledgement write-back. The session token obtained via
// user.login is cached and refreshed once when the API reports an
// authorisation failure.
type ZabbixClient struct {
	apiURL     string
	username   string
	password   string
	httpClient *http.Client

	mu        sync.Mutex
	authToken string

	reqID atomic.Int64
}

// NewZabbixClient constructs a client for the given Zabbix base URL
// (the /api_jsonrpc.php suffix is appended when absent).
func NewZabbixClient(baseURL, username, password string, timeout time.Duration) *ZabbixClient {
	apiURL := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(apiURL, "/api_jsonrpc.php") {
		apiURL += "/api_jsonrpc.php"
	}
	return &ZabbixClient{
		apiURL:     apiURL,
		username:   username,
		password:   password,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int64  `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// trigger mirrors the fields requested from trigger.get. Zabbix encodes
// numerics as strings on the wire.
type trigger struct {
	TriggerID   string `json:"triggerid"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	LastChange  string `json:"lastchange"`
	Hosts       []struct {
		Name string `json:"name"`
	} `json:"hosts"`
	Tags []struct {
		Tag   string `json:"tag"`
		Value string `json:"value"`
	} `json:"tags"`
	LastEvent *struct {
		EventID      string `json:"eventid"`
		Acknowledges []struct {
			Message string `json:"message"`
		} `json:"acknowledges"`
	} `json:"lastEvent"`
}

// OpenProblems fetches the currently firing problems, newest first,
// bounded by limit.
func (c *ZabbixClient) OpenProblems(ctx context.Context, limit int) ([]ProblemEvent, error) {
	const op = "zabbix.OpenProblems"

	params := map[string]any{
		"output":            []string{"triggerid", "description", "priority", "lastchange"},
		"selectHosts":       []string{"name"},
		"selectLastEvent":   "extend",
		"selectTags":        "extend",
		"only_true":         true,
		"monitored":         true,
		"active":            true,
		"expandDescription": true,
		"sortfield":         "lastchange",
		"sortorder":         "DESC",
	}
	if limit > 0 {
		params["limit"] = limit
	}

	var triggers []trigger
	if err := c.call(ctx, "trigger.get", params, &triggers); err != nil {
		return nil, utils.E(op, utils.KindUpstreamFetch, "fetch open problems", err)
	}

	events := make([]ProblemEvent, 0, len(triggers))
	for _, t := range triggers {
		// Without a last event there is no stable identity to track.
		if t.LastEvent == nil || t.LastEvent.EventID == "" {
			continue
		}
		ev := ProblemEvent{
			EventID:  t.LastEvent.EventID,
			Problem:  t.Description,
			Severity: models.ParseSeverity(t.Priority),
		}
		if len(t.Hosts) > 0 {
			ev.Host = t.Hosts[0].Name
		}
		for _, tag := range t.Tags {
			ev.Tags = append(ev.Tags, models.Tag{Key: tag.Tag, Value: tag.Value})
		}
		if ts, err := strconv.ParseInt(t.LastChange, 10, 64); err == nil {
			ev.LastChange = time.Unix(ts, 0)
		}
		for _, ack := range t.LastEvent.Acknowledges {
			ev.Acknowledgements = append(ev.Acknowledgements, ack.Message)
		}
		events = append(events, ev)
	}
	return events, nil
}

// Acknowledge writes a comment onto the incident's event record.
func (c *ZabbixClient) Acknowledge(ctx context.Context, eventID, message string) error {
	const op = "zabbix.Acknowledge"

	params := map[string]any{
		"eventids": eventID,
		"action":   ackActionComment,
		"message":  message,
	}
	if err := c.call(ctx, "event.acknowledge", params, nil); err != nil {
		return utils.E(op, utils.KindSink, "acknowledge event "+eventID, err)
	}
	return nil
}

// call issues one authenticated JSON-RPC request, logging in on demand and
// retrying exactly once with a fresh session when the API reports an
// authorisation failure.
func (c *ZabbixClient) call(ctx context.Context, method string, params, out any) error {
	token, err := c.session(ctx, false)
	if err != nil {
		return err
	}

	err = c.rpc(ctx, method, params, token, out)
	if isAuthFailure(err) {
		token, err = c.session(ctx, true)
		if err != nil {
			return err
		}
		err = c.rpc(ctx, method, params, token, out)
	}
	return err
}

// session returns the cached auth token, performing user.login when the
// cache is empty or refresh is forced.
func (c *ZabbixClient) session(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.authToken != "" && !refresh {
		return c.authToken, nil
	}

	var token string
	err := c.rpc(ctx, "user.login", map[string]any{
		"username": c.username,
		"password": c.password,
	}, "", &token)
	if err != nil {
		c.authToken = ""
		return "", fmt.Errorf("login: %w", err)
	}
	c.authToken = token
	return token, nil
}

func (c *ZabbixClient) rpc(ctx context.Context, method string, params any, token string, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    token,
		ID:      c.reqID.Add(1),
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json-rpc")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("zabbix returned %s", resp.Status)
	}

	var envelope rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// isAuthFailure matches the API error raised for missing or expired
// session tokens.
func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *rpcError
	if !errors.As(err, &apiErr) {
		return false
	}
	data := strings.ToLower(apiErr.Data)
	return strings.Contains(data, "not authorised") ||
		strings.Contains(data, "not authorized") ||
		strings.Contains(data, "session terminated")
}
