// mock-zabbix is a local development stand-in for a Zabbix server. It
// answers the three JSON-RPC methods the pipeline uses (user.login,
// trigger.get, event.acknowledge) with canned problems, and remembers
// acknowledgements so repeated polls see them.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const sessionToken = "mock-session-token"

type rpcRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     int             `json:"id"`
	Auth   *string         `json:"auth,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

type mockAck struct {
	Message string `json:"message"`
}

type mockTrigger struct {
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
	LastEvent struct {
		EventID      string    `json:"eventid"`
		Acknowledges []mockAck `json:"acknowledges"`
	} `json:"lastEvent"`
}

var (
	mu   sync.Mutex
	acks = map[string][]mockAck{}
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api_jsonrpc.php", handleRPC)

	logger := log.New(log.Writer(), "zabbix-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8081",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8081")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, req.ID, -32700, "Parse error", err.Error())
		return
	}

	switch req.Method {
	case "user.login":
		writeResult(w, req.ID, sessionToken)

	case "trigger.get":
		if !authorised(req.Auth) {
			writeError(w, req.ID, -32602, "Invalid params.", "Session terminated, re-login, please.")
			return
		}
		writeResult(w, req.ID, sampleTriggers())

	case "event.acknowledge":
		if !authorised(req.Auth) {
			writeError(w, req.ID, -32602, "Invalid params.", "Session terminated, re-login, please.")
			return
		}
		var params struct {
			EventIDs string `json:"eventids"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeError(w, req.ID, -32602, "Invalid params.", err.Error())
			return
		}
		mu.Lock()
		acks[params.EventIDs] = append(acks[params.EventIDs], mockAck{Message: params.Message})
		mu.Unlock()
		writeResult(w, req.ID, map[string]any{"eventids": []string{params.EventIDs}})

	default:
		writeError(w, req.ID, -32601, "Method not found", req.Method)
	}
}

func authorised(auth *string) bool {
	return auth != nil && *auth == sessionToken
}

func sampleTriggers() []mockTrigger {
	now := time.Now()
	t1 := trigger("9001", "High CPU utilization on db-01", "4", now.Add(-3*time.Minute),
		"db-01", map[string]string{"service": "postgres", "env": "prod"})
	t2 := trigger("9002", "Disk space is low on web-02 (/var 92%)", "3", now.Add(-10*time.Minute),
		"web-02", map[string]string{"service": "nginx", "env": "prod"})
	t3 := trigger("9003", "Zabbix agent is unreachable on cache-01", "2", now.Add(-30*time.Second),
		"cache-01", map[string]string{"service": "redis"})

	mu.Lock()
	defer mu.Unlock()
	for _, t := range []*mockTrigger{&t1, &t2, &t3} {
		t.LastEvent.Acknowledges = acks[t.LastEvent.EventID]
	}
	return []mockTrigger{t1, t2, t3}
}

func trigger(eventID, description, priority string, lastChange time.Time, host string, tags map[string]string) mockTrigger {
	var t mockTrigger
	t.TriggerID = "t-" + eventID
	t.Description = description
	t.Priority = priority
	t.LastChange = strconv.FormatInt(lastChange.Unix(), 10)
	t.Hosts = []struct {
		Name string `json:"name"`
	}{{Name: host}}
	for k, v := range tags {
		t.Tags = append(t.Tags, struct {
			Tag   string `json:"tag"`
			Value string `json:"value"`
		}{Tag: k, Value: v})
	}
	t.LastEvent.EventID = eventID
	return t
}

func writeResult(w http.ResponseWriter, id int, result any) {
	writeJSON(w, map[string]any{"jsonrpc": "2.0", "result": result, "id": id})
}

func writeError(w http.ResponseWriter, id int, code int, message, data string) {
	writeJSON(w, map[string]any{
		"jsonrpc": "2.0",
		"error":   rpcError{Code: code, Message: message, Data: data},
		"id":      id,
	})
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
