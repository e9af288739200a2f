// Package testutil provides testing utilities for the data API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// PageResponse defines what a mock endpoint answers for one call.
type PageResponse struct {
	Code    int
	Msg     string
	Fields  []string
	Items   [][]any
	HasMore *bool // nil omits the has_more field entirely
}

// Handler computes a response from a decoded request.
type Handler func(params map[string]any, fields string) PageResponse

// MockAPI is a configurable mock data-API server. It speaks the wire
// protocol of the real service: every call is a JSON POST to one URL,
// routed by the api_name field of the body.
type MockAPI struct {
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler

	// Tracking
	requestCounts map[string]int
	lastToken     string
}

// NewMockAPI creates a new mock server. Endpoints without a handler answer
// with an unknown-endpoint error.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:      make(map[string]Handler),
		requestCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			APIName string         `json:"api_name"`
			Token   string         `json:"token"`
			Params  map[string]any `json:"params"`
			Fields  string         `json:"fields"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mock.mu.Lock()
		mock.requestCounts[body.APIName]++
		mock.lastToken = body.Token
		handler, exists := mock.handlers[body.APIName]
		mock.mu.Unlock()

		resp := PageResponse{Code: -1, Msg: fmt.Sprintf("unknown endpoint %q", body.APIName)}
		if exists {
			resp = handler(body.Params, body.Fields)
		}

		writeResponse(w, resp)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCounts = make(map[string]int)
	m.lastToken = ""
}

// SetHandler installs a handler for an endpoint name.
func (m *MockAPI) SetHandler(endpoint string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[endpoint] = handler
}

// RequestCount returns the number of calls made to an endpoint.
func (m *MockAPI) RequestCount(endpoint string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCounts[endpoint]
}

// LastToken returns the credential carried by the most recent call.
func (m *MockAPI) LastToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastToken
}

func writeResponse(w http.ResponseWriter, resp PageResponse) {
	envelope := map[string]any{
		"code": resp.Code,
		"msg":  resp.Msg,
	}
	if resp.Code == 0 {
		data := map[string]any{
			"fields": resp.Fields,
			"items":  resp.Items,
		}
		if resp.HasMore != nil {
			data["has_more"] = *resp.HasMore
		}
		envelope["data"] = data
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(envelope)
}

// IntParam reads an integer request parameter, tolerating the float64 values
// JSON decoding produces.
func IntParam(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return fallback
	}
}

// Rows generates n sequential rows of the form {id, "name-id"} starting at
// the given offset, for paged endpoint fixtures.
func Rows(offset, n int) [][]any {
	rows := make([][]any, 0, n)
	for i := 0; i < n; i++ {
		id := offset + i
		rows = append(rows, []any{id, fmt.Sprintf("name-%d", id)})
	}
	return rows
}

// RowFields is the column list matching Rows.
var RowFields = []string{"id", "name"}

// NewPagedEndpoint returns a handler backed by totalRows rows that honors
// offset/limit paging and caps every response at rowCap rows (0 = no cap).
// When withHasMore is true the response carries an explicit has_more flag;
// otherwise the caller must infer continuation from the row count.
func NewPagedEndpoint(totalRows, rowCap int, withHasMore bool) Handler {
	return func(params map[string]any, fields string) PageResponse {
		offset := IntParam(params, "offset", 0)
		limit := IntParam(params, "limit", 0)

		if offset > totalRows {
			return PageResponse{Code: -1, Msg: fmt.Sprintf("offset %d out of range", offset)}
		}

		n := totalRows - offset
		if rowCap > 0 && n > rowCap {
			n = rowCap
		}
		if limit > 0 && n > limit {
			n = limit
		}

		resp := PageResponse{
			Fields: RowFields,
			Items:  Rows(offset, n),
		}
		if withHasMore {
			hasMore := offset+n < totalRows
			resp.HasMore = &hasMore
		}
		return resp
	}
}

// NewRateLimitedEndpoint wraps a handler so that calls beyond allowed are
// rejected with the given rate-limit message. The counter never resets; it
// models the burst a limit probe runs into.
func NewRateLimitedEndpoint(inner Handler, allowed int, msg string) Handler {
	var mu sync.Mutex
	calls := 0
	return func(params map[string]any, fields string) PageResponse {
		mu.Lock()
		calls++
		over := calls > allowed
		mu.Unlock()

		if over {
			return PageResponse{Code: 40203, Msg: msg}
		}
		return inner(params, fields)
	}
}

// NewFlakyEndpoint wraps a handler so its first failures calls answer with
// the given application code before recovering.
func NewFlakyEndpoint(inner Handler, failures, code int, msg string) Handler {
	var mu sync.Mutex
	calls := 0
	return func(params map[string]any, fields string) PageResponse {
		mu.Lock()
		calls++
		failing := calls <= failures
		mu.Unlock()

		if failing {
			return PageResponse{Code: code, Msg: msg}
		}
		return inner(params, fields)
	}
}
