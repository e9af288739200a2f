package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a single HTTP call. A hung page would otherwise
// stall its whole batch.
const DefaultTimeout = 30 * time.Second

// TransportError wraps a network or decoding failure for one endpoint call.
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error on %s: %v", e.Endpoint, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPTransport sends endpoint calls as JSON POST bodies to a profile's
// base URL.
type HTTPTransport struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPTransport creates a transport for the given base URL and credential.
func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: log.With().Str("component", "transport").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *HTTPTransport) SetHTTPClient(client *http.Client) {
	t.httpClient = client
}

// Send implements Transport. The credential rides in the request body as the
// server expects; params may be nil.
func (t *HTTPTransport) Send(ctx context.Context, endpoint string, params map[string]any, fields []string) (*Response, error) {
	if params == nil {
		params = map[string]any{}
	}

	body, err := json.Marshal(request{
		APIName: endpoint,
		Token:   t.token,
		Params:  params,
		Fields:  strings.Join(fields, ","),
	})
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("encode request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := t.httpClient.Do(req)
	if err != nil {
		t.logger.Error().Err(err).Str("endpoint", endpoint).Msg("HTTP request failed")
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	var resp Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		t.logger.Error().Err(err).Str("endpoint", endpoint).Msg("Failed to decode response")
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("decode response: %w", err)}
	}
	if resp.Code == 0 && resp.Data == nil {
		return nil, &TransportError{Endpoint: endpoint, Err: fmt.Errorf("success response without data payload")}
	}

	t.logger.Debug().
		Str("endpoint", endpoint).
		Int("code", resp.Code).
		Dur("duration", time.Since(start)).
		Msg("Endpoint call completed")

	return &resp, nil
}
