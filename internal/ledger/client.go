// Package ledger is a minimal JSON-RPC client for the ledger event service.
//
// Only the two read calls the poller needs are implemented: getLatestLedger
// and getEvents. Failures are normalized into TransportError (the request
// never produced a usable JSON-RPC envelope) and UpstreamError (the service
// answered with a JSON-RPC error object).
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alfredjeanlab/eventpoll/internal/model"
)

// DefaultTimeout bounds a single RPC round trip.
const DefaultTimeout = 30 * time.Second

// PollResult is the outcome of one getEvents call.
type PollResult struct {
	Events       []model.Event
	LatestLedger int64
}

// Client talks to a ledger JSON-RPC endpoint over HTTP.
type Client struct {
	endpoint    string
	contractIDs []string
	httpClient  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithContractIDs narrows getEvents to the given contracts.
func WithContractIDs(ids ...string) Option {
	return func(c *Client) { c.contractIDs = append([]string(nil), ids...) }
}

// NewClient returns a client for the JSON-RPC endpoint at url.
func NewClient(url string, opts ...Option) *Client {
	c := &Client{
		endpoint:   url,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type eventFilter struct {
	Type        string   `json:"type"`
	ContractIDs []string `json:"contractIds,omitempty"`
}

type pagination struct {
	Limit  int    `json:"limit"`
	Cursor string `json:"cursor,omitempty"`
}

type getEventsParams struct {
	StartLedger string        `json:"startLedger,omitempty"`
	Filters     []eventFilter `json:"filters"`
	Pagination  pagination    `json:"pagination"`
}

// LatestSequence returns the most recent ledger sequence known to the service.
func (c *Client) LatestSequence(ctx context.Context) (int64, error) {
	var result struct {
		ID              string         `json:"id"`
		ProtocolVersion json.Number    `json:"protocolVersion"`
		Sequence        model.Sequence `json:"sequence"`
	}
	if err := c.call(ctx, "getLatestLedger", nil, &result); err != nil {
		return 0, err
	}
	return result.Sequence.Int64(), nil
}

// PollEvents fetches up to limit events after cursor. A sequence cursor is
// sent as startLedger, a token cursor as the pagination cursor, and an absent
// cursor leaves both unset so the service picks its own starting point.
func (c *Client) PollEvents(ctx context.Context, cursor model.Cursor, limit int) (*PollResult, error) {
	params := getEventsParams{
		Filters:    []eventFilter{{Type: string(model.EventTypeContract), ContractIDs: c.contractIDs}},
		Pagination: pagination{Limit: limit},
	}
	if seq, ok := cursor.Sequence(); ok {
		params.StartLedger = strconv.FormatInt(seq, 10)
	}
	if tok, ok := cursor.Token(); ok {
		params.Pagination.Cursor = tok
	}

	var result struct {
		Events       []model.Event  `json:"events"`
		LatestLedger model.Sequence `json:"latestLedger"`
	}
	if err := c.call(ctx, "getEvents", params, &result); err != nil {
		return nil, err
	}
	return &PollResult{
		Events:       result.Events,
		LatestLedger: result.LatestLedger.Int64(),
	}, nil
}

// call performs one JSON-RPC round trip and decodes the result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}

	var envelope rpcResponse
	decodeErr := json.Unmarshal(respBody, &envelope)

	// A well-formed JSON-RPC error wins regardless of the HTTP status.
	if decodeErr == nil && envelope.Error != nil {
		return &UpstreamError{Method: method, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status: %s", truncate(respBody))}
	}
	if decodeErr != nil {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", decodeErr)}
	}
	if len(envelope.Result) == 0 || bytes.Equal(envelope.Result, []byte("null")) {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("response has neither result nor error")}
	}
	if err := json.Unmarshal(envelope.Result, out); err != nil {
		return &TransportError{Method: method, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding %s result: %w", method, err)}
	}
	return nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
