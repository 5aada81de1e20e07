// Package client is the official Go SDK for relayq.
//
// # Quick start
//
//	c := client.New("http://localhost:8080")
//
//	// Publish immediately
//	id, err := c.Publish(ctx, "payments", "invoices", []byte(`{"amount":42}`))
//
//	// Publish with a delivery delay
//	id, err := c.Publish(ctx, "payments", "invoices", []byte(`…`),
//	    client.WithDelay(time.Hour))
//
//	// Consume one record at a time
//	rec, err := c.Consume(ctx, "payments", "invoices")
//	if rec != nil {
//	    process(rec)
//	    c.Ack(ctx, "payments", "invoices", rec.ID)
//	}
//
// # Error handling
//
// All methods return an *APIError when the server responds with a non-2xx
// status code. Check errors.As(err, &client.APIError{}) to inspect the HTTP
// status and server message.
//
// # Connection reuse
//
// Client is safe for concurrent use. It shares a single http.Client internally
// so connections are reused across goroutines.
package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ─── Error type ───────────────────────────────────────────────────────────────

// APIError is returned when the relayq server responds with a non-2xx status.
type APIError struct {
	StatusCode int    // HTTP status code
	Message    string // "error" field from the JSON response body
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relayq: server returned %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusNotFound
}

// IsConflict reports whether the error is a 409 (already exists) from the server.
func IsConflict(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusConflict
}

// ─── Client options ───────────────────────────────────────────────────────────

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithAPIKey sets the API key sent in every request as the X-Api-Key header.
// Required when the server has auth.enabled = true.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default http.Client.
// Use this to configure TLS, proxies, or request tracing.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
// The default is 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.http.Timeout = d }
}

// ─── Client ───────────────────────────────────────────────────────────────────

// Client is the relayq API client. It is safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a new Client that connects to the relayq server at baseURL.
//
//	c := client.New("http://localhost:8080")
//	c := client.New("http://relayq.example.com", client.WithAPIKey("secret"))
func New(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ─── Publish options ──────────────────────────────────────────────────────────

// PublishOption configures a single Publish call.
type PublishOption func(*publishPayload)

// WithDelay keeps the record invisible to consumers for d after publish.
//
//	client.WithDelay(24 * time.Hour)
func WithDelay(d time.Duration) PublishOption {
	return func(p *publishPayload) { p.DelayMs = d.Milliseconds() }
}

// ─── Queue options ────────────────────────────────────────────────────────────

// QueueOption configures CreateQueue.
type QueueOption func(*createQueuePayload)

// WithQueueVisibilityTimeout sets how long a delivered record stays invisible
// before it becomes eligible for redelivery.
func WithQueueVisibilityTimeout(d time.Duration) QueueOption {
	return func(p *createQueuePayload) { p.VisibilityTimeout = d.String() }
}

// WithQueueRetention sets how long records are retained before expiring.
func WithQueueRetention(d time.Duration) QueueOption {
	return func(p *createQueuePayload) { p.RetentionPeriod = d.String() }
}

// WithQueueMaxReceiveCount sets the delivery budget before a record is routed
// to the dead-letter queue. Zero means unlimited.
func WithQueueMaxReceiveCount(n int) QueueOption {
	return func(p *createQueuePayload) { p.MaxReceiveCount = &n }
}

// ─── Domain types ─────────────────────────────────────────────────────────────

// Record is a record received from a consume or DLQ drain call.
type Record struct {
	// ID is the ULID assigned at publish time. Pass it to Ack or Reject.
	ID string

	// Body is the raw record payload decoded from base64.
	Body []byte

	// Namespace and Queue identify where the record came from.
	Namespace string
	Queue     string

	// ReceiveCount is the 1-based delivery attempt number.
	ReceiveCount int

	// CreatedAt is when the record was originally published (UTC).
	CreatedAt time.Time
}

// Namespace is a logical grouping of queues.
type Namespace struct {
	Name      string
	CreatedAt time.Time
}

// HealthInfo contains the data returned by the /health endpoint.
type HealthInfo struct {
	Status string
	NodeID string
	Queues int
	Uptime string
}

// QueueInfo is the depth snapshot of a queue returned by Stats.
type QueueInfo struct {
	Namespace string
	Name      string
	Available int
	InFlight  int
	Total     int
	DLQDepth  int
}

// ─── Record operations ────────────────────────────────────────────────────────

// Publish sends a single record to the named queue and returns its ULID.
//
//	id, err := c.Publish(ctx, "payments", "invoices", []byte(`{"amount":99}`))
//
// To delay delivery:
//
//	id, err := c.Publish(ctx, "payments", "invoices", body, client.WithDelay(time.Hour))
func (c *Client) Publish(ctx context.Context, namespace, queue string, body []byte, opts ...PublishOption) (string, error) {
	p := &publishPayload{
		Body: base64.StdEncoding.EncodeToString(body),
	}
	for _, o := range opts {
		o(p)
	}

	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/namespaces/%s/queues/%s/records", namespace, queue)
	if err := c.do(ctx, http.MethodPost, path, p, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Consume retrieves the next deliverable record from the named queue.
// Returns (nil, nil) when the queue has nothing deliverable right now.
//
//	rec, err := c.Consume(ctx, "payments", "invoices")
//	if rec != nil {
//	    handle(rec)
//	    _ = c.Ack(ctx, "payments", "invoices", rec.ID)
//	}
func (c *Client) Consume(ctx context.Context, namespace, queue string) (*Record, error) {
	path := fmt.Sprintf("/namespaces/%s/queues/%s/consume", namespace, queue)

	var wm wireRecord
	found, err := c.doMaybe(ctx, http.MethodPost, path, nil, &wm)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return wm.toRecord(), nil
}

// Ack acknowledges successful processing of a record and removes it
// permanently.
func (c *Client) Ack(ctx context.Context, namespace, queue, id string) error {
	path := fmt.Sprintf("/namespaces/%s/queues/%s/records/%s/ack", namespace, queue, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// Reject signals failed processing. With requeue the record becomes
// immediately deliverable again; without it the record is dead-lettered.
func (c *Client) Reject(ctx context.Context, namespace, queue, id string, requeue bool) error {
	path := fmt.Sprintf("/namespaces/%s/queues/%s/records/%s/reject", namespace, queue, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, map[string]bool{"requeue": requeue}, nil)
}

// ─── Queue management ─────────────────────────────────────────────────────────

// CreateQueue creates a queue with optional delivery policy overrides.
// The server errors on duplicate; check IsConflict(err) to ignore that case.
func (c *Client) CreateQueue(ctx context.Context, namespace, name string, opts ...QueueOption) error {
	p := &createQueuePayload{}
	for _, o := range opts {
		o(p)
	}
	path := fmt.Sprintf("/namespaces/%s/queues/%s", namespace, name)
	return c.do(ctx, http.MethodPost, path, p, nil)
}

// ListQueues returns all queue keys for a namespace in the form "ns/name".
func (c *Client) ListQueues(ctx context.Context, namespace string) ([]string, error) {
	var resp struct {
		Queues []string `json:"queues"`
	}
	path := fmt.Sprintf("/namespaces/%s/queues", namespace)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Queues, nil
}

// DeleteQueue permanently removes a queue, its records, and its dead-letter
// companion.
func (c *Client) DeleteQueue(ctx context.Context, namespace, name string) error {
	path := fmt.Sprintf("/namespaces/%s/queues/%s", namespace, name)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// QueueStats returns the depth snapshot for one queue.
func (c *Client) QueueStats(ctx context.Context, namespace, name string) (*QueueInfo, error) {
	var resp wireQueueInfo
	path := fmt.Sprintf("/namespaces/%s/queues/%s/stats", namespace, name)
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	qi := resp.toQueueInfo()
	return &qi, nil
}

// ─── Namespace management ─────────────────────────────────────────────────────

// CreateNamespace registers a new namespace.
// Returns an *APIError with StatusCode 409 if the namespace already exists.
func (c *Client) CreateNamespace(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/namespaces",
		map[string]string{"name": name}, nil)
}

// ListNamespaces returns all registered namespaces sorted by name.
func (c *Client) ListNamespaces(ctx context.Context) ([]*Namespace, error) {
	var resp struct {
		Namespaces []struct {
			Name      string `json:"name"`
			CreatedAt int64  `json:"created_at"`
		} `json:"namespaces"`
	}
	if err := c.do(ctx, http.MethodGet, "/namespaces", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*Namespace, len(resp.Namespaces))
	for i, ns := range resp.Namespaces {
		out[i] = &Namespace{
			Name:      ns.Name,
			CreatedAt: time.UnixMilli(ns.CreatedAt).UTC(),
		}
	}
	return out, nil
}

// DeleteNamespace removes a namespace from the registry.
func (c *Client) DeleteNamespace(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/namespaces/"+url.PathEscape(name), nil, nil)
}

// ─── DLQ ─────────────────────────────────────────────────────────────────────

// DrainDLQ retrieves up to limit records from the dead-letter queue of the
// named primary queue. The caller can inspect the records and then ACK them
// to delete them permanently.
func (c *Client) DrainDLQ(ctx context.Context, namespace, queue string, limit int) ([]*Record, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	path := fmt.Sprintf("/namespaces/%s/queues/%s/dlq?%s", namespace, queue, q.Encode())

	var resp struct {
		Records []wireRecord `json:"records"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	out := make([]*Record, 0, len(resp.Records))
	for i := range resp.Records {
		out = append(out, resp.Records[i].toRecord())
	}
	return out, nil
}

// ReplayDLQ moves up to limit records from the dead-letter queue back into
// the primary queue with a fresh delivery budget. Returns the number moved.
func (c *Client) ReplayDLQ(ctx context.Context, namespace, queue string, limit int) (int, error) {
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	path := fmt.Sprintf("/namespaces/%s/queues/%s/dlq/replay?%s", namespace, queue, q.Encode())

	var resp struct {
		Replayed int `json:"replayed"`
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Replayed, nil
}

// AckDLQ permanently deletes a drained dead-letter record.
func (c *Client) AckDLQ(ctx context.Context, namespace, queue, id string) error {
	path := fmt.Sprintf("/namespaces/%s/queues/%s/dlq/%s/ack", namespace, queue, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// RejectDLQ puts a drained dead-letter record back onto the DLQ, making it
// eligible for a later drain or replay.
func (c *Client) RejectDLQ(ctx context.Context, namespace, queue, id string) error {
	path := fmt.Sprintf("/namespaces/%s/queues/%s/dlq/%s/reject", namespace, queue, url.PathEscape(id))
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// ─── Observability ────────────────────────────────────────────────────────────

// Health checks the server's /health endpoint and returns the node's status.
func (c *Client) Health(ctx context.Context) (*HealthInfo, error) {
	var resp struct {
		Status string `json:"status"`
		NodeID string `json:"node_id"`
		Queues int    `json:"queues"`
		Uptime string `json:"uptime"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &HealthInfo{
		Status: resp.Status,
		NodeID: resp.NodeID,
		Queues: resp.Queues,
		Uptime: resp.Uptime,
	}, nil
}

// Stats returns a depth snapshot for every queue on the server.
func (c *Client) Stats(ctx context.Context) ([]*QueueInfo, error) {
	var resp struct {
		Queues []wireQueueInfo `json:"queues"`
	}
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]*QueueInfo, len(resp.Queues))
	for i := range resp.Queues {
		qi := resp.Queues[i].toQueueInfo()
		out[i] = &qi
	}
	return out, nil
}

// ─── HTTP transport ───────────────────────────────────────────────────────────

// do performs a single HTTP request.
// body is encoded as JSON when non-nil, resp is decoded from JSON when non-nil.
// A 204 No Content response is treated as success with no body.
func (c *Client) do(ctx context.Context, method, path string, body, resp any) error {
	_, err := c.doMaybe(ctx, method, path, body, resp)
	return err
}

// doMaybe is do with a found result: false means the server answered 204 and
// resp was left untouched.
func (c *Client) doMaybe(ctx context.Context, method, path string, body, resp any) (bool, error) {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("relayq: marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return false, fmt.Errorf("relayq: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("relayq: request %s %s: %w", method, path, err)
	}
	defer httpResp.Body.Close()

	// Success without body
	if httpResp.StatusCode == http.StatusNoContent {
		return false, nil
	}

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return false, fmt.Errorf("relayq: read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = http.StatusText(httpResp.StatusCode)
		}
		return false, &APIError{StatusCode: httpResp.StatusCode, Message: msg}
	}

	if resp != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, resp); err != nil {
			return false, fmt.Errorf("relayq: decode response: %w", err)
		}
	}
	return true, nil
}

// ─── Internal wire types ──────────────────────────────────────────────────────

type publishPayload struct {
	Body    string `json:"body"`
	DelayMs int64  `json:"delay_ms,omitempty"`
}

type createQueuePayload struct {
	VisibilityTimeout string `json:"visibility_timeout,omitempty"`
	RetentionPeriod   string `json:"retention_period,omitempty"`
	MaxReceiveCount   *int   `json:"max_receive_count,omitempty"`
}

type wireRecord struct {
	ID           string `json:"id"`
	Body         string `json:"body"` // base64
	Namespace    string `json:"namespace"`
	Queue        string `json:"queue"`
	ReceiveCount int    `json:"receive_count"`
	CreatedAt    int64  `json:"created_at"`
}

func (w *wireRecord) toRecord() *Record {
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		// Fall back to treating the body as raw UTF-8 bytes.
		body = []byte(w.Body)
	}
	return &Record{
		ID:           w.ID,
		Body:         body,
		Namespace:    w.Namespace,
		Queue:        w.Queue,
		ReceiveCount: w.ReceiveCount,
		CreatedAt:    time.UnixMilli(w.CreatedAt).UTC(),
	}
}

type wireQueueInfo struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
	Available int    `json:"available"`
	InFlight  int    `json:"in_flight"`
	Total     int    `json:"total"`
	DLQDepth  int    `json:"dlq_depth"`
}

func (w wireQueueInfo) toQueueInfo() QueueInfo {
	return QueueInfo{
		Namespace: w.Namespace,
		Name:      w.Name,
		Available: w.Available,
		InFlight:  w.InFlight,
		Total:     w.Total,
		DLQDepth:  w.DLQDepth,
	}
}
